package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/acgodson/blueband/internal/config"
	"github.com/acgodson/blueband/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show status of a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		client, err := daemon.Dial(cfg.Server.SocketPath, 2*time.Second)
		if err != nil {
			return fmt.Errorf("daemon not reachable: %w", err)
		}
		defer func() { _ = client.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		status, err := client.Status(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}
