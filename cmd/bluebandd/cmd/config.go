package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acgodson/blueband/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage daemon configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}

		cfg := config.DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("data_dir:    %s\n", cfg.Store.DataDir)
		fmt.Printf("socket:      %s\n", cfg.Server.SocketPath)
		fmt.Printf("embeddings:  %s %s\n", cfg.Embeddings.Provider, cfg.Embeddings.URL)
		fmt.Printf("cache:       %d entries, %d MB, ttl %dh\n",
			cfg.Cache.MaxEntries, cfg.Cache.MaxMemoryMB, cfg.Cache.TTLHours)
		fmt.Printf("log:         %s (%s)\n", cfg.Logging.FilePath, cfg.Logging.Level)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
