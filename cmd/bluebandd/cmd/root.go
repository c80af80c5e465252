// Package cmd implements the bluebandd command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acgodson/blueband/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bluebandd",
	Short: "Persistent vector database daemon",
	Long: `bluebandd runs the blueband vector database: multi-tenant collections
of documents, semantic chunks, and dense-vector embeddings with cosine
similarity search, served over a unix socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to config file (default ~/.blueband/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}
