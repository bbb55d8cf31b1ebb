// Package cmd provides the mail2ragd CLI commands.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mail2rag/internal/config"
	"github.com/Aman-CERP/mail2rag/internal/logging"
	"github.com/Aman-CERP/mail2rag/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the mail2ragd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail2ragd",
		Short: "Email-driven hybrid retrieval daemon",
		Long: `mail2ragd polls a mailbox, ingests incoming mail into per-workspace
hybrid (vector + BM25) collections, and answers retrieval questions
either over email or over its HTTP API.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("mail2ragd version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCursorCmd())
	cmd.AddCommand(newDiagnoseCmd())
	cmd.AddCommand(newRebuildBM25Cmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads config from configPath and sets up the configured
// logger as the process default.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, _, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	return cfg, logger, nil
}
