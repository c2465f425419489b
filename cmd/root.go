package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kharomchat/internal/config"
	"kharomchat/internal/observability"
)

var (
	cfgFile      string
	storageFlag  string
	logLevelFlag string
)

// Execute is the entry point called from main.go.
func Execute() {
	rootCmd := &cobra.Command{
		Use:   "kharom",
		Short: "Dating advice chat client with local session history",
		Long: "kharom keeps chat sessions with the dating advisor on this device, " +
			"serves the /api/chat backend route and a local session API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $KHAROM_CONFIG or ./config.json)")
	rootCmd.PersistentFlags().StringVar(&storageFlag, "storage", "", "override storage backend (memory, sqlite3, mysql, postgres, redis)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newSessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration, applies flag overrides and configures logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if storageFlag != "" {
		cfg.Storage.Backend = storageFlag
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	observability.Configure(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
