package commands

import (
	"approvals/internal/config"

	"github.com/spf13/cobra"
)

var (
	configFile       string
	logLevelOverride string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "approvals",
		Short:         "Dual-approval authorization service",
		Long:          `Serves the admin approval workflow: requests for sensitive data are released only after a quorum of distinct admins signs off.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file (default configs/config.yaml if present)")
	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewServeCmd(),
		NewMigrateCmd(),
		NewReapCmd(),
	)

	return cmd
}

// loadConfig loads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := configureLogger(cfg, logLevelOverride); err != nil {
		return nil, err
	}
	return cfg, nil
}
