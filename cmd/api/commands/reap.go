package commands

import (
	"fmt"

	"approvals/internal/service"

	"github.com/spf13/cobra"
)

// NewReapCmd runs a single expiry sweep, for cron-driven deployments that do
// not run the in-process reaper.
func NewReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Expire overdue pending requests once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := service.NewExpiryReaper(a.workflow, cfg.Approvals.ReapInterval).SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d request(s)\n", n)
			return nil
		},
	}
}
