package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileBatch int

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation sweep and exit",
	Long: `Ask the gateway about every stale pending order once and apply the
payments it confirms. Useful from cron or after an outage.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if reconcileBatch > 0 {
			cfg.Reconcile.BatchSize = reconcileBatch
		}

		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.worker().RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked=%d applied=%d not_verified=%d failed=%d\n",
			res.Checked, res.Applied, res.NotVerified, res.Failed)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileBatch, "batch", 0, "orders to check (default RECONCILE_BATCH_SIZE)")
}
