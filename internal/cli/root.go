package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"payment-settlement/internal/config"
)

var (
	envFiles []string
	rootCmd  *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "settlement",
		Short: "Payment settlement and reconciliation service",
		Long: `settlement confirms gateway payments against store orders.

Webhooks, customer verification and a background sweep all feed one
reconciliation engine, so each payment is applied to its order exactly once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before the environment (default .env)")
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(adminTokenCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
