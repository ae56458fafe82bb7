package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"payment-settlement/internal/api"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Print a bearer token for the /admin routes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.AdminJWTSecret == "" {
			return errors.New("ADMIN_JWT_SECRET is not set")
		}

		token, expiresAt, err := api.IssueAdminToken(cfg.AdminJWTSecret, tokenSubject, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	adminTokenCmd.Flags().StringVar(&tokenSubject, "subject", "ops", "who the token is issued to")
	adminTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "token lifetime")
}
