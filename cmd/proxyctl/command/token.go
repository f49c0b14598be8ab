package command

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"proxysync/internal/microservices/http-api/service"
)

var (
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token signed with ADMIN_JWT_SECRET",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env") // optional, the process environment still applies
		secret := os.Getenv("ADMIN_JWT_SECRET")
		if secret == "" {
			return errors.New("ADMIN_JWT_SECRET is not set")
		}
		signed, err := service.NewTokenService(secret).IssueToken(tokenSubject, tokenScopes, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "operator name recorded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{service.ScopeClusterRead, service.ScopeClusterWrite}, "granted scopes")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
