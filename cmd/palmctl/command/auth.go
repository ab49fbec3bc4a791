package command

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"palmcontroller/internal/middleware/auth"
)

// hashPasswordCmd prints a bcrypt hash for PAIRING_PASSWORD_HASH
var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Hash a pairing password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var (
	tokenSecret  string
	tokenSubject string
	tokenTTL     time.Duration
)

// tokenCmd issues an admin token for the HTTP API
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token",
	Long: `Sign an admin-scope JWT with the host's JWT_SECRET, for the
Authorization: Bearer header of the admin HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = os.Getenv("JWT_SECRET")
		}
		if secret == "" {
			return errors.New("no secret: pass --secret or set JWT_SECRET")
		}
		token, err := auth.NewTokenService(secret, tokenTTL).Issue(tokenSubject, auth.ScopeAdmin)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "JWT secret (defaults to $JWT_SECRET)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "palmctl", "client id recorded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime, 0 for no expiry")
}
