package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"freecanvas/internal/auth"
	"freecanvas/internal/config"
)

func main() {
	if err := newTokenCmd(config.Load()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newTokenCmd prints a bearer token signed with JWT_SECRET.
func newTokenCmd(cfg *config.AppConfig) *cobra.Command {
	var (
		subject string
		ttl     = cfg.Auth.TokenTTL
	)
	cmd := &cobra.Command{
		Use:           "token",
		Short:         "Mint a bearer token for the canvas item API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
			if err != nil {
				return fmt.Errorf("JWT_SECRET must be set: %w", err)
			}
			token, err := m.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "canvas", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", ttl, "token lifetime, 0 for none")
	return cmd
}
