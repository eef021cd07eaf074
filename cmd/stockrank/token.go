package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fedutinova/stockrank/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP control surface",
	Example: `  stockrank token --subject ops --role operator
  stockrank token --subject dashboard --role viewer --ttl 720h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		subject, _ := cmd.Flags().GetString("subject")
		roles, _ := cmd.Flags().GetStringSlice("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		for _, r := range roles {
			if !auth.KnownRole(r) {
				return fmt.Errorf("unknown role %q", r)
			}
		}

		token, err := auth.NewToken(cfg.JWTSecret, cfg.JWTIssuer, subject, roles, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("subject", "cli", "token subject")
	tokenCmd.Flags().StringSlice("role", []string{auth.RoleViewer}, "roles: viewer, operator, admin")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}
