package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbxark/formpilot/auth"
	"github.com/tbxark/formpilot/types"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return errors.New("auth.secret is required")
			}
			tokens, err := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL()
			}
			token, err := tokens.Issue(types.Identity{UserID: args[0], Name: name, Email: email}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("name", "", "display name claim")
	cmd.Flags().String("email", "", "email claim")
	cmd.Flags().Duration("ttl", 0, "token lifetime, defaults to auth.token_ttl_hours")
	return cmd
}
