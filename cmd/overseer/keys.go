package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rpggio/overseer/internal/sqlite"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API bearer tokens",
	}
	cmd.AddCommand(newKeysAddCmd())
	return cmd
}

func newKeysAddCmd() *cobra.Command {
	var principal, token, description string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a bearer token for a principal",
		Long:  "Register a bearer token. The principal is recorded as approvedBy on decisions made with it.\nA random token is generated and printed when --token is omitted; only its hash is stored.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			principal = strings.TrimSpace(principal)
			if principal == "" {
				return fmt.Errorf("keys add: --principal is required")
			}
			if token == "" {
				token = uuid.NewString()
			}

			rt, err := openApp()
			if err != nil {
				return err
			}
			defer rt.Close()

			keys := sqlite.NewAPIKeyRepository(rt.db)
			if err := keys.Add(cmd.Context(), token, principal, description); err != nil {
				return fmt.Errorf("keys add: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added key for %s\n%s\n", principal, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "identity the token authenticates as")
	cmd.Flags().StringVar(&token, "token", "", "token to register (generated when empty)")
	cmd.Flags().StringVar(&description, "description", "", "free-form note")
	return cmd
}
