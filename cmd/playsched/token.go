package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strefethen/playsched-go/internal/auth"
	"github.com/strefethen/playsched-go/internal/config"
)

func newTokenCmd() *cobra.Command {
	var subject, name string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for the management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.GenerateAccessToken(cfg, auth.TokenPayload{Sub: subject, ClientName: name})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().StringVar(&name, "name", "playsched-cli", "client name")
	return cmd
}
