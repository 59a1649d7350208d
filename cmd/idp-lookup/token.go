package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/idp-lookup/security"
)

func newTokenCommand(opts *options) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain a token and print its lifetimes",
		Long: `Perform a client credentials grant (and, with --refresh, a refresh grant)
and print the resulting token lifetimes. Token values are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			srv, cleanup, err := newServer(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := srv.Tokens.Acquire(ctx); err != nil {
				return err
			}
			if refresh {
				if _, err := srv.Tokens.Refresh(ctx); err != nil {
					return err
				}
			}

			st, _ := srv.Tokens.State()
			now := time.Now()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token type:         %s\n", st.TokenType)
			fmt.Fprintf(out, "access expires in:  %s\n", security.RemainingLifetime(st.AccessExpiry, now).Round(time.Second))
			fmt.Fprintf(out, "refresh expires in: %s\n", security.RemainingLifetime(st.RefreshExpiry, now).Round(time.Second))
			fmt.Fprintf(out, "has refresh token:  %t\n", st.RefreshToken != "")
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "also perform a refresh grant")

	return cmd
}
