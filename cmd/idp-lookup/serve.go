package main

import (
	"github.com/spf13/cobra"
)

func newServeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve user lookups over HTTP",
		Long: `Serve GET /?<attribute>=<value> lookups. The response is the first user
whose attribute equals the value exactly, or {} when none does.

GET /healthz reports liveness and GET /readyz checks that the realm's
discovery document is reachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			srv, cleanup, err := newServer(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&opts.listenAddr, "listen", "l", "", "listen address (default \":9292\")")

	return cmd
}
