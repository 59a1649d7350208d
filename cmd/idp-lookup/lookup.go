package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/idp-lookup/lookup"
)

func newLookupCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <attribute>=<value>",
		Short: "Look up one user and print the JSON record",
		Long: `Look up the first user whose attribute equals value exactly and print
the record as JSON, or {} when no user matches. The argument uses query string
encoding, e.g. email=jane%40example.com or username=jane.`,
		Example: `  idp-lookup lookup username=jane
  idp-lookup lookup --credentials /etc/idp-lookup/client-credentials.json email=jane@example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			srv, cleanup, err := newServer(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			q, err := lookup.ParseQuery(args[0], srv.Config.Lookup.SearchableAttributes)
			if err != nil {
				return err
			}

			result, err := srv.Lookup.Lookup(ctx, q)
			if err != nil {
				return err
			}

			body, err := result.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}
