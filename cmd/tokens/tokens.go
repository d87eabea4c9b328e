package tokens

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/tokenstore"
)

// Command creates the tokens command group for the token store.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect the store of invalid and expired tokens",
	}
	cmd.AddCommand(listCommand(settings), countCommand(settings))
	return cmd
}

func openStore(settings *conf.Settings) (*tokenstore.Store, error) {
	if !settings.Database.Enabled {
		return nil, errors.Newf("token store is disabled, set database.enabled").
			Component("tokenstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return tokenstore.Open(settings.Database)
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recently reported tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN\tREASON\tSOURCE\tREPORTED\tCOUNT")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					t.Token, t.Reason, t.Source, t.ReportedAt.Format(time.RFC3339), t.Occurrences)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of tokens to list")
	return cmd
}

func countCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of known bad tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
