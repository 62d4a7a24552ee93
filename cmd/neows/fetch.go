package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pders01/neows/internal/feed"
)

func newFetchCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Load today's feed once and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !opts.quiet && !asJSON {
				showBanner(out)
			}
			return runFetch(cmd.Context(), a.loader, out, cmd.ErrOrStderr(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the page payload as JSON")
	return cmd
}

// runFetch performs one load. In JSON mode it prints exactly what the page
// endpoint would serve, so an empty result prints {} and succeeds.
func runFetch(ctx context.Context, loader *feed.Loader, out, errOut io.Writer, asJSON bool) error {
	res := loader.Load(ctx)

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Page())
	}

	renderSummary(out, res.Date, res.Status, res.Data)
	switch res.Status {
	case feed.StatusEmpty:
		return fmt.Errorf("no data for %s: %w", res.Date, res.Err)
	case feed.StatusPartial:
		fmt.Fprintf(errOut, "warning: %v\n", res.Err)
	}
	return nil
}
