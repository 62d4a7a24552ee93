package main

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/neows/internal/debuglog"
	"github.com/pders01/neows/internal/feed"
	"github.com/pders01/neows/internal/search"
)

func newSearchCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search today's and archived objects by name, id or orbit class",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return runSearch(cmd.Context(), a.loader, a.index, cmd.OutOrStdout(), strings.Join(args, " "), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	return cmd
}

// runSearch loads today first so the index holds the current day; a failed
// load still searches whatever the archive had.
func runSearch(ctx context.Context, loader *feed.Loader, searcher search.Searcher, out io.Writer, query string, limit int) error {
	if strings.TrimSpace(query) == "" {
		return errors.New("query cannot be empty")
	}
	if res := loader.Load(ctx); res.Err != nil {
		debuglog.Warnf("loading today before search: %v", res.Err)
	}

	hits, err := searcher.Search(query, limit)
	if err != nil {
		return err
	}
	renderHits(out, query, hits)
	return nil
}
