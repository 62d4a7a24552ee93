package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pders01/neows/internal/feed"
	"github.com/pders01/neows/internal/search"
	"github.com/pders01/neows/internal/storage"
	"github.com/pders01/neows/internal/validation"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var remove string

	cmd := &cobra.Command{
		Use:   "history [date]",
		Short: "List archived days, or summarise one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remove != "" && len(args) > 0 {
				return errors.New("--delete takes no date argument")
			}
			a, err := openApp(opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) > 0 {
				return showDay(a.store, cmd.OutOrStdout(), args[0])
			}
			if a.index, err = openIndex(a.cfg, a.store); err != nil {
				return err
			}
			if remove != "" {
				return deleteDay(a.store, a.index, cmd.OutOrStdout(), remove)
			}
			return listHistory(a.store, a.index, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&remove, "delete", "", "Remove one archived day (YYYY-MM-DD) and its search entries")
	return cmd
}

// listHistory prints one line per archived day, newest first. stats may be
// nil.
func listHistory(store *storage.Store, stats search.DebugStatser, out io.Writer) error {
	dates, err := store.ListDates()
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("archive is empty"))
		return nil
	}

	for _, date := range dates {
		snap, err := store.GetSnapshot(date)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %3d objects  %3d enriched  %s\n",
			titleStyle.Render(snap.Date),
			snap.Data.ElementCount,
			snap.Enriched,
			mutedStyle.Render("fetched "+snap.FetchedAt.Format("2006-01-02 15:04 MST")),
		)
	}

	if rl, err := store.GetRateLimit(); err == nil {
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("rate limit %s/%s remaining as of %s",
			rl.Remaining, rl.Limit, rl.ObservedAt.Format("2006-01-02 15:04 MST"))))
	}
	if stats != nil {
		n, err := stats.DocCount()
		if err != nil {
			return fmt.Errorf("counting search index: %w", err)
		}
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("search index holds %d objects", n)))
	}
	return nil
}

// deleteDay drops an archived day and clears its objects from index.
func deleteDay(store *storage.Store, index search.UpdateListener, out io.Writer, date string) error {
	if err := validation.ValidateDate(date); err != nil {
		return err
	}
	if err := store.DeleteSnapshot(date); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("nothing archived for %s", date)
		}
		return err
	}
	if index != nil {
		index.OnDataUpdated(date, &storage.FeedResponse{})
	}
	fmt.Fprintln(out, mutedStyle.Render("deleted "+date))
	return nil
}

func showDay(store *storage.Store, out io.Writer, date string) error {
	if err := validation.ValidateDate(date); err != nil {
		return err
	}
	snap, err := store.GetSnapshot(date)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("nothing archived for %s", date)
	}
	if err != nil {
		return err
	}
	renderSummary(out, snap.Date, feed.StatusCached, &snap.Data)
	return nil
}

func newShowCmd(opts *options) *cobra.Command {
	var date string
	var width int

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Describe one archived object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			return showObject(a.store, cmd.OutOrStdout(), args[0], date, width)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Archived day to read (default: latest)")
	cmd.Flags().IntVar(&width, "width", 100, "Wrap width")
	return cmd
}

func showObject(store *storage.Store, out io.Writer, id, date string, width int) error {
	if err := validation.ValidateNEOID(id); err != nil {
		return err
	}

	var snap *storage.Snapshot
	var err error
	if date == "" {
		snap, err = store.LatestSnapshot()
	} else {
		if err := validation.ValidateDate(date); err != nil {
			return err
		}
		snap, err = store.GetSnapshot(date)
	}
	if errors.Is(err, storage.ErrNotFound) {
		if date != "" {
			return fmt.Errorf("nothing archived for %s", date)
		}
		return errors.New("nothing archived yet; run fetch first")
	}
	if err != nil {
		return err
	}

	obj, ok := snap.Data.Find(id)
	if !ok {
		return fmt.Errorf("object %s is not in the %s snapshot", id, snap.Date)
	}

	rendered, err := renderMarkdown(objectMarkdown(snap.Date, obj), width)
	if err != nil {
		return fmt.Errorf("rendering: %w", err)
	}
	_, err = io.WriteString(out, rendered)
	return err
}
