package cli

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"PMCMirror/internal/app"
)

func runCmd(opts *rootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mirror everything listed since the last high-water mark",
		Long: `Run one incremental batch over every configured listing.

Files that cannot be fetched from either transport stay above the mark and are
picked up by the next run. With --watch the batch repeats every scheduler.interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
				if watch {
					return a.Watch(ctx)
				}
				_, err := a.Run(ctx)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "repeat on scheduler.interval until interrupted")
	return cmd
}

func replayCmd(opts *rootOptions) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild Silver and Gold from stored Bronze captures",
		Long: `Re-parse every Bronze capture ingested at or after --since and upsert the
resulting Silver and Gold rows. Nothing is fetched and the high-water marks do not move.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseSince(since)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
				_, err := a.Replay(ctx, from)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 timestamp or YYYY-MM-DD (default: all captures)")
	return cmd
}

func discoverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List manifest files published on each listing's index page",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
				found, err := a.Discover(ctx)
				for _, source := range slices.Sorted(maps.Keys(found)) {
					for _, e := range found[source] {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", source, e.Name, e.URL)
					}
				}
				return err
			})
		},
	}
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 or YYYY-MM-DD", raw)
}
