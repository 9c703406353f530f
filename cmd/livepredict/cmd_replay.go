package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/livefir/livepredict"
)

var replayParallel int

var replayCmd = &cobra.Command{
	Use:   "replay TRACE.json...",
	Short: "Replay traces concurrently on one engine and summarize the results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		reports, err := replayAll(cmd.Context(), e, args, replayParallel)
		if err != nil {
			return err
		}
		stats := e.Stats()

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"reports": reports, "stats": stats})
		}

		for _, r := range reports {
			fmt.Printf("  %-32s %d steps, %d hits\n", r.Subject, len(r.Steps), r.Hits)
		}
		fmt.Println()
		fmt.Println(styles.Box.Render(
			styles.Title.Render("Engine") + "\n" +
				row("predictions", stats.Predictions) + "\n" +
				row("hits", stats.Hits) + "\n" +
				row("mismatches", stats.Mismatches) + "\n" +
				row("misses", stats.Misses) + "\n" +
				row("hit rate", stats.HitRate) + "\n" +
				row("extractions", stats.Extractions) + "\n" +
				row("extraction failures", stats.ExtractionFailures) + "\n" +
				row("templates evicted", stats.TemplatesEvicted) + "\n" +
				row("template bytes", stats.Store.Bytes),
		))
		return nil
	},
}

func init() {
	replayCmd.Flags().IntVarP(&replayParallel, "parallel", "p", 4, "traces replayed at once")
}

func replayAll(ctx context.Context, e *livepredict.Engine, paths []string, parallel int) ([]*Report, error) {
	reports := make([]*Report, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tr, err := LoadTrace(path)
			if err != nil {
				return err
			}
			report, _, err := Replay(e, tr, false)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
