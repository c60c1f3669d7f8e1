package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore"
	"github.com/hupe1980/vecstore/rebuild"
)

func rebuildCmd(g *globalFlags) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild every index from the storage pages",
		Long: `Rebuild every index from the storage pages. The live index is replaced only
when all pages were read. Interrupting the command cancels the rebuild and
leaves the previous index in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, db *vecstore.DB) error {
				var progress rebuild.ProgressFunc
				if !quiet && !g.jsonOut {
					errOut := cmd.ErrOrStderr()
					progress = func(p rebuild.Progress) {
						fmt.Fprintf(errOut, "%-12s %5.1f%%  %s entries  %.0f/s\n",
							p.Phase, p.Percent, humanize.Comma(int64(p.Processed)), p.Throughput)
					}
				}
				m, err := db.RebuildIndexes(ctx, progress)
				if m != nil {
					if perr := g.print(cmd.OutOrStdout(), m, func(w io.Writer) { printRebuild(w, m) }); perr != nil && err == nil {
						err = perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not report progress")
	return cmd
}

func printRebuild(w io.Writer, m *rebuild.RebuildMetrics) {
	fmt.Fprintf(w, "Phase:        %s\n", m.FinalPhase)
	fmt.Fprintf(w, "Processed:    %s entries from %d files\n", humanize.Comma(int64(m.EmbeddingsProcessed)), m.FilesScanned)
	fmt.Fprintf(w, "Duration:     %s (%.0f entries/s)\n", printDuration(m.Duration), m.Throughput)
	for _, msg := range m.ErrorMessages {
		fmt.Fprintf(w, "  ! %s\n", msg)
	}
	if m.Health != nil {
		printHealth(w, m.Health)
	}
}
