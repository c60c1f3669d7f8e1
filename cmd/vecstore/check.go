package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore"
	"github.com/hupe1980/vecstore/rebuild"
)

// errCheckFailed makes the process exit non-zero without repeating the report.
var errCheckFailed = errors.New("check failed")

func validateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check storage integrity, index agreement, vectors and duplicates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, db *vecstore.DB) error {
				rep, err := db.Validation().ValidateDatabase(ctx)
				if err != nil {
					return err
				}
				err = g.print(cmd.OutOrStdout(), rep, func(w io.Writer) {
					printHealth(w, rep.Health)
					fmt.Fprintf(w, "Duplicates:   %d groups, %d redundant entries\n", len(rep.Duplicates), rep.DuplicateCount())
				})
				if err == nil && !rep.Valid {
					err = errCheckFailed
				}
				return err
			})
		},
	}
}

func healthCmd(g *globalFlags) *cobra.Command {
	var quick bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run a read-only health check",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, db *vecstore.DB) error {
				check := db.HealthCheck
				if quick {
					check = db.QuickHealthCheck
				}
				rep, err := check(ctx)
				if err != nil {
					return err
				}
				err = g.print(cmd.OutOrStdout(), rep, func(w io.Writer) { printHealth(w, rep) })
				if err == nil && rep.Status == rebuild.StatusUnhealthy {
					err = errCheckFailed
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&quick, "quick", false, "Sample a bounded number of entries and skip page checksums")
	return cmd
}

func printHealth(w io.Writer, rep *rebuild.HealthReport) {
	fmt.Fprintf(w, "Status:       %s\n", rep.Status)
	fmt.Fprintf(w, "Checked:      %s entries in %s\n", humanize.Comma(int64(rep.EntriesChecked)), printDuration(rep.Duration))
	fmt.Fprintf(w, "Integrity:    %s (%d stored, %d indexed)\n",
		passFail(rep.Integrity.Passed), rep.Integrity.StoredEntries, rep.Integrity.IndexedEntries)
	if p := rep.Performance; p.Sampled > 0 {
		fmt.Fprintf(w, "Performance:  %s (avg %s, max %s, target %s over %d lookups)\n",
			passFail(p.Passed), printDuration(p.AvgLatency), printDuration(p.MaxLatency), printDuration(p.TargetLatency), p.Sampled)
	}
	for _, c := range rep.Corruptions {
		fmt.Fprintf(w, "  %-22s %s %s %s\n", c.Type, c.Page, c.ID, c.Detail)
	}
	for _, r := range rep.Recommendations {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "FAILED"
}
