package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore"
	"github.com/hupe1980/vecstore/cleanup"
)

func cleanupCmd(g *globalFlags) *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run maintenance tasks now",
		Long: `Run every enabled maintenance task (temp files, stale locks, cache eviction,
storage optimization, log rotation, backup retention, log compression) once,
or a single task with --task.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, db *vecstore.DB) error {
				if task != "" {
					res, err := db.Maintenance().RunTask(ctx, task)
					if perr := g.print(cmd.OutOrStdout(), res, func(w io.Writer) { printTask(w, res) }); perr != nil && err == nil {
						err = perr
					}
					return err
				}
				st, err := db.CleanupNow(ctx)
				if perr := g.print(cmd.OutOrStdout(), st, func(w io.Writer) {
					for _, r := range st.Results {
						printTask(w, r)
					}
					fmt.Fprintf(w, "Total:        %d tasks, %d failed, %d files, %s freed\n",
						st.TasksRun, st.TasksFailed, st.FilesCleaned, humanize.IBytes(uint64(st.BytesFreed)))
				}); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "Run only the named task")
	return cmd
}

func printTask(w io.Writer, r cleanup.TaskResult) {
	status := "ok"
	if r.Error != "" {
		status = "error: " + r.Error
	}
	fmt.Fprintf(w, "%-22s %3d files %10s  %-8s %s %s\n",
		r.Task, r.FilesCleaned, humanize.IBytes(uint64(r.BytesFreed)), printDuration(r.Duration), status, r.Message)
}

func compactCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite pages without deleted entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, db *vecstore.DB) error {
				res, err := db.Cleanup().CompactDatabase(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Removed %d entries: %d pages rewritten, %d deleted, %s reclaimed in %s\n",
						res.EntriesRemoved, res.FilesCompacted, res.FilesRemoved, humanize.IBytes(uint64(res.BytesReclaimed)), printDuration(res.Duration))
				})
			})
		},
	}
}

func removeCmd(g *globalFlags) *cobra.Command {
	var (
		orphaned   bool
		duplicates bool
		file       string
		olderThan  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove orphaned, duplicate, per-file or old entries",
		Long: `Remove entries. Removal is logical; run compact afterwards to reclaim space.

Exactly one of --orphaned, --duplicates, --file or --older-than is required.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, db *vecstore.DB) error {
				c := db.Cleanup()
				var (
					n   int
					err error
				)
				switch {
				case orphaned:
					n, err = c.RemoveOrphaned(ctx)
				case duplicates:
					n, err = c.RemoveDuplicates(ctx)
				case file != "":
					n, err = c.RemoveByFile(ctx, file)
				default:
					n, err = c.RemoveOlderThan(ctx, time.Now().Add(-olderThan))
				}
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), map[string]int{"removed": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Removed %s entries\n", humanize.Comma(int64(n)))
				})
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&orphaned, "orphaned", false, "Remove entries whose source file no longer exists")
	f.BoolVar(&duplicates, "duplicates", false, "Keep only the first entry per file and text")
	f.StringVar(&file, "file", "", "Remove every entry of this source file")
	f.DurationVar(&olderThan, "older-than", 0, "Remove entries created longer ago than this")
	cmd.MarkFlagsMutuallyExclusive("orphaned", "duplicates", "file", "older-than")
	cmd.MarkFlagsOneRequired("orphaned", "duplicates", "file", "older-than")
	return cmd
}
