package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore"
)

func statsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts, file sizes and cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(_ context.Context, db *vecstore.DB) error {
				st, err := db.Stats()
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), st, func(w io.Writer) { printStats(w, db.Dir(), st) })
			})
		},
	}
}

func printStats(w io.Writer, dir string, st *vecstore.Stats) {
	fmt.Fprintf(w, "Store:        %s\n", dir)
	fmt.Fprintf(w, "Entries:      %s (%s pending deletion)\n", humanize.Comma(int64(st.Entries)), humanize.Comma(int64(st.PendingDeletions)))
	fmt.Fprintf(w, "Files:        %d pages, %s on disk\n", st.Files.TotalFiles, humanize.IBytes(uint64(st.Files.TotalSizeBytes)))
	if !st.Files.NewestModified.IsZero() {
		fmt.Fprintf(w, "Last write:   %s\n", humanize.Time(st.Files.NewestModified))
	}
	fmt.Fprintf(w, "Index:        %d files, %d models, %d chunks, ~%s\n",
		st.Index.FilePaths, st.Index.Models, st.Index.Chunks, humanize.IBytes(st.Index.MemoryBytes))
	if c := st.Compression; c.OriginalBytes > 0 {
		fmt.Fprintf(w, "Compression:  %s -> %s (ratio %.2f)\n",
			humanize.IBytes(c.OriginalBytes), humanize.IBytes(c.CompressedBytes), c.CompressionRatio)
	}
	fmt.Fprintf(w, "Lazy loader:  %d/%d chunks, %s of %s\n",
		st.Lazy.LoadedChunks, st.Lazy.TotalChunks, humanize.IBytes(uint64(st.Lazy.MemoryBytes)), humanize.IBytes(uint64(st.Lazy.MemoryLimit)))
	limit := "unlimited"
	if st.MemoryLimit > 0 {
		limit = humanize.IBytes(uint64(st.MemoryLimit))
	}
	fmt.Fprintf(w, "Memory:       %s reserved, %s peak, limit %s\n",
		humanize.IBytes(uint64(st.MemoryReserved)), humanize.IBytes(uint64(st.MemoryPeak)), limit)
}

func printDuration(d time.Duration) string {
	return d.Round(time.Microsecond).String()
}
