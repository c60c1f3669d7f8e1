package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore"
	"github.com/hupe1980/vecstore/storage"
)

func backupCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore backups",
	}
	cmd.AddCommand(backupCreateCmd(g), backupListCmd(g), backupRestoreCmd(g))
	return cmd
}

func backupCreateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Copy every page and side file into a new backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, db *vecstore.DB) error {
				info, err := db.CreateBackup(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), info, func(w io.Writer) { printBackup(w, *info) })
			})
		},
	}
}

func backupListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(_ context.Context, db *vecstore.DB) error {
				infos, err := db.Storage().ListBackups()
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), infos, func(w io.Writer) {
					if len(infos) == 0 {
						fmt.Fprintln(w, "no backups")
					}
					for _, info := range infos {
						printBackup(w, info)
					}
				})
			})
		},
	}
}

func backupRestoreCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <name>",
		Short: "Replace the store contents with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, db *vecstore.DB) error {
				if err := db.RestoreBackup(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s (%s entries)\n", args[0], humanize.Comma(int64(db.Vectors().CountEmbeddings())))
				return nil
			})
		},
	}
}

func printBackup(w io.Writer, info storage.BackupInfo) {
	fmt.Fprintf(w, "%-32s %4d files %10s  %s\n", info.Name, info.Files, humanize.IBytes(uint64(info.SizeBytes)), humanize.Time(info.CreatedAt))
}
