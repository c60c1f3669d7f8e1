// Package main is the entry point for the vecstore operator CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore"
	"github.com/hupe1980/vecstore/config"
	"github.com/hupe1980/vecstore/internal/lockfile"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	dir        string
	jsonOut    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd().ExecuteContext(ctx)
	if rerr := lockfile.ReleaseAll(""); rerr != nil {
		fmt.Fprintln(os.Stderr, "release locks:", rerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "vecstore",
		Short: "Operate a vecstore embedding database",
		Long: `vecstore inspects and maintains an embedded embedding vector store.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. YAML file (--config)
  3. .env file (--env, default .env if present)
  4. VECSTORE_* environment variables
  5. Command line flags`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Path to YAML configuration file")
	pf.StringVar(&g.envFile, "env", "", "Path to .env file (default: .env in current directory)")
	pf.StringVarP(&g.dir, "dir", "d", "", "Storage directory (overrides storage_dir)")
	pf.BoolVar(&g.jsonOut, "json", false, "Print results as JSON")

	cmd.AddCommand(
		initCmd(g),
		statsCmd(g),
		validateCmd(g),
		healthCmd(g),
		rebuildCmd(g),
		cleanupCmd(g),
		compactCmd(g),
		removeCmd(g),
		backupCmd(g),
		versionCmd(),
	)
	return cmd
}

// loadConfig resolves the configuration from files, environment and flags.
func (g *globalFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Load(g.configPath, g.envFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if g.dir != "" {
		cfg.StorageDir = g.dir
	}
	return cfg, nil
}

// open opens the store without background tasks; commands run maintenance
// explicitly.
func (g *globalFlags) open(ctx context.Context) (*vecstore.DB, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := vecstore.NewLogger(cfg.Handler(os.Stderr))
	slog.SetDefault(logger.Logger)
	return vecstore.Open(ctx, cfg.StorageDir,
		vecstore.WithConfig(cfg),
		vecstore.WithLogger(logger),
		vecstore.WithoutBackgroundTasks(),
	)
}

// withDB runs fn against an open store and closes it afterwards.
func (g *globalFlags) withDB(cmd *cobra.Command, fn func(context.Context, *vecstore.DB) error) (err error) {
	ctx := cmd.Context()
	db, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, db)
}

// print writes v as indented JSON when --json is set, and calls text otherwise.
func (g *globalFlags) print(w io.Writer, v any, text func(io.Writer)) error {
	if !g.jsonOut {
		text(w)
		return nil
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", raw)
	return err
}
