package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore"
	"github.com/hupe1980/vecstore/config"
)

func initCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the storage directory and a default configuration file",
		Long: `Create the storage directory and, when --config is given and the file does
not exist yet, write the effective configuration to it as YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfigForInit()
			if err != nil {
				return err
			}
			if g.configPath != "" {
				written, err := writeConfig(g.configPath, cfg, force)
				if err != nil {
					return err
				}
				if written {
					fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", g.configPath)
				}
			}
			return g.withDB(cmd, func(_ context.Context, db *vecstore.DB) error {
				return g.print(cmd.OutOrStdout(), map[string]any{"dir": db.Dir(), "entries": db.Vectors().CountEmbeddings()}, func(w io.Writer) {
					fmt.Fprintf(w, "initialized %s (%d entries)\n", db.Dir(), db.Vectors().CountEmbeddings())
				})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}

// loadConfigForInit tolerates a --config path that does not exist yet.
func (g *globalFlags) loadConfigForInit() (config.Config, error) {
	if g.configPath != "" {
		if _, err := os.Stat(g.configPath); errors.Is(err, os.ErrNotExist) {
			path := g.configPath
			g.configPath = ""
			defer func() { g.configPath = path }()
		}
	}
	return g.loadConfig()
}

// writeConfig writes cfg to path unless the file exists and force is off.
func writeConfig(path string, cfg config.Config, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return false, err
	}
	return true, os.WriteFile(path, data, 0o644)
}
