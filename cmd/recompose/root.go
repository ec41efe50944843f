package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/go-drift/recompose/internal/config"
	"github.com/go-drift/recompose/pkg/engine"
	"github.com/go-drift/recompose/pkg/saveable"
	"github.com/go-drift/recompose/pkg/saveable/badgerstore"
)

// Version information set at build time.
var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
)

// cli holds state shared by the subcommands.
type cli struct {
	dir      string
	stateDir string
	cfg      *config.Resolved
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "recompose",
		Short: "Run compositions on the recompose runtime",
		Long: `recompose drives incremental recomposition of composable functions.

Configuration is read from recompose.yaml in --dir and RECOMPOSE_*
environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Resolve(c.dir)
			if err != nil {
				return err
			}
			if c.stateDir != "" {
				cfg.StateDir = c.stateDir
			}
			c.cfg = cfg
			c.logger = cfg.Logger(cmd.ErrOrStderr())
			slog.SetDefault(c.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.dir, "dir", ".", "directory holding recompose.yaml")
	root.PersistentFlags().StringVar(&c.stateDir, "state", "", "badger directory for saved state (overrides state.dir)")

	root.AddCommand(newDemoCmd(c), newServeCmd(c), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "recompose version %s (built %s)\n", Version, BuildTime)
		},
	}
}

// openStore returns the configured state store and a function closing it.
func (c *cli) openStore() (saveable.Store, func(), error) {
	if c.cfg.StateDir == "" {
		return saveable.NewMemoryStore(), func() {}, nil
	}
	cfg := badgerstore.DefaultConfig(c.cfg.StateDir)
	cfg.Logger = c.logger.With(slog.String("component", "badger"))
	store, err := badgerstore.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			c.logger.Error("closing state store", slog.Any("error", err))
		}
	}, nil
}

func (c *cli) engineConfig(store saveable.Store) engine.Config {
	return engine.Config{
		Name:              c.cfg.Name,
		FrameInterval:     c.cfg.FrameInterval,
		TraceSamples:      c.cfg.TraceSamples,
		SlowPassThreshold: c.cfg.SlowPass,
		DebugAddr:         c.cfg.DebugAddr,
		Store:             store,
		Logger:            c.logger,
	}
}
