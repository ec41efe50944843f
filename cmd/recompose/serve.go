package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-drift/recompose/pkg/engine"
	recomposetest "github.com/go-drift/recompose/pkg/testing"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr     string
		rows     int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the counter list on a frame clock with the debug server",
		Long: `serve mounts the counter list, bumps a counter every --interval and
recomposes on every frame until interrupted. The debug server exposes
/compositions, /passes, /runtime and /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := c.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			cfg := c.engineConfig(store)
			if addr != "" {
				cfg.DebugAddr = addr
			}
			if cfg.DebugAddr == "" {
				cfg.DebugAddr = "localhost:9999"
			}
			e := engine.New(cfg)
			ctx := cmd.Context()

			list := newCounterList(e.Coordinator(), rows)
			if _, err := e.Mount(ctx, "serve", recomposetest.NewNodeApplier(), list.content); err != nil {
				_ = e.Close()
				return err
			}
			go bumpEvery(ctx, list, rows, interval)

			err = e.Run(ctx)
			closeErr := e.Close()
			if errors.Is(err, context.Canceled) {
				c.logger.Info("shutting down", slog.Int64("passes", e.Recomposer().Passes()))
				err = nil
			}
			return errors.Join(err, closeErr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "debug server address (overrides debug.addr)")
	cmd.Flags().IntVar(&rows, "rows", 5, "number of counters")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "time between counter bumps")
	return cmd
}

func bumpEvery(ctx context.Context, list *counterList, rows int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			list.bump(i % rows)
		}
	}
}
