package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-drift/recompose/pkg/engine"
	"github.com/go-drift/recompose/pkg/frameclock"
	recomposetest "github.com/go-drift/recompose/pkg/testing"
)

func newDemoCmd(c *cli) *cobra.Command {
	var (
		ticks   int
		rows    int
		rotates int
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Recompose a counter list for a number of ticks and print the tree",
		Long: `demo mounts a list of counters, bumps one counter per tick and
rotates the list every --rotate ticks. It prints the work done by every
pass and the final node tree. Counts are saved to --state and restored on
the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rows <= 0 {
				return fmt.Errorf("--rows must be positive (got %d)", rows)
			}
			store, closeStore, err := c.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			cfg := c.engineConfig(store)
			cfg.Clock = frameclock.NewManualClock()
			cfg.DebugAddr = ""
			e := engine.New(cfg)

			list := newCounterList(e.Coordinator(), rows)
			applier := recomposetest.NewNodeApplier()
			if _, err := e.Mount(cmd.Context(), "demo", applier, list.content); err != nil {
				_ = e.Close()
				return err
			}
			applier.ResetCalls()

			out := cmd.OutOrStdout()
			for i := range ticks {
				list.bump(i % rows)
				if rotates > 0 && (i+1)%rotates == 0 {
					list.rotate()
				}
				res, err := e.Recomposer().RecomposeSync(cmd.Context())
				if err != nil {
					_ = e.Close()
					return err
				}
				fmt.Fprintf(out, "pass %d: changes=%d recomposed=%d executions=%d\n",
					res.Pass, res.Changes, res.Recomposed, res.Executions)
			}
			calls := applier.Calls()
			fmt.Fprintf(out, "applier: inserts=%d removes=%d moves=%d\n", calls.Insert, calls.Remove, calls.Move)
			fmt.Fprint(out, applier.RootNode())
			return e.Close()
		},
	}
	cmd.Flags().IntVar(&ticks, "ticks", 5, "number of passes to run")
	cmd.Flags().IntVar(&rows, "rows", 3, "number of counters")
	cmd.Flags().IntVar(&rotates, "rotate", 0, "rotate the list every N ticks (0 disables)")
	return cmd
}
