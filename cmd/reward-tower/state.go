package main

import (
	"fmt"

	"github.com/devblac/reward-tower/internal/campaign"
	"github.com/devblac/reward-tower/internal/storage"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the ledger cursor and processing lag",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		a, err := newApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		height, _, ok, err := a.store.GetCursor(ctx, storage.CursorSourceID)
		if err != nil {
			return fmt.Errorf("read cursor: %w", err)
		}
		active, err := a.registry.Active(ctx)
		if err != nil {
			return fmt.Errorf("read campaigns: %w", err)
		}

		if !ok {
			fmt.Fprintln(out, "cursor: none (next run cold-starts at the current ledger)")
		} else {
			fmt.Fprintf(out, "cursor: %d\n", height)
		}
		fmt.Fprintf(out, "active campaigns: %d, watched pools: %d\n", len(active), len(campaign.Pools(active)))

		latest, err := a.node.GetLatestLedger(ctx)
		if err != nil {
			fmt.Fprintf(out, "latest: unavailable (%v)\n", err)
			return nil
		}
		fmt.Fprintf(out, "latest: %d\n", latest.Sequence)
		if ok {
			fmt.Fprintf(out, "lag: %d ledger(s)\n", lag(latest.Sequence, height))
		}
		return nil
	},
}

func lag(latest uint32, cursor uint64) uint64 {
	if uint64(latest) <= cursor {
		return 0
	}
	return uint64(latest) - cursor
}
