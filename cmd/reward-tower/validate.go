package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/reward-tower/internal/config"
	"github.com/devblac/reward-tower/internal/soroban"
	"github.com/spf13/cobra"
)

const defaultPingTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping the Soroban RPC node",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, db %s)\n", cfg.Version, cfg.Global.DBDriver)

		node := soroban.New(cfg.Network.RPCURL, soroban.Options{Timeout: cfg.Network.RequestTimeout})
		ctx, cancel := context.WithTimeout(cmd.Context(), defaultPingTimeout)
		defer cancel()

		health, err := node.GetHealth(ctx)
		if err != nil {
			fmt.Fprintf(out, "- rpc %s: ERROR %v\n", cfg.Network.RPCURL, err)
			return fmt.Errorf("validate: rpc unreachable")
		}
		latest, err := node.GetLatestLedger(ctx)
		if err != nil {
			fmt.Fprintf(out, "- rpc %s: ERROR %v\n", cfg.Network.RPCURL, err)
			return fmt.Errorf("validate: rpc unreachable")
		}
		fmt.Fprintf(out, "- rpc %s: %s, ledger %d, protocol %d\n", cfg.Network.RPCURL, health.Status, latest.Sequence, latest.ProtocolVersion)

		if cfg.Signers.OperatorSecret == "" {
			fmt.Fprintln(out, "- operator signer: not configured (campaign create / rewards distribute disabled)")
		}
		if cfg.Signers.UserSecret == "" {
			fmt.Fprintln(out, "- user signer: not configured (rewards claim / check disabled)")
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}
