package main

import (
	"fmt"

	"github.com/devblac/reward-tower/internal/txsubmit"
	"github.com/spf13/cobra"
)

var rewardsCampaign uint32

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Distribute, claim and check campaign rewards",
}

func init() {
	for _, c := range []*cobra.Command{rewardsDistributeCmd, rewardsClaimCmd, rewardsCheckCmd} {
		c.Flags().Uint32Var(&rewardsCampaign, "campaign", 0, "Campaign id")
		_ = c.MarkFlagRequired("campaign")
	}
	rewardsCmd.AddCommand(rewardsDistributeCmd, rewardsClaimCmd, rewardsCheckCmd)
}

var rewardsDistributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Distribute rewards using the indexed participant balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		svc, err := a.rewards()
		if err != nil {
			return err
		}
		res, err := svc.DistributeFromLedger(ctx, rewardsCampaign)
		printResult(cmd, res.Result)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "distributed over %d participant(s), total balance %s\n", res.Participants, res.Total)
		return nil
	},
}

var rewardsClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the configured user's rewards",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		svc, err := a.rewards()
		if err != nil {
			return err
		}
		res, err := svc.ClaimRewards(ctx, rewardsCampaign)
		printResult(cmd, res.Result)
		if err != nil {
			return err
		}
		if res.Amount != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "claimed %s\n", res.Amount)
		}
		return nil
	},
}

var rewardsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show the configured user's pending rewards (simulation only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		svc, err := a.rewards()
		if err != nil {
			return err
		}
		amount, err := svc.UserRewards(ctx, rewardsCampaign)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pending rewards for campaign %d: %s\n", rewardsCampaign, amount)
		return nil
	},
}

func printResult(cmd *cobra.Command, res txsubmit.Result) {
	if res.AttemptID == "" {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s", res.Operation, res.Status)
	if res.Hash != "" {
		fmt.Fprintf(out, " tx %s", res.Hash)
	}
	if res.Detail != "" {
		fmt.Fprintf(out, " (%s)", res.Detail)
	}
	fmt.Fprintln(out)
}
