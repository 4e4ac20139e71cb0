package main

import (
	"fmt"
	"math/big"
	"text/tabwriter"
	"time"

	"github.com/devblac/reward-tower/internal/rewards"
	"github.com/spf13/cobra"
)

var (
	createPool        string
	createAsset       string
	createRewardToken string
	createDaily       string
	createDays        uint32
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Create and list reward campaigns",
}

func init() {
	campaignCreateCmd.Flags().StringVar(&createPool, "pool", "", "Lending pool contract id")
	campaignCreateCmd.Flags().StringVar(&createAsset, "asset", "", "Collateral asset contract id")
	campaignCreateCmd.Flags().StringVar(&createRewardToken, "reward-token", "", "Reward token contract id (defaults to contract.default_reward_token)")
	campaignCreateCmd.Flags().StringVar(&createDaily, "daily", "", "Daily reward amount in token base units")
	campaignCreateCmd.Flags().Uint32Var(&createDays, "days", 0, "Campaign duration in days")
	for _, f := range []string{"pool", "asset", "daily", "days"} {
		_ = campaignCreateCmd.MarkFlagRequired(f)
	}

	campaignCmd.AddCommand(campaignCreateCmd, campaignListCmd)
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign on chain and record it locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		daily, ok := new(big.Int).SetString(createDaily, 10)
		if !ok {
			return fmt.Errorf("--daily %q is not an integer", createDaily)
		}

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
		res, err := svc.CreateCampaign(ctx, rewards.CreateParams{
			Pool:              createPool,
			Asset:             createAsset,
			RewardToken:       createRewardToken,
			DailyRewardAmount: daily,
			DurationDays:      createDays,
		})
		printResult(cmd, res.Result)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "campaign %d active until %s\n", res.Campaign.ID, res.Campaign.EndDate.Format(time.RFC3339))
		return nil
	},
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.registry.All(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tPOOL\tASSET\tDAILY\tEND")
		for _, c := range list {
			end := "-"
			if !c.EndDate.IsZero() {
				end = c.EndDate.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Status, c.Pool, c.Asset, c.DailyRewardAmount, end)
		}
		return tw.Flush()
	},
}
