package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devblac/reward-tower/internal/model"
	"github.com/spf13/cobra"
)

var (
	exportCampaign uint32
	exportFormat   string
)

func init() {
	exportCmd.Flags().Uint32Var(&exportCampaign, "campaign", 0, "Campaign id")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format (csv|json)")
	_ = exportCmd.MarkFlagRequired("campaign")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export participant balances of a campaign as csv or json",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		balances, err := a.ledger.Balances(ctx, exportCampaign)
		if err != nil {
			return fmt.Errorf("list balances: %w", err)
		}
		return writeBalances(cmd.OutOrStdout(), exportFormat, balances)
	},
}

type balanceRecord struct {
	CampaignID uint32 `json:"campaign_id"`
	Address    string `json:"address"`
	Balance    string `json:"balance"`
}

func writeBalances(w io.Writer, format string, balances []model.ParticipantBalance) error {
	switch strings.ToLower(format) {
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"campaign_id", "address", "balance"}); err != nil {
			return err
		}
		for _, b := range balances {
			if err := cw.Write([]string{strconv.FormatUint(uint64(b.CampaignID), 10), b.Address, b.Balance.String()}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case "json":
		records := make([]balanceRecord, 0, len(balances))
		for _, b := range balances {
			records = append(records, balanceRecord{CampaignID: b.CampaignID, Address: b.Address, Balance: b.Balance.String()})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	default:
		return fmt.Errorf("unsupported format %q (want csv or json)", format)
	}
}
