// Package ledger applies classified pool events to participant balances.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/devblac/reward-tower/internal/campaign"
	"github.com/devblac/reward-tower/internal/logging"
	"github.com/devblac/reward-tower/internal/metrics"
	"github.com/devblac/reward-tower/internal/model"
)

// Store applies deltas atomically with their processed-event record.
type Store interface {
	ApplyDelta(ctx context.Context, d model.Delta) (model.ApplyOutcome, error)
	ListBalances(ctx context.Context, campaignID uint32) ([]model.ParticipantBalance, error)
	GetBalance(ctx context.Context, campaignID uint32, address string) (*big.Int, bool, error)
}

type Ledger struct {
	store   Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(store Store, m *metrics.Metrics, log *slog.Logger) *Ledger {
	if log == nil {
		log = logging.Discard()
	}
	return &Ledger{store: store, metrics: m, log: log}
}

// Apply resolves the campaign for ev among campaigns and applies its signed
// amount. Unknown kinds and unmatched assets are skipped.
func (l *Ledger) Apply(ctx context.Context, ev model.ClassifiedEvent, campaigns []model.Campaign) (model.ApplyOutcome, error) {
	if ev.Kind != model.SupplyCollateral && ev.Kind != model.WithdrawCollateral {
		l.metrics.EventDropped("unknown_kind")
		return model.Skipped, nil
	}
	c, ok := campaign.ForEvent(campaigns, ev.ContractID, ev.Asset)
	if !ok {
		l.metrics.EventDropped("out_of_scope")
		return model.Skipped, nil
	}

	outcome, err := l.store.ApplyDelta(ctx, model.Delta{
		EventID:    ev.SourceEventID,
		CampaignID: c.ID,
		Address:    ev.Address,
		Amount:     ev.Amount,
		Kind:       ev.Kind,
	})
	if err != nil {
		return 0, fmt.Errorf("apply event %s: %w", ev.SourceEventID, err)
	}

	switch outcome {
	case model.Applied:
		l.metrics.EventApplied()
		l.log.Debug("balance updated", "event_id", ev.SourceEventID, "campaign_id", c.ID, "address", ev.Address, "kind", ev.Kind, "amount", ev.Amount.String())
	case model.Duplicate:
		l.metrics.EventDropped("duplicate")
	case model.MissingParticipant:
		l.metrics.WithdrawWithoutSupply()
		l.log.Warn("withdraw without recorded supply", "event_id", ev.SourceEventID, "campaign_id", c.ID, "address", ev.Address, "amount", ev.Amount.String())
	}
	return outcome, nil
}

// Balances lists every participant of a campaign.
func (l *Ledger) Balances(ctx context.Context, campaignID uint32) ([]model.ParticipantBalance, error) {
	out, err := l.store.ListBalances(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list balances for campaign %d: %w", campaignID, err)
	}
	return out, nil
}

// Balance returns one participant balance, zero when absent.
func (l *Ledger) Balance(ctx context.Context, campaignID uint32, address string) (*big.Int, error) {
	bal, ok, err := l.store.GetBalance(ctx, campaignID, address)
	if err != nil {
		return nil, fmt.Errorf("balance for %s in campaign %d: %w", address, campaignID, err)
	}
	if !ok {
		return new(big.Int), nil
	}
	return bal, nil
}
