package storage

import (
	"context"
	"math/big"
	"time"

	"github.com/devblac/reward-tower/internal/model"
)

// CursorSourceID is the cursor row owned by the ledger poller.
const CursorSourceID = "soroban"

// Backend is the durable store contract shared by the SQLite and Postgres
// implementations.
type Backend interface {
	Ping(ctx context.Context) error
	Close() error

	UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error
	GetCursor(ctx context.Context, sourceID string) (uint64, string, bool, error)

	InsertCampaign(ctx context.Context, c model.Campaign) error
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	GetCampaign(ctx context.Context, id uint32) (model.Campaign, bool, error)
	EndCampaigns(ctx context.Context, now time.Time) (int64, error)

	ApplyDelta(ctx context.Context, d model.Delta) (model.ApplyOutcome, error)
	ListBalances(ctx context.Context, campaignID uint32) ([]model.ParticipantBalance, error)
	GetBalance(ctx context.Context, campaignID uint32, address string) (*big.Int, bool, error)

	IsProcessed(ctx context.Context, eventID string) (bool, error)
	PruneProcessed(ctx context.Context, before time.Time) (int64, error)
}

var _ Backend = (*Store)(nil)
