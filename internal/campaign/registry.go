// Package campaign is the read view over stored reward campaigns.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devblac/reward-tower/internal/logging"
	"github.com/devblac/reward-tower/internal/model"
	"github.com/jonboulle/clockwork"
)

// Store is the subset of the durable store the registry needs.
type Store interface {
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	GetCampaign(ctx context.Context, id uint32) (model.Campaign, bool, error)
	InsertCampaign(ctx context.Context, c model.Campaign) error
	EndCampaigns(ctx context.Context, now time.Time) (int64, error)
}

// ErrNotFound is returned by Get for unknown campaign ids.
var ErrNotFound = errors.New("campaign not found")

// Registry reads campaigns and performs the single status transition the
// core is allowed to make.
type Registry struct {
	store Store
	clock clockwork.Clock
	log   *slog.Logger
}

func NewRegistry(store Store, clock clockwork.Clock, log *slog.Logger) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Registry{store: store, clock: clock, log: log}
}

// All returns every stored campaign.
func (r *Registry) All(ctx context.Context) ([]model.Campaign, error) {
	cs, err := r.store.ListCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load campaigns: %w", err)
	}
	return cs, nil
}

// Active returns campaigns that accept participant activity now.
func (r *Registry) Active(ctx context.Context) ([]model.Campaign, error) {
	cs, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	out := cs[:0]
	for _, c := range cs {
		if c.IsActive(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Registry) Get(ctx context.Context, id uint32) (model.Campaign, error) {
	c, ok, err := r.store.GetCampaign(ctx, id)
	if err != nil {
		return model.Campaign{}, fmt.Errorf("load campaign %d: %w", id, err)
	}
	if !ok {
		return model.Campaign{}, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	return c, nil
}

// Record stores a campaign created on chain.
func (r *Registry) Record(ctx context.Context, c model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignActive
	}
	if err := r.store.InsertCampaign(ctx, c); err != nil {
		return fmt.Errorf("record campaign %d: %w", c.ID, err)
	}
	r.log.Info("campaign recorded", "campaign_id", c.ID, "pool", c.Pool, "asset", c.Asset)
	return nil
}

// ExpireEnded marks active campaigns past their end date as ended.
func (r *Registry) ExpireEnded(ctx context.Context) (int64, error) {
	n, err := r.store.EndCampaigns(ctx, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire campaigns: %w", err)
	}
	if n > 0 {
		r.log.Info("campaigns ended", "count", n)
	}
	return n, nil
}

// Pools returns the distinct pool contracts of cs in first-seen order.
func Pools(cs []model.Campaign) []string {
	seen := make(map[string]struct{}, len(cs))
	var out []string
	for _, c := range cs {
		if _, ok := seen[c.Pool]; ok {
			continue
		}
		seen[c.Pool] = struct{}{}
		out = append(out, c.Pool)
	}
	return out
}

// WatchesAsset reports whether any campaign in cs gates on asset.
func WatchesAsset(cs []model.Campaign, asset string) bool {
	for _, c := range cs {
		if c.Asset == asset {
			return true
		}
	}
	return false
}

// ForEvent picks the campaign an event belongs to: a pool and asset match
// wins, otherwise the first campaign with the asset.
func ForEvent(cs []model.Campaign, pool, asset string) (model.Campaign, bool) {
	var fallback *model.Campaign
	for i := range cs {
		if cs[i].Asset != asset {
			continue
		}
		if cs[i].Pool == pool {
			return cs[i], true
		}
		if fallback == nil {
			fallback = &cs[i]
		}
	}
	if fallback == nil {
		return model.Campaign{}, false
	}
	return *fallback, true
}
