// Package classify turns raw contract events into typed pool events,
// dropping redeliveries and events for assets no campaign watches.
package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/devblac/reward-tower/internal/campaign"
	"github.com/devblac/reward-tower/internal/logging"
	"github.com/devblac/reward-tower/internal/metrics"
	"github.com/devblac/reward-tower/internal/model"
	"github.com/devblac/reward-tower/internal/scval"
	"github.com/devblac/reward-tower/internal/soroban"
	"github.com/jonboulle/clockwork"
)

// Drop reasons, also used as metric labels.
const (
	ReasonDuplicate  = "duplicate"
	ReasonOutOfScope = "out_of_scope"
	ReasonMalformed  = "malformed"
)

// Durable answers whether an id was applied before this process started.
type Durable interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
}

type Config struct {
	Window  time.Duration
	Clock   clockwork.Clock
	Durable Durable
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Classifier struct {
	seen    *ProcessedSet
	durable Durable
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Stats counts what happened to one batch.
type Stats struct {
	Emitted    int
	Duplicate  int
	OutOfScope int
	Malformed  int
}

func New(cfg Config) *Classifier {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Classifier{
		seen:    NewProcessedSet(cfg.Window, cfg.Clock),
		durable: cfg.Durable,
		metrics: cfg.Metrics,
		log:     log,
	}
}

// Classify filters and decodes a batch in delivery order. active is the
// campaign set the batch was fetched for.
func (c *Classifier) Classify(ctx context.Context, events []soroban.Event, active []model.Campaign) ([]model.ClassifiedEvent, Stats) {
	var (
		out   []model.ClassifiedEvent
		stats Stats
	)
	for _, ev := range events {
		if c.isDuplicate(ctx, ev.ID) {
			stats.Duplicate++
			c.drop(ev, ReasonDuplicate)
			continue
		}
		c.seen.Mark(ev.ID)

		ce, ok := decode(ev)
		if !ok {
			stats.Malformed++
			c.drop(ev, ReasonMalformed)
			continue
		}
		if !campaign.WatchesAsset(active, ce.Asset) {
			stats.OutOfScope++
			c.drop(ev, ReasonOutOfScope)
			continue
		}
		stats.Emitted++
		out = append(out, ce)
	}
	return out, stats
}

// Forget releases an id whose application failed so redelivery retries it.
func (c *Classifier) Forget(eventID string) {
	c.seen.Forget(eventID)
}

// Prune drops expired ids from the in-memory window.
func (c *Classifier) Prune() int {
	return c.seen.Prune()
}

func (c *Classifier) isDuplicate(ctx context.Context, id string) bool {
	if c.seen.Contains(id) {
		return true
	}
	if c.durable == nil {
		return false
	}
	done, err := c.durable.IsProcessed(ctx, id)
	if err != nil {
		// The ledger rejects duplicates on apply as well.
		c.log.Warn("processed lookup failed", "event_id", id, "error", err)
		return false
	}
	if done {
		c.seen.Mark(id)
	}
	return done
}

func (c *Classifier) drop(ev soroban.Event, reason string) {
	c.metrics.EventDropped(reason)
	c.log.Debug("event dropped", "event_id", ev.ID, "ledger", ev.Ledger, "contract", ev.ContractID, "reason", reason)
}

// decode validates the pool event shape: topics are (kind symbol, asset
// address, participant address, ...) and the amount is the first data value.
func decode(ev soroban.Event) (model.ClassifiedEvent, bool) {
	if len(ev.Topic) < 3 {
		return model.ClassifiedEvent{}, false
	}
	tag, ok := scval.DecodeBase64(ev.Topic[0]).AsSymbol()
	if !ok {
		return model.ClassifiedEvent{}, false
	}
	asset, ok := scval.DecodeBase64(ev.Topic[1]).AsAddress()
	if !ok {
		return model.ClassifiedEvent{}, false
	}
	addr, ok := scval.DecodeBase64(ev.Topic[2]).AsAddress()
	if !ok {
		return model.ClassifiedEvent{}, false
	}

	data := scval.DecodeBase64(ev.Value)
	if data.Kind == scval.KindVec {
		if len(data.Items) == 0 {
			return model.ClassifiedEvent{}, false
		}
		data = data.Items[0]
	}
	amount, ok := data.AsInt()
	if !ok || amount.Sign() < 0 {
		return model.ClassifiedEvent{}, false
	}

	return model.ClassifiedEvent{
		Kind:          model.ParseEventKind(tag),
		Asset:         asset,
		Address:       addr,
		Amount:        amount,
		SourceEventID: ev.ID,
		ContractID:    ev.ContractID,
		Ledger:        ev.Ledger,
	}, true
}
