// Package poller advances the ledger cursor and feeds contract events
// through classification into the balance ledger.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devblac/reward-tower/internal/campaign"
	"github.com/devblac/reward-tower/internal/classify"
	"github.com/devblac/reward-tower/internal/logging"
	"github.com/devblac/reward-tower/internal/metrics"
	"github.com/devblac/reward-tower/internal/model"
	"github.com/devblac/reward-tower/internal/soroban"
	"github.com/devblac/reward-tower/internal/storage"
	"github.com/jonboulle/clockwork"
)

const (
	defaultInterval  = 5 * time.Second
	defaultPageLimit = 100
)

// Node is the read side of the RPC client.
type Node interface {
	GetLatestLedger(ctx context.Context) (soroban.LatestLedger, error)
	GetEvents(ctx context.Context, q soroban.EventQuery) ([]soroban.Event, error)
}

type Campaigns interface {
	Active(ctx context.Context) ([]model.Campaign, error)
}

type Applier interface {
	Apply(ctx context.Context, ev model.ClassifiedEvent, campaigns []model.Campaign) (model.ApplyOutcome, error)
}

type CursorStore interface {
	UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error
	GetCursor(ctx context.Context, sourceID string) (uint64, string, bool, error)
}

type Config struct {
	Node       Node
	Campaigns  Campaigns
	Classifier *classify.Classifier
	Ledger     Applier
	Cursors    CursorStore

	Interval    time.Duration
	PageLimit   int
	StartLedger uint32 // used only when no cursor is stored

	Clock   clockwork.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (cfg *Config) Validate() error {
	if cfg.Node == nil {
		return errors.New("node is required")
	}
	if cfg.Campaigns == nil {
		return errors.New("campaigns is required")
	}
	if cfg.Classifier == nil {
		return errors.New("classifier is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Cursors == nil {
		return errors.New("cursor store is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return nil
}

// State is everything one poll iteration reads and produces.
type State struct {
	Cursor    uint32
	HasCursor bool
	Campaigns []model.Campaign
}

type Poller struct {
	cfg     Config
	log     *slog.Logger
	running atomic.Bool

	mu    sync.Mutex
	state State
}

func New(cfg Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("poller config: %w", err)
	}
	return &Poller{cfg: cfg, log: cfg.Logger}, nil
}

// Init loads the starting state: the stored cursor, else the configured
// start ledger, else no cursor (cold start at the current height).
func (p *Poller) Init(ctx context.Context) (State, error) {
	height, _, ok, err := p.cfg.Cursors.GetCursor(ctx, storage.CursorSourceID)
	if err != nil {
		return State{}, fmt.Errorf("load cursor: %w", err)
	}
	var st State
	switch {
	case ok:
		st = State{Cursor: uint32(height), HasCursor: true}
	case p.cfg.StartLedger > 0:
		// the range is exclusive of the cursor, so start one below
		st = State{Cursor: p.cfg.StartLedger - 1, HasCursor: true}
	}
	p.setState(st)
	return st, nil
}

// Step runs one poll iteration. On error the returned state keeps the
// previous cursor.
func (p *Poller) Step(ctx context.Context, st State) (State, error) {
	latest, err := p.cfg.Node.GetLatestLedger(ctx)
	if err != nil {
		return st, fmt.Errorf("fetch latest ledger: %w", err)
	}
	current := latest.Sequence

	if !st.HasCursor {
		if err := p.saveCursor(ctx, current, latest.ID); err != nil {
			return st, err
		}
		p.log.Info("cursor initialized", "ledger", current)
		return State{Cursor: current, HasCursor: true, Campaigns: st.Campaigns}, nil
	}
	if current <= st.Cursor {
		return st, nil
	}

	active, err := p.cfg.Campaigns.Active(ctx)
	if err != nil {
		return st, fmt.Errorf("refresh campaigns: %w", err)
	}
	next := State{Cursor: st.Cursor, HasCursor: true, Campaigns: active}

	pools := campaign.Pools(active)
	if len(pools) > 0 {
		events, err := p.cfg.Node.GetEvents(ctx, soroban.EventQuery{
			StartLedger: st.Cursor + 1,
			EndLedger:   current + 1,
			ContractIDs: pools,
			Limit:       p.cfg.PageLimit,
		})
		if err != nil {
			return next, fmt.Errorf("fetch events %d-%d: %w", st.Cursor+1, current, err)
		}
		if failed := p.applyBatch(ctx, events, active); failed > 0 {
			return next, fmt.Errorf("apply batch %d-%d: %d event(s) failed", st.Cursor+1, current, failed)
		}
	}

	if err := p.saveCursor(ctx, current, latest.ID); err != nil {
		return next, err
	}
	p.cfg.Metrics.LedgersProcessed(current - st.Cursor)
	next.Cursor = current
	return next, nil
}

func (p *Poller) applyBatch(ctx context.Context, events []soroban.Event, active []model.Campaign) int {
	classified, stats := p.cfg.Classifier.Classify(ctx, events, active)
	if len(events) > 0 {
		p.log.Debug("batch classified", "events", len(events), "emitted", stats.Emitted,
			"duplicate", stats.Duplicate, "out_of_scope", stats.OutOfScope, "malformed", stats.Malformed)
	}

	failed := 0
	for _, ev := range classified {
		if _, err := p.cfg.Ledger.Apply(ctx, ev, active); err != nil {
			failed++
			p.cfg.Classifier.Forget(ev.SourceEventID)
			p.log.Error("apply event failed", "event_id", ev.SourceEventID, "ledger", ev.Ledger, "error", err)
		}
	}
	return failed
}

func (p *Poller) saveCursor(ctx context.Context, ledger uint32, id string) error {
	if err := p.cfg.Cursors.UpsertCursor(ctx, storage.CursorSourceID, uint64(ledger), id); err != nil {
		return fmt.Errorf("persist cursor %d: %w", ledger, err)
	}
	p.cfg.Metrics.Cursor(ledger)
	return nil
}

// Run polls until Stop is called or ctx is done. Iteration errors are
// logged and retried after the same interval.
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("poller already running")
	}
	defer p.running.Store(false)

	st, err := p.Init(ctx)
	if err != nil {
		return err
	}
	p.log.Info("poller started", "cursor", st.Cursor, "has_cursor", st.HasCursor, "interval", p.cfg.Interval)

	for p.running.Load() {
		next, err := p.Step(ctx, st)
		if err != nil {
			p.cfg.Metrics.PollError()
			p.log.Error("poll iteration failed", "cursor", st.Cursor, "error", err)
		} else if next.Cursor != st.Cursor {
			p.log.Info("ledgers processed", "from", st.Cursor+1, "to", next.Cursor)
		}
		st = next
		p.setState(st)

		select {
		case <-ctx.Done():
			p.log.Info("poller stopped", "cursor", st.Cursor)
			return nil
		case <-p.cfg.Clock.After(p.cfg.Interval):
		}
	}
	p.log.Info("poller stopped", "cursor", st.Cursor)
	return nil
}

// Stop asks Run to exit after its current sleep.
func (p *Poller) Stop() {
	p.running.Store(false)
}

func (p *Poller) Running() bool {
	return p.running.Load()
}

// Snapshot returns the most recent state seen by Run or Init.
func (p *Poller) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) setState(st State) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
}
