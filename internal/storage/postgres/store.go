// Package postgres is the shared durable store. Balance updates use
// in-database arithmetic so several writers can share one table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/devblac/reward-tower/internal/model"
	"github.com/devblac/reward-tower/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

// Store implements storage.Backend on a pgx pool.
type Store struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

var _ storage.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for processed-event timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func newStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn and, when migrate is set, applies migrations first.
func Open(ctx context.Context, dsn string, migrate bool, opts ...Option) (*Store, error) {
	if migrate {
		if err := Migrate(dsn); err != nil {
			return nil, err
		}
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newStore(pool, opts...), nil
}

func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("store not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *Store) UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO cursors (source_id, height, hash, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (source_id) DO UPDATE SET
  height = EXCLUDED.height,
  hash = EXCLUDED.hash,
  updated_at = now()`, sourceID, int64(height), hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

func (s *Store) GetCursor(ctx context.Context, sourceID string) (uint64, string, bool, error) {
	var (
		height int64
		hash   string
	)
	err := s.pool.QueryRow(ctx, `SELECT height, hash FROM cursors WHERE source_id = $1`, sourceID).Scan(&height, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
	return uint64(height), hash, true, nil
}

func (s *Store) InsertCampaign(ctx context.Context, c model.Campaign) error {
	if c.Pool == "" || c.Asset == "" {
		return errors.New("campaign pool and asset required")
	}
	var end any
	if !c.EndDate.IsZero() {
		end = c.EndDate.UTC()
	}
	daily := "0"
	if c.DailyRewardAmount != nil {
		daily = c.DailyRewardAmount.String()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO campaigns (id, pool, asset, reward_token, daily_reward_amount, start_date, end_date, status)
VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
  pool = EXCLUDED.pool,
  asset = EXCLUDED.asset,
  reward_token = EXCLUDED.reward_token,
  daily_reward_amount = EXCLUDED.daily_reward_amount,
  start_date = EXCLUDED.start_date,
  end_date = EXCLUDED.end_date,
  status = EXCLUDED.status`,
		int64(c.ID), c.Pool, c.Asset, c.RewardToken, daily, c.StartDate.UTC(), end, string(c.Status))
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

const campaignColumns = `id, pool, asset, reward_token, daily_reward_amount::text, start_date, end_date, status`

func (s *Store) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return out, nil
}

func (s *Store) GetCampaign(ctx context.Context, id uint32) (model.Campaign, bool, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Campaign{}, false, nil
	}
	if err != nil {
		return model.Campaign{}, false, err
	}
	return c, true, nil
}

func (s *Store) EndCampaigns(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE campaigns SET status = $1
WHERE status = $2 AND end_date IS NOT NULL AND end_date <= $3`,
		string(model.CampaignEnded), string(model.CampaignActive), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("end campaigns: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCampaign(row pgx.Row) (model.Campaign, error) {
	var (
		c      model.Campaign
		id     int64
		daily  string
		start  time.Time
		end    *time.Time
		status string
	)
	if err := row.Scan(&id, &c.Pool, &c.Asset, &c.RewardToken, &daily, &start, &end, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan campaign: %w", err)
	}
	amt, ok := new(big.Int).SetString(daily, 10)
	if !ok {
		return c, fmt.Errorf("campaign %d: bad daily_reward_amount %q", id, daily)
	}
	c.ID = uint32(id)
	c.DailyRewardAmount = amt
	c.StartDate = start.UTC()
	if end != nil {
		c.EndDate = end.UTC()
	}
	c.Status = model.CampaignStatus(status)
	return c, nil
}

// ApplyDelta records the event id and adjusts the balance with atomic
// arithmetic inside one transaction.
func (s *Store) ApplyDelta(ctx context.Context, d model.Delta) (model.ApplyOutcome, error) {
	if d.EventID == "" || d.Address == "" || d.Amount == nil {
		return 0, errors.New("delta event id, address and amount required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
INSERT INTO processed_events (event_id, campaign_id, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id) DO NOTHING`, d.EventID, int64(d.CampaignID), s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("record processed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Duplicate, nil
	}

	outcome := model.Applied
	amount := d.Amount.String()
	switch d.Kind {
	case model.WithdrawCollateral:
		tag, err = tx.Exec(ctx, `
UPDATE campaign_participant
SET balance = balance - $3::text::numeric, updated_at = now()
WHERE campaign_id = $1 AND address = $2`, int64(d.CampaignID), d.Address, amount)
		if err != nil {
			return 0, fmt.Errorf("decrement balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			outcome = model.MissingParticipant
		}
	default:
		_, err = tx.Exec(ctx, `
INSERT INTO campaign_participant (campaign_id, address, balance, updated_at)
VALUES ($1, $2, $3::text::numeric, now())
ON CONFLICT (campaign_id, address) DO UPDATE SET
  balance = campaign_participant.balance + EXCLUDED.balance,
  updated_at = now()`, int64(d.CampaignID), d.Address, amount)
		if err != nil {
			return 0, fmt.Errorf("increment balance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return outcome, nil
}

func (s *Store) ListBalances(ctx context.Context, campaignID uint32) ([]model.ParticipantBalance, error) {
	rows, err := s.pool.Query(ctx, `
SELECT address, balance::text FROM campaign_participant
WHERE campaign_id = $1 ORDER BY address`, int64(campaignID))
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []model.ParticipantBalance
	for rows.Next() {
		var addr, raw string
		if err := rows.Scan(&addr, &raw); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		bal, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("participant %s: bad balance %q", addr, raw)
		}
		out = append(out, model.ParticipantBalance{CampaignID: campaignID, Address: addr, Balance: bal})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return out, nil
}

func (s *Store) GetBalance(ctx context.Context, campaignID uint32, address string) (*big.Int, bool, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
SELECT balance::text FROM campaign_participant
WHERE campaign_id = $1 AND address = $2`, int64(campaignID), address).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get balance: %w", err)
	}
	bal, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, false, fmt.Errorf("participant %s: bad balance %q", address, raw)
	}
	return bal, true, nil
}

func (s *Store) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id required")
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return exists, nil
}

func (s *Store) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	return tag.RowsAffected(), nil
}
