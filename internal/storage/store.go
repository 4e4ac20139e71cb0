package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/devblac/reward-tower/internal/model"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for cursors, campaigns, participant
// balances, and processed event ids.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for processed-event timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers, so read-modify-write inside a
	// transaction cannot interleave with another apply.
	db.SetMaxOpenConns(1)
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Times are unix seconds; amounts are base-10 text so i128 values fit.
	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  source_id   TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS campaigns (
  id                   INTEGER PRIMARY KEY,
  pool                 TEXT NOT NULL,
  asset                TEXT NOT NULL,
  reward_token         TEXT NOT NULL,
  daily_reward_amount  TEXT NOT NULL,
  start_date           INTEGER NOT NULL,
  end_date             INTEGER NOT NULL DEFAULT 0,
  status               TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS campaigns_status ON campaigns(status);

CREATE TABLE IF NOT EXISTS campaign_participant (
  campaign_id  INTEGER NOT NULL,
  address      TEXT NOT NULL,
  balance      TEXT NOT NULL,
  updated_at   INTEGER NOT NULL,
  PRIMARY KEY(campaign_id, address)
);

CREATE TABLE IF NOT EXISTS processed_events (
  event_id      TEXT PRIMARY KEY,
  campaign_id   INTEGER NOT NULL,
  processed_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS processed_events_at ON processed_events(processed_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertCursor records the latest processed height/hash for a source.
func (s *Store) UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (source_id, height, hash, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(source_id) DO UPDATE SET
  height=excluded.height,
  hash=excluded.hash,
  updated_at=CURRENT_TIMESTAMP;
`, sourceID, height, hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a source.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, hash FROM cursors WHERE source_id = ?;
`, sourceID)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// InsertCampaign writes a campaign row, replacing any row with the same id.
func (s *Store) InsertCampaign(ctx context.Context, c model.Campaign) error {
	if c.Pool == "" || c.Asset == "" {
		return errors.New("campaign pool and asset required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO campaigns (id, pool, asset, reward_token, daily_reward_amount, start_date, end_date, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  pool=excluded.pool,
  asset=excluded.asset,
  reward_token=excluded.reward_token,
  daily_reward_amount=excluded.daily_reward_amount,
  start_date=excluded.start_date,
  end_date=excluded.end_date,
  status=excluded.status;
`, c.ID, c.Pool, c.Asset, c.RewardToken, amountText(c.DailyRewardAmount), unix(c.StartDate), unix(c.EndDate), string(c.Status))
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

const campaignColumns = `id, pool, asset, reward_token, daily_reward_amount, start_date, end_date, status`

// ListCampaigns returns every campaign ordered by id.
func (s *Store) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id;`)
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

// GetCampaign loads one campaign by id.
func (s *Store) GetCampaign(ctx context.Context, id uint32) (model.Campaign, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?;`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Campaign{}, false, nil
	}
	if err != nil {
		return model.Campaign{}, false, err
	}
	return c, true, nil
}

// EndCampaigns moves active campaigns whose end date has passed to ended.
func (s *Store) EndCampaigns(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE campaigns SET status = ?
WHERE status = ? AND end_date > 0 AND end_date <= ?;
`, string(model.CampaignEnded), string(model.CampaignActive), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("end campaigns: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row scanner) (model.Campaign, error) {
	var (
		c          model.Campaign
		daily      string
		start, end int64
		status     string
	)
	if err := row.Scan(&c.ID, &c.Pool, &c.Asset, &c.RewardToken, &daily, &start, &end, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan campaign: %w", err)
	}
	amt, ok := new(big.Int).SetString(daily, 10)
	if !ok {
		return c, fmt.Errorf("campaign %d: bad daily_reward_amount %q", c.ID, daily)
	}
	c.DailyRewardAmount = amt
	c.StartDate = fromUnix(start)
	c.EndDate = fromUnix(end)
	c.Status = model.CampaignStatus(status)
	return c, nil
}

// ApplyDelta records d.EventID as processed and mutates the participant
// balance in one transaction. An already recorded id changes nothing.
func (s *Store) ApplyDelta(ctx context.Context, d model.Delta) (model.ApplyOutcome, error) {
	if d.EventID == "" || d.Address == "" || d.Amount == nil {
		return 0, errors.New("delta event id, address and amount required")
	}
	now := s.clock.Now().Unix()
	outcome := model.Applied
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO processed_events (event_id, campaign_id, processed_at)
VALUES (?, ?, ?)
ON CONFLICT(event_id) DO NOTHING;
`, d.EventID, d.CampaignID, now)
		if err != nil {
			return fmt.Errorf("record processed event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			outcome = model.Duplicate
			return nil
		}

		var current string
		err = tx.QueryRowContext(ctx, `
SELECT balance FROM campaign_participant WHERE campaign_id = ? AND address = ?;
`, d.CampaignID, d.Address).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if d.Kind == model.WithdrawCollateral {
				outcome = model.MissingParticipant
				return nil
			}
			_, err = tx.ExecContext(ctx, `
INSERT INTO campaign_participant (campaign_id, address, balance, updated_at)
VALUES (?, ?, ?, ?);
`, d.CampaignID, d.Address, d.Signed().String(), now)
			if err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("read balance: %w", err)
		}

		bal, ok := new(big.Int).SetString(current, 10)
		if !ok {
			return fmt.Errorf("participant %s: bad balance %q", d.Address, current)
		}
		bal.Add(bal, d.Signed())
		_, err = tx.ExecContext(ctx, `
UPDATE campaign_participant SET balance = ?, updated_at = ?
WHERE campaign_id = ? AND address = ?;
`, bal.String(), now, d.CampaignID, d.Address)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// ListBalances returns every participant of a campaign ordered by address.
func (s *Store) ListBalances(ctx context.Context, campaignID uint32) ([]model.ParticipantBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT address, balance FROM campaign_participant WHERE campaign_id = ? ORDER BY address;
`, campaignID)
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

// GetBalance returns one participant balance.
func (s *Store) GetBalance(ctx context.Context, campaignID uint32, address string) (*big.Int, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
SELECT balance FROM campaign_participant WHERE campaign_id = ? AND address = ?;
`, campaignID, address).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
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

// IsProcessed reports whether an event id has been durably applied.
func (s *Store) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id required")
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM processed_events WHERE event_id = ?;`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return true, nil
}

// PruneProcessed deletes processed ids recorded before the cutoff.
func (s *Store) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < ?;`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func amountText(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
