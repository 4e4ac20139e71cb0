package postgres

import (
	"context"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/devblac/reward-tower/internal/model"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	if os.Getenv("REWARD_TOWER_PG_TESTS") != "1" {
		t.Skip("set REWARD_TOWER_PG_TESTS=1 to run postgres tests")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
		tcpostgres.WithSQLDriver("pgx"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, dsn, true, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	v, err := MigrationVersion(dsn)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
	return store
}

func TestPostgresStore(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	store := newTestStore(t, WithClock(clock))
	ctx := context.Background()

	t.Run("cursor", func(t *testing.T) {
		_, _, ok, err := store.GetCursor(ctx, "soroban")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, store.UpsertCursor(ctx, "soroban", 100, "h100"))
		require.NoError(t, store.UpsertCursor(ctx, "soroban", 120, "h120"))
		h, hash, ok, err := store.GetCursor(ctx, "soroban")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(120), h)
		require.Equal(t, "h120", hash)
	})

	t.Run("campaigns", func(t *testing.T) {
		start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		big128, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10)
		require.NoError(t, store.InsertCampaign(ctx, model.Campaign{
			ID: 1, Pool: "CPOOL", Asset: "CASSET", RewardToken: "CRWD",
			DailyRewardAmount: big128, StartDate: start, EndDate: start.Add(time.Hour), Status: model.CampaignActive,
		}))
		require.NoError(t, store.InsertCampaign(ctx, model.Campaign{
			ID: 2, Pool: "CPOOL", Asset: "CASSET2", RewardToken: "CRWD",
			DailyRewardAmount: big.NewInt(5), StartDate: start, Status: model.CampaignActive,
		}))

		c, ok, err := store.GetCampaign(ctx, 1)
		require.NoError(t, err)
		require.True(t, ok)
		require.Zero(t, c.DailyRewardAmount.Cmp(big128))

		n, err := store.EndCampaigns(ctx, start.Add(2*time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		all, err := store.ListCampaigns(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, model.CampaignEnded, all[0].Status)
		require.True(t, all[1].EndDate.IsZero())
	})

	t.Run("apply delta", func(t *testing.T) {
		supply := model.Delta{EventID: "e1", CampaignID: 1, Address: "GA", Amount: big.NewInt(1000), Kind: model.SupplyCollateral}
		out, err := store.ApplyDelta(ctx, supply)
		require.NoError(t, err)
		require.Equal(t, model.Applied, out)

		out, err = store.ApplyDelta(ctx, supply)
		require.NoError(t, err)
		require.Equal(t, model.Duplicate, out)

		out, err = store.ApplyDelta(ctx, model.Delta{EventID: "e2", CampaignID: 1, Address: "GA", Amount: big.NewInt(400), Kind: model.WithdrawCollateral})
		require.NoError(t, err)
		require.Equal(t, model.Applied, out)

		out, err = store.ApplyDelta(ctx, model.Delta{EventID: "e3", CampaignID: 1, Address: "GB", Amount: big.NewInt(1), Kind: model.WithdrawCollateral})
		require.NoError(t, err)
		require.Equal(t, model.MissingParticipant, out)

		bal, ok, err := store.GetBalance(ctx, 1, "GA")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "600", bal.String())

		done, err := store.IsProcessed(ctx, "e3")
		require.NoError(t, err)
		require.True(t, done)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.ApplyDelta(ctx, model.Delta{
					EventID: "c" + big.NewInt(int64(i)).String(), CampaignID: 9, Address: "GC",
					Amount: big.NewInt(10), Kind: model.SupplyCollateral,
				})
				require.NoError(t, err)
			}(i)
		}
		wg.Wait()

		list, err := store.ListBalances(ctx, 9)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "200", list[0].Balance.String())
	})

	t.Run("prune", func(t *testing.T) {
		// every id above was stamped by the injected clock
		n, err := store.PruneProcessed(ctx, clock.Now())
		require.NoError(t, err)
		require.Zero(t, n)

		clock.Advance(2 * time.Hour)
		n, err = store.PruneProcessed(ctx, clock.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Positive(t, n)
		done, err := store.IsProcessed(ctx, "e1")
		require.NoError(t, err)
		require.False(t, done)
	})
}

func TestWithClockStampsProcessedEvents(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	s := newStore(nil, WithClock(clock))
	require.Equal(t, clock.Now(), s.clock.Now())

	require.NotNil(t, newStore(nil).clock)
}
