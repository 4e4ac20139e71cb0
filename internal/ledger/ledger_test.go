package ledger

import (
	"context"
	"math/big"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/devblac/reward-tower/internal/model"
	"github.com/devblac/reward-tower/internal/storage"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil, nil)
}

var campaigns = []model.Campaign{
	{ID: 1, Pool: "POOL", Asset: "A", Status: model.CampaignActive},
	{ID: 2, Pool: "POOL2", Asset: "A", Status: model.CampaignActive},
}

func event(id string, kind model.EventKind, addr string, amount int64) model.ClassifiedEvent {
	return model.ClassifiedEvent{
		Kind: kind, Asset: "A", Address: addr, Amount: big.NewInt(amount),
		SourceEventID: id, ContractID: "POOL",
	}
}

func TestScenarioSupplyWithdraw(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	out, err := l.Apply(ctx, event("e1", model.SupplyCollateral, "addr1", 1000), campaigns)
	require.NoError(t, err)
	require.Equal(t, model.Applied, out)

	out, err = l.Apply(ctx, event("e1", model.SupplyCollateral, "addr1", 1000), campaigns)
	require.NoError(t, err)
	require.Equal(t, model.Duplicate, out)

	bal, err := l.Balance(ctx, 1, "addr1")
	require.NoError(t, err)
	require.Equal(t, "1000", bal.String())

	_, err = l.Apply(ctx, event("e2", model.WithdrawCollateral, "addr1", 400), campaigns)
	require.NoError(t, err)
	bal, err = l.Balance(ctx, 1, "addr1")
	require.NoError(t, err)
	require.Equal(t, "600", bal.String())
}

func TestWithdrawWithoutSupplyIsIgnored(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	out, err := l.Apply(ctx, event("w", model.WithdrawCollateral, "ghost", 50), campaigns)
	require.NoError(t, err)
	require.Equal(t, model.MissingParticipant, out)

	list, err := l.Balances(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, list)

	bal, err := l.Balance(ctx, 1, "ghost")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
}

func TestSkipsUnknownKindAndUnwatchedAsset(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	out, err := l.Apply(ctx, event("u", model.Unknown, "addr", 10), campaigns)
	require.NoError(t, err)
	require.Equal(t, model.Skipped, out)

	ev := event("b", model.SupplyCollateral, "addr", 10)
	ev.Asset = "B"
	out, err = l.Apply(ctx, ev, campaigns)
	require.NoError(t, err)
	require.Equal(t, model.Skipped, out)

	list, err := l.Balances(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCampaignResolutionPrefersPool(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	ev := event("p2", model.SupplyCollateral, "addr", 10)
	ev.ContractID = "POOL2"
	_, err := l.Apply(ctx, ev, campaigns)
	require.NoError(t, err)

	bal, err := l.Balance(ctx, 2, "addr")
	require.NoError(t, err)
	require.Equal(t, "10", bal.String())
}

func TestBalanceConservation(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	want := new(big.Int)
	supplied := false
	for i := 0; i < 200; i++ {
		amt := rng.Int63n(1_000_000)
		kind := model.SupplyCollateral
		if rng.Intn(3) == 0 {
			kind = model.WithdrawCollateral
		}
		ev := event(big.NewInt(int64(i)).String(), kind, "addr", amt)

		out, err := l.Apply(ctx, ev, campaigns)
		require.NoError(t, err)
		if out == model.Applied {
			if kind == model.SupplyCollateral {
				want.Add(want, big.NewInt(amt))
				supplied = true
			} else {
				want.Sub(want, big.NewInt(amt))
			}
		}
		if !supplied {
			require.Equal(t, model.MissingParticipant, out)
		}

		// replay a random earlier event; nothing may change
		replay := event(big.NewInt(int64(rng.Intn(i+1))).String(), kind, "addr", amt)
		out, err = l.Apply(ctx, replay, campaigns)
		require.NoError(t, err)
		require.Equal(t, model.Duplicate, out)
	}

	bal, err := l.Balance(ctx, 1, "addr")
	require.NoError(t, err)
	require.Zero(t, want.Cmp(bal), "balance %s, want %s", bal, want)
}
