package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devblac/reward-tower/internal/model"
	"github.com/devblac/reward-tower/internal/soroban"
	"github.com/devblac/reward-tower/internal/soroban/sorobantest"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var (
	pool   = sorobantest.Contract(1)
	assetA = sorobantest.Contract(2)
	assetB = sorobantest.Contract(3)
)

func activeA() []model.Campaign {
	return []model.Campaign{{ID: 1, Pool: pool, Asset: assetA, Status: model.CampaignActive}}
}

type durableFake struct {
	ids map[string]bool
	err error
}

func (d durableFake) IsProcessed(_ context.Context, id string) (bool, error) {
	return d.ids[id], d.err
}

func TestClassifySupplyAndRedelivery(t *testing.T) {
	user := sorobantest.Account()
	c := New(Config{})
	ev := sorobantest.PoolEvent("e1", 10, pool, "supply_collateral", assetA, user, 1000)

	out, stats := c.Classify(context.Background(), []soroban.Event{ev}, activeA())
	require.Len(t, out, 1)
	require.Equal(t, Stats{Emitted: 1}, stats)
	require.Equal(t, model.SupplyCollateral, out[0].Kind)
	require.Equal(t, assetA, out[0].Asset)
	require.Equal(t, user, out[0].Address)
	require.Equal(t, "1000", out[0].Amount.String())
	require.Equal(t, pool, out[0].ContractID)

	out, stats = c.Classify(context.Background(), []soroban.Event{ev}, activeA())
	require.Empty(t, out)
	require.Equal(t, 1, stats.Duplicate)
}

func TestClassifyOutOfScopeIsMarked(t *testing.T) {
	c := New(Config{})
	ev := sorobantest.PoolEvent("e3", 10, pool, "supply_collateral", assetB, sorobantest.Account(), 9999)

	out, stats := c.Classify(context.Background(), []soroban.Event{ev}, activeA())
	require.Empty(t, out)
	require.Equal(t, 1, stats.OutOfScope)

	_, stats = c.Classify(context.Background(), []soroban.Event{ev}, activeA())
	require.Equal(t, 1, stats.Duplicate, "out of scope events stay processed")
}

func TestClassifyPreservesOrderAndTagsUnknown(t *testing.T) {
	user := sorobantest.Account()
	batch := []soroban.Event{
		sorobantest.PoolEvent("a", 1, pool, "withdraw_collateral", assetA, user, 5),
		sorobantest.PoolEvent("b", 1, pool, "borrow", assetA, user, 7),
		sorobantest.PoolEvent("c", 2, pool, "supply_collateral", assetA, user, 9),
	}
	out, stats := New(Config{}).Classify(context.Background(), batch, activeA())
	require.Equal(t, 3, stats.Emitted)

	var ids []string
	for _, ce := range out {
		ids = append(ids, ce.SourceEventID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
	require.Equal(t, model.WithdrawCollateral, out[0].Kind)
	require.Equal(t, model.Unknown, out[1].Kind)
}

func TestClassifyMalformed(t *testing.T) {
	good := sorobantest.PoolEvent("ok", 1, pool, "supply_collateral", assetA, sorobantest.Account(), 1)

	shortTopics := good
	shortTopics.ID = "short"
	shortTopics.Topic = good.Topic[:2]

	badTag := good
	badTag.ID = "tag"
	badTag.Topic = []string{good.Topic[1], good.Topic[1], good.Topic[2]}

	garbage := good
	garbage.ID = "garbage"
	garbage.Value = "%%%not-xdr%%%"

	negative := sorobantest.PoolEvent("neg", 1, pool, "supply_collateral", assetA, sorobantest.Account(), -5)

	batch := []soroban.Event{shortTopics, badTag, garbage, negative, good}
	out, stats := New(Config{}).Classify(context.Background(), batch, activeA())
	require.Equal(t, Stats{Emitted: 1, Malformed: 4}, stats)
	require.Equal(t, "ok", out[0].SourceEventID)
}

func TestClassifyDurableLookup(t *testing.T) {
	ev := sorobantest.PoolEvent("applied-before-restart", 1, pool, "supply_collateral", assetA, sorobantest.Account(), 1)

	c := New(Config{Durable: durableFake{ids: map[string]bool{ev.ID: true}}})
	_, stats := c.Classify(context.Background(), []soroban.Event{ev}, activeA())
	require.Equal(t, 1, stats.Duplicate)

	// a failing lookup falls through to the in-memory window
	c = New(Config{Durable: durableFake{err: errors.New("db down")}})
	_, stats = c.Classify(context.Background(), []soroban.Event{ev}, activeA())
	require.Equal(t, 1, stats.Emitted)
}

func TestForgetAllowsRetry(t *testing.T) {
	ev := sorobantest.PoolEvent("retry", 1, pool, "supply_collateral", assetA, sorobantest.Account(), 1)
	c := New(Config{})

	_, stats := c.Classify(context.Background(), []soroban.Event{ev}, activeA())
	require.Equal(t, 1, stats.Emitted)
	c.Forget(ev.ID)
	_, stats = c.Classify(context.Background(), []soroban.Event{ev}, activeA())
	require.Equal(t, 1, stats.Emitted)
}

func TestProcessedSetWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	set := NewProcessedSet(time.Hour, clock)

	set.Mark("x")
	set.Mark("y")
	require.True(t, set.Contains("x"))

	clock.Advance(30 * time.Minute)
	set.Mark("y")
	clock.Advance(30 * time.Minute)
	require.False(t, set.Contains("x"), "x expired")
	require.True(t, set.Contains("y"))

	clock.Advance(time.Hour)
	require.Equal(t, 1, set.Prune())
	require.Zero(t, set.Len())
}
