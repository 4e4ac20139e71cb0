package rewards

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/devblac/reward-tower/internal/model"
	"github.com/devblac/reward-tower/internal/scval"
	"github.com/devblac/reward-tower/internal/sink"
	"github.com/devblac/reward-tower/internal/soroban/sorobantest"
	"github.com/devblac/reward-tower/internal/txsubmit"
	"github.com/jonboulle/clockwork"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	calls  []txsubmit.Call
	result txsubmit.Result
	err    error
	simVal scval.Value
	simErr error
}

func (f *fakeSubmitter) Submit(_ context.Context, call txsubmit.Call) (txsubmit.Result, error) {
	f.calls = append(f.calls, call)
	res := f.result
	res.Operation = call.Operation
	return res, f.err
}

func (f *fakeSubmitter) Simulate(_ context.Context, call txsubmit.Call) (scval.Value, error) {
	f.calls = append(f.calls, call)
	return f.simVal, f.simErr
}

type fakeRegistry struct {
	recorded []model.Campaign
	err      error
}

func (f *fakeRegistry) Record(_ context.Context, c model.Campaign) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, c)
	return nil
}

type fakeBalances []model.ParticipantBalance

func (f fakeBalances) Balances(context.Context, uint32) ([]model.ParticipantBalance, error) {
	return f, nil
}

type fakeSender struct{ sent []sink.Outcome }

func (f *fakeSender) Send(_ context.Context, o sink.Outcome) error {
	f.sent = append(f.sent, o)
	return errors.New("webhook down")
}

var start = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func newService(t *testing.T, sub *fakeSubmitter, reg *fakeRegistry, mutate func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Contract:           sorobantest.Contract(1),
		DefaultRewardToken: sorobantest.Contract(2),
		Operator:           keypair.MustRandom(),
		User:               keypair.MustRandom(),
		Submitter:          sub,
		Registry:           reg,
		Clock:              clockwork.NewFakeClockAt(start),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	return svc
}

func u32(n uint32) *scval.Value {
	v := scval.Value{Kind: scval.KindU32, Int: new(big.Int).SetUint64(uint64(n))}
	return &v
}

func TestCreateCampaignRecordsOnSuccess(t *testing.T) {
	sub := &fakeSubmitter{result: txsubmit.Result{Status: txsubmit.StatusSuccess, Hash: "h", Simulated: u32(12)}}
	reg := &fakeRegistry{}
	svc := newService(t, sub, reg, nil)

	pool, asset := sorobantest.Contract(3), sorobantest.Contract(4)
	res, err := svc.CreateCampaign(context.Background(), CreateParams{
		Pool: pool, Asset: asset, DailyRewardAmount: big.NewInt(10_000_000_000), DurationDays: 30,
	})
	require.NoError(t, err)
	require.Equal(t, uint32(12), res.Campaign.ID)
	require.Len(t, reg.recorded, 1)
	require.Equal(t, start.Add(30*24*time.Hour), reg.recorded[0].EndDate)
	require.Equal(t, sorobantest.Contract(2), reg.recorded[0].RewardToken)

	require.Len(t, sub.calls, 1)
	call := sub.calls[0]
	require.Equal(t, FnCreateCampaign, call.Function)
	require.Len(t, call.Args, 6)
	days, err := scval.Decode(call.Args[4])
	require.NoError(t, err)
	n, _ := days.AsU32()
	require.Equal(t, uint32(30), n)
}

func TestCreateCampaignFailureDoesNotRecord(t *testing.T) {
	sub := &fakeSubmitter{
		result: txsubmit.Result{Status: txsubmit.StatusTimeout, Simulated: u32(3)},
		err:    txsubmit.ErrConfirmationTimeout,
	}
	reg := &fakeRegistry{}
	svc := newService(t, sub, reg, nil)

	res, err := svc.CreateCampaign(context.Background(), CreateParams{
		Pool: sorobantest.Contract(3), Asset: sorobantest.Contract(4), DailyRewardAmount: big.NewInt(5), DurationDays: 1,
	})
	require.ErrorIs(t, err, txsubmit.ErrConfirmationTimeout)
	require.Equal(t, txsubmit.StatusTimeout, res.Status)
	require.Empty(t, reg.recorded)
}

func TestCreateCampaignRegistryWriteError(t *testing.T) {
	sub := &fakeSubmitter{result: txsubmit.Result{Status: txsubmit.StatusSuccess, Simulated: u32(3)}}
	svc := newService(t, sub, &fakeRegistry{err: errors.New("db locked")}, nil)

	res, err := svc.CreateCampaign(context.Background(), CreateParams{
		Pool: sorobantest.Contract(3), Asset: sorobantest.Contract(4), DailyRewardAmount: big.NewInt(5), DurationDays: 1,
	})
	require.ErrorIs(t, err, ErrRegistryWrite)
	require.Equal(t, txsubmit.StatusSuccess, res.Status)
}

func TestCreateCampaignValidation(t *testing.T) {
	sub := &fakeSubmitter{}
	svc := newService(t, sub, &fakeRegistry{}, nil)
	ctx := context.Background()

	cases := []CreateParams{
		{Pool: sorobantest.Contract(3), Asset: sorobantest.Contract(4), DailyRewardAmount: big.NewInt(0), DurationDays: 1},
		{Pool: sorobantest.Contract(3), Asset: sorobantest.Contract(4), DailyRewardAmount: big.NewInt(1)},
		{Pool: "not-an-address", Asset: sorobantest.Contract(4), DailyRewardAmount: big.NewInt(1), DurationDays: 1},
	}
	for _, p := range cases {
		_, err := svc.CreateCampaign(ctx, p)
		require.ErrorIs(t, err, ErrInvalidArgument)
	}
	require.Empty(t, sub.calls)
}

func TestDistributeExcludesNonPositive(t *testing.T) {
	sub := &fakeSubmitter{result: txsubmit.Result{Status: txsubmit.StatusSuccess}}
	a, b, c := sorobantest.Account(), sorobantest.Account(), sorobantest.Account()
	svc := newService(t, sub, nil, func(cfg *Config) {
		cfg.Balances = fakeBalances{
			{Address: a, Balance: big.NewInt(600)},
			{Address: b, Balance: big.NewInt(0)},
			{Address: c, Balance: big.NewInt(-10)},
		}
	})

	res, err := svc.DistributeFromLedger(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, 1, res.Participants)
	require.Equal(t, "600", res.Total.String())

	call := sub.calls[0]
	require.Equal(t, FnDistributeRewards, call.Function)
	addrs, err := scval.Decode(call.Args[1])
	require.NoError(t, err)
	require.Len(t, addrs.Items, 1)
	got, _ := addrs.Items[0].AsAddress()
	require.Equal(t, a, got)
}

func TestDistributeRejectsEmpty(t *testing.T) {
	sub := &fakeSubmitter{}
	svc := newService(t, sub, nil, nil)

	_, err := svc.DistributeRewards(context.Background(), 1, []model.ParticipantBalance{{Address: sorobantest.Account(), Balance: big.NewInt(0)}})
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Empty(t, sub.calls)
}

func TestClaimUsesUserSignerAndNotifies(t *testing.T) {
	amount := scval.Value{Kind: scval.KindI128, Int: big.NewInt(250)}
	sub := &fakeSubmitter{result: txsubmit.Result{Status: txsubmit.StatusSuccess, Hash: "h", Simulated: &amount}}
	sender := &fakeSender{}
	var user *keypair.Full
	svc := newService(t, sub, nil, func(cfg *Config) {
		cfg.Notifier = sender
		user = cfg.User
	})

	res, err := svc.ClaimRewards(context.Background(), 9)
	require.NoError(t, err, "notifier failures are logged only")
	require.Equal(t, "250", res.Amount.String())
	require.Same(t, user, sub.calls[0].Signer)

	require.Len(t, sender.sent, 1)
	require.Equal(t, FnClaimRewards, sender.sent[0].Operation)
	require.Equal(t, uint32(9), sender.sent[0].CampaignID)
	require.Equal(t, "250", sender.sent[0].Value)
}

func TestUserRewardsSimulatesOnly(t *testing.T) {
	sub := &fakeSubmitter{simVal: scval.Value{Kind: scval.KindI128, Int: big.NewInt(77)}}
	svc := newService(t, sub, nil, nil)

	amt, err := svc.UserRewards(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "77", amt.String())
	require.Equal(t, FnGetUserRewards, sub.calls[0].Function)

	sub.simErr = txsubmit.ErrSimulationFailed
	_, err = svc.UserRewards(context.Background(), 2)
	require.ErrorIs(t, err, txsubmit.ErrSimulationFailed)
}

func TestMissingSigner(t *testing.T) {
	svc := newService(t, &fakeSubmitter{}, nil, func(cfg *Config) { cfg.User = nil })
	_, err := svc.ClaimRewards(context.Background(), 1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
