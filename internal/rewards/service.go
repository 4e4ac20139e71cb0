// Package rewards exposes the operator and user contract operations of a
// reward campaign contract.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/devblac/reward-tower/internal/logging"
	"github.com/devblac/reward-tower/internal/model"
	"github.com/devblac/reward-tower/internal/scval"
	"github.com/devblac/reward-tower/internal/sink"
	"github.com/devblac/reward-tower/internal/txsubmit"
	"github.com/jonboulle/clockwork"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
)

// Contract function names.
const (
	FnCreateCampaign    = "create_campaign"
	FnDistributeRewards = "distribute_rewards"
	FnClaimRewards      = "claim_rewards"
	FnGetUserRewards    = "get_user_rewards"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRegistryWrite means the chain accepted the campaign but storing it failed.
	ErrRegistryWrite = errors.New("registry write failed")
)

type Submitter interface {
	Submit(ctx context.Context, call txsubmit.Call) (txsubmit.Result, error)
	Simulate(ctx context.Context, call txsubmit.Call) (scval.Value, error)
}

type Registry interface {
	Record(ctx context.Context, c model.Campaign) error
}

type Balances interface {
	Balances(ctx context.Context, campaignID uint32) ([]model.ParticipantBalance, error)
}

type Config struct {
	Contract           string
	DefaultRewardToken string
	Operator           *keypair.Full // create and distribute
	User               *keypair.Full // claim and query

	Submitter Submitter
	Registry  Registry
	Balances  Balances
	Notifier  sink.Sender
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

func (cfg *Config) Validate() error {
	if !scval.IsContractAddress(cfg.Contract) {
		return fmt.Errorf("contract %q is not a contract address", cfg.Contract)
	}
	if cfg.Submitter == nil {
		return errors.New("submitter is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return nil
}

type Service struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rewards config: %w", err)
	}
	return &Service{cfg: cfg, log: cfg.Logger}, nil
}

type CreateParams struct {
	Pool              string
	Asset             string
	RewardToken       string
	DailyRewardAmount *big.Int
	DurationDays      uint32
}

type CreateResult struct {
	txsubmit.Result
	Campaign model.Campaign
}

// CreateCampaign creates a campaign on chain and records it once the
// transaction succeeds. The campaign id comes from the simulated return value.
func (s *Service) CreateCampaign(ctx context.Context, p CreateParams) (CreateResult, error) {
	if s.cfg.Operator == nil {
		return CreateResult{}, fmt.Errorf("%w: operator signer not configured", ErrInvalidArgument)
	}
	if p.RewardToken == "" {
		p.RewardToken = s.cfg.DefaultRewardToken
	}
	if p.DailyRewardAmount == nil || p.DailyRewardAmount.Sign() <= 0 {
		return CreateResult{}, fmt.Errorf("%w: daily reward amount must be positive", ErrInvalidArgument)
	}
	if p.DurationDays == 0 {
		return CreateResult{}, fmt.Errorf("%w: duration must be at least one day", ErrInvalidArgument)
	}

	args, err := encodeArgs(
		func() (xdr.ScVal, error) { return scval.Address(p.Pool) },
		func() (xdr.ScVal, error) { return scval.Address(p.Asset) },
		func() (xdr.ScVal, error) { return scval.Address(p.RewardToken) },
		func() (xdr.ScVal, error) { return scval.I128(p.DailyRewardAmount) },
		func() (xdr.ScVal, error) { return scval.U32(p.DurationDays), nil },
		func() (xdr.ScVal, error) { return scval.Address(s.cfg.Operator.Address()) },
	)
	if err != nil {
		return CreateResult{}, err
	}

	res, err := s.submit(ctx, 0, txsubmit.Call{
		Operation: FnCreateCampaign,
		Contract:  s.cfg.Contract,
		Function:  FnCreateCampaign,
		Args:      args,
		Signer:    s.cfg.Operator,
	})
	out := CreateResult{Result: res}
	if err != nil {
		return out, err
	}

	v, _ := res.Value()
	id, ok := v.AsU32()
	if !ok {
		return out, fmt.Errorf("%w: create_campaign returned %s, want u32", ErrRegistryWrite, v.Kind)
	}
	now := s.cfg.Clock.Now().UTC()
	out.Campaign = model.Campaign{
		ID:                id,
		Pool:              p.Pool,
		Asset:             p.Asset,
		RewardToken:       p.RewardToken,
		DailyRewardAmount: new(big.Int).Set(p.DailyRewardAmount),
		StartDate:         now,
		EndDate:           now.Add(time.Duration(p.DurationDays) * 24 * time.Hour),
		Status:            model.CampaignActive,
	}
	if s.cfg.Registry != nil {
		if err := s.cfg.Registry.Record(ctx, out.Campaign); err != nil {
			return out, fmt.Errorf("%w: %w", ErrRegistryWrite, err)
		}
	}
	return out, nil
}

type DistributeResult struct {
	txsubmit.Result
	Participants int
	Total        *big.Int
}

// DistributeRewards pays out a campaign in proportion to participant balances.
// Non-positive balances are left out.
func (s *Service) DistributeRewards(ctx context.Context, campaignID uint32, participants []model.ParticipantBalance) (DistributeResult, error) {
	if s.cfg.Operator == nil {
		return DistributeResult{}, fmt.Errorf("%w: operator signer not configured", ErrInvalidArgument)
	}
	var (
		addrs   []string
		amounts []*big.Int
		total   = new(big.Int)
	)
	for _, p := range participants {
		if p.Balance == nil || p.Balance.Sign() <= 0 {
			continue
		}
		addrs = append(addrs, p.Address)
		amounts = append(amounts, p.Balance)
		total.Add(total, p.Balance)
	}
	if len(addrs) == 0 || total.Sign() == 0 {
		return DistributeResult{}, fmt.Errorf("%w: campaign %d has no participants with a positive balance", ErrInvalidArgument, campaignID)
	}

	args, err := encodeArgs(
		func() (xdr.ScVal, error) { return scval.U32(campaignID), nil },
		func() (xdr.ScVal, error) { return scval.AddressVec(addrs) },
		func() (xdr.ScVal, error) { return scval.I128Vec(amounts) },
		func() (xdr.ScVal, error) { return scval.I128(total) },
	)
	if err != nil {
		return DistributeResult{}, err
	}

	res, err := s.submit(ctx, campaignID, txsubmit.Call{
		Operation: FnDistributeRewards,
		Contract:  s.cfg.Contract,
		Function:  FnDistributeRewards,
		Args:      args,
		Signer:    s.cfg.Operator,
	})
	return DistributeResult{Result: res, Participants: len(addrs), Total: total}, err
}

// DistributeFromLedger distributes using the balances the ledger holds.
func (s *Service) DistributeFromLedger(ctx context.Context, campaignID uint32) (DistributeResult, error) {
	if s.cfg.Balances == nil {
		return DistributeResult{}, errors.New("no balance ledger configured")
	}
	list, err := s.cfg.Balances.Balances(ctx, campaignID)
	if err != nil {
		return DistributeResult{}, err
	}
	return s.DistributeRewards(ctx, campaignID, list)
}

type ClaimResult struct {
	txsubmit.Result
	Amount *big.Int
}

// ClaimRewards claims the configured user's rewards for a campaign.
func (s *Service) ClaimRewards(ctx context.Context, campaignID uint32) (ClaimResult, error) {
	call, err := s.userCall(FnClaimRewards, campaignID)
	if err != nil {
		return ClaimResult{}, err
	}
	res, err := s.submit(ctx, campaignID, call)
	out := ClaimResult{Result: res}
	if v, ok := res.Value(); ok {
		out.Amount, _ = v.AsInt()
	}
	return out, err
}

// UserRewards returns the configured user's pending rewards without
// submitting anything.
func (s *Service) UserRewards(ctx context.Context, campaignID uint32) (*big.Int, error) {
	call, err := s.userCall(FnGetUserRewards, campaignID)
	if err != nil {
		return nil, err
	}
	v, err := s.cfg.Submitter.Simulate(ctx, call)
	if err != nil {
		return nil, err
	}
	amount, ok := v.AsInt()
	if !ok {
		return nil, fmt.Errorf("get_user_rewards returned %s, want integer", v.Kind)
	}
	return amount, nil
}

func (s *Service) userCall(fn string, campaignID uint32) (txsubmit.Call, error) {
	if s.cfg.User == nil {
		return txsubmit.Call{}, fmt.Errorf("%w: user signer not configured", ErrInvalidArgument)
	}
	user, err := scval.Address(s.cfg.User.Address())
	if err != nil {
		return txsubmit.Call{}, err
	}
	return txsubmit.Call{
		Operation: fn,
		Contract:  s.cfg.Contract,
		Function:  fn,
		Args:      []xdr.ScVal{user, scval.U32(campaignID)},
		Signer:    s.cfg.User,
	}, nil
}

func (s *Service) submit(ctx context.Context, campaignID uint32, call txsubmit.Call) (txsubmit.Result, error) {
	res, err := s.cfg.Submitter.Submit(ctx, call)
	s.notify(ctx, campaignID, res)
	return res, err
}

func (s *Service) notify(ctx context.Context, campaignID uint32, res txsubmit.Result) {
	if s.cfg.Notifier == nil {
		return
	}
	outcome := sink.Outcome{
		Operation:  res.Operation,
		Status:     string(res.Status),
		Hash:       res.Hash,
		CampaignID: campaignID,
		Detail:     res.Detail,
		At:         s.cfg.Clock.Now().UTC(),
	}
	if v, ok := res.Value(); ok {
		outcome.Value = fmt.Sprint(v.Native())
	}
	if err := s.cfg.Notifier.Send(ctx, outcome); err != nil {
		s.log.Warn("outcome notification failed", "operation", res.Operation, "error", err)
	}
}

func encodeArgs(fns ...func() (xdr.ScVal, error)) ([]xdr.ScVal, error) {
	out := make([]xdr.ScVal, 0, len(fns))
	for i, fn := range fns {
		v, err := fn()
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %w", ErrInvalidArgument, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
