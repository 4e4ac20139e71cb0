// Package txsubmit runs contract calls through simulate, prepare, sign,
// submit and confirmation polling, reporting the true terminal status.
package txsubmit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/devblac/reward-tower/internal/logging"
	"github.com/devblac/reward-tower/internal/metrics"
	"github.com/devblac/reward-tower/internal/scval"
	"github.com/devblac/reward-tower/internal/soroban"
	"github.com/jonboulle/clockwork"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

const (
	defaultTimeoutSeconds = 30
	defaultPollInterval   = 3 * time.Second
	defaultMaxPolls       = 20
)

// Node is the write side of the RPC client.
type Node interface {
	GetAccountSequence(ctx context.Context, address string) (int64, error)
	SimulateTransaction(ctx context.Context, envelope string) (soroban.SimulateResult, error)
	SendTransaction(ctx context.Context, envelope string) (soroban.SendResult, error)
	GetTransaction(ctx context.Context, hash string) (soroban.TransactionResult, error)
}

// Call names one contract function invocation.
type Call struct {
	Operation string // label for logs and metrics
	Contract  string
	Function  string
	Args      []xdr.ScVal
	Signer    *keypair.Full
}

type Config struct {
	Node           Node
	Passphrase     string
	TimeoutSeconds int64
	PollInterval   time.Duration
	MaxPolls       int
	Clock          clockwork.Clock
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

func (cfg *Config) Validate() error {
	if cfg.Node == nil {
		return errors.New("node is required")
	}
	if cfg.Passphrase == "" {
		return errors.New("network passphrase is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return nil
}

type Submitter struct {
	cfg Config
}

func New(cfg Config) (*Submitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("submitter config: %w", err)
	}
	return &Submitter{cfg: cfg}, nil
}

// Submit runs call to a terminal status. Any status other than Success
// comes with an error wrapping exactly one of the package sentinels.
func (s *Submitter) Submit(ctx context.Context, call Call) (Result, error) {
	a := newAttempt(call, s.cfg.MaxPolls, s.cfg.Logger)
	res, err := s.run(ctx, a)
	s.cfg.Metrics.Transaction(call.Operation, string(res.Status))
	return res, err
}

// Simulate dry-runs call and returns its return value without submitting.
func (s *Submitter) Simulate(ctx context.Context, call Call) (scval.Value, error) {
	if err := validateCall(call); err != nil {
		return scval.Value{}, err
	}
	seq, err := s.cfg.Node.GetAccountSequence(ctx, call.Signer.Address())
	if err != nil {
		return scval.Value{}, fmt.Errorf("%w: load account: %w", ErrNodeUnavailable, err)
	}
	tx, err := s.build(call, seq, txnbuild.MinBaseFee, nil, nil)
	if err != nil {
		return scval.Value{}, err
	}
	sim, err := s.simulate(ctx, tx)
	if err != nil {
		return scval.Value{}, err
	}
	v, ok := simulatedValue(sim)
	if !ok {
		return scval.Value{}, fmt.Errorf("%w: no return value", ErrSimulationFailed)
	}
	return v, nil
}

func (s *Submitter) run(ctx context.Context, a *attempt) (Result, error) {
	call := a.call
	if err := validateCall(call); err != nil {
		return a.finish(StatusFailed, err.Error()), fmt.Errorf("%w: %w", ErrSimulationFailed, err)
	}

	seq, err := s.cfg.Node.GetAccountSequence(ctx, call.Signer.Address())
	if err != nil {
		return a.finish(StatusFailed, err.Error()), fmt.Errorf("%w: load account: %w", ErrNodeUnavailable, err)
	}
	tx, err := s.build(call, seq, txnbuild.MinBaseFee, nil, nil)
	if err != nil {
		return a.finish(StatusFailed, err.Error()), fmt.Errorf("%w: %w", ErrSimulationFailed, err)
	}
	a.advance(StageBuilt, "contract", call.Contract, "function", call.Function, "sequence", seq+1)

	sim, err := s.simulate(ctx, tx)
	if err != nil {
		return a.finish(StatusFailed, err.Error()), err
	}
	if v, ok := simulatedValue(sim); ok {
		a.result.Simulated = &v
	}
	a.advance(StageSimulated, "min_resource_fee", sim.MinResourceFee, "latest_ledger", sim.LatestLedger)

	tx, err = s.prepare(call, seq, sim)
	if err != nil {
		return a.finish(StatusFailed, err.Error()), fmt.Errorf("%w: prepare: %w", ErrSimulationFailed, err)
	}
	a.advance(StagePrepared, "fee", tx.BaseFee())

	tx, err = tx.Sign(s.cfg.Passphrase, call.Signer)
	if err != nil {
		return a.finish(StatusFailed, err.Error()), fmt.Errorf("%w: sign: %w", ErrSubmissionRejected, err)
	}
	hash, err := tx.HashHex(s.cfg.Passphrase)
	if err != nil {
		return a.finish(StatusFailed, err.Error()), fmt.Errorf("%w: hash: %w", ErrSubmissionRejected, err)
	}
	envelope, err := tx.Base64()
	if err != nil {
		return a.finish(StatusFailed, err.Error()), fmt.Errorf("%w: encode: %w", ErrSubmissionRejected, err)
	}
	a.result.Hash = hash
	a.advance(StageSigned, "hash", hash)

	sent, err := s.cfg.Node.SendTransaction(ctx, envelope)
	if err != nil {
		// The node may have accepted it; polling by hash settles that.
		a.log.Warn("send transaction failed, polling by hash", "hash", hash, "error", err)
	} else {
		switch sent.Status {
		case soroban.SendPending, soroban.SendDuplicate:
		case soroban.SendError:
			detail := resultCode(sent.ErrorResultXDR)
			return a.finish(StatusFailed, detail), fmt.Errorf("%w: %s", ErrSubmissionRejected, detail)
		default:
			return a.finish(StatusFailed, sent.Status), fmt.Errorf("%w: status %s", ErrSubmissionRejected, sent.Status)
		}
		if sent.Hash != "" {
			a.result.Hash = sent.Hash
		}
	}
	a.advance(StageSubmitted, "hash", a.result.Hash, "send_status", sent.Status)

	return s.confirm(ctx, a)
}

func (s *Submitter) confirm(ctx context.Context, a *attempt) (Result, error) {
	for a.retriesRemaining > 0 {
		select {
		case <-ctx.Done():
			return a.finish(StatusTimeout, ctx.Err().Error()), fmt.Errorf("%w: %w", ErrConfirmationTimeout, ctx.Err())
		case <-s.cfg.Clock.After(s.cfg.PollInterval):
		}
		a.retriesRemaining--
		a.result.Polls++

		got, err := s.cfg.Node.GetTransaction(ctx, a.result.Hash)
		if err != nil {
			a.log.Warn("poll transaction failed", "hash", a.result.Hash, "retries_remaining", a.retriesRemaining, "error", err)
			continue
		}
		switch got.Status {
		case soroban.TxSuccess:
			if v, ok := metaReturnValue(got.ResultMetaXDR); ok {
				a.result.ReturnValue = &v
			}
			return a.finish(StatusSuccess, ""), nil
		case soroban.TxFailed:
			detail := resultCode(got.ResultXDR)
			return a.finish(StatusFailed, detail), fmt.Errorf("%w: %s", ErrTransactionFailed, detail)
		}
	}
	return a.finish(StatusTimeout, fmt.Sprintf("not confirmed after %d polls", a.result.Polls)),
		fmt.Errorf("%w: %s after %d polls", ErrConfirmationTimeout, a.result.Hash, a.result.Polls)
}

func (s *Submitter) simulate(ctx context.Context, tx *txnbuild.Transaction) (soroban.SimulateResult, error) {
	envelope, err := tx.Base64()
	if err != nil {
		return soroban.SimulateResult{}, fmt.Errorf("%w: encode: %w", ErrSimulationFailed, err)
	}
	sim, err := s.cfg.Node.SimulateTransaction(ctx, envelope)
	if err != nil {
		return sim, fmt.Errorf("%w: %w", ErrSimulationFailed, err)
	}
	if sim.Error != "" {
		return sim, fmt.Errorf("%w: %s", ErrSimulationFailed, sim.Error)
	}
	return sim, nil
}

// prepare rebuilds the transaction at the same sequence with the simulated
// footprint, auth entries and resource fee.
func (s *Submitter) prepare(call Call, seq int64, sim soroban.SimulateResult) (*txnbuild.Transaction, error) {
	var data xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &data); err != nil {
		return nil, fmt.Errorf("decode transaction data: %w", err)
	}
	var resourceFee int64
	if sim.MinResourceFee != "" {
		fee, err := strconv.ParseInt(sim.MinResourceFee, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse min resource fee %q: %w", sim.MinResourceFee, err)
		}
		resourceFee = fee
	}
	var auth []xdr.SorobanAuthorizationEntry
	if len(sim.Results) > 0 {
		for _, raw := range sim.Results[0].Auth {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(raw, &entry); err != nil {
				return nil, fmt.Errorf("decode auth entry: %w", err)
			}
			auth = append(auth, entry)
		}
	}
	return s.build(call, seq, txnbuild.MinBaseFee+resourceFee, &data, auth)
}

func (s *Submitter) build(call Call, seq, fee int64, data *xdr.SorobanTransactionData, auth []xdr.SorobanAuthorizationEntry) (*txnbuild.Transaction, error) {
	contract, err := scval.ParseAddress(call.Contract)
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	op := &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: contract,
				FunctionName:    xdr.ScSymbol(call.Function),
				Args:            call.Args,
			},
		},
		Auth:          auth,
		SourceAccount: call.Signer.Address(),
	}
	if data != nil {
		op.Ext = xdr.TransactionExt{V: 1, SorobanData: data}
	}

	account := txnbuild.NewSimpleAccount(call.Signer.Address(), seq)
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              fee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(s.cfg.TimeoutSeconds)},
	})
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}

func validateCall(call Call) error {
	switch {
	case call.Signer == nil:
		return errors.New("signer is required")
	case call.Contract == "":
		return errors.New("contract is required")
	case call.Function == "":
		return errors.New("function is required")
	}
	return nil
}

func simulatedValue(sim soroban.SimulateResult) (scval.Value, bool) {
	if len(sim.Results) == 0 || sim.Results[0].XDR == "" {
		return scval.Value{}, false
	}
	return scval.DecodeBase64(sim.Results[0].XDR), true
}

func metaReturnValue(encoded string) (scval.Value, bool) {
	if encoded == "" {
		return scval.Value{}, false
	}
	var meta xdr.TransactionMeta
	if err := xdr.SafeUnmarshalBase64(encoded, &meta); err != nil {
		return scval.Value{}, false
	}
	v3, ok := meta.GetV3()
	if !ok || v3.SorobanMeta == nil {
		return scval.Value{}, false
	}
	v, err := scval.Decode(v3.SorobanMeta.ReturnValue)
	if err != nil {
		return scval.Value{}, false
	}
	return v, true
}

// resultCode extracts the transaction result code from a base64 result.
func resultCode(encoded string) string {
	if encoded == "" {
		return "unknown error"
	}
	var res xdr.TransactionResult
	if err := xdr.SafeUnmarshalBase64(encoded, &res); err != nil {
		return "undecodable result " + encoded
	}
	return res.Result.Code.String()
}
