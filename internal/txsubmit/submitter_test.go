package txsubmit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devblac/reward-tower/internal/scval"
	"github.com/devblac/reward-tower/internal/soroban"
	"github.com/devblac/reward-tower/internal/soroban/sorobantest"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	mu sync.Mutex

	seqErr  error
	sim     soroban.SimulateResult
	simErr  error
	send    soroban.SendResult
	sendErr error
	polls   []soroban.TransactionResult // consumed in order, last repeats
	pollErr []error

	simulated []string
	sent      []string
	polled    int
}

func (f *fakeNode) GetAccountSequence(context.Context, string) (int64, error) {
	if f.seqErr != nil {
		return 0, f.seqErr
	}
	return 100, nil
}

func (f *fakeNode) SimulateTransaction(_ context.Context, env string) (soroban.SimulateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated = append(f.simulated, env)
	return f.sim, f.simErr
}

func (f *fakeNode) SendTransaction(_ context.Context, env string) (soroban.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return f.send, f.sendErr
}

func (f *fakeNode) GetTransaction(context.Context, string) (soroban.TransactionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polled
	f.polled++
	if i < len(f.pollErr) && f.pollErr[i] != nil {
		return soroban.TransactionResult{}, f.pollErr[i]
	}
	if len(f.polls) == 0 {
		return soroban.TransactionResult{Status: soroban.TxNotFound}, nil
	}
	if i >= len(f.polls) {
		i = len(f.polls) - 1
	}
	return f.polls[i], nil
}

func b64(t *testing.T, v any) string {
	t.Helper()
	s, err := xdr.MarshalBase64(v)
	require.NoError(t, err)
	return s
}

func okSimulation(t *testing.T, ret xdr.ScVal) soroban.SimulateResult {
	return soroban.SimulateResult{
		TransactionData: b64(t, xdr.SorobanTransactionData{}),
		MinResourceFee:  "5000",
		Results:         []soroban.SimulateHostFn{{XDR: b64(t, ret)}},
		LatestLedger:    77,
	}
}

func newSubmitter(t *testing.T, node *fakeNode, maxPolls int) *Submitter {
	t.Helper()
	s, err := New(Config{
		Node:         node,
		Passphrase:   network.TestNetworkPassphrase,
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
	})
	require.NoError(t, err)
	return s
}

func testCall() Call {
	return Call{
		Operation: "create_campaign",
		Contract:  sorobantest.Contract(9),
		Function:  "create_campaign",
		Args:      []xdr.ScVal{scval.U32(1)},
		Signer:    keypair.MustRandom(),
	}
}

func TestSimulationFailureIsTerminal(t *testing.T) {
	node := &fakeNode{sim: soroban.SimulateResult{Error: "HostError: Error(Contract, #3)"}}
	s := newSubmitter(t, node, 3)

	res, err := s.Submit(context.Background(), testCall())
	require.ErrorIs(t, err, ErrSimulationFailed)
	require.Equal(t, StatusFailed, res.Status)
	require.Len(t, node.simulated, 1, "no retry of simulation")
	require.Empty(t, node.sent, "nothing submitted")
	require.Zero(t, node.polled)
}

func TestSimulationTransportError(t *testing.T) {
	node := &fakeNode{simErr: errors.New("dial tcp: refused")}
	res, err := newSubmitter(t, node, 3).Submit(context.Background(), testCall())
	require.ErrorIs(t, err, ErrSimulationFailed)
	require.Equal(t, StatusFailed, res.Status)
	require.Empty(t, node.sent)
}

func TestAccountReadFailureIsNotSimulationFailure(t *testing.T) {
	node := &fakeNode{seqErr: errors.New("dial tcp: refused"), sim: okSimulation(t, scval.U32(7))}
	s := newSubmitter(t, node, 3)

	res, err := s.Submit(context.Background(), testCall())
	require.ErrorIs(t, err, ErrNodeUnavailable)
	require.NotErrorIs(t, err, ErrSimulationFailed)
	require.Equal(t, StatusFailed, res.Status)
	require.Empty(t, node.simulated)
	require.Empty(t, node.sent)

	_, err = s.Simulate(context.Background(), testCall())
	require.ErrorIs(t, err, ErrNodeUnavailable)
	require.NotErrorIs(t, err, ErrSimulationFailed)
}

func TestPendingThenExhaustedIsTimeout(t *testing.T) {
	node := &fakeNode{
		sim:  okSimulation(t, scval.U32(7)),
		send: soroban.SendResult{Status: soroban.SendPending, Hash: "abc"},
	}
	res, err := newSubmitter(t, node, 4).Submit(context.Background(), testCall())

	require.ErrorIs(t, err, ErrConfirmationTimeout)
	require.False(t, errors.Is(err, ErrTransactionFailed))
	require.Equal(t, StatusTimeout, res.Status)
	require.Equal(t, 4, node.polled)
	require.Equal(t, 4, res.Polls)
	require.Equal(t, "abc", res.Hash)

	// the simulated value survives a timeout
	v, ok := res.Value()
	require.True(t, ok)
	n, ok := v.AsU32()
	require.True(t, ok)
	require.Equal(t, uint32(7), n)
}

func TestSuccessCapturesSimulatedAndConfirmedValues(t *testing.T) {
	meta := xdr.TransactionMeta{
		V: 3,
		V3: &xdr.TransactionMetaV3{
			SorobanMeta: &xdr.SorobanTransactionMeta{ReturnValue: scval.U32(9)},
		},
	}
	node := &fakeNode{
		sim:  okSimulation(t, scval.U32(7)),
		send: soroban.SendResult{Status: soroban.SendPending, Hash: "abc"},
		polls: []soroban.TransactionResult{
			{Status: soroban.TxNotFound},
			{Status: soroban.TxSuccess, ResultMetaXDR: b64(t, meta)},
		},
	}
	res, err := newSubmitter(t, node, 5).Submit(context.Background(), testCall())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 2, res.Polls)
	require.NotEmpty(t, res.AttemptID)

	sim, _ := res.Simulated.AsU32()
	got, _ := res.ReturnValue.AsU32()
	require.Equal(t, uint32(7), sim)
	require.Equal(t, uint32(9), got)

	// the submitted envelope carries the simulated footprint and one signature
	require.Len(t, node.sent, 1)
	var env xdr.TransactionEnvelope
	require.NoError(t, xdr.SafeUnmarshalBase64(node.sent[0], &env))
	v1, ok := env.GetV1()
	require.True(t, ok)
	require.Len(t, v1.Signatures, 1)
	require.Equal(t, int32(1), v1.Tx.Ext.V)
	require.GreaterOrEqual(t, uint32(v1.Tx.Fee), uint32(5100))
	require.Equal(t, xdr.SequenceNumber(101), v1.Tx.SeqNum)
}

func TestFailedConfirmation(t *testing.T) {
	failed := xdr.TransactionResult{Result: xdr.TransactionResultResult{Code: xdr.TransactionResultCodeTxBadSeq}}
	node := &fakeNode{
		sim:   okSimulation(t, scval.U32(1)),
		send:  soroban.SendResult{Status: soroban.SendDuplicate, Hash: "abc"},
		polls: []soroban.TransactionResult{{Status: soroban.TxFailed, ResultXDR: b64(t, failed)}},
	}
	res, err := newSubmitter(t, node, 5).Submit(context.Background(), testCall())
	require.ErrorIs(t, err, ErrTransactionFailed)
	require.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.Detail, "TxBadSeq")
}

func TestSendErrorIsRejectedWithoutPolling(t *testing.T) {
	rejected := xdr.TransactionResult{Result: xdr.TransactionResultResult{Code: xdr.TransactionResultCodeTxBadSeq}}
	tests := []struct {
		name string
		send soroban.SendResult
		want string
	}{
		{"error", soroban.SendResult{Status: soroban.SendError, ErrorResultXDR: b64(t, rejected)}, "TxBadSeq"},
		{"try again later", soroban.SendResult{Status: soroban.SendTryAgainLater}, soroban.SendTryAgainLater},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &fakeNode{sim: okSimulation(t, scval.U32(1)), send: tt.send}
			res, err := newSubmitter(t, node, 5).Submit(context.Background(), testCall())
			require.ErrorIs(t, err, ErrSubmissionRejected)
			require.Equal(t, StatusFailed, res.Status)
			require.Contains(t, res.Detail, tt.want)
			require.Zero(t, node.polled)
		})
	}
}

func TestPollErrorsConsumeRetries(t *testing.T) {
	node := &fakeNode{
		sim:     okSimulation(t, scval.U32(1)),
		send:    soroban.SendResult{Status: soroban.SendPending, Hash: "abc"},
		pollErr: []error{errors.New("timeout"), nil},
		polls:   []soroban.TransactionResult{{}, {Status: soroban.TxSuccess}},
	}
	res, err := newSubmitter(t, node, 2).Submit(context.Background(), testCall())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Nil(t, res.ReturnValue)

	node = &fakeNode{
		sim:     okSimulation(t, scval.U32(1)),
		send:    soroban.SendResult{Status: soroban.SendPending, Hash: "abc"},
		pollErr: []error{errors.New("timeout"), errors.New("timeout")},
	}
	res, err = newSubmitter(t, node, 2).Submit(context.Background(), testCall())
	require.ErrorIs(t, err, ErrConfirmationTimeout)
	require.Equal(t, StatusTimeout, res.Status)
}

func TestSendTransportErrorStillPolls(t *testing.T) {
	node := &fakeNode{
		sim:     okSimulation(t, scval.U32(1)),
		sendErr: errors.New("connection reset"),
		polls:   []soroban.TransactionResult{{Status: soroban.TxSuccess}},
	}
	res, err := newSubmitter(t, node, 3).Submit(context.Background(), testCall())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Hash, 64, "locally computed hash")
}

func TestSimulateOnly(t *testing.T) {
	node := &fakeNode{sim: okSimulation(t, scval.U32(42))}
	v, err := newSubmitter(t, node, 3).Simulate(context.Background(), testCall())
	require.NoError(t, err)
	n, ok := v.AsU32()
	require.True(t, ok)
	require.Equal(t, uint32(42), n)
	require.Empty(t, node.sent)
}
