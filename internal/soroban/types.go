package soroban

import "fmt"

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type Health struct {
	Status                string `json:"status"`
	LatestLedger          uint32 `json:"latestLedger"`
	OldestLedger          uint32 `json:"oldestLedger"`
	LedgerRetentionWindow uint32 `json:"ledgerRetentionWindow"`
}

// LatestLedger is the node's current finalized ledger.
type LatestLedger struct {
	ID              string `json:"id"`
	ProtocolVersion int    `json:"protocolVersion"`
	Sequence        uint32 `json:"sequence"`
}

// Event is a raw contract event as delivered by getEvents. Topic and Value
// hold base64 XDR ScVals.
type Event struct {
	Type                     string   `json:"type"`
	Ledger                   uint32   `json:"ledger"`
	LedgerClosedAt           string   `json:"ledgerClosedAt"`
	ContractID               string   `json:"contractId"`
	ID                       string   `json:"id"`
	Topic                    []string `json:"topic"`
	Value                    string   `json:"value"`
	InSuccessfulContractCall bool     `json:"inSuccessfulContractCall"`
	TxHash                   string   `json:"txHash"`
}

// EventQuery selects contract events in [StartLedger, EndLedger).
type EventQuery struct {
	StartLedger uint32
	EndLedger   uint32
	ContractIDs []string
	Limit       int
}

type LedgerEntry struct {
	Key                   string `json:"key"`
	XDR                   string `json:"xdr"`
	LastModifiedLedgerSeq uint32 `json:"lastModifiedLedgerSeq"`
}

// SimulateResult is the dry-run outcome of a transaction.
type SimulateResult struct {
	Error           string           `json:"error,omitempty"`
	TransactionData string           `json:"transactionData"`
	MinResourceFee  string           `json:"minResourceFee"`
	Results         []SimulateHostFn `json:"results"`
	LatestLedger    uint32           `json:"latestLedger"`
	Events          []string         `json:"events,omitempty"`
	Restore         *RestorePreamble `json:"restorePreamble,omitempty"`
}

type SimulateHostFn struct {
	Auth []string `json:"auth"`
	XDR  string   `json:"xdr"`
}

type RestorePreamble struct {
	TransactionData string `json:"transactionData"`
	MinResourceFee  string `json:"minResourceFee"`
}

// Send statuses returned by sendTransaction.
const (
	SendPending       = "PENDING"
	SendDuplicate     = "DUPLICATE"
	SendTryAgainLater = "TRY_AGAIN_LATER"
	SendError         = "ERROR"
)

type SendResult struct {
	Status         string `json:"status"`
	Hash           string `json:"hash"`
	LatestLedger   uint32 `json:"latestLedger"`
	ErrorResultXDR string `json:"errorResultXdr,omitempty"`
}

// Transaction statuses returned by getTransaction.
const (
	TxNotFound = "NOT_FOUND"
	TxSuccess  = "SUCCESS"
	TxFailed   = "FAILED"
)

type TransactionResult struct {
	Status        string `json:"status"`
	LatestLedger  uint32 `json:"latestLedger"`
	Ledger        uint32 `json:"ledger,omitempty"`
	EnvelopeXDR   string `json:"envelopeXdr,omitempty"`
	ResultXDR     string `json:"resultXdr,omitempty"`
	ResultMetaXDR string `json:"resultMetaXdr,omitempty"`
}
