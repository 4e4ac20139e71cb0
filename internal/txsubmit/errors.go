package txsubmit

import "errors"

var (
	// ErrSimulationFailed means the dry run rejected the call; nothing was submitted.
	ErrSimulationFailed = errors.New("simulation failed")
	// ErrNodeUnavailable means a read the pipeline needs before simulating
	// failed in transport; nothing was built or submitted and a retry may succeed.
	ErrNodeUnavailable = errors.New("node unavailable")
	// ErrSubmissionRejected means the node refused the signed transaction.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrTransactionFailed means the transaction was included and failed.
	ErrTransactionFailed = errors.New("transaction failed")
	// ErrConfirmationTimeout means polling ran out before a terminal status; the
	// transaction may still land.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)
