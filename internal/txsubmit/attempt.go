package txsubmit

import (
	"log/slog"

	"github.com/devblac/reward-tower/internal/scval"
	"github.com/google/uuid"
)

// Stage is a step of the submission state machine.
type Stage string

const (
	StageBuilt     Stage = "built"
	StageSimulated Stage = "simulated"
	StagePrepared  Stage = "prepared"
	StageSigned    Stage = "signed"
	StageSubmitted Stage = "submitted"
	StageDone      Stage = "done"
)

// Status is the outcome reported to the caller.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Result is what Submit returns. Simulated holds the return value captured
// from the dry run; ReturnValue is the confirmed one when the node reports it.
type Result struct {
	AttemptID   string
	Operation   string
	Status      Status
	Hash        string
	Simulated   *scval.Value
	ReturnValue *scval.Value
	Detail      string
	Polls       int
}

// Value returns the confirmed return value, falling back to the simulated one.
func (r Result) Value() (scval.Value, bool) {
	if r.ReturnValue != nil {
		return *r.ReturnValue, true
	}
	if r.Simulated != nil {
		return *r.Simulated, true
	}
	return scval.Value{}, false
}

// attempt tracks one transaction through the pipeline.
type attempt struct {
	id               string
	call             Call
	stage            Stage
	result           Result
	retriesRemaining int
	log              *slog.Logger
}

func newAttempt(call Call, maxPolls int, log *slog.Logger) *attempt {
	id := uuid.NewString()
	return &attempt{
		id:               id,
		call:             call,
		retriesRemaining: maxPolls,
		result:           Result{AttemptID: id, Operation: call.Operation, Status: StatusPending},
		log:              log.With("attempt_id", id, "operation", call.Operation),
	}
}

func (a *attempt) advance(stage Stage, attrs ...any) {
	a.stage = stage
	a.log.Info("transaction "+string(stage), attrs...)
}

func (a *attempt) finish(status Status, detail string) Result {
	a.stage = StageDone
	a.result.Status = status
	a.result.Detail = detail
	attrs := []any{"status", status, "hash", a.result.Hash, "polls", a.result.Polls}
	if detail != "" {
		attrs = append(attrs, "detail", detail)
	}
	if status == StatusSuccess {
		a.log.Info("transaction finished", attrs...)
	} else {
		a.log.Warn("transaction finished", attrs...)
	}
	return a.result
}
