package model

import "math/big"

// ParticipantBalance is the accounted collateral of an address inside a campaign.
type ParticipantBalance struct {
	CampaignID uint32
	Address    string
	Balance    *big.Int
}

// Delta is one balance mutation guarded by the id of the event that caused it.
// Amount is always non-negative; Kind decides the sign.
type Delta struct {
	EventID    string
	CampaignID uint32
	Address    string
	Amount     *big.Int
	Kind       EventKind
}

// Signed returns the amount with the sign implied by Kind.
func (d Delta) Signed() *big.Int {
	out := new(big.Int).Set(d.Amount)
	if d.Kind == WithdrawCollateral {
		out.Neg(out)
	}
	return out
}

// ApplyOutcome describes what a store did with a Delta.
type ApplyOutcome int

const (
	// Applied means the balance changed and the event id was recorded.
	Applied ApplyOutcome = iota
	// Duplicate means the event id was already recorded; nothing changed.
	Duplicate
	// MissingParticipant means a withdraw hit no existing row; the id was recorded.
	MissingParticipant
	// Skipped means the event had no balance effect and nothing was written.
	Skipped
)

func (o ApplyOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case MissingParticipant:
		return "missing_participant"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}
