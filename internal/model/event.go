package model

import "math/big"

// EventKind is the domain meaning of a pool event.
type EventKind string

const (
	SupplyCollateral   EventKind = "supply_collateral"
	WithdrawCollateral EventKind = "withdraw_collateral"
	Unknown            EventKind = "unknown"
)

// ParseEventKind maps a chain kind tag to an EventKind.
func ParseEventKind(tag string) EventKind {
	switch EventKind(tag) {
	case SupplyCollateral:
		return SupplyCollateral
	case WithdrawCollateral:
		return WithdrawCollateral
	default:
		return Unknown
	}
}

// ClassifiedEvent is a decoded, typed pool event ready to be applied to balances.
type ClassifiedEvent struct {
	Kind          EventKind
	Asset         string
	Address       string
	Amount        *big.Int
	SourceEventID string
	ContractID    string
	Ledger        uint32
}
