package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

type Request struct {
	ID          string
	ItemID      string
	RequestedBy string
	ProjectSite string // denormalized from the requester so isolation queries never depend on item state
	Qty         decimal.Decimal
	Status      RequestStatus
	Note        string
	ApprovedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LedgerEffect is the stock mutation a transition requires.
type LedgerEffect int

const (
	LedgerNone LedgerEffect = iota
	LedgerDeduct
	LedgerRestore
)

// transitions maps (current, target) to the ledger effect of the move.
// Absent entries are invalid transitions: rejected is terminal except for
// administrative deletion, which is not a transition. Rejecting an already
// approved request restores its deducted stock, like a revert.
var transitions = map[RequestStatus]map[RequestStatus]LedgerEffect{
	StatusPending: {
		StatusApproved: LedgerDeduct,
		StatusRejected: LedgerNone,
	},
	StatusApproved: {
		StatusPending:  LedgerRestore,
		StatusRejected: LedgerRestore,
	},
}

// ResolveTransition reports the ledger effect of moving from one status to
// another. A target equal to the current status is a harmless no-op (noop
// true, nil error) so double-submitted approvals and reverts do nothing.
func ResolveTransition(from, to RequestStatus) (effect LedgerEffect, noop bool, err error) {
	if !to.Valid() {
		return LedgerNone, false, ErrInvalidTransition
	}
	if from == to {
		return LedgerNone, true, nil
	}
	eff, ok := transitions[from][to]
	if !ok {
		return LedgerNone, false, ErrInvalidTransition
	}
	return eff, false, nil
}
