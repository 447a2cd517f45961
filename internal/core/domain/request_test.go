package domain

import (
	"errors"
	"testing"
)

func TestResolveTransition(t *testing.T) {
	tests := []struct {
		name   string
		from   RequestStatus
		to     RequestStatus
		effect LedgerEffect
		noop   bool
		err    error
	}{
		{"approve", StatusPending, StatusApproved, LedgerDeduct, false, nil},
		{"reject", StatusPending, StatusRejected, LedgerNone, false, nil},
		{"revert", StatusApproved, StatusPending, LedgerRestore, false, nil},
		{"approve twice", StatusApproved, StatusApproved, LedgerNone, true, nil},
		{"revert twice", StatusPending, StatusPending, LedgerNone, true, nil},
		{"reject twice", StatusRejected, StatusRejected, LedgerNone, true, nil},
		{"reject approved restores", StatusApproved, StatusRejected, LedgerRestore, false, nil},
		{"rejected is terminal (approve)", StatusRejected, StatusApproved, LedgerNone, false, ErrInvalidTransition},
		{"rejected is terminal (revert)", StatusRejected, StatusPending, LedgerNone, false, ErrInvalidTransition},
		{"unknown target", StatusPending, RequestStatus("archived"), LedgerNone, false, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect, noop, err := ResolveTransition(tt.from, tt.to)
			if !errors.Is(err, tt.err) && err != tt.err {
				t.Fatalf("expected err %v, got %v", tt.err, err)
			}
			if noop != tt.noop {
				t.Errorf("expected noop=%v, got %v", tt.noop, noop)
			}
			if err == nil && effect != tt.effect {
				t.Errorf("expected effect %v, got %v", tt.effect, effect)
			}
		})
	}
}

func TestTransitionEventKeyDeterministic(t *testing.T) {
	a := TransitionEventKey("req-1", StatusApproved)
	b := TransitionEventKey("req-1", StatusApproved)
	if a != b {
		t.Errorf("event key must be deterministic: %s != %s", a, b)
	}
	if a == TransitionEventKey("req-1", StatusRejected) {
		t.Error("different targets must produce different keys")
	}
	if a == TransitionEventKey("req-2", StatusApproved) {
		t.Error("different requests must produce different keys")
	}
}
