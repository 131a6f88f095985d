package domain

import "fmt"

// AccountStatus is the lifecycle state of a linked account.
type AccountStatus string

const (
	StatusPending           AccountStatus = "pending"
	StatusActive            AccountStatus = "active"
	StatusNeedsVerification AccountStatus = "needs_verification"
	StatusInactive          AccountStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusNeedsVerification, StatusInactive:
		return true
	}
	return false
}

// transitions lists the allowed moves out of each state. Nothing leads back to pending.
var transitions = map[AccountStatus][]AccountStatus{
	StatusPending:           {StatusActive, StatusNeedsVerification},
	StatusActive:            {StatusNeedsVerification, StatusInactive},
	StatusNeedsVerification: {StatusActive},
	StatusInactive:          {StatusActive},
}

// CanTransition reports whether an account may move from one status to another.
// Staying in the same state is always allowed.
func CanTransition(from, to AccountStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the account to the given status if the lifecycle allows it.
func (a *LinkedAccount) TransitionTo(to AccountStatus) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("invalid account status transition %s -> %s", a.Status, to)
	}
	a.Status = to
	return nil
}
