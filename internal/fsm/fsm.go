package fsm

import "fmt"

// Status constants used by the purchase attempt state machine.
const (
	StatusIdle                 = "idle"
	StatusRequesting           = "requesting"
	StatusAwaitingPlatform     = "awaiting_platform_result"
	StatusValidating           = "validating"
	StatusFulfilling           = "fulfilling"
	StatusFinishingTransaction = "finishing_transaction"
	StatusDone                 = "done"
	StatusRejected             = "rejected"
)

var transitions = map[string]map[string]struct{}{
	StatusIdle: {StatusRequesting: {}},
	StatusRequesting: {
		StatusAwaitingPlatform: {},
		// Cancelled/pending outcomes return the attempt to idle silently.
		StatusIdle:     {},
		StatusRejected: {},
	},
	StatusAwaitingPlatform: {
		StatusValidating: {},
		StatusIdle:       {},
		StatusRejected:   {},
	},
	StatusValidating: {
		StatusFulfilling: {},
		StatusRejected:   {},
	},
	StatusFulfilling: {
		StatusFinishingTransaction: {},
	},
	StatusFinishingTransaction: {
		StatusDone: {},
	},
	// Terminal states: a fresh attempt starts over from idle.
	StatusDone:     {StatusIdle: {}},
	StatusRejected: {StatusIdle: {}},
}

// CanTransition reports whether moving from one attempt status to another is
// allowed.
func CanTransition(from, to string) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Transition validates and returns the new status.
func Transition(from, to string) (string, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("fsm: illegal transition %s -> %s", from, to)
	}
	return to, nil
}

// Terminal reports whether the status ends a purchase attempt.
func Terminal(status string) bool {
	return status == StatusDone || status == StatusRejected || status == StatusIdle
}
