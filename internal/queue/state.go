// Package queue provides the durable, ordered mutation queue that makes
// user actions eventually-applied: mutations that cannot be confirmed
// synchronously are journaled locally and drained into the storage
// backend when connectivity and visibility allow.
package queue

import "github.com/taduranmiggy/loveyou/internal/store"

// State is a queue item's lifecycle position.
//
//	Pending → Syncing → Synced      (confirmed; item removed)
//	                  → Failed      (attempt failed)
//	Failed  → Pending               (retryCount < MaxRetries)
//	Failed  → DeadLetter            (retryCount >= MaxRetries; removed,
//	                                 reported once, never retried)
type State string

const (
	Pending    State = "pending"
	Syncing    State = "syncing"
	Synced     State = "synced"
	Failed     State = "failed"
	DeadLetter State = "dead_letter"
)

// MaxRetries is the retry cap. An item whose attempt fails for the
// MaxRetries'th time moves to DeadLetter and is never retried again.
// The cap is deliberately a single constant: earlier revisions of this
// logic read the cap in several places and drifted apart.
const MaxRetries = 3

// Outcome is the result of applying an attempt result to an item.
type Outcome struct {
	State      State
	RetryCount int
}

// Transition computes the next state for an item whose sync attempt just
// finished. It is a pure function: retryCount is the counter before this
// attempt, err is the attempt's result.
//
// Non-retryable errors (validation, conflicts) dead-letter immediately:
// retrying cannot help and would only delay items behind them.
func Transition(retryCount int, err error) Outcome {
	if err == nil {
		return Outcome{State: Synced, RetryCount: retryCount}
	}
	if !store.IsRetryable(err) {
		return Outcome{State: DeadLetter, RetryCount: retryCount + 1}
	}
	next := retryCount + 1
	if next >= MaxRetries {
		return Outcome{State: DeadLetter, RetryCount: next}
	}
	return Outcome{State: Pending, RetryCount: next}
}
