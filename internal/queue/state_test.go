package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/taduranmiggy/loveyou/internal/store"
)

// TestTransition tests the state machine for every attempt outcome
func TestTransition(t *testing.T) {
	retryable := fmt.Errorf("wrapped: %w", store.ErrUnavailable)
	fatal := fmt.Errorf("wrapped: %w", store.ErrInvalidInput)

	tests := []struct {
		name       string
		retryCount int
		err        error
		wantState  State
		wantRetry  int
	}{
		{"success first try", 0, nil, Synced, 0},
		{"success after retries", 2, nil, Synced, 2},
		{"retryable first failure", 0, retryable, Pending, 1},
		{"retryable second failure", 1, retryable, Pending, 2},
		{"retryable hits cap", 2, retryable, DeadLetter, 3},
		{"retryable past cap", 5, retryable, DeadLetter, 6},
		{"non-retryable dead-letters immediately", 0, fatal, DeadLetter, 1},
		{"plain error is non-retryable", 0, errors.New("boom"), DeadLetter, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transition(tt.retryCount, tt.err)
			if got.State != tt.wantState {
				t.Errorf("State = %s, want %s", got.State, tt.wantState)
			}
			if got.RetryCount != tt.wantRetry {
				t.Errorf("RetryCount = %d, want %d", got.RetryCount, tt.wantRetry)
			}
		})
	}
}
