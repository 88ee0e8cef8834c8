// Copyright 2024 The emerald Authors

package engineapi

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/emerald-chain/emerald/internal/shimerr"
)

// RetryPolicy bounds how hard the client tries before giving up on a
// transport error, and how it waits out a SYNCING response, per spec.md
// §4.1 ("Retry/timeout policy").
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	TotalBudget    time.Duration

	SyncInitialDelay time.Duration
	SyncTimeout      time.Duration
}

// DefaultRetryPolicy mirrors the teacher's conservative defaults for a
// 2-second block time chain.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		TotalBudget:      10 * time.Second,
		SyncInitialDelay: 100 * time.Millisecond,
		SyncTimeout:      5 * time.Second,
	}
}

// withTransportRetry retries fn while it returns a transient transport
// error, backing off exponentially up to MaxBackoff, within TotalBudget.
// A correlation id ties every attempt's log line to one logical call, the
// way the teacher's RPC client logs a single call but at finer grain.
func withTransportRetry[T any](ctx context.Context, policy RetryPolicy, callName string, fn func(context.Context) (T, error)) (T, error) {
	callID := uuid.NewString()[:8]
	deadline := time.Now().Add(policy.TotalBudget)
	backoff := policy.InitialBackoff

	var zero T
	attempt := 0
	for {
		attempt++
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if time.Now().After(deadline) {
			return zero, shimerr.Errorf(shimerr.KindTransient, "engine-retry-budget-exhausted",
				"%s: retry budget exhausted after %d attempts (call=%s): %w", callName, attempt, callID, err)
		}

		log.Debug("Engine API call failed, retrying", "call", callName, "attempt", attempt, "id", callID, "err", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
}

// awaitTerminalStatus polls fn until it returns a terminal PayloadStatus
// (VALID/INVALID/ACCEPTED), sleeping SyncInitialDelay between SYNCING
// responses, bounded by SyncTimeout across all retries (spec.md §4.1,
// §4.6, end-to-end scenario 5).
func awaitTerminalStatus(ctx context.Context, policy RetryPolicy, callName string, fn func(context.Context) (PayloadStatus, error)) (PayloadStatus, error) {
	callID := uuid.NewString()[:8]
	deadline := time.Now().Add(policy.SyncTimeout)

	attempt := 0
	for {
		attempt++
		status, err := fn(ctx)
		if err != nil {
			return PayloadStatus{}, err
		}
		if status.Status.IsTerminal() {
			return status, nil
		}

		if time.Now().After(deadline) {
			return PayloadStatus{}, shimerr.Errorf(shimerr.KindTransient, "engine-syncing-timeout",
				"%s: execution client still SYNCING after %d attempts (call=%s)", callName, attempt, callID)
		}

		log.Debug("Execution client SYNCING, retrying", "call", callName, "attempt", attempt, "id", callID)

		select {
		case <-ctx.Done():
			return PayloadStatus{}, ctx.Err()
		case <-time.After(policy.SyncInitialDelay):
		}
	}
}
