// Package ratelimit implements fixed-window request counting over a shared
// counter store.
package ratelimit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// ErrStoreUnavailable wraps counter store failures. Callers decide whether
// to fail open; the limiter itself never does.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// LimitedError rejects an attempt and carries the time until the window resets.
type LimitedError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit %q exceeded, retry after %s", e.Policy, e.RetryAfter)
}

// Policy names a throttled action and its budget.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// PinCreatePolicy is the default budget for anonymous pin creation.
func PinCreatePolicy() Policy {
	return Policy{Name: "pins:create", Limit: 10, Window: time.Hour}
}

// CounterStore atomically increments a counter, starting a window of the
// given length when the key is absent or expired.
type CounterStore interface {
	IncrementAndGet(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

// Decision describes an accepted attempt.
type Decision struct {
	Count     int64
	Remaining int
	ResetIn   time.Duration
}

// Limiter applies policies to client keys.
type Limiter struct {
	store CounterStore
}

// New builds a Limiter backed by store.
func New(store CounterStore) *Limiter {
	return &Limiter{store: store}
}

// Allow counts one attempt by client under policy. It returns *LimitedError
// when the attempt exceeds the budget, or an error wrapping
// ErrStoreUnavailable when the store fails.
func (l *Limiter) Allow(ctx context.Context, policy Policy, client string) (Decision, error) {
	count, remaining, err := l.store.IncrementAndGet(ctx, Key(policy.Name, client), policy.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if remaining <= 0 {
		remaining = policy.Window
	}
	if count > int64(policy.Limit) {
		return Decision{}, &LimitedError{Policy: policy.Name, RetryAfter: remaining}
	}
	return Decision{Count: count, Remaining: policy.Limit - int(count), ResetIn: remaining}, nil
}

// Key derives the counter key. Client identifiers are hashed so network
// addresses are not written to the shared store.
func Key(policy, client string) string {
	sum := blake3.Sum256([]byte(client))
	return "rl:" + policy + ":" + hex.EncodeToString(sum[:16])
}
