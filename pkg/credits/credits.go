// Package credits provides credit ledgers for metered tools: in-memory,
// SQLite, PostgreSQL and a remote HTTP ledger, plus an HTTP handler that
// serves any of them.
//
// Every ledger applies a given invocation id at most once, so settlement
// can be retried without double charging.
package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/toolgate/pkg/toolregistry"
)

var (
	// ErrUnknownCaller is returned for callers with no balance row. The
	// registry treats it as a zero balance.
	ErrUnknownCaller = toolregistry.ErrUnknownCaller
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrMissingInvocationID is returned by Deduct without an id to key on.
	ErrMissingInvocationID = errors.New("invocation id is required")
)

// Ledger is the contract every adapter satisfies.
type Ledger interface {
	CheckBalance(ctx context.Context, callerID string) (int64, error)
	Deduct(ctx context.Context, callerID string, amount int64, invocationID string) error
	TopUp(ctx context.Context, callerID string, amount int64) error
}

func checkDeduct(callerID string, amount int64, invocationID string) error {
	if callerID == "" {
		return fmt.Errorf("%w: empty caller id", ErrUnknownCaller)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if invocationID == "" {
		return ErrMissingInvocationID
	}
	return nil
}

func checkTopUp(callerID string, amount int64) error {
	if callerID == "" {
		return fmt.Errorf("%w: empty caller id", ErrUnknownCaller)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return nil
}

// Seed opens an account with the given balance for every caller the
// ledger does not know yet. Existing balances are left alone, so seeding
// on every start is safe for persistent ledgers.
func Seed(ctx context.Context, l Ledger, balances map[string]int64) error {
	for caller, amount := range balances {
		if amount == 0 {
			continue
		}
		_, err := l.CheckBalance(ctx, caller)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrUnknownCaller) {
			return fmt.Errorf("seed %s: %w", caller, err)
		}
		if err := l.TopUp(ctx, caller, amount); err != nil {
			return fmt.Errorf("seed %s: %w", caller, err)
		}
	}
	return nil
}
