package docket

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy is a reusable bounded-retry schedule. The portal flow repeats
// the same shape in several places (modal open, get-documents, overlay
// clicks) with different attempt counts and waits, so the schedule is
// parameterized per call site instead of duplicated.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// Wait is the pause between attempts.
	Wait time.Duration
	// Backoff, when > 1, multiplies Wait after each failed attempt.
	Backoff float64
	// MaxWait caps the grown wait; zero means uncapped.
	MaxWait time.Duration
}

// ErrRetriesExhausted wraps the last attempt error once the schedule runs
// out.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Do runs fn until it succeeds, the context is done, or the schedule is
// exhausted. Context cancellation always wins over the schedule so the run
// watchdog can interrupt a wait.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := p.Wait

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if errors.Is(last, context.Canceled) || errors.Is(last, context.DeadlineExceeded) {
			return last
		}
		if attempt == attempts {
			break
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
		if p.Backoff > 1 {
			wait = time.Duration(float64(wait) * p.Backoff)
			if p.MaxWait > 0 && wait > p.MaxWait {
				wait = p.MaxWait
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, last)
}

// Sleep blocks for d or until the context is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
