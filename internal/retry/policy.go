// Package retry defines the backoff policy applied between download attempts.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Mode selects how the delay grows between attempts.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeLinear      Mode = "linear"
	ModeExponential Mode = "exponential"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode        Mode          // fixed|linear|exponential
	Initial     time.Duration // delay before the first retry
	Max         time.Duration // cap for growth
	MaxAttempts int           // total attempts including the first one
}

// DefaultPolicy returns the default policy: 3 attempts, waiting 1s then 2s.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeExponential, Initial: time.Second, Max: 30 * time.Second, MaxAttempts: 3}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode Mode, initial, maxDuration time.Duration, maxAttempts int) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case ModeFixed, ModeLinear, ModeExponential:
		p.Mode = mode
	default:
		// unknown or empty -> keep default
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the wait after the failed attempt with the given index
// (0-based: the first attempt is 0). Exponential mode waits Initial*2^index.
func (p Policy) Delay(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case ModeFixed:
		d = p.Initial
	case ModeLinear:
		d = time.Duration(attemptIndex+1) * p.Initial
	default:
		if attemptIndex >= 62 {
			return p.Max
		}
		d = p.Initial * time.Duration(int64(1)<<attemptIndex)
	}
	if d > p.Max || d < 0 {
		return p.Max
	}
	return d
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("retry: initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("retry: max must be >0")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be at least 1")
	}
	return nil
}

// Sleep waits for d or until ctx is done.
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
