package rrt

import (
	"fmt"
	"math"
	"time"

	"github.com/juju/errors"
)

// RestartPolicy bounds how often a worker is recreated after requesting a
// restart, and how long the loop waits between attempts.
//
// Zero durations and a zero multiplier mean "unset": no delay, constant delay
// and unbounded growth respectively.
type RestartPolicy struct {
	// MaxRestarts is the number of consecutive Factory failures tolerated.
	// Any successful recreation resets the count.
	MaxRestarts uint32

	// InitialDelay is waited before the first recreation attempt
	InitialDelay time.Duration

	// BackoffMultiplier grows the delay after each failed attempt. Must be > 1 when set.
	BackoffMultiplier float64

	// MaxDelay caps the grown delay
	MaxDelay time.Duration
}

// NoRestarts is the policy applied to workers that do not declare one
func NoRestarts() RestartPolicy {
	return RestartPolicy{}
}

// ExponentialPolicy is a convenience constructor mirroring the common
// "double up to a cap" shape.
//
// Example: ExponentialPolicy(5, 10*time.Millisecond, 2, time.Second)
//   - 1st attempt: 10ms
//   - 2nd attempt: 20ms
//   - 3rd attempt: 40ms
//   - ... capped at 1s
func ExponentialPolicy(maxRestarts uint32, initial time.Duration, multiplier float64, max time.Duration) RestartPolicy {
	return RestartPolicy{
		MaxRestarts:       maxRestarts,
		InitialDelay:      initial,
		BackoffMultiplier: multiplier,
		MaxDelay:          max,
	}
}

// ConstantPolicy retries with a fixed delay between attempts
func ConstantPolicy(maxRestarts uint32, delay time.Duration) RestartPolicy {
	return RestartPolicy{
		MaxRestarts:  maxRestarts,
		InitialDelay: delay,
	}
}

// Validate reports whether the policy is internally consistent
func (p RestartPolicy) Validate() error {
	if p.BackoffMultiplier != 0 && !(p.BackoffMultiplier > 1.0) {
		return errors.Annotatef(ErrInvalidPolicy, "backoff multiplier %v must be > 1", p.BackoffMultiplier)
	}
	if math.IsInf(p.BackoffMultiplier, 0) || math.IsNaN(p.BackoffMultiplier) {
		return errors.Annotatef(ErrInvalidPolicy, "backoff multiplier %v is not finite", p.BackoffMultiplier)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return errors.Annotate(ErrInvalidPolicy, "delays must not be negative")
	}
	return nil
}

func (p RestartPolicy) String() string {
	return fmt.Sprintf("RestartPolicy{max=%d initial=%v mult=%v cap=%v}",
		p.MaxRestarts, p.InitialDelay, p.BackoffMultiplier, p.MaxDelay)
}

// Backoff returns an iterator over the policy's delay sequence
func (p RestartPolicy) Backoff() *Backoff {
	return &Backoff{policy: p, current: p.InitialDelay}
}

// Backoff yields delay₁ = initial, delayᵢ₊₁ = min(delayᵢ·multiplier, max)
type Backoff struct {
	policy  RestartPolicy
	current time.Duration
}

// Current returns the delay to wait before the next attempt without advancing
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Next returns the current delay and advances to the following one
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.advance()
	return d
}

// Reset rewinds to the initial delay
func (b *Backoff) Reset() {
	b.current = b.policy.InitialDelay
}

func (b *Backoff) advance() {
	m := b.policy.BackoffMultiplier
	if m == 0 || b.current == 0 {
		return
	}

	// Saturate before converting; float64 → Duration overflows silently
	grown := time.Duration(math.MaxInt64)
	if next := float64(b.current) * m; next < math.MaxInt64 {
		grown = time.Duration(next)
	}

	if b.policy.MaxDelay > 0 && grown > b.policy.MaxDelay {
		grown = b.policy.MaxDelay
	}
	b.current = grown
}
