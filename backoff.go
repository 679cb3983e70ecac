package flow

import (
	"math/rand"
	"sync"
	"time"
)

const (
	defaultBackoffBase = 200 * time.Millisecond
	defaultBackoffCap  = 5 * time.Second
)

// BackoffPolicy computes the delay before a retry attempt.
//
// The growth is exponential: base * 2^(attempt-1), capped at Cap.
// With Jitter enabled the returned delay is drawn uniformly from
// [0, computed] (full jitter), which spreads retries out when many
// jobs fail at the same time.
type BackoffPolicy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Cap bounds the computed delay.
	Cap time.Duration

	// Jitter enables full-jitter randomization.
	Jitter bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoffPolicy returns a policy seeded for jitter. Zero Base or Cap
// fall back to the package defaults.
func NewBackoffPolicy(base, cap time.Duration, jitter bool) *BackoffPolicy {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	return &BackoffPolicy{
		Base:   base,
		Cap:    cap,
		Jitter: jitter,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the backoff duration before retry number attempt.
//
// Attempt numbering starts at 1 for the first retry; the initial try is
// never delayed and must not be passed here. attempt <= 0 is a contract
// violation and returns ErrInvalidArgument.
func (b *BackoffPolicy) Delay(attempt int) (time.Duration, error) {
	if attempt <= 0 {
		return 0, invalidf("backoff attempt must be >= 1, got %d", attempt)
	}

	d := b.Base
	if d <= 0 {
		d = defaultBackoffBase
	}
	max := b.Cap
	if max <= 0 {
		max = defaultBackoffCap
	}

	// Shift with overflow guard; anything past the cap clamps anyway.
	for i := 1; i < attempt; i++ {
		if d >= max {
			break
		}
		d <<= 1
	}
	if d > max {
		d = max
	}

	if b.Jitter && d > 0 {
		b.mu.Lock()
		if b.rng == nil {
			b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		d = time.Duration(b.rng.Int63n(int64(d) + 1))
		b.mu.Unlock()
	}
	return d, nil
}
