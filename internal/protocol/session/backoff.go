package session

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

var ErrInvalidBackoff = errors.New("session: invalid backoff")

// Validate rejects schedules whose delay is unbounded or non-positive.
func (b BackoffConfig) Validate() error {
	if b.InitialDelay <= 0 {
		return fmt.Errorf("%w: initial delay %s", ErrInvalidBackoff, b.InitialDelay)
	}
	if b.MaxDelay <= 0 {
		return fmt.Errorf("%w: max delay %s", ErrInvalidBackoff, b.MaxDelay)
	}
	if b.MaxDelay < b.InitialDelay {
		return fmt.Errorf("%w: max delay %s below initial delay %s", ErrInvalidBackoff, b.MaxDelay, b.InitialDelay)
	}
	if b.Multiplier < 1 {
		return fmt.Errorf("%w: multiplier %v", ErrInvalidBackoff, b.Multiplier)
	}
	return nil
}

// NextBackoffDelay returns the retry delay for attempt N (1-based):
// min(MaxDelay, InitialDelay * Multiplier^(N-1)), scaled into [0.5, 1.5) of
// that when Jitter is set. The result never exceeds MaxDelay.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	limit := cfg.MaxDelay
	if limit <= 0 {
		limit = maxBackoffDelay
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	attempt = max(attempt, 1)
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = min(delay, float64(limit)) * f
	}
	// Clamp before converting; the float can exceed the int64 range.
	if math.IsNaN(delay) || delay > float64(limit) {
		return limit
	}
	return time.Duration(delay)
}

// maxBackoffDelay caps schedules built without a MaxDelay.
const maxBackoffDelay = time.Hour

// Backoff counts consecutive failures and yields the next delay.
type Backoff struct {
	cfg BackoffConfig
	rng *rand.Rand

	mu      sync.Mutex
	attempt int
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next records one more failure and returns its delay and attempt number.
func (b *Backoff) Next() (time.Duration, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt++
	return NextBackoffDelay(b.cfg, b.attempt, b.rng), b.attempt
}

func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}
