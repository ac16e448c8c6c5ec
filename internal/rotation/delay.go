package rotation

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Delay draws inter-message pauses from a uniform range. A fixed seed makes
// the sequence reproducible; seed 0 seeds from the clock.
type Delay struct {
	enabled bool
	min     float64
	max     float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDelay creates a delay generator over [min, max] seconds. Swapped bounds
// are reordered rather than rejected.
func NewDelay(enabled bool, minSeconds, maxSeconds float64, seed int64) *Delay {
	if minSeconds > maxSeconds {
		minSeconds, maxSeconds = maxSeconds, minSeconds
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Delay{
		enabled: enabled,
		min:     minSeconds,
		max:     maxSeconds,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Seconds returns the next drawn delay, or 0 when disabled.
func (d *Delay) Seconds() float64 {
	if !d.enabled {
		return 0
	}
	if d.max <= d.min {
		return d.min
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.min + d.rng.Float64()*(d.max-d.min)
}

// Apply draws a delay and blocks for it, returning the seconds actually
// waited. Cancelling the context cuts the wait short.
func (d *Delay) Apply(ctx context.Context) float64 {
	seconds := d.Seconds()
	if seconds <= 0 {
		return 0
	}

	start := time.Now()
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return seconds
	case <-ctx.Done():
		return time.Since(start).Seconds()
	}
}
