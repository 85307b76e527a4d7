package taskqueue

import (
	"math"
	"time"
)

const (
	minTokenWait = time.Millisecond
	maxTokenWait = time.Minute
)

// tokenBucket holds the rate-limit state of one queue.
// Invariant: 0 <= tokens <= burst.
type tokenBucket struct {
	tokens float64
	burst  float64
	rate   float64
	last   time.Time
}

func newTokenBucket(burst, rate float64, starting *float64, now time.Time) tokenBucket {
	if burst < 0 || math.IsNaN(burst) {
		burst = 0
	}
	tokens := burst
	if starting != nil {
		tokens = *starting
	}
	if math.IsNaN(tokens) || tokens < 0 {
		tokens = 0
	}
	if tokens > burst {
		tokens = burst
	}
	return tokenBucket{tokens: tokens, burst: burst, rate: rate, last: now}
}

// refill credits the tokens earned since the last refill.
func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now
	if b.rate <= 0 {
		return
	}
	b.tokens = math.Min(b.burst, b.tokens+elapsed.Seconds()*b.rate)
}

func (b *tokenBucket) spend(cost float64) bool {
	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

func (b *tokenBucket) refillAndSpend(now time.Time, cost float64) bool {
	b.refill(now)
	return b.spend(cost)
}

// wait estimates how long until cost becomes affordable.
func (b *tokenBucket) wait(cost float64) time.Duration {
	if b.rate <= 0 {
		return maxTokenWait
	}
	needed := math.Max(cost-b.tokens, 0)
	ms := math.Ceil(1000 * needed / b.rate)
	if ms >= float64(maxTokenWait/time.Millisecond) {
		return maxTokenWait
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minTokenWait {
		d = minTokenWait
	}
	return d
}
