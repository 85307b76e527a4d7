package logx

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

type sampler struct {
	lim     *rate.Limiter
	dropped atomic.Int64
}

// allow reports whether a line may be written and, if so, how many lines were
// dropped since the last one that was.
func (s *sampler) allow() (int64, bool) {
	if !s.lim.Allow() {
		s.dropped.Add(1)
		return 0, false
	}
	return s.dropped.Swap(0), true
}

// Sampled returns a logger that writes at most perSec lines per second
// (bursting to the same amount) and drops the rest. The next line written
// after a drop carries a "suppressed" count.
//
// Loggers derived from the result with With share its budget.
func Sampled(l Logger, perSec float64) Logger {
	if perSec <= 0 {
		perSec = 1
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	cp := l
	cp.sampler = &sampler{lim: rate.NewLimiter(rate.Limit(perSec), burst)}
	return cp
}
