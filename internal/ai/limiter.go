package ai

import (
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// principalLimiter enforces a per-principal requests-per-minute budget.
// Limiters are created on first use and kept for the process lifetime;
// the principal space is small (one entry per user).
type principalLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *xsync.Map[string, *rate.Limiter]
}

func newPrincipalLimiter(perMin int) *principalLimiter {
	if perMin <= 0 {
		perMin = 1
	}
	return &principalLimiter{
		limit:    rate.Limit(float64(perMin) / 60.0),
		burst:    perMin,
		limiters: xsync.NewMap[string, *rate.Limiter](),
	}
}

func (pl *principalLimiter) allow(principal string) bool {
	l, _ := pl.limiters.LoadOrCompute(principal, func() (*rate.Limiter, bool) {
		return rate.NewLimiter(pl.limit, pl.burst), false
	})
	return l.Allow()
}
