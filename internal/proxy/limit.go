package proxy

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// acceptLimiter gates Accept on a concurrent connection cap and an accept
// rate. A nil limiter never blocks.
type acceptLimiter struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter
}

func newAcceptLimiter(maxConns int, perSecond float64, burst int) *acceptLimiter {
	if maxConns <= 0 && perSecond <= 0 {
		return nil
	}

	l := &acceptLimiter{}
	if maxConns > 0 {
		l.sem = semaphore.NewWeighted(int64(maxConns))
	}
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return l
}

// acquire blocks until another connection may be accepted. Each successful
// acquire must be paired with release.
func (l *acceptLimiter) acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			return err
		}
	}
	if l.sem != nil {
		return l.sem.Acquire(ctx, 1)
	}
	return nil
}

func (l *acceptLimiter) release() {
	if l == nil || l.sem == nil {
		return
	}
	l.sem.Release(1)
}
