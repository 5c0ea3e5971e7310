package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// hostGuard rate-limits and circuit-breaks outbound requests per upstream
// host. Limiters and breakers are created lazily on first use.
type hostGuard struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
	rps      float64
	burst    int
}

func newHostGuard(rps float64, burst int) *hostGuard {
	if burst < 1 {
		burst = 1
	}
	return &hostGuard{
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		rps:      rps,
		burst:    burst,
	}
}

func (g *hostGuard) limiter(host string) *rate.Limiter {
	g.mu.RLock()
	l, ok := g.limiters[host]
	g.mu.RUnlock()
	if ok {
		return l
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.limiters[host]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(g.rps), g.burst)
	g.limiters[host] = l
	return l
}

func (g *hostGuard) breaker(host string) *gobreaker.CircuitBreaker {
	g.mu.RLock()
	b, ok := g.breakers[host]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[host]; ok {
		return b
	}
	b = gobreaker.NewCircuitBreaker(breakerSettings(host))
	g.breakers[host] = b
	return b
}

// breakerSettings trips after three consecutive failures, or when more than
// 5% of at least 20 requests in the interval failed. A 404 is an answer, not
// a failure.
func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
	}
}

// Do waits for a rate-limit token and runs fn through the host's breaker.
func (g *hostGuard) Do(ctx context.Context, host string, fn func() error) error {
	if err := g.limiter(host).Wait(ctx); err != nil {
		return err
	}
	_, err := g.breaker(host).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State reports the breaker state for host, closed when never used.
func (g *hostGuard) State(host string) gobreaker.State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if b, ok := g.breakers[host]; ok {
		return b.State()
	}
	return gobreaker.StateClosed
}
