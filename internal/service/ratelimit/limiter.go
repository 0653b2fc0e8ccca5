// Package ratelimit holds per-client token buckets for the HTTP API.
package ratelimit

import (
	"sync"
	"time"

	xhttp "NeuralRoulette/pkg/http"

	"github.com/labstack/echo/v4"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a set of token buckets sharing one capacity and refill rate.
type Limiter struct {
	mu       sync.Mutex
	m        map[string]*bucket
	capacity float64
	rate     float64 // tokens per second
	idle     time.Duration
	now      func() time.Time
	sweeps   int
}

// New creates a limiter allowing burst requests at once and rps afterwards.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		m:        make(map[string]*bucket),
		capacity: float64(burst),
		rate:     rps,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.rate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}

	l.sweeps++
	if l.sweeps >= 1024 {
		l.sweeps = 0
		l.sweep(now)
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// sweep forgets buckets idle long enough to be full again.
func (l *Limiter) sweep(now time.Time) {
	for k, b := range l.m {
		if now.Sub(b.last) > l.idle {
			delete(l.m, k)
		}
	}
}

// Middleware rejects requests over the limit with 429, keyed by client IP
// and route.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP() + ":" + c.Path()) {
				c.Response().Header().Set("Retry-After", "1")
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited"))
			}
			return next(c)
		}
	}
}
