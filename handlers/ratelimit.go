package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/time/rate"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// ErrRateLimited is the abort error of a "rate_limit" handler in abort mode.
var ErrRateLimited = errors.New("rate limit exceeded")

const limiterIdleTTL = 10 * time.Minute

// NewRateLimitFactory returns a Factory for "rate_limit" handlers, which
// throttle dispatches with a token bucket. Config:
//
//	rate    events per second (required, > 0)
//	burst   bucket size, defaults to max(1, rate)
//	mode    "abort" (default) aborts the dispatch when no token is
//	        available; "wait" blocks until one is, or the dispatch is
//	        cancelled
//	key     optional expression selecting a separate bucket per value
func NewRateLimitFactory() Factory {
	return func(id string, cfg map[string]any, deps Deps) (pipeline.HandlerFunc, error) {
		perSecond, err := configFloat(cfg, "rate", 0)
		if err != nil {
			return nil, fmt.Errorf("rate_limit handler %q: %w", id, err)
		}
		if perSecond <= 0 {
			return nil, fmt.Errorf("rate_limit handler %q: 'rate' must be positive", id)
		}
		burst, err := configFloat(cfg, "burst", max(1, perSecond))
		if err != nil {
			return nil, fmt.Errorf("rate_limit handler %q: %w", id, err)
		}

		mode := configString(cfg, "mode")
		switch mode {
		case "":
			mode = "abort"
		case "abort", "wait":
		default:
			return nil, fmt.Errorf("rate_limit handler %q: unknown mode %q", id, mode)
		}

		var keyProgram *vm.Program
		if src := configString(cfg, "key"); src != "" {
			if keyProgram, err = compileExpr(src); err != nil {
				return nil, fmt.Errorf("rate_limit handler %q: key: %w", id, err)
			}
		}

		buckets := newLimiterSet(rate.Limit(perSecond), int(burst))
		logger := deps.logger()

		return func(ctx context.Context, payload any, c pipeline.Controller) (any, error) {
			key := ""
			if keyProgram != nil {
				out, err := expr.Run(keyProgram, exprEnv(payload, nil))
				if err != nil {
					return nil, fmt.Errorf("rate_limit handler %q: key: %w", id, err)
				}
				key = fmt.Sprint(out)
			}
			limiter := buckets.get(key)

			if mode == "wait" {
				if err := limiter.Wait(ctx); err != nil {
					return nil, fmt.Errorf("rate_limit handler %q: %w", id, err)
				}
				return nil, nil
			}
			if !limiter.Allow() {
				logger.Info("Rate limit exceeded", "action", c.ActionName(), "handler", id, "key", key)
				c.Abort(ErrRateLimited.Error(), ErrRateLimited)
			}
			return nil, nil
		}, nil
	}
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per key. Buckets idle for longer than
// limiterIdleTTL are evicted on access.
type limiterSet struct {
	mu        sync.Mutex
	limiters  map[string]*keyedLimiter
	r         rate.Limit
	b         int
	lastSweep time.Time
}

func newLimiterSet(r rate.Limit, b int) *limiterSet {
	return &limiterSet{limiters: make(map[string]*keyedLimiter), r: r, b: b, lastSweep: time.Now()}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastSweep) > limiterIdleTTL {
		for k, l := range s.limiters {
			if now.Sub(l.lastSeen) > limiterIdleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	l, ok := s.limiters[key]
	if !ok {
		l = &keyedLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter
}
