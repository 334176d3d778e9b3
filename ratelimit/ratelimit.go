// Package ratelimit provides per-platform request governors.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
	"golang.org/x/time/rate"
)

// Registry owns one token bucket per platform. Sites differ in tolerance, so
// each budget is configured independently. The buckets are the only mutable
// state and are safe for fully concurrent use.
type Registry struct {
	mu       sync.RWMutex
	limiters map[models.Platform]*rate.Limiter
}

// NewRegistry builds limiters from each platform's requests-per-window budget.
func NewRegistry(cfg *config.Config) *Registry {
	limiters := make(map[models.Platform]*rate.Limiter, len(cfg.Platforms))
	for platform, pc := range cfg.Platforms {
		limiters[platform] = newLimiter(pc)
	}
	return &Registry{limiters: limiters}
}

func newLimiter(pc *config.PlatformConfig) *rate.Limiter {
	perSecond := float64(pc.RequestsPerWindow) / pc.Window.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), pc.RequestsPerWindow)
}

// Acquire reserves one request slot for the platform. It returns zero when a
// token is immediately available, otherwise the duration the caller must wait
// before issuing the request. The reservation is committed either way; callers
// that abandon instead of waiting call the returned cancel func.
func (r *Registry) Acquire(platform models.Platform) (time.Duration, func(), error) {
	limiter, err := r.limiter(platform)
	if err != nil {
		return 0, nil, err
	}
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return 0, nil, fmt.Errorf("rate budget for %s cannot satisfy a single request", platform)
	}
	return reservation.Delay(), reservation.Cancel, nil
}

// Wait blocks until the platform grants a slot or ctx is done.
func (r *Registry) Wait(ctx context.Context, platform models.Platform) error {
	limiter, err := r.limiter(platform)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

func (r *Registry) limiter(platform models.Platform) (*rate.Limiter, error) {
	r.mu.RLock()
	limiter, ok := r.limiters[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no rate limiter configured for platform %s", platform)
	}
	return limiter, nil
}

// Update replaces a platform's budget at runtime.
func (r *Registry) Update(platform models.Platform, pc *config.PlatformConfig) {
	r.mu.Lock()
	r.limiters[platform] = newLimiter(pc)
	r.mu.Unlock()
}
