package blob

import (
	"context"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/metrics"
	"github.com/gftdcojp/doc-tiering/internal/tier"
	"golang.org/x/time/rate"
)

// RateLimited wraps a tier.BlobStore with a token bucket shared by all
// operations, so concurrent pass workers stay under the provider's request
// quota. List takes one token per call, not per page.
type RateLimited struct {
	next    tier.BlobStore
	limiter *rate.Limiter
}

// NewRateLimited returns next unchanged when the configured rate is not positive.
func NewRateLimited(next tier.BlobStore, cfg config.RateLimitConfig) tier.BlobStore {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

func (r *RateLimited) wait(ctx context.Context, op string) error {
	start := time.Now()
	err := r.limiter.Wait(ctx)
	metrics.BlobRequestWait.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

func (r *RateLimited) List(ctx context.Context, t tier.Tier, fn func(tier.ObjectInfo) error) error {
	if err := r.wait(ctx, "list"); err != nil {
		return err
	}
	return r.next.List(ctx, t, fn)
}

func (r *RateLimited) Copy(ctx context.Context, from, to tier.Tier, key string) error {
	if err := r.wait(ctx, "copy"); err != nil {
		return err
	}
	return r.next.Copy(ctx, from, to, key)
}

func (r *RateLimited) CopyStatus(ctx context.Context, t tier.Tier, key string) (tier.CopyStatus, error) {
	if err := r.wait(ctx, "status"); err != nil {
		return tier.CopyNone, err
	}
	return r.next.CopyStatus(ctx, t, key)
}

func (r *RateLimited) Delete(ctx context.Context, t tier.Tier, key string) error {
	if err := r.wait(ctx, "delete"); err != nil {
		return err
	}
	return r.next.Delete(ctx, t, key)
}
