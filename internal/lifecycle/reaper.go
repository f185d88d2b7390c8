package lifecycle

import (
	"context"
	"fmt"

	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

// Reaper permanently deletes archive documents past their retention age.
type Reaper struct {
	store  tier.BlobStore
	retry  tier.RetryPolicy
	logger *zap.Logger
}

// NewReaper creates a reaper.
func NewReaper(store tier.BlobStore, retry tier.RetryPolicy, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{store: store, retry: retry, logger: logger.Named("reaper")}
}

// Purge deletes name from the archive tier. A document that is already gone
// counts as purged, so overlapping or repeated passes are harmless.
func (r *Reaper) Purge(ctx context.Context, name string) error {
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.store.Delete(ctx, tier.TierArchive, name)
	})
	switch {
	case err == nil:
		r.logger.Info("document purged", zap.String("document", name))
		return nil
	case types.IsNotFound(err):
		r.logger.Debug("document already purged", zap.String("document", name))
		return nil
	default:
		return fmt.Errorf("purging %s: %w", name, err)
	}
}
