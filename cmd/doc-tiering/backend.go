package main

import (
	"context"
	"fmt"

	"github.com/gftdcojp/doc-tiering/internal/blob"
	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/file"
	"github.com/gftdcojp/doc-tiering/internal/memory"
	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"github.com/gftdcojp/doc-tiering/pkg/s3util"
	"go.uber.org/zap"
)

// backend is the configured BlobStore, rate limited, plus the S3 client when
// there is one (for readiness checks).
type backend struct {
	store tier.BlobStore
	s3    *s3util.Client
	close func() error
}

func (b *backend) Close() {
	if b.close != nil {
		b.close()
	}
}

func newBackend(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*backend, error) {
	var be backend
	switch cfg.Backend {
	case config.BackendS3:
		buckets := make([]string, 0, len(types.AllTiers))
		for _, t := range types.AllTiers {
			buckets = append(buckets, cfg.Location(t).Bucket)
		}
		client, err := s3util.NewClient(ctx, cfg.S3, buckets...)
		if err != nil {
			return nil, fmt.Errorf("creating S3 client: %w", err)
		}
		be.s3 = client
		be.store = blob.NewStore(client.S3, cfg, logger)

	case config.BackendFile:
		store, err := file.NewStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		be.store, be.close = store, store.Close

	case config.BackendMemory:
		logger.Warn("using the in-memory backend; documents do not survive a restart")
		store := memory.NewStore(logger.Named("memory"))
		be.store, be.close = store, store.Close

	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", types.ErrConfiguration, cfg.Backend)
	}

	be.store = blob.NewRateLimited(be.store, cfg.RateLimit)
	return &be, nil
}
