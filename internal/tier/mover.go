package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

// PartialMoveError reports a move whose copy was verified but whose source
// could not be deleted. The document is duplicated, not lost.
type PartialMoveError struct {
	DocumentName string
	Source       Tier
	Target       Tier
	Err          error
}

func (e *PartialMoveError) Error() string {
	return fmt.Sprintf("moving %s from %s to %s: %v: %v",
		e.DocumentName, e.Source, e.Target, types.ErrSourceDeleteFailed, e.Err)
}

func (e *PartialMoveError) Unwrap() []error {
	return []error{types.ErrSourceDeleteFailed, e.Err}
}

// MoverConfig holds dependencies for the object mover.
type MoverConfig struct {
	Store         BlobStore
	PollInterval  time.Duration
	VerifyTimeout time.Duration
	MaxPollErrors int
	Retry         RetryPolicy
	Logger        *zap.Logger
}

// MoverConfigFrom fills the timing fields from the YAML mover block.
func MoverConfigFrom(store BlobStore, c config.MoverConfig, logger *zap.Logger) MoverConfig {
	return MoverConfig{
		Store:         store,
		PollInterval:  c.PollInterval.Duration(),
		VerifyTimeout: c.VerifyTimeout.Duration(),
		MaxPollErrors: c.MaxPollErrors,
		Retry:         RetryPolicyFromConfig(c.Retry),
		Logger:        logger,
	}
}

// Mover carries out single tier transitions: copy, verify, then delete the
// source. The source is only deleted after the target copy reports success.
type Mover struct {
	store         BlobStore
	pollInterval  time.Duration
	verifyTimeout time.Duration
	maxPollErrors int
	retry         RetryPolicy
	logger        *zap.Logger
}

// NewMover creates a mover.
func NewMover(cfg MoverConfig) *Mover {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Mover{
		store:         cfg.Store,
		pollInterval:  cfg.PollInterval,
		verifyTimeout: cfg.VerifyTimeout,
		maxPollErrors: cfg.MaxPollErrors,
		retry:         cfg.Retry,
		logger:        cfg.Logger.Named("mover"),
	}
}

// Move transitions name from one tier to another. The returned operation
// reflects how far the move got, also on error.
//
// A missing source yields ErrSourceMissing. Copy failure, verification timeout
// and repeated poll errors leave the source untouched and remove the partial
// target. A failed source delete after a verified copy yields
// *PartialMoveError. If ctx ends mid-move the source is left intact.
func (m *Mover) Move(ctx context.Context, name string, from, to Tier) (*MoveOperation, error) {
	op := &MoveOperation{
		DocumentName: name,
		Source:       from,
		Target:       to,
		Status:       MovePending,
		StartedAt:    time.Now(),
	}
	fail := func(err error) (*MoveOperation, error) {
		op.Status = MoveFailed
		op.FinishedAt = time.Now()
		return op, err
	}

	if from == to || !from.Valid() || !to.Valid() {
		return fail(fmt.Errorf("%w: invalid move %s -> %s", types.ErrPermanent, from, to))
	}

	err := m.retry.Do(ctx, func(ctx context.Context) error {
		return m.store.Copy(ctx, from, to, name)
	})
	if err != nil {
		if types.IsNotFound(err) {
			return fail(fmt.Errorf("%w: %s in %s", types.ErrSourceMissing, name, from))
		}
		return fail(fmt.Errorf("copying %s from %s to %s: %w", name, from, to, err))
	}
	op.Status = MoveCopyInFlight

	if err := m.verify(ctx, name, to); err != nil {
		if ctx.Err() == nil {
			m.discardTarget(ctx, name, to)
		}
		return fail(err)
	}
	op.Status = MoveVerified

	err = m.retry.Do(ctx, func(ctx context.Context) error {
		return m.store.Delete(ctx, from, name)
	})
	if err != nil && !types.IsNotFound(err) {
		op.FinishedAt = time.Now()
		m.logger.Warn("source delete failed after verified copy",
			zap.String("document", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Error(err),
		)
		return op, &PartialMoveError{DocumentName: name, Source: from, Target: to, Err: err}
	}

	op.Status = MoveCompleted
	op.FinishedAt = time.Now()
	m.logger.Debug("document moved",
		zap.String("document", name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Duration("took", op.FinishedAt.Sub(op.StartedAt)),
	)
	return op, nil
}

// verify polls the target's copy status until it is terminal. A target that
// is not visible yet, or not yet marked, counts as pending.
func (m *Mover) verify(ctx context.Context, name string, t Tier) error {
	timeout := time.NewTimer(m.verifyTimeout)
	defer timeout.Stop()
	poll := time.NewTicker(m.pollInterval)
	defer poll.Stop()

	pollErrs := 0
	for {
		status, err := m.store.CopyStatus(ctx, t, name)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil && types.IsNotFound(err):
		case err != nil:
			pollErrs++
			if !types.IsRetryable(err) || pollErrs > m.maxPollErrors {
				return fmt.Errorf("%w: %s in %s after %d poll errors: %w",
					types.ErrVerifyFailed, name, t, pollErrs, err)
			}
			m.logger.Debug("copy status poll failed",
				zap.String("document", name), zap.Int("errors", pollErrs), zap.Error(err))
		case status == CopySuccess:
			return nil
		case status == CopyFailed:
			return fmt.Errorf("%w: %s into %s", types.ErrCopyFailed, name, t)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("%w: %s into %s after %s", types.ErrCopyTimeout, name, t, m.verifyTimeout)
		case <-poll.C:
		}
	}
}

func (m *Mover) discardTarget(ctx context.Context, name string, t Tier) {
	err := m.store.Delete(ctx, t, name)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		m.logger.Warn("failed to remove partial copy",
			zap.String("document", name), zap.Stringer("tier", t), zap.Error(err))
	}
}
