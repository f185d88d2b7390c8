package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/meta"
	"github.com/gftdcojp/doc-tiering/internal/metrics"
	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// History persists pass summaries.
type History interface {
	RecordPass(ctx context.Context, rec meta.PassRecord) error
}

// RunnerConfig holds dependencies for the pass runner.
type RunnerConfig struct {
	Store       tier.BlobStore
	Stats       tier.StatsProvider
	Thresholds  config.ThresholdsConfig
	Workers     int
	PassTimeout time.Duration
	Mover       *tier.Mover
	Retry       tier.RetryPolicy
	Observer    tier.Observer // optional
	History     History       // optional
	Logger      *zap.Logger
}

// Runner executes tiering passes: list every tier, load access stats, decide
// per document and carry out the moves and purges on a bounded worker pool.
type Runner struct {
	store       tier.BlobStore
	stats       tier.StatsProvider
	thresholds  atomic.Pointer[config.ThresholdsConfig]
	workers     int
	passTimeout time.Duration
	mover       *tier.Mover
	reaper      *Reaper
	retry       tier.RetryPolicy
	observer    tier.Observer
	history     History
	logger      *zap.Logger

	// documents with work in progress, shared by overlapping passes
	inflight sync.Map
}

// NewRunner creates a pass runner. Thresholds are validated on every pass, not here.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Mover == nil {
		cfg.Mover = tier.NewMover(tier.MoverConfig{Store: cfg.Store, Retry: cfg.Retry, Logger: cfg.Logger})
	}
	r := &Runner{
		store:       cfg.Store,
		stats:       cfg.Stats,
		workers:     cfg.Workers,
		passTimeout: cfg.PassTimeout,
		mover:       cfg.Mover,
		reaper:      NewReaper(cfg.Store, cfg.Retry, cfg.Logger),
		retry:       cfg.Retry,
		observer:    cfg.Observer,
		history:     cfg.History,
		logger:      cfg.Logger.Named("runner"),
	}
	th := cfg.Thresholds
	r.thresholds.Store(&th)
	return r
}

// Thresholds returns the thresholds the next pass will use.
func (r *Runner) Thresholds() config.ThresholdsConfig {
	return *r.thresholds.Load()
}

// SetThresholds validates and installs new thresholds. Passes already running
// keep the set they started with.
func (r *Runner) SetThresholds(th config.ThresholdsConfig) error {
	if err := th.Validate(); err != nil {
		return err
	}
	r.thresholds.Store(&th)
	r.logger.Info("thresholds updated",
		zap.Int("hot_to_cool_days", th.HotToCoolDays),
		zap.Int("cool_to_archive_days", th.CoolToArchiveDays),
		zap.Int("max_archive_age_days", th.MaxArchiveAgeDays),
		zap.Int("promote_access_count_threshold", th.PromoteAccessCountThreshold),
		zap.Int("promote_recency_days", th.PromoteRecencyDays),
	)
	return nil
}

// Run starts the periodic pass loop.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := r.RunPass(ctx, now, TriggerSchedule); err != nil && ctx.Err() == nil {
				r.logger.Error("tiering pass error", zap.Error(err))
			}
		}
	}
}

// RunTieringPass runs one pass evaluated at now.
func (r *Runner) RunTieringPass(ctx context.Context, now time.Time) (*Report, error) {
	return r.RunPass(ctx, now, TriggerManual)
}

// RunPass runs one pass and labels it with trigger.
//
// Invalid thresholds, a failed listing or unavailable stats abort the pass
// before any document is touched and return a nil report. Per-document
// failures never abort the pass; they are collected in the report. If ctx
// ends (or the pass timeout fires) no new work is dispatched, the report is
// marked interrupted and returned together with the context error.
func (r *Runner) RunPass(ctx context.Context, now time.Time, trigger string) (*Report, error) {
	th := *r.thresholds.Load()
	if err := th.Validate(); err != nil {
		metrics.PassesTotal.WithLabelValues(trigger, "failed").Inc()
		return nil, err
	}
	if r.store == nil || r.stats == nil {
		metrics.PassesTotal.WithLabelValues(trigger, "failed").Inc()
		return nil, fmt.Errorf("%w: runner needs a blob store and a stats provider", types.ErrConfiguration)
	}

	if r.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.passTimeout)
		defer cancel()
	}

	rep := &Report{
		ID:         uuid.NewString(),
		Trigger:    trigger,
		Now:        now,
		StartedAt:  time.Now(),
		Thresholds: th,
	}
	log := r.logger.With(zap.String("pass", rep.ID), zap.String("trigger", trigger))
	log.Info("tiering pass started")

	holdings, err := r.listAll(ctx)
	if err != nil {
		return nil, r.abort(ctx, rep, log, err)
	}
	names := make([]string, 0, len(holdings))
	for name := range holdings {
		names = append(names, name)
	}
	sort.Strings(names)

	stats, err := r.loadStats(ctx, names, now)
	if err != nil {
		return nil, r.abort(ctx, rep, log, err)
	}

	policy := tier.NewPolicyEngine(th)
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		name, copies, st := name, holdings[name], stats[name]
		g.Go(func() error {
			r.process(ctx, log, rep, policy, now, name, copies, st)
			return nil
		})
	}
	g.Wait()

	rep.FinishedAt = time.Now()
	passErr := ctx.Err()
	result := "ok"
	if passErr != nil {
		rep.Interrupted = true
		result = "interrupted"
	}
	metrics.PassesTotal.WithLabelValues(trigger, result).Inc()
	metrics.PassDuration.WithLabelValues(trigger).Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	metrics.LastPassTimestamp.Set(float64(rep.FinishedAt.Unix()))
	r.recordHistory(ctx, log, rep.Record(passErr))

	log.Info("tiering pass finished",
		zap.Int("documents", len(names)),
		zap.Int("moved", len(rep.Moved)),
		zap.Int("archived", len(rep.Archived)),
		zap.Int("deleted", len(rep.Deleted)),
		zap.Int("reconciled", len(rep.Reconciled)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("kept", rep.Kept),
		zap.Int("errors", len(rep.Errors)),
		zap.Bool("interrupted", rep.Interrupted),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, passErr
}

func (r *Runner) abort(ctx context.Context, rep *Report, log *zap.Logger, err error) error {
	rep.FinishedAt = time.Now()
	metrics.PassesTotal.WithLabelValues(rep.Trigger, "failed").Inc()
	r.recordHistory(ctx, log, rep.Record(err))
	log.Error("tiering pass aborted", zap.Error(err))
	return err
}

func (r *Runner) recordHistory(ctx context.Context, log *zap.Logger, rec meta.PassRecord) {
	if r.history == nil {
		return
	}
	if err := r.history.RecordPass(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("failed to record pass history", zap.Error(err))
	}
}

// listAll enumerates every tier. Each tier listing is retried as a whole.
func (r *Runner) listAll(ctx context.Context) (map[string][]tier.ObjectInfo, error) {
	holdings := make(map[string][]tier.ObjectInfo)
	for _, t := range types.AllTiers {
		var objs []tier.ObjectInfo
		err := r.retry.Do(ctx, func(ctx context.Context) error {
			objs = objs[:0]
			return r.store.List(ctx, t, func(o tier.ObjectInfo) error {
				o.Tier = t
				objs = append(objs, o)
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s tier: %w", types.ErrListing, t, err)
		}

		var bytes int64
		for _, o := range objs {
			holdings[o.Name] = append(holdings[o.Name], o)
			bytes += o.SizeBytes
		}
		metrics.TierDocumentCount.WithLabelValues(t.String()).Set(float64(len(objs)))
		metrics.TierBytes.WithLabelValues(t.String()).Set(float64(bytes))
	}
	return holdings, nil
}

// loadStats fetches access stats for every listed document. Documents the
// provider has never seen get a stat with unknown recency so the policy falls
// back to the listing's access time.
func (r *Runner) loadStats(ctx context.Context, names []string, now time.Time) (map[string]tier.AccessStat, error) {
	var mu sync.Mutex
	out := make(map[string]tier.AccessStat, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, name := range names {
		g.Go(func() error {
			var st tier.AccessStat
			err := r.retry.Do(gctx, func(ctx context.Context) error {
				var err error
				st, err = r.stats.GetStats(ctx, name, now)
				return err
			})
			switch {
			case errors.Is(err, types.ErrNoStats):
				st = tier.AccessStat{Name: name, DaysSinceLastAccess: types.UnknownDays}
			case err != nil:
				return fmt.Errorf("%w: %s: %w", types.ErrStatsUnavailable, name, err)
			}
			mu.Lock()
			out[name] = st
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// claim marks name as in progress. It fails if another pass holds it.
func (r *Runner) claim(name string) bool {
	_, loaded := r.inflight.LoadOrStore(name, struct{}{})
	return !loaded
}

func (r *Runner) release(name string) {
	r.inflight.Delete(name)
}

func (r *Runner) process(ctx context.Context, log *zap.Logger, rep *Report, policy *tier.PolicyEngine, now time.Time, name string, copies []tier.ObjectInfo, st tier.AccessStat) {
	// queued behind a full pool when the pass ended
	if ctx.Err() != nil {
		r.skip(rep, name, SkipInterrupted)
		return
	}
	if !r.claim(name) {
		r.skip(rep, name, SkipInFlight)
		return
	}
	defer r.release(name)

	if len(copies) > 1 {
		r.reconcile(ctx, log, rep, policy, now, name, copies, st)
		return
	}

	obj := copies[0]
	knownTier, hadStats := st.CurrentTier, st.DaysSinceLastAccess != types.UnknownDays || st.AccessCount > 0
	st.Name = name
	st.CurrentTier = obj.Tier
	doc := documentFor(obj, st)

	d := policy.Decide(doc, st, now)
	metrics.Decisions.WithLabelValues(obj.Tier.String(), d.Action.String()).Inc()

	switch d.Action {
	case tier.ActionKeep:
		rep.addKept()
		if hadStats && knownTier != obj.Tier {
			r.observeTier(ctx, log, name, obj.Tier, obj.LastAccessedAt)
		}

	case tier.ActionMove:
		r.move(ctx, log, rep, obj, d)

	case tier.ActionDelete:
		if err := r.reaper.Purge(ctx, name); err != nil {
			metrics.PurgeOps.WithLabelValues("error").Inc()
			metrics.DocumentErrors.WithLabelValues("purge").Inc()
			rep.addError(name, "purge", err)
			return
		}
		metrics.PurgeOps.WithLabelValues("deleted").Inc()
		rep.addDeleted(name)
		if r.observer != nil {
			if err := r.observer.Forget(context.WithoutCancel(ctx), name); err != nil {
				log.Warn("failed to forget purged document", zap.String("document", name), zap.Error(err))
			}
		}
	}
}

func (r *Runner) move(ctx context.Context, log *zap.Logger, rep *Report, obj tier.ObjectInfo, d tier.Decision) {
	name, from := obj.Name, obj.Tier
	op, err := r.mover.Move(ctx, name, from, d.Target)
	entry := MoveEntry{Name: name, From: from, To: d.Target, Reason: d.Reason}
	labels := []string{from.String(), d.Target.String()}

	var partial *tier.PartialMoveError
	switch {
	case err == nil:
		metrics.MoveOps.WithLabelValues(append(labels, "completed")...).Inc()
		metrics.MoveDuration.WithLabelValues(labels...).Observe(op.FinishedAt.Sub(op.StartedAt).Seconds())
		rep.addMove(entry)
		r.observeTier(ctx, log, name, d.Target, obj.LastAccessedAt)
		log.Info("document moved",
			zap.String("document", name),
			zap.Stringer("from", from),
			zap.Stringer("to", d.Target),
			zap.String("reason", d.Reason),
		)

	case errors.As(err, &partial):
		metrics.MoveOps.WithLabelValues(append(labels, "partial")...).Inc()
		metrics.DocumentErrors.WithLabelValues("delete_source").Inc()
		entry.Partial = true
		rep.addMove(entry)
		rep.addError(name, "delete_source", err)
		r.observeTier(ctx, log, name, d.Target, obj.LastAccessedAt)

	case errors.Is(err, types.ErrSourceMissing):
		metrics.MoveOps.WithLabelValues(append(labels, "skipped")...).Inc()
		r.skip(rep, name, SkipSourceMissing)

	case ctx.Err() != nil:
		metrics.MoveOps.WithLabelValues(append(labels, "interrupted")...).Inc()
		r.skip(rep, name, SkipInterrupted)

	default:
		metrics.MoveOps.WithLabelValues(append(labels, "failed")...).Inc()
		metrics.DocumentErrors.WithLabelValues("move").Inc()
		rep.addError(name, "move", err)
		log.Warn("document move failed",
			zap.String("document", name),
			zap.Stringer("from", from),
			zap.Stringer("to", d.Target),
			zap.Error(err),
		)
	}
}

func (r *Runner) skip(rep *Report, name, reason string) {
	metrics.SkippedDocuments.WithLabelValues(reason).Inc()
	rep.addSkip(name, reason)
}

// observeTier tells the observer where name now lives. accessedAt is the
// listing's access time before the move; backends that stamp copies with the
// copy time would otherwise make a moved document look freshly accessed.
func (r *Runner) observeTier(ctx context.Context, log *zap.Logger, name string, t tier.Tier, accessedAt time.Time) {
	if r.observer == nil {
		return
	}
	if err := r.observer.RecordTier(context.WithoutCancel(ctx), name, t, accessedAt); err != nil {
		log.Warn("failed to record document tier", zap.String("document", name), zap.Error(err))
	}
}

func documentFor(obj tier.ObjectInfo, st tier.AccessStat) tier.DocumentRecord {
	return tier.DocumentRecord{
		Name:           obj.Name,
		Tier:           obj.Tier,
		LastAccessedAt: obj.LastAccessedAt,
		AccessCount:    st.AccessCount,
		SizeBytes:      obj.SizeBytes,
	}
}
