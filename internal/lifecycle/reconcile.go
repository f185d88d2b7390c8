package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/metrics"
	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

// ErrUnresolvedDuplicate is reported for a document held by several tiers
// when no copy can safely be identified as stale.
var ErrUnresolvedDuplicate = errors.New("document held by more than one tier")

// Reconcile reasons.
const (
	ReconcileFailedCopy  = "failed_copy"
	ReconcileStaleSource = "stale_source"
	ReconcileRedundant   = "redundant_copy"
)

type heldCopy struct {
	info   tier.ObjectInfo
	status tier.CopyStatus
}

// reconcile resolves a document listed in more than one tier. Such duplicates
// come from a move in flight, a failed copy, or a move whose source delete
// failed. Only copies that are provably redundant are deleted:
//
//   - any pending copy means a move is in flight; the document is skipped.
//   - failed copies are residue and are deleted.
//   - a copy whose tier the policy would move away from, into a tier holding
//     a verified copy that is at least as recent, is a stale source.
//   - otherwise, when exactly one copy is an original the policy keeps and
//     every other copy is a verified copy no newer than it, those copies are
//     redundant. This is a move whose source delete failed, after which the
//     document was accessed again.
//
// Anything left ambiguous is reported and left alone.
func (r *Runner) reconcile(ctx context.Context, log *zap.Logger, rep *Report, policy *tier.PolicyEngine, now time.Time, name string, copies []tier.ObjectInfo, st tier.AccessStat) {
	held := make([]heldCopy, 0, len(copies))
	for _, c := range copies {
		status, err := r.store.CopyStatus(ctx, c.Tier, name)
		switch {
		case types.IsNotFound(err):
			continue
		case err != nil:
			metrics.DocumentErrors.WithLabelValues("reconcile").Inc()
			rep.addError(name, "reconcile", fmt.Errorf("copy status in %s: %w", c.Tier, err))
			return
		case status == tier.CopyPending:
			r.skip(rep, name, SkipCopyPending)
			return
		}
		held = append(held, heldCopy{info: c, status: status})
	}

	// Drop failed copies, but never the last copy standing.
	kept := held[:0]
	for i, h := range held {
		if h.status == tier.CopyFailed && len(kept)+len(held)-i > 1 {
			if r.removeCopy(ctx, log, rep, name, h.info.Tier, ReconcileFailedCopy) {
				continue
			}
			return
		}
		kept = append(kept, h)
	}
	held = kept
	if len(held) <= 1 {
		return
	}

	decide := func(h heldCopy) tier.Decision {
		s := st
		s.Name = name
		s.CurrentTier = h.info.Tier
		return policy.Decide(documentFor(h.info, s), s, now)
	}

	var stale []tier.Tier
	reason := ReconcileStaleSource
	for _, h := range held {
		d := decide(h)
		if d.Action != tier.ActionMove {
			continue
		}
		for _, target := range held {
			if target.info.Tier == d.Target &&
				target.status == tier.CopySuccess &&
				!target.info.LastAccessedAt.Before(h.info.LastAccessedAt) {
				stale = append(stale, h.info.Tier)
				break
			}
		}
	}

	if len(stale) == 0 {
		stale = redundantCopies(held, decide)
		reason = ReconcileRedundant
	}

	if len(held)-len(stale) != 1 {
		tiers := make([]string, len(held))
		for i, h := range held {
			tiers[i] = h.info.Tier.String()
		}
		metrics.DocumentErrors.WithLabelValues("reconcile").Inc()
		rep.addError(name, "reconcile", fmt.Errorf("%w: %v", ErrUnresolvedDuplicate, tiers))
		log.Warn("unresolved duplicate document", zap.String("document", name), zap.Strings("tiers", tiers))
		return
	}

	for _, t := range stale {
		if !r.removeCopy(ctx, log, rep, name, t, reason) {
			return
		}
	}
	for _, h := range held {
		if !contains(stale, h.info.Tier) {
			r.observeTier(ctx, log, name, h.info.Tier, oldestAccess(held))
		}
	}
}

func (r *Runner) removeCopy(ctx context.Context, log *zap.Logger, rep *Report, name string, t tier.Tier, reason string) bool {
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.store.Delete(ctx, t, name)
	})
	if err != nil && !types.IsNotFound(err) {
		metrics.DocumentErrors.WithLabelValues("reconcile").Inc()
		rep.addError(name, "reconcile", fmt.Errorf("removing %s copy: %w", t, err))
		return false
	}
	metrics.ReconcileOps.WithLabelValues(reason).Inc()
	rep.addReconciled(ReconcileEntry{Name: name, Tier: t, Reason: reason})
	log.Info("duplicate copy removed",
		zap.String("document", name),
		zap.Stringer("tier", t),
		zap.String("reason", reason),
	)
	return true
}

func contains(tiers []tier.Tier, t tier.Tier) bool {
	for _, x := range tiers {
		if x == t {
			return true
		}
	}
	return false
}

// redundantCopies returns the tiers of verified copies left beside a single
// kept original, or nil when the copies do not have that shape.
func redundantCopies(held []heldCopy, decide func(heldCopy) tier.Decision) []tier.Tier {
	var original *heldCopy
	for i := range held {
		if held[i].status != tier.CopyNone {
			continue
		}
		if original != nil {
			return nil
		}
		original = &held[i]
	}
	if original == nil || decide(*original).Action != tier.ActionKeep {
		return nil
	}

	var out []tier.Tier
	for _, h := range held {
		if h.info.Tier == original.info.Tier {
			continue
		}
		if h.status != tier.CopySuccess || h.info.LastAccessedAt.After(original.info.LastAccessedAt) {
			return nil
		}
		out = append(out, h.info.Tier)
	}
	return out
}

// oldestAccess is the earliest listing access time among the copies.
func oldestAccess(held []heldCopy) time.Time {
	var oldest time.Time
	for _, h := range held {
		if at := h.info.LastAccessedAt; !at.IsZero() && (oldest.IsZero() || at.Before(oldest)) {
			oldest = at
		}
	}
	return oldest
}
