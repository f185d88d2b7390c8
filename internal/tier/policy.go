package tier

import (
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/types"
)

// Action is what the policy wants done with a document.
type Action int

const (
	ActionKeep Action = iota
	ActionMove
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionMove:
		return "move"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Decision reasons.
const (
	ReasonPromote          = "promote"
	ReasonRetentionExpired = "retention_expired"
	ReasonHotToCool        = "hot_to_cool"
	ReasonCoolToArchive    = "cool_to_archive"
	ReasonNoAccessTime     = "no_access_time"
)

// Decision is the outcome of evaluating one document. Target is only
// meaningful for ActionMove.
type Decision struct {
	Action Action
	Target Tier
	Reason string
}

// Keep reports whether the decision leaves the document alone.
func (d Decision) Keep() bool { return d.Action == ActionKeep }

// PolicyEngine evaluates tier transitions against a frozen threshold set.
type PolicyEngine struct {
	thresholds config.ThresholdsConfig
}

// NewPolicyEngine creates a policy engine. The thresholds are copied.
func NewPolicyEngine(th config.ThresholdsConfig) *PolicyEngine {
	return &PolicyEngine{thresholds: th}
}

// Thresholds returns the thresholds the engine was built with.
func (p *PolicyEngine) Thresholds() config.ThresholdsConfig {
	return p.thresholds
}

// Decide evaluates a document with the engine's thresholds.
func (p *PolicyEngine) Decide(doc DocumentRecord, stat AccessStat, now time.Time) Decision {
	return Decide(doc, stat, p.thresholds, now)
}

// Decide maps a document's current tier and access stats to a target.
// Rules are checked in a fixed order and the first match wins; promotion comes
// first so a document cannot be promoted and demoted in the same pass.
// Decide performs no I/O and never targets the document's current tier.
func Decide(doc DocumentRecord, stat AccessStat, th config.ThresholdsConfig, now time.Time) Decision {
	current := stat.CurrentTier
	days, known := daysSinceAccess(doc, stat, now)
	if !known {
		return Decision{Action: ActionKeep, Reason: ReasonNoAccessTime}
	}

	if stat.AccessCount > int64(th.PromoteAccessCountThreshold) &&
		days < th.PromoteRecencyDays &&
		current != TierHot {
		return Decision{Action: ActionMove, Target: TierHot, Reason: ReasonPromote}
	}

	switch current {
	case TierArchive:
		if days > th.MaxArchiveAgeDays {
			return Decision{Action: ActionDelete, Target: TierArchive, Reason: ReasonRetentionExpired}
		}
	case TierHot:
		if days > th.HotToCoolDays {
			return Decision{Action: ActionMove, Target: TierCool, Reason: ReasonHotToCool}
		}
	case TierCool:
		if days > th.CoolToArchiveDays {
			return Decision{Action: ActionMove, Target: TierArchive, Reason: ReasonCoolToArchive}
		}
	}

	return Decision{Action: ActionKeep}
}

// daysSinceAccess prefers the provider's figure and falls back to the
// listing's access time. Partial days are truncated.
func daysSinceAccess(doc DocumentRecord, stat AccessStat, now time.Time) (int, bool) {
	if stat.DaysSinceLastAccess != types.UnknownDays {
		return stat.DaysSinceLastAccess, true
	}
	if doc.LastAccessedAt.IsZero() {
		return 0, false
	}
	d := now.Sub(doc.LastAccessedAt)
	if d < 0 {
		return 0, true
	}
	return int(d / (24 * time.Hour)), true
}
