package tier

import (
	"context"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/types"
)

// Re-export types for convenience.
type Tier = types.Tier
type ObjectInfo = types.ObjectInfo
type DocumentRecord = types.DocumentRecord
type AccessStat = types.AccessStat
type CopyStatus = types.CopyStatus

// Re-export constants.
const (
	TierHot     = types.TierHot
	TierCool    = types.TierCool
	TierArchive = types.TierArchive

	CopyNone    = types.CopyNone
	CopyPending = types.CopyPending
	CopySuccess = types.CopySuccess
	CopyFailed  = types.CopyFailed
)

// BlobStore is the object storage capability the engine drives. Each tier is
// a separate container; a document keeps its key across containers.
type BlobStore interface {
	// List calls fn for every object in the tier. Iteration stops at the first
	// error returned by fn. Each call starts a fresh listing.
	List(ctx context.Context, t Tier, fn func(ObjectInfo) error) error
	// Copy starts copying key from one tier's container to another's.
	// It returns types.ErrNotFound if the source object does not exist.
	Copy(ctx context.Context, from, to Tier, key string) error
	// CopyStatus reports the copy state of key in tier t, or types.ErrNotFound.
	CopyStatus(ctx context.Context, t Tier, key string) (CopyStatus, error)
	// Delete removes key from tier t, or returns types.ErrNotFound.
	Delete(ctx context.Context, t Tier, key string) error
}

// StatsProvider supplies access statistics. It returns an error wrapping
// types.ErrNoStats for documents it has never seen.
type StatsProvider interface {
	GetStats(ctx context.Context, name string, now time.Time) (AccessStat, error)
}

// Observer is told about completed tier changes so an external stats store can
// keep its view of each document's tier current.
type Observer interface {
	RecordTier(ctx context.Context, name string, t Tier, accessedAt time.Time) error
	Forget(ctx context.Context, name string) error
}

// MoveStatus tracks a single tier transition.
type MoveStatus int

const (
	MovePending MoveStatus = iota
	MoveCopyInFlight
	MoveVerified
	MoveCompleted
	MoveFailed
)

func (s MoveStatus) String() string {
	switch s {
	case MovePending:
		return "pending"
	case MoveCopyInFlight:
		return "copy_in_flight"
	case MoveVerified:
		return "verified"
	case MoveCompleted:
		return "completed"
	case MoveFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MoveOperation is the in-memory record of one move. It is never persisted;
// after a restart the object's actual location is the source of truth.
type MoveOperation struct {
	DocumentName string
	Source       Tier
	Target       Tier
	Status       MoveStatus
	StartedAt    time.Time
	FinishedAt   time.Time
}
