package meta

import (
	"encoding/binary"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/types"
)

// Bucket names in BoltDB.
var (
	bucketSystem     = []byte("system")
	bucketDocuments  = []byte("documents")
	keySchemaVersion = []byte("schema_version")

	// Schema v2: pass history
	bucketPasses = []byte("passes")
)

const currentSchemaVersion = 2

// maxPassHistory bounds the passes bucket; older records are pruned.
const maxPassHistory = 500

// DocumentEntry is the access record for a single document.
type DocumentEntry struct {
	Name           string
	AccessCount    int64
	Kinds          map[string]int64 // touches per event kind (upload, read, ...)
	FirstSeenAt    time.Time
	LastAccessedAt time.Time
	Tier           types.Tier
	TierKnown      bool
	TierChangedAt  time.Time
}

// Stat converts the entry into the snapshot the policy consumes. Days are
// whole days since the last access; an entry that was never touched reports
// types.UnknownDays.
func (e *DocumentEntry) Stat(now time.Time) types.AccessStat {
	st := types.AccessStat{
		Name:                e.Name,
		AccessCount:         e.AccessCount,
		DaysSinceLastAccess: types.UnknownDays,
		CurrentTier:         e.Tier,
	}
	if !e.LastAccessedAt.IsZero() {
		d := now.Sub(e.LastAccessedAt)
		if d < 0 {
			d = 0
		}
		st.DaysSinceLastAccess = int(d / (24 * time.Hour))
	}
	return st
}

// PassRecord is the persisted summary of one tiering pass.
type PassRecord struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Moved       int       `json:"moved"`
	Archived    int       `json:"archived"`
	Deleted     int       `json:"deleted"`
	Reconciled  int       `json:"reconciled"`
	Skipped     int       `json:"skipped"`
	Kept        int       `json:"kept"`
	Errors      int       `json:"errors"`
	Interrupted bool      `json:"interrupted"`
	Err         string    `json:"error,omitempty"`
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// passKey orders pass records by start time, then ID.
func passKey(r PassRecord) []byte {
	return append(uint64ToBytes(uint64(r.StartedAt.UnixNano())), r.ID...)
}
