package types

import (
	"fmt"
	"time"
)

// Tier identifies the storage class a document currently lives in.
type Tier int

const (
	TierHot Tier = iota
	TierCool
	TierArchive
)

// AllTiers lists every tier from hottest to coldest.
var AllTiers = []Tier{TierHot, TierCool, TierArchive}

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierCool:
		return "cool"
	case TierArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= TierHot && t <= TierArchive
}

// ParseTier converts "hot", "cool" or "archive" into a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "hot":
		return TierHot, nil
	case "cool":
		return TierCool, nil
	case "archive":
		return TierArchive, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ObjectInfo is one row of a tier listing.
type ObjectInfo struct {
	Name           string
	Tier           Tier
	LastAccessedAt time.Time
	SizeBytes      int64
}

// DocumentRecord is the runner's view of a stored document during a pass.
// The tier that currently holds the object is authoritative.
type DocumentRecord struct {
	Name           string
	Tier           Tier
	LastAccessedAt time.Time
	AccessCount    int64
	SizeBytes      int64
}

// UnknownDays marks an AccessStat whose provider had no recency information.
const UnknownDays = -1

// AccessStat is a read-only snapshot of a document's access history.
type AccessStat struct {
	Name                string `json:"name"`
	AccessCount         int64  `json:"access_count"`
	DaysSinceLastAccess int    `json:"days_since_last_access"`
	CurrentTier         Tier   `json:"current_tier"`
}

// CopyStatus reports the state of a copy into a tier.
type CopyStatus int

const (
	// CopyNone means the object exists but was not produced by a copy.
	CopyNone CopyStatus = iota
	CopyPending
	CopySuccess
	CopyFailed
)

func (s CopyStatus) String() string {
	switch s {
	case CopyNone:
		return "none"
	case CopyPending:
		return "pending"
	case CopySuccess:
		return "success"
	case CopyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further progress is expected for the copy.
func (s CopyStatus) Terminal() bool {
	return s == CopySuccess || s == CopyFailed
}
