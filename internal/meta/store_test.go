package meta

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "doc-tiering-meta-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := NewBoltStore(tmpFile.Name(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTouchAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	if _, err := store.Touch(ctx, "contracts/lease.pdf", "upload", now.Add(-10*24*time.Hour)); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	entry, err := store.Touch(ctx, "contracts/lease.pdf", "read", now.Add(-3*24*time.Hour-time.Hour))
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if entry.AccessCount != 2 {
		t.Errorf("access count = %d, want 2", entry.AccessCount)
	}
	if entry.Kinds["upload"] != 1 || entry.Kinds["read"] != 1 {
		t.Errorf("unexpected kinds %v", entry.Kinds)
	}

	st, err := store.GetStats(ctx, "contracts/lease.pdf", now)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.DaysSinceLastAccess != 3 {
		t.Errorf("days since last access = %d, want 3", st.DaysSinceLastAccess)
	}
	if st.AccessCount != 2 || st.Name != "contracts/lease.pdf" {
		t.Errorf("unexpected stat %+v", st)
	}
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	store.Touch(ctx, "a", "read", now)
	entry, err := store.Touch(ctx, "a", "read", now.Add(-48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !entry.LastAccessedAt.Equal(now) {
		t.Errorf("last accessed moved backwards to %v", entry.LastAccessedAt)
	}
	if !entry.FirstSeenAt.Equal(now.Add(-48 * time.Hour)) {
		t.Errorf("first seen = %v", entry.FirstSeenAt)
	}
	if entry.AccessCount != 2 {
		t.Errorf("late event should still count, got %d", entry.AccessCount)
	}
}

func TestGetStatsUnknownDocument(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetStats(context.Background(), "never-seen", time.Now())
	if !errors.Is(err, types.ErrNoStats) {
		t.Fatalf("expected ErrNoStats, got %v", err)
	}
}

func TestRecordTierAndForget(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordTier(ctx, "b", types.TierArchive, time.Time{}); err != nil {
		t.Fatal(err)
	}
	st, err := store.GetStats(ctx, "b", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentTier != types.TierArchive {
		t.Errorf("tier = %s, want archive", st.CurrentTier)
	}
	if st.DaysSinceLastAccess != types.UnknownDays {
		t.Errorf("untouched document should report unknown days, got %d", st.DaysSinceLastAccess)
	}

	if n, _ := store.CountDocuments(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if err := store.Forget(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := store.Forget(ctx, "b"); err != nil {
		t.Fatalf("forgetting twice should succeed: %v", err)
	}
	if _, err := store.GetDocument(ctx, "b"); !errors.Is(err, types.ErrNoStats) {
		t.Fatalf("expected ErrNoStats after Forget, got %v", err)
	}
}

func TestRecordTierSeedsAccessTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	listed := now.Add(-40 * 24 * time.Hour)

	if err := store.RecordTier(ctx, "moved.pdf", types.TierCool, listed); err != nil {
		t.Fatal(err)
	}
	st, err := store.GetStats(ctx, "moved.pdf", now)
	if err != nil {
		t.Fatal(err)
	}
	if st.DaysSinceLastAccess != 40 || st.AccessCount != 0 {
		t.Errorf("unexpected stat after seeding %+v", st)
	}

	// a recorded access is never replaced
	store.Touch(ctx, "read.pdf", "read", now.Add(-24*time.Hour))
	store.RecordTier(ctx, "read.pdf", types.TierCool, listed)
	entry, _ := store.GetDocument(ctx, "read.pdf")
	if !entry.LastAccessedAt.Equal(now.Add(-24 * time.Hour)) {
		t.Errorf("last access overwritten: %v", entry.LastAccessedAt)
	}
}

func TestPassHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		rec := PassRecord{
			ID:        fmt.Sprintf("pass-%d", i),
			Trigger:   "schedule",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Moved:     i,
		}
		if err := store.RecordPass(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := store.ListPasses(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].ID != "pass-4" || recs[2].ID != "pass-2" {
		t.Errorf("expected newest first, got %s .. %s", recs[0].ID, recs[2].ID)
	}

	all, _ := store.ListPasses(ctx, 0)
	if len(all) != 5 {
		t.Errorf("got %d records, want 5", len(all))
	}
}

func TestPassHistoryPruned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < maxPassHistory+3; i++ {
		rec := PassRecord{ID: fmt.Sprintf("p%04d", i), StartedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.RecordPass(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	all, err := store.ListPasses(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != maxPassHistory {
		t.Fatalf("got %d records, want %d", len(all), maxPassHistory)
	}
	if all[len(all)-1].ID != "p0003" {
		t.Errorf("oldest kept record = %s, want p0003", all[len(all)-1].ID)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(); err != nil {
		t.Fatal(err)
	}
}
