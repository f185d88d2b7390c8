package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

func TestMemoryStoreCopyAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(zap.NewNop())
	at := time.Now().Add(-48 * time.Hour)
	store.Put(tier.TierHot, "a.txt", []byte("hello"), at)

	if err := store.Copy(ctx, tier.TierHot, tier.TierCool, "a.txt"); err != nil {
		t.Fatal(err)
	}
	status, err := store.CopyStatus(ctx, tier.TierCool, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if status != tier.CopySuccess {
		t.Errorf("status = %s, want success", status)
	}
	data, err := store.Get(tier.TierCool, "a.txt")
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected copy content %q: %v", data, err)
	}

	var listed []tier.ObjectInfo
	if err := store.List(ctx, tier.TierCool, func(o tier.ObjectInfo) error {
		listed = append(listed, o)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || !listed[0].LastAccessedAt.Equal(at) || listed[0].SizeBytes != 5 {
		t.Fatalf("unexpected listing %+v", listed)
	}

	if err := store.Delete(ctx, tier.TierHot, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, tier.TierHot, "a.txt"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	if got := store.Tiers("a.txt"); len(got) != 1 || got[0] != tier.TierCool {
		t.Errorf("Tiers = %v, want [cool]", got)
	}
}

func TestMemoryStorePendingCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	store.Put(tier.TierCool, "b", []byte("x"), time.Now())
	store.SetPendingPolls(2)

	if err := store.Copy(ctx, tier.TierCool, tier.TierArchive, "b"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if s, _ := store.CopyStatus(ctx, tier.TierArchive, "b"); s != tier.CopyPending {
			t.Fatalf("poll %d: status = %s, want pending", i, s)
		}
	}
	if s, _ := store.CopyStatus(ctx, tier.TierArchive, "b"); s != tier.CopySuccess {
		t.Fatalf("status = %s, want success", s)
	}
}

func TestMemoryStoreFaults(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	store.Put(tier.TierHot, "c", []byte("x"), time.Now())

	boom := errors.New("boom")
	store.SetFault(OpList, tier.TierHot, boom)
	err := store.List(ctx, tier.TierHot, func(tier.ObjectInfo) error { return nil })
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected fault, got %v", err)
	}
	store.SetFault(OpList, tier.TierHot, nil)
	if err := store.List(ctx, tier.TierHot, func(tier.ObjectInfo) error { return nil }); err != nil {
		t.Fatalf("fault should be cleared: %v", err)
	}

	store.FailCopies("c")
	if err := store.Copy(ctx, tier.TierHot, tier.TierCool, "c"); err != nil {
		t.Fatal(err)
	}
	if s, _ := store.CopyStatus(ctx, tier.TierCool, "c"); s != tier.CopyFailed {
		t.Fatalf("status = %s, want failed", s)
	}

	if err := store.Copy(ctx, tier.TierHot, tier.TierCool, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing source, got %v", err)
	}
	if store.Copies() != 1 {
		t.Errorf("copies = %d, want 1", store.Copies())
	}
}
