package internal_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/file"
	"github.com/gftdcojp/doc-tiering/internal/lifecycle"
	"github.com/gftdcojp/doc-tiering/internal/meta"
	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

var testRetry = tier.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

// fileEnv is the engine as the daemon wires it for the file backend: file
// store, bolt metadata as stats provider, observer and pass history.
type fileEnv struct {
	dir    string
	cfg    config.StorageConfig
	store  *file.Store
	meta   *meta.BoltStore
	runner *lifecycle.Runner
	once   sync.Once
}

func newFileEnv(t *testing.T, dir string) *fileEnv {
	t.Helper()
	cfg := config.DefaultConfig().Storage
	cfg.Backend = config.BackendFile
	cfg.File.DataDir = dir

	store, err := file.NewStore(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	metaStore, err := meta.NewBoltStore(filepath.Join(dir, "meta.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	mover := tier.NewMover(tier.MoverConfig{
		Store:         store,
		PollInterval:  time.Millisecond,
		VerifyTimeout: time.Second,
		MaxPollErrors: 3,
		Retry:         testRetry,
		Logger:        zap.NewNop(),
	})
	env := &fileEnv{
		dir:   dir,
		cfg:   cfg,
		store: store,
		meta:  metaStore,
		runner: lifecycle.NewRunner(lifecycle.RunnerConfig{
			Store:      store,
			Stats:      metaStore,
			Thresholds: config.DefaultThresholds(),
			Workers:    4,
			Mover:      mover,
			Retry:      testRetry,
			Observer:   metaStore,
			History:    metaStore,
			Logger:     zap.NewNop(),
		}),
	}
	t.Cleanup(env.close)
	return env
}

func (e *fileEnv) close() {
	e.once.Do(func() {
		e.meta.Close()
		e.store.Close()
	})
}

func (e *fileEnv) path(t tier.Tier, name string) string {
	return filepath.Join(e.dir, e.cfg.Location(t).Prefix, filepath.FromSlash(name))
}

// put writes a document into a tier the way an upload would.
func (e *fileEnv) put(t *testing.T, tr tier.Tier, name, body string, mtime time.Time) {
	t.Helper()
	p := e.path(tr, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func (e *fileEnv) holders(name string) []tier.Tier {
	var out []tier.Tier
	for _, tr := range types.AllTiers {
		if _, err := os.Stat(e.path(tr, name)); err == nil {
			out = append(out, tr)
		}
	}
	return out
}

func (e *fileEnv) assertHeldBy(t *testing.T, name string, want ...tier.Tier) {
	t.Helper()
	got := e.holders(name)
	if len(got) != len(want) {
		t.Fatalf("%s held by %v, want %v", name, got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("%s held by %v, want %v", name, got, want)
		}
	}
}

func runPass(t *testing.T, r *lifecycle.Runner, now time.Time) *lifecycle.Report {
	t.Helper()
	rep, err := r.RunTieringPass(context.Background(), now)
	if err != nil {
		t.Fatalf("pass at %s: %v", now.Format(time.DateOnly), err)
	}
	if len(rep.Errors) > 0 {
		t.Fatalf("pass at %s reported errors: %+v", now.Format(time.DateOnly), rep.Errors)
	}
	return rep
}

func TestDurability_MetaStoreRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	env := newFileEnv(t, dir)
	for i := 0; i < 3; i++ {
		if _, err := env.meta.Touch(ctx, "contracts/lease.pdf", "read", now.Add(-2*24*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	env.put(t, tier.TierHot, "contracts/lease.pdf", "lease", now.Add(-2*24*time.Hour))
	runPass(t, env.runner, now)
	env.close()

	env = newFileEnv(t, dir)
	st, err := env.meta.GetStats(ctx, "contracts/lease.pdf", now)
	if err != nil {
		t.Fatalf("stats lost across restart: %v", err)
	}
	if st.AccessCount != 3 || st.DaysSinceLastAccess != 2 {
		t.Errorf("unexpected stats after restart %+v", st)
	}
	passes, err := env.meta.ListPasses(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(passes) != 1 || passes[0].Kept != 1 {
		t.Errorf("pass history after restart = %+v", passes)
	}
}

func TestDurability_FileStoreRestart(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	env := newFileEnv(t, dir)
	env.put(t, tier.TierHot, "reports/2025/q4.pdf", "quarterly numbers", base)
	rep := runPass(t, env.runner, base.Add(31*24*time.Hour))
	if len(rep.Moved) != 1 {
		t.Fatalf("expected one move, got %+v", rep.Moved)
	}
	env.close()

	env = newFileEnv(t, dir)
	env.assertHeldBy(t, "reports/2025/q4.pdf", tier.TierCool)

	data, err := os.ReadFile(env.path(tier.TierCool, "reports/2025/q4.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "quarterly numbers" {
		t.Errorf("content changed in transit: %q", data)
	}
	fi, err := os.Stat(env.path(tier.TierCool, "reports/2025/q4.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if !fi.ModTime().Equal(base) {
		t.Errorf("access time = %v, want %v", fi.ModTime(), base)
	}
	staged, _ := os.ReadDir(filepath.Join(dir, ".staging"))
	if len(staged) != 0 {
		t.Errorf("staging dir not empty: %d entries", len(staged))
	}

	st, err := env.meta.GetStats(context.Background(), "reports/2025/q4.pdf", base)
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentTier != tier.TierCool {
		t.Errorf("recorded tier = %s, want cool", st.CurrentTier)
	}
}

func TestDurability_FullTierTransition(t *testing.T) {
	env := newFileEnv(t, t.TempDir())
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	const name = "invoices/2025-001.pdf"

	env.put(t, tier.TierHot, name, "invoice", base)

	if rep := runPass(t, env.runner, base.Add(10*day)); rep.Kept != 1 {
		t.Fatalf("young document should stay, got %+v", rep)
	}
	env.assertHeldBy(t, name, tier.TierHot)

	runPass(t, env.runner, base.Add(31*day))
	env.assertHeldBy(t, name, tier.TierCool)

	rep := runPass(t, env.runner, base.Add(91*day))
	if len(rep.Archived) != 1 || rep.Archived[0].From != tier.TierCool {
		t.Fatalf("expected archive move, got %+v", rep.Archived)
	}
	env.assertHeldBy(t, name, tier.TierArchive)

	if entry, err := env.meta.GetDocument(ctx, name); err != nil || entry.Tier != tier.TierArchive {
		t.Fatalf("metadata tier = %+v, %v", entry, err)
	}

	rep = runPass(t, env.runner, base.Add(366*day))
	if len(rep.Deleted) != 1 || rep.Deleted[0] != name {
		t.Fatalf("expected purge, got %+v", rep.Deleted)
	}
	env.assertHeldBy(t, name)
	if _, err := env.meta.GetDocument(ctx, name); !errors.Is(err, types.ErrNoStats) {
		t.Fatalf("purged document still has metadata: %v", err)
	}

	passes, _ := env.meta.ListPasses(ctx, 0)
	if len(passes) != 4 {
		t.Errorf("recorded %d passes, want 4", len(passes))
	}
}

// A crash between a verified copy and the source delete leaves the document in
// two tiers. The next pass removes the stale source.
func TestDurability_CrashBetweenCopyAndDelete(t *testing.T) {
	env := newFileEnv(t, t.TempDir())
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	const name = "scans/passport.png"

	env.put(t, tier.TierHot, name, "scan", base)
	if err := env.store.Copy(ctx, tier.TierHot, tier.TierCool, name); err != nil {
		t.Fatal(err)
	}
	env.assertHeldBy(t, name, tier.TierHot, tier.TierCool)

	rep := runPass(t, env.runner, base.Add(31*24*time.Hour))
	if len(rep.Reconciled) != 1 {
		t.Fatalf("expected one reconciled copy, got %+v", rep.Reconciled)
	}
	got := rep.Reconciled[0]
	if got.Tier != tier.TierHot || got.Reason != lifecycle.ReconcileStaleSource {
		t.Errorf("unexpected reconcile %+v", got)
	}
	env.assertHeldBy(t, name, tier.TierCool)
}

// Two copies that were both uploaded directly are never guessed at.
func TestDurability_AmbiguousDuplicateLeftAlone(t *testing.T) {
	env := newFileEnv(t, t.TempDir())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	const name = "dup.txt"

	env.put(t, tier.TierHot, name, "one", base)
	env.put(t, tier.TierArchive, name, "two", base)

	rep, err := env.runner.RunTieringPass(context.Background(), base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Operation != "reconcile" {
		t.Fatalf("expected an unresolved duplicate error, got %+v", rep.Errors)
	}
	env.assertHeldBy(t, name, tier.TierHot, tier.TierArchive)
}
