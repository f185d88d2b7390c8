package tier

import (
	"context"
	"sync"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/types"
)

type mockObject struct {
	info   ObjectInfo
	status CopyStatus
	polls  int
}

// mockBlobStore is a thread-safe in-memory BlobStore for testing.
type mockBlobStore struct {
	mu      sync.Mutex
	objects map[Tier]map[string]*mockObject

	copyErr       error // returned by Copy before doing anything
	copyFails     bool  // copy lands as CopyFailed
	pendingPolls  int   // CopyStatus reports pending this many times
	statusErr     error // returned by CopyStatus while statusErrLeft > 0
	statusErrLeft int
	deleteErr     map[Tier]error

	copies  int
	deletes []string
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{
		objects: map[Tier]map[string]*mockObject{
			TierHot:     {},
			TierCool:    {},
			TierArchive: {},
		},
		deleteErr: map[Tier]error{},
	}
}

func (m *mockBlobStore) put(t Tier, name string, lastAccess time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[t][name] = &mockObject{
		info: ObjectInfo{Name: name, Tier: t, LastAccessedAt: lastAccess, SizeBytes: 128},
	}
}

func (m *mockBlobStore) has(t Tier, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[t][name]
	return ok
}

func (m *mockBlobStore) List(ctx context.Context, t Tier, fn func(ObjectInfo) error) error {
	m.mu.Lock()
	infos := make([]ObjectInfo, 0, len(m.objects[t]))
	for _, o := range m.objects[t] {
		infos = append(infos, o.info)
	}
	m.mu.Unlock()
	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockBlobStore) Copy(_ context.Context, from, to Tier, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copies++
	if m.copyErr != nil {
		return m.copyErr
	}
	src, ok := m.objects[from][key]
	if !ok {
		return types.ErrNotFound
	}
	status := CopyPending
	if m.copyFails {
		status = CopyFailed
	} else if m.pendingPolls == 0 {
		status = CopySuccess
	}
	info := src.info
	info.Tier = to
	m.objects[to][key] = &mockObject{info: info, status: status}
	return nil
}

func (m *mockBlobStore) CopyStatus(_ context.Context, t Tier, key string) (CopyStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErrLeft > 0 {
		m.statusErrLeft--
		return CopyNone, m.statusErr
	}
	o, ok := m.objects[t][key]
	if !ok {
		return CopyNone, types.ErrNotFound
	}
	if o.status == CopyPending {
		o.polls++
		if o.polls > m.pendingPolls {
			o.status = CopySuccess
		}
	}
	return o.status, nil
}

func (m *mockBlobStore) Delete(_ context.Context, t Tier, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[t]; err != nil {
		return err
	}
	if _, ok := m.objects[t][key]; !ok {
		return types.ErrNotFound
	}
	delete(m.objects[t], key)
	m.deletes = append(m.deletes, t.String()+"/"+key)
	return nil
}
