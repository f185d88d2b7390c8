package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

// Op names a BlobStore operation for fault injection.
type Op string

const (
	OpList   Op = "list"
	OpCopy   Op = "copy"
	OpStatus Op = "status"
	OpDelete Op = "delete"
)

type object struct {
	data       []byte
	lastAccess time.Time
	status     tier.CopyStatus
	polls      int
}

type faultKey struct {
	op Op
	t  tier.Tier
}

// Store implements tier.BlobStore in process memory. It backs the development
// configuration and the engine tests. Copies can be made to stay pending for a
// number of status polls or to fail outright.
type Store struct {
	mu           sync.RWMutex
	objects      map[tier.Tier]map[string]*object
	pendingPolls int
	failCopies   map[string]bool
	faults       map[faultKey]error
	copies       int
	logger       *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		objects:    make(map[tier.Tier]map[string]*object),
		failCopies: make(map[string]bool),
		faults:     make(map[faultKey]error),
		logger:     logger,
	}
	for _, t := range types.AllTiers {
		s.objects[t] = make(map[string]*object)
	}
	return s
}

// Put stores a document directly in a tier, as an upload would.
func (s *Store) Put(t tier.Tier, name string, data []byte, lastAccess time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[t][name] = &object{data: data, lastAccess: lastAccess}
}

// Get returns a document's content in a tier.
func (s *Store) Get(t tier.Tier, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[t][name]
	if !ok {
		return nil, fmt.Errorf("%s in %s: %w", name, t, types.ErrNotFound)
	}
	return o.data, nil
}

// Tiers lists the tiers currently holding name, hottest first.
func (s *Store) Tiers(name string) []tier.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tier.Tier
	for _, t := range types.AllTiers {
		if _, ok := s.objects[t][name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// SetPendingPolls makes new copies report CopyPending for n status polls.
func (s *Store) SetPendingPolls(n int) {
	s.mu.Lock()
	s.pendingPolls = n
	s.mu.Unlock()
}

// FailCopies makes copies of name land as CopyFailed.
func (s *Store) FailCopies(name string) {
	s.mu.Lock()
	s.failCopies[name] = true
	s.mu.Unlock()
}

// SetFault makes op on tier t return err until cleared with a nil err.
func (s *Store) SetFault(op Op, t tier.Tier, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, faultKey{op, t})
		return
	}
	s.faults[faultKey{op, t}] = err
}

// Copies returns the number of copies started so far.
func (s *Store) Copies() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copies
}

func (s *Store) fault(op Op, t tier.Tier) error {
	return s.faults[faultKey{op, t}]
}

func (s *Store) List(ctx context.Context, t tier.Tier, fn func(tier.ObjectInfo) error) error {
	s.mu.RLock()
	if err := s.fault(OpList, t); err != nil {
		s.mu.RUnlock()
		return err
	}
	infos := make([]tier.ObjectInfo, 0, len(s.objects[t]))
	for name, o := range s.objects[t] {
		infos = append(infos, tier.ObjectInfo{
			Name:           name,
			Tier:           t,
			LastAccessedAt: o.lastAccess,
			SizeBytes:      int64(len(o.data)),
		})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Copy(_ context.Context, from, to tier.Tier, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpCopy, to); err != nil {
		return err
	}
	src, ok := s.objects[from][key]
	if !ok {
		return fmt.Errorf("copy source %s in %s: %w", key, from, types.ErrNotFound)
	}
	s.copies++

	status := tier.CopySuccess
	switch {
	case s.failCopies[key]:
		status = tier.CopyFailed
	case s.pendingPolls > 0:
		status = tier.CopyPending
	}
	data := make([]byte, len(src.data))
	copy(data, src.data)
	s.objects[to][key] = &object{data: data, lastAccess: src.lastAccess, status: status}

	s.logger.Debug("copy started",
		zap.String("document", key),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("status", status),
	)
	return nil
}

func (s *Store) CopyStatus(_ context.Context, t tier.Tier, key string) (tier.CopyStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpStatus, t); err != nil {
		return tier.CopyNone, err
	}
	o, ok := s.objects[t][key]
	if !ok {
		return tier.CopyNone, fmt.Errorf("%s in %s: %w", key, t, types.ErrNotFound)
	}
	if o.status == tier.CopyPending {
		o.polls++
		if o.polls > s.pendingPolls {
			o.status = tier.CopySuccess
		}
	}
	return o.status, nil
}

func (s *Store) Delete(_ context.Context, t tier.Tier, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpDelete, t); err != nil {
		return err
	}
	if _, ok := s.objects[t][key]; !ok {
		return fmt.Errorf("%s in %s: %w", key, t, types.ErrNotFound)
	}
	delete(s.objects[t], key)
	return nil
}

// Close drops all objects.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types.AllTiers {
		s.objects[t] = make(map[string]*object)
	}
	return nil
}
