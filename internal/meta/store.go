package meta

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Store provides durable access statistics for documents plus the history of
// tiering passes. It is the live stats provider for the runner.
type Store interface {
	Touch(ctx context.Context, name, kind string, at time.Time) (*DocumentEntry, error)
	GetDocument(ctx context.Context, name string) (*DocumentEntry, error)
	GetStats(ctx context.Context, name string, now time.Time) (types.AccessStat, error)
	RecordTier(ctx context.Context, name string, t types.Tier, accessedAt time.Time) error
	Forget(ctx context.Context, name string) error
	CountDocuments(ctx context.Context) (int, error)

	RecordPass(ctx context.Context, rec PassRecord) error
	ListPasses(ctx context.Context, limit int) ([]PassRecord, error)

	Ping() error
	Close() error
}

// BoltStore implements Store using bbolt (BoltDB).
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltStore opens or creates a BoltDB metadata store.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	return OpenBoltStore(path, false, logger)
}

// OpenBoltStore is NewBoltStore with control over fsync on commit.
func OpenBoltStore(path string, noSync bool, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second, NoSync: noSync})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &BoltStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) initSchema() error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketDocuments); err != nil {
			return err
		}
		if sys.Get(keySchemaVersion) == nil {
			if _, err := tx.CreateBucketIfNotExists(bucketPasses); err != nil {
				return err
			}
			return sys.Put(keySchemaVersion, uint64ToBytes(currentSchemaVersion))
		}
		return nil
	}); err != nil {
		return err
	}
	return s.Migrate()
}

func encodeDocument(entry *DocumentEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDocument(data []byte) (*DocumentEntry, error) {
	var entry DocumentEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// updateDocument loads name (or a fresh entry), applies fn and writes it back.
func (s *BoltStore) updateDocument(name string, fn func(*DocumentEntry)) (*DocumentEntry, error) {
	var out *DocumentEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		entry := &DocumentEntry{Name: name}
		if raw := docs.Get([]byte(name)); raw != nil {
			var err error
			if entry, err = decodeDocument(raw); err != nil {
				return fmt.Errorf("decoding %s: %w", name, err)
			}
		}
		fn(entry)
		data, err := encodeDocument(entry)
		if err != nil {
			return err
		}
		out = entry
		return docs.Put([]byte(name), data)
	})
	return out, err
}

// Touch records one access of kind at the given time. Out-of-order events
// count but never move LastAccessedAt backwards.
func (s *BoltStore) Touch(_ context.Context, name, kind string, at time.Time) (*DocumentEntry, error) {
	if name == "" {
		return nil, fmt.Errorf("touch: empty document name")
	}
	return s.updateDocument(name, func(e *DocumentEntry) {
		e.AccessCount++
		if e.Kinds == nil {
			e.Kinds = make(map[string]int64)
		}
		if kind != "" {
			e.Kinds[kind]++
		}
		if e.FirstSeenAt.IsZero() || at.Before(e.FirstSeenAt) {
			e.FirstSeenAt = at
		}
		if at.After(e.LastAccessedAt) {
			e.LastAccessedAt = at
		}
	})
}

func (s *BoltStore) GetDocument(_ context.Context, name string) (*DocumentEntry, error) {
	var entry *DocumentEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketDocuments).Get([]byte(name))
		if raw == nil {
			return fmt.Errorf("document %q: %w", name, types.ErrNoStats)
		}
		var err error
		entry, err = decodeDocument(raw)
		return err
	})
	return entry, err
}

// GetStats implements tier.StatsProvider.
func (s *BoltStore) GetStats(ctx context.Context, name string, now time.Time) (types.AccessStat, error) {
	entry, err := s.GetDocument(ctx, name)
	if err != nil {
		return types.AccessStat{}, err
	}
	return entry.Stat(now), nil
}

// RecordTier notes the tier a document now lives in. For a document with no
// recorded access, accessedAt (if set) becomes its last access time.
func (s *BoltStore) RecordTier(_ context.Context, name string, t types.Tier, accessedAt time.Time) error {
	_, err := s.updateDocument(name, func(e *DocumentEntry) {
		if e.LastAccessedAt.IsZero() && !accessedAt.IsZero() {
			e.LastAccessedAt = accessedAt
		}
		if e.TierKnown && e.Tier == t {
			return
		}
		e.Tier = t
		e.TierKnown = true
		e.TierChangedAt = time.Now()
	})
	return err
}

// Forget drops a purged document's record. Missing records are not an error.
func (s *BoltStore) Forget(_ context.Context, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).Delete([]byte(name))
	})
}

func (s *BoltStore) CountDocuments(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketDocuments).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) RecordPass(_ context.Context, rec PassRecord) error {
	data, err := encodePass(&rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		passes := tx.Bucket(bucketPasses)
		if err := passes.Put(passKey(rec), data); err != nil {
			return err
		}
		// Prune oldest records beyond the history limit.
		var keys [][]byte
		c := passes.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-maxPassHistory; i++ {
			if err := passes.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPasses returns up to limit pass records, newest first. limit <= 0
// returns all of them.
func (s *BoltStore) ListPasses(_ context.Context, limit int) ([]PassRecord, error) {
	var out []PassRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPasses).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			rec, err := decodePass(v)
			if err != nil {
				return err
			}
			out = append(out, *rec)
		}
		return nil
	})
	return out, err
}

func encodePass(rec *PassRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePass(data []byte) (*PassRecord, error) {
	var rec PassRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketDocuments) == nil {
			return fmt.Errorf("documents bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
