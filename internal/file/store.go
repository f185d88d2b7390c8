package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

const (
	stagingDir = ".staging"
	markersDir = ".copies"
)

// Store implements tier.BlobStore on a local filesystem. Each tier is a
// directory below the data dir and a document's name is its relative path.
// Copies are written to a staging file and renamed into place, so a partial
// copy is never visible in a tier. A marker file under .copies records that
// an object was produced by Copy.
type Store struct {
	dataDir string
	dirs    map[tier.Tier]string
	logger  *zap.Logger
}

func NewStore(cfg config.StorageConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dataDir := cfg.File.DataDir
	if dataDir == "" {
		return nil, fmt.Errorf("%w: file backend needs a data dir", types.ErrConfiguration)
	}
	s := &Store{dataDir: dataDir, dirs: make(map[tier.Tier]string), logger: logger.Named("file")}
	for _, t := range types.AllTiers {
		name := strings.Trim(cfg.Location(t).Prefix, "/")
		if name == "" {
			name = t.String()
		}
		s.dirs[t] = filepath.Join(dataDir, filepath.FromSlash(name))
		if err := os.MkdirAll(s.dirs[t], 0755); err != nil {
			return nil, fmt.Errorf("creating tier dir %s: %w", s.dirs[t], err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dataDir, stagingDir), 0755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	return s, nil
}

func (s *Store) path(t tier.Tier, name string) (string, error) {
	dir, ok := s.dirs[t]
	if !ok {
		return "", fmt.Errorf("%w: unknown tier %s", types.ErrPermanent, t)
	}
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: invalid document name %q", types.ErrPermanent, name)
	}
	return filepath.Join(dir, rel), nil
}

func (s *Store) markerPath(t tier.Tier, name string) string {
	return filepath.Join(s.dataDir, markersDir, t.String(), filepath.FromSlash(name))
}

func (s *Store) List(ctx context.Context, t tier.Tier, fn func(tier.ObjectInfo) error) error {
	dir, ok := s.dirs[t]
	if !ok {
		return fmt.Errorf("%w: unknown tier %s", types.ErrPermanent, t)
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// removed between readdir and stat
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return fn(tier.ObjectInfo{
			Name:           filepath.ToSlash(rel),
			Tier:           t,
			LastAccessedAt: info.ModTime(),
			SizeBytes:      info.Size(),
		})
	})
}

func (s *Store) Copy(ctx context.Context, from, to tier.Tier, key string) error {
	src, err := s.path(from, key)
	if err != nil {
		return err
	}
	dst, err := s.path(to, key)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("copy source %s in %s: %w", key, from, types.ErrNotFound)
		}
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.dataDir, stagingDir), "copy-*")
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: in}); err != nil {
		return fmt.Errorf("copying %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// keep the source's access time so the policy sees the same age
	if err := os.Chtimes(tmp.Name(), st.ModTime(), st.ModTime()); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	marker := s.markerPath(to, key)
	if err := os.MkdirAll(filepath.Dir(marker), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(marker, []byte(from.String()), 0644); err != nil {
		return fmt.Errorf("writing copy marker: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(marker)
		return fmt.Errorf("committing copy of %s: %w", key, err)
	}
	committed = true

	s.logger.Debug("document copied",
		zap.String("document", key),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int64("size", st.Size()),
	)
	return nil
}

func (s *Store) CopyStatus(_ context.Context, t tier.Tier, key string) (tier.CopyStatus, error) {
	p, err := s.path(t, key)
	if err != nil {
		return tier.CopyNone, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tier.CopyNone, fmt.Errorf("%s in %s: %w", key, t, types.ErrNotFound)
		}
		return tier.CopyNone, err
	}
	if _, err := os.Stat(s.markerPath(t, key)); err == nil {
		return tier.CopySuccess, nil
	}
	return tier.CopyNone, nil
}

func (s *Store) Delete(_ context.Context, t tier.Tier, key string) error {
	p, err := s.path(t, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s in %s: %w", key, t, types.ErrNotFound)
		}
		return err
	}
	os.Remove(s.markerPath(t, key))
	return nil
}

func (s *Store) Close() error {
	return nil
}

// ctxReader stops a long copy when the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
