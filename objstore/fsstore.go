package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
)

// FSStore is the local-filesystem objstore.Store, the default for the
// graft single-binary demo and for tests. List uses godirwalk rather than
// filepath.Walk for the same reason the teacher does in its own directory
// scans: it avoids a stat() per entry by reusing the dirent type reported
// by readdir.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: mkdir %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

func newFSFromURL(path string) (Store, error) {
	return NewFSStore(path)
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FSStore) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("fsstore: open %s: %w", key, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("fsstore: seek %s: %w", key, err)
		}
	}
	if length < 0 {
		return f, nil
	}
	return &limitedReadCloser{r: io.LimitReader(f, length), c: f}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("fsstore: mkdir for %s: %w", key, err)
	}
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("fsstore: create %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsstore: write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fsstore: close %s: %w", key, err)
	}
	// Segments are immutable once sealed, so a rename into place is the
	// only atomicity this needs: no partial object is ever visible under
	// its real key.
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("fsstore: finalize %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ObjectInfo
	walkRoot := s.path(prefix)
	if fi, err := os.Stat(walkRoot); err != nil || !fi.IsDir() {
		// prefix may name a partial file name rather than a directory;
		// fall back to scanning root and filtering.
		walkRoot = s.root
	}
	err := godirwalk.Walk(walkRoot, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if strings.HasSuffix(osPathname, ".tmp") {
				return nil
			}
			rel, err := filepath.Rel(s.root, osPathname)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if !strings.HasPrefix(key, prefix) {
				return nil
			}
			fi, err := os.Lstat(osPathname)
			if err != nil {
				return err
			}
			out = append(out, ObjectInfo{Key: key, Size: fi.Size()})
			return nil
		},
		Unsorted: true,
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("fsstore: list %s: %w", prefix, err)
	}
	return out, nil
}

func (s *FSStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(s.path(key))
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("fsstore: head %s: %w", key, err)
	}
	return ObjectInfo{Key: key, Size: fi.Size()}, nil
}

var _ Store = (*FSStore)(nil)
