// Package segcache implements spec §4.9's bounded segment body cache:
// sealed Segment bytes are spilled to a local file and mmap'd rather
// than held as plain heap allocations, so a cache sized for N segments
// costs roughly N open file descriptors instead of N*len(body) bytes of
// general heap. Concurrent Load calls for the same SegmentId share one
// fetch via singleflight.
package segcache

import (
	"container/list"
	"context"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/segment"
)

func ensureDir(dir string) error { return os.MkdirAll(dir, 0o755) }

// Loader fetches a sealed segment's full byte content on a cache miss.
type Loader func(ctx context.Context, sid graft.SegmentId) ([]byte, error)

type entry struct {
	sid     graft.SegmentId
	backing backing
	elem    *list.Element
}

// Cache is a capacity-bounded, LRU-evicted cache of segment bodies.
type Cache struct {
	mu       sync.Mutex
	cap      int
	spillDir string
	entries  map[graft.SegmentId]*entry
	order    *list.List

	loader Loader
	group  singleflight.Group
}

// New returns a Cache holding at most capacity segments at once,
// spilling their bodies under spillDir (mmap'd on unix builds). spillDir
// may be empty, in which case bodies stay as plain heap buffers; tests
// use this to avoid touching the filesystem at all.
func New(capacity int, spillDir string, loader Loader) (*Cache, error) {
	if spillDir != "" {
		if err := ensureDir(spillDir); err != nil {
			return nil, err
		}
	}
	return &Cache{
		cap:      capacity,
		spillDir: spillDir,
		entries:  make(map[graft.SegmentId]*entry),
		order:    list.New(),
		loader:   loader,
	}, nil
}

// Put inserts a freshly-produced segment body directly, skipping the
// loader. Used by a sealing writer that already has the bytes in hand.
func (c *Cache) Put(sid graft.SegmentId, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(sid, body)
}

// Load returns a Reader opened over sid's body, fetching and caching it
// via Loader on a miss.
func (c *Cache) Load(ctx context.Context, sid graft.SegmentId) (*segment.Reader, error) {
	c.mu.Lock()
	if e, ok := c.entries[sid]; ok {
		c.order.MoveToFront(e.elem)
		data := e.backing.data()
		c.mu.Unlock()
		return segment.Open(byteReaderAt(data), int64(len(data)))
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(sid.Pretty(), func() (any, error) {
		body, err := c.loader(ctx, sid)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		insertErr := c.insertLocked(sid, body)
		c.mu.Unlock()
		if insertErr != nil {
			return nil, insertErr
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	body := v.([]byte)
	return segment.Open(byteReaderAt(body), int64(len(body)))
}

func (c *Cache) insertLocked(sid graft.SegmentId, body []byte) error {
	if e, ok := c.entries[sid]; ok {
		c.order.MoveToFront(e.elem)
		return nil
	}
	b, err := newBacking(c.spillDir, sid, body)
	if err != nil {
		return err
	}
	e := &entry{sid: sid, backing: b}
	e.elem = c.order.PushFront(e)
	c.entries[sid] = e
	c.evictLocked()
	return nil
}

func (c *Cache) evictLocked() {
	for c.cap > 0 && len(c.entries) > c.cap {
		back := c.order.Back()
		if back == nil {
			return
		}
		victim := back.Value.(*entry)
		c.order.Remove(back)
		delete(c.entries, victim.sid)
		victim.backing.close()
	}
}

// Close releases every cached entry's backing resource (spill files,
// mmaps).
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.backing.close()
	}
	c.entries = make(map[graft.SegmentId]*entry)
	c.order.Init()
}

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
