// Package segcache wraps internal/segcache with a per-entry cuckoofilter
// recording which Volumes a cached segment holds pages for (spec §4.9),
// so read_pages can skip opening an unrelated segment's on-disk index
// for a Volume it provably doesn't contain.
package segcache

import (
	"context"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/graft-sh/graft/graft"
	internal "github.com/graft-sh/graft/internal/segcache"
	"github.com/graft-sh/graft/segment"
	"github.com/graft-sh/graft/splinter"
)

type Loader = internal.Loader

type Cache struct {
	inner *internal.Cache

	mu      sync.Mutex
	volumes map[graft.SegmentId]*cuckoo.Filter
}

func New(capacity int, spillDir string, loader Loader) (*Cache, error) {
	inner, err := internal.New(capacity, spillDir, loader)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner, volumes: make(map[graft.SegmentId]*cuckoo.Filter)}, nil
}

// Put inserts a freshly-sealed segment and the set of Volumes it holds
// pages for, called by the uploader task right after a successful
// object-store upload.
func (c *Cache) Put(sid graft.SegmentId, body []byte, perVolume map[graft.VolumeId]*splinter.Splinter) error {
	if err := c.inner.Put(sid, body); err != nil {
		return err
	}
	f := cuckoo.NewFilter(uint(max(len(perVolume), 1)))
	for vid := range perVolume {
		f.InsertUnique(vid.Bytes())
	}
	c.mu.Lock()
	c.volumes[sid] = f
	c.mu.Unlock()
	return nil
}

// MayContain reports whether sid could hold pages for vid. It consults
// only the in-memory filter, never the segment's on-disk index; a sid
// this cache has no filter for yet (never Put; Load records no
// filter) always answers true, i.e. "go check for real."
func (c *Cache) MayContain(sid graft.SegmentId, vid graft.VolumeId) bool {
	c.mu.Lock()
	f, ok := c.volumes[sid]
	c.mu.Unlock()
	if !ok {
		return true
	}
	return f.Lookup(vid.Bytes())
}

func (c *Cache) Load(ctx context.Context, sid graft.SegmentId) (*segment.Reader, error) {
	return c.inner.Load(ctx, sid)
}

func (c *Cache) Close() { c.inner.Close() }
