// Package pagestore implements the page-write ingest pipeline and
// segment-backed page reads spec §4.7 and §4.9 describe: WritePages
// batches incoming pages into Segments on a background writer task, an
// uploader task seals and durably stores each one, and ReadPages serves
// pages back out of cached or freshly-downloaded Segments.
package pagestore

import (
	"bytes"
	"context"
	stdsync "sync"
	"time"

	"github.com/graft-sh/graft/cmn/nlog"
	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/internal/backoff"
	"github.com/graft-sh/graft/objstore"
	"github.com/graft-sh/graft/pagestore/segcache"
	"github.com/graft-sh/graft/segment"
	"github.com/graft-sh/graft/splinter"
	"github.com/graft-sh/graft/wire"
)

// Config bundles the ingest pipeline's tunables: spec §4.7 leaves the
// exact segment capacity and flush cadence unconstrained beyond "flushes
// on periodic interval OR capacity".
type Config struct {
	SegmentCapacity  int
	FlushInterval    time.Duration
	WriteQueueDepth  int
	UploadQueueDepth int
}

func DefaultConfig() Config {
	return Config{
		SegmentCapacity:  segment.MaxFramePages * 4,
		FlushInterval:    time.Second,
		WriteQueueDepth:  1024,
		UploadQueueDepth: 8,
	}
}

type pageReq struct {
	vid graft.VolumeId
	idx graft.PageIdx
	pg  graft.Page
}

// openSegment accumulates page writes for one not-yet-sealed Segment.
// Only the segment-writer goroutine ever touches it.
type openSegment struct {
	w         *segment.Writer
	perVolume map[graft.VolumeId]*splinter.Splinter
	count     int
}

func newOpenSegment() (*openSegment, error) {
	w, err := segment.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &openSegment{w: w, perVolume: make(map[graft.VolumeId]*splinter.Splinter)}, nil
}

func (o *openSegment) add(req pageReq) {
	o.w.AddPage(req.vid, req.idx, req.pg)
	sp, ok := o.perVolume[req.vid]
	if !ok {
		sp = splinter.New()
		o.perVolume[req.vid] = sp
	}
	sp.Insert(uint32(req.idx))
	o.count++
}

type sealedSegment struct {
	sid       graft.SegmentId
	w         *segment.Writer
	perVolume map[graft.VolumeId]*splinter.Splinter
}

// Pipeline owns the segment-writer and uploader tasks plus the commit
// bus WritePages waits on. It also answers ReadPages, using meta (when
// set) to resolve a Volume's search path across segments it doesn't
// hold cached.
type Pipeline struct {
	cfg   Config
	objs  objstore.Store
	cache *segcache.Cache
	bus   *Bus
	meta  *wire.Client

	writeCh  chan pageReq
	uploadCh chan sealedSegment

	stopCh chan struct{}
	wg     stdsync.WaitGroup
}

func New(objs objstore.Store, cache *segcache.Cache, meta *wire.Client, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.SegmentCapacity <= 0 {
		cfg.SegmentCapacity = def.SegmentCapacity
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteQueueDepth <= 0 {
		cfg.WriteQueueDepth = def.WriteQueueDepth
	}
	if cfg.UploadQueueDepth <= 0 {
		cfg.UploadQueueDepth = def.UploadQueueDepth
	}
	return &Pipeline{
		cfg:      cfg,
		objs:     objs,
		cache:    cache,
		bus:      NewBus(),
		meta:     meta,
		writeCh:  make(chan pageReq, cfg.WriteQueueDepth),
		uploadCh: make(chan sealedSegment, cfg.UploadQueueDepth),
		stopCh:   make(chan struct{}),
	}
}

func (p *Pipeline) Bus() *Bus { return p.bus }

// Run starts the segment-writer and uploader tasks; it blocks until ctx
// is canceled or Stop is called.
func (p *Pipeline) Run(ctx context.Context) {
	p.wg.Add(2)
	go func() { defer p.wg.Done(); p.runWriter(ctx) }()
	go func() { defer p.wg.Done(); p.runUploader(ctx) }()
	select {
	case <-ctx.Done():
	case <-p.stopCh:
	}
	p.wg.Wait()
}

func (p *Pipeline) Stop() { close(p.stopCh) }

// WritePages implements spec §4.7's write_pages: validate, forward to
// the segment-writer task, then block until every submitted page has
// appeared in a CommitSegmentReq broadcast.
func (p *Pipeline) WritePages(ctx context.Context, vid graft.VolumeId, pages []wire.PageData) ([]wire.SegmentAccept, error) {
	if len(pages) == 0 {
		return nil, gerrs.InvalidRequest("write_pages: empty page list").WithVolume(vid.Pretty())
	}
	pending := make(map[graft.PageIdx]graft.Page, len(pages))
	for _, pg := range pages {
		if len(pg.Data) != graft.PageSize {
			return nil, gerrs.InvalidRequest("write_pages: page %d has size %d, want %d", pg.Idx, len(pg.Data), graft.PageSize).WithVolume(vid.Pretty())
		}
		if _, dup := pending[pg.Idx]; dup {
			return nil, gerrs.InvalidRequest("write_pages: duplicate page index %d", pg.Idx).WithVolume(vid.Pretty())
		}
		var raw graft.Page
		copy(raw[:], pg.Data)
		pending[pg.Idx] = raw
	}

	updates, cancel := p.bus.Subscribe()
	defer cancel()

	for idx, pg := range pending {
		select {
		case p.writeCh <- pageReq{vid: vid, idx: idx, pg: pg}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	bySeg := make(map[graft.SegmentId]*splinter.Splinter)
	for len(pending) > 0 {
		select {
		case req, ok := <-updates:
			if !ok {
				return nil, gerrs.Fatal("write_pages: commit bus closed while waiting on volume %s", vid.Pretty())
			}
			vset, ok := req.PerVolume[vid]
			if !ok {
				continue
			}
			for idx := range pending {
				if !vset.Contains(uint32(idx)) {
					continue
				}
				if bySeg[req.Sid] == nil {
					bySeg[req.Sid] = splinter.New()
				}
				bySeg[req.Sid].Insert(uint32(idx))
				delete(pending, idx)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]wire.SegmentAccept, 0, len(bySeg))
	for sid, sp := range bySeg {
		out = append(out, wire.SegmentAccept{Sid: sid, Pages: sp})
	}
	return out, nil
}

func (p *Pipeline) runWriter(ctx context.Context) {
	cur, err := newOpenSegment()
	if err != nil {
		nlog.Errorf("pagestore: open first segment: %v", err)
		return
	}
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if cur.count == 0 {
			return
		}
		sealed := sealedSegment{sid: graft.NewSegmentId(), w: cur.w, perVolume: cur.perVolume}
		select {
		case p.uploadCh <- sealed:
		case <-ctx.Done():
			return
		}
		next, err := newOpenSegment()
		if err != nil {
			nlog.Errorf("pagestore: open segment: %v", err)
			return
		}
		cur = next
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case req := <-p.writeCh:
			cur.add(req)
			if cur.count >= p.cfg.SegmentCapacity {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *Pipeline) runUploader(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case sealed := <-p.uploadCh:
			p.upload(ctx, sealed)
		}
	}
}

// upload seals sealed's Writer, stores it durably, warms the segment
// cache with the bytes it just wrote, and publishes the CommitSegmentReq
// every blocked WritePages call is waiting on. A Put failure retries
// with backoff rather than dropping the pages: nothing will ever resolve
// those callers' wait otherwise.
func (p *Pipeline) upload(ctx context.Context, sealed sealedSegment) {
	body, err := sealed.w.Finalize()
	if err != nil {
		nlog.Errorf("pagestore: finalize segment %s: %v", sealed.sid.Pretty(), err)
		return
	}
	key := sealed.sid.Pretty()

	b := backoff.New(200*time.Millisecond, 10*time.Second)
	for {
		err := p.objs.Put(ctx, key, bytes.NewReader(body), int64(len(body)))
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		delay := b.Next()
		nlog.Warningf("pagestore: upload segment %s failed, retrying in %s: %v", key, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	if p.cache != nil {
		if err := p.cache.Put(sealed.sid, body, sealed.perVolume); err != nil {
			nlog.Warningf("pagestore: cache segment %s after upload: %v", key, err)
		}
	}

	p.bus.Publish(CommitSegmentReq{Sid: sealed.sid, PerVolume: sealed.perVolume})
}
