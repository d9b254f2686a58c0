package storage

import (
	"context"
	"sort"

	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv"
	"github.com/graft-sh/graft/splinter"
	"github.com/graft-sh/graft/wire/recwire"
)

// VolumeWriter extends VolumeReader with an in-memory dirty-page map
// (spec §4.5): writes accumulate locally until Commit mints a new Segment
// and appends exactly one Commit to the Volume's local Log.
type VolumeWriter struct {
	*VolumeReader

	headAtOpen graft.LSN
	pageCount  graft.PageCount
	dirty      map[graft.PageIdx]graft.Page
}

// OpenVolumeWriter opens vol for writing at its current head. Unlike
// OpenVolumeReader it always resolves the live head, never a historical
// LSN: a writer mutates forward from "now".
func OpenVolumeWriter(logs *LogStore, fetcher SegmentFetcher, vol *graft.Volume) (*VolumeWriter, error) {
	r, err := OpenVolumeReader(logs, fetcher, vol, nil)
	if err != nil {
		return nil, err
	}
	head, ok := logs.HeadLSN(vol.Local)
	if !ok {
		return nil, gerrs.Fatal("volume %s has no local head to write against", vol.Vid.Pretty())
	}
	return &VolumeWriter{
		VolumeReader: r,
		headAtOpen:   head,
		pageCount:    r.snap.PageCount,
		dirty:        make(map[graft.PageIdx]graft.Page),
	}, nil
}

// WritePage records pg as the content of idx and raises the Volume's page
// count if idx extends past it.
func (w *VolumeWriter) WritePage(idx graft.PageIdx, pg graft.Page) {
	w.dirty[idx] = pg
	if idx.Pages() > w.pageCount {
		w.pageCount = idx.Pages()
	}
}

// Read overrides VolumeReader.Read to check the dirty map first, so a
// writer observes its own uncommitted writes.
func (w *VolumeWriter) Read(ctx context.Context, idx graft.PageIdx) (graft.Page, error) {
	if idx.Pages() > w.pageCount {
		return graft.EmptyPage, nil
	}
	if pg, ok := w.dirty[idx]; ok {
		return pg, nil
	}
	return w.VolumeReader.Read(ctx, idx)
}

// PageCount returns the writer's current, possibly-uncommitted page count.
func (w *VolumeWriter) PageCount() graft.PageCount { return w.pageCount }

// SoftTruncate sets the page count to n and drops dirty pages past n. It
// does not erase content already committed to storage past n: once the
// page count grows past those pages again (a later SoftTruncate to a
// larger n, or a write beyond n), they are visible again at their own
// indices with their committed content (spec §8 scenario 3).
func (w *VolumeWriter) SoftTruncate(n graft.PageCount) {
	w.pageCount = n
	for idx := range w.dirty {
		if idx.Pages() > n {
			delete(w.dirty, idx)
		}
	}
}

// Commit mints a fresh SegmentId, bulk-writes the dirty pages into the
// pages partition under it, and appends a Commit advancing the local head
// by exactly one LSN. The batch's precondition is that the Log head has
// not moved since the writer was opened; on failure this returns a
// ConcurrentWrite error and the writer's dirty set is left untouched so
// the caller can retry against a freshly-opened writer.
func (w *VolumeWriter) Commit(ctx context.Context) (*graft.Commit, error) {
	if len(w.dirty) == 0 {
		return nil, gerrs.InvalidRequest("commit with no staged writes").WithVolume(w.vol.Vid.Pretty())
	}
	if vol, ok := w.logs.VolumeByID(w.vol.Vid); ok && vol.HasPending() {
		return nil, gerrs.PendingRecovery("volume %s has an unresolved pending commit", w.vol.Vid.Pretty()).WithVolume(w.vol.Vid.Pretty())
	}

	idxs := make([]graft.PageIdx, 0, len(w.dirty))
	for idx := range w.dirty {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })

	pageSet := splinter.New()
	for _, idx := range idxs {
		pageSet.Insert(uint32(idx))
	}

	sid := graft.NewSegmentId()
	seg := &graft.SegmentRef{Sid: sid, PageSet: pageSet}

	commit := &graft.Commit{
		Log:       w.vol.Local,
		Lsn:       w.headAtOpen.Next(),
		PageCount: w.pageCount,
		Segment:   seg,
	}

	b := w.logs.KV().NewBatch()
	for _, idx := range idxs {
		pg := w.dirty[idx]
		b.Put(kv.PartitionPages, pageKey(sid, idx), pg[:])
	}
	PutCommit(b, commit)
	log := w.vol.Local
	b.Precondition(HeadPrecondition(log, w.headAtOpen))

	if err := b.Commit(ctx); err != nil {
		if err == kv.ErrPreconditionFailed {
			return nil, gerrs.ConcurrentWrite("log %s head moved since writer was opened", log.Pretty()).WithVolume(w.vol.Vid.Pretty())
		}
		return nil, err
	}

	w.dirty = make(map[graft.PageIdx]graft.Page)
	w.headAtOpen = commit.Lsn
	w.snap.PageCount = w.pageCount
	return commit, nil
}
