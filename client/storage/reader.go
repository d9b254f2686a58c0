package storage

import (
	"context"
	"fmt"

	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv"
)

// SegmentFetcher performs the synchronous FetchSegment fallthrough that
// VolumeReader.Read issues on a local miss (spec §4.5): retrieve the frame
// containing idx from object storage and write its pages into the pages
// partition under seg.Sid. Implementations live in client/sync, which owns
// the object store handle; client/storage depends only on this narrow
// interface so it stays storage-agnostic.
type SegmentFetcher interface {
	FetchSegment(ctx context.Context, vid graft.VolumeId, seg *graft.SegmentRef, frame graft.FrameRef) error
}

// VolumeReader resolves a Volume's Snapshot once at open time and serves
// page reads through it, fetching missing frames on demand.
type VolumeReader struct {
	logs    *LogStore
	fetcher SegmentFetcher
	vol     *graft.Volume
	snap    *graft.Snapshot
}

// OpenVolumeReader resolves vol's snapshot at the requested LSN (nil for
// the current head) and returns a reader over it.
func OpenVolumeReader(logs *LogStore, fetcher SegmentFetcher, vol *graft.Volume, at *graft.LSN) (*VolumeReader, error) {
	snap, err := graft.ResolveSnapshot(logs, vol, at)
	if err != nil {
		return nil, err
	}
	return &VolumeReader{logs: logs, fetcher: fetcher, vol: vol, snap: snap}, nil
}

func (r *VolumeReader) Snapshot() *graft.Snapshot { return r.snap }
func (r *VolumeReader) Volume() *graft.Volume     { return r.vol }

// Read implements spec §4.5's three-way branch: an empty page past the
// snapshot's page count, a local hit resolved off the search path, or a
// synchronous FetchSegment fallthrough.
func (r *VolumeReader) Read(ctx context.Context, idx graft.PageIdx) (graft.Page, error) {
	if !r.snap.Contains(idx) {
		return graft.EmptyPage, nil
	}

	seg, frame, err := r.findPageSegment(idx)
	if err != nil {
		return graft.EmptyPage, err
	}
	if seg == nil {
		// No commit in the search path claims this page: a hole before
		// the first write to this index, within an otherwise-written
		// Volume.
		return graft.EmptyPage, nil
	}

	if pg, ok, err := r.readLocal(seg.Sid, idx); err != nil {
		return graft.EmptyPage, err
	} else if ok {
		return pg, nil
	}

	if r.fetcher == nil {
		return graft.EmptyPage, gerrs.IOErr("page %d missing locally and no fetcher configured", idx).WithVolume(r.vol.Vid.Pretty())
	}
	if err := r.fetcher.FetchSegment(ctx, r.vol.Vid, seg, frame); err != nil {
		return graft.EmptyPage, err
	}

	pg, ok, err := r.readLocal(seg.Sid, idx)
	if err != nil {
		return graft.EmptyPage, err
	}
	if !ok {
		return graft.EmptyPage, gerrs.IOErr("page %d still missing after FetchSegment", idx).
			WithVolume(r.vol.Vid.Pretty()).WithSegment(seg.Sid.Pretty())
	}
	return pg, nil
}

func (r *VolumeReader) readLocal(sid graft.SegmentId, idx graft.PageIdx) (graft.Page, bool, error) {
	var out graft.Page
	b, ok, err := r.logs.KV().Get(kv.PartitionPages, pageKey(sid, idx))
	if err != nil || !ok {
		return out, false, err
	}
	if len(b) != graft.PageSize {
		return out, false, fmt.Errorf("storage: stored page %d has wrong size %d", idx, len(b))
	}
	copy(out[:], b)
	return out, true, nil
}

// findPageSegment walks the snapshot's search path, head first and each
// leg newest-LSN first, for the most recent commit whose SegmentRef
// claims idx. It returns (nil, _, nil) if no commit in the path touches
// idx at all (a hole, not a miss).
func (r *VolumeReader) findPageSegment(idx graft.PageIdx) (*graft.SegmentRef, graft.FrameRef, error) {
	for _, entry := range r.snap.Entries {
		for lsn := entry.Hi; ; lsn-- {
			c, ok := r.logs.CommitAt(entry.Log, lsn)
			if ok && c.Segment != nil && c.Segment.PageSet != nil && c.Segment.PageSet.Contains(uint32(idx)) {
				return c.Segment, frameFor(c.Segment), nil
			}
			if lsn == entry.Lo {
				break
			}
		}
	}
	return nil, graft.FrameRef{}, nil
}

// frameFor returns the single FrameRef a commit's SegmentRef denormalized,
// if any, or the zero value. client/sync's Fetcher ignores it and reads
// the whole segment either way.
func frameFor(seg *graft.SegmentRef) graft.FrameRef {
	if len(seg.Frames) > 0 {
		return seg.Frames[0]
	}
	return graft.FrameRef{}
}
