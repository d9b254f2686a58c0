package pagestore

import (
	"context"

	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/wire"
)

// ReadPages implements spec §4.7's read_pages: resolve vid's search
// path from the metastore, then walk segments newest-first pulling
// whichever of the requested indices each one holds, until every index
// is accounted for or the path is exhausted (in which case the
// remaining indices come back as zeroed pages, matching VolumeReader's
// empty-page semantics for a never-written page).
func (p *Pipeline) ReadPages(ctx context.Context, vid graft.VolumeId, indices []graft.PageIdx) ([]wire.PageData, error) {
	if p.meta == nil {
		return nil, gerrs.Fatal("read_pages: pagestore has no metastore client configured")
	}
	if len(indices) == 0 {
		return nil, gerrs.InvalidRequest("read_pages: empty index list").WithVolume(vid.Pretty())
	}

	req := &wire.SnapshotRequest{Volume: vid}
	respBuf, err := p.meta.Post(wire.RouteMetastoreSnapshot, req.Encode())
	if err != nil {
		return nil, err
	}
	snapResp, err := wire.DecodeSnapshotResponse(respBuf)
	if err != nil {
		return nil, gerrs.Wrap(gerrs.KindIO, err, "read_pages: decode snapshot response")
	}

	remaining := make(map[graft.PageIdx]struct{}, len(indices))
	for _, idx := range indices {
		remaining[idx] = struct{}{}
	}
	found := make(map[graft.PageIdx]graft.Page, len(indices))

	for _, entry := range snapResp.Snapshot.Entries {
		if len(remaining) == 0 {
			break
		}
		if err := p.readFromLog(ctx, vid, entry, remaining, found); err != nil {
			return nil, err
		}
	}

	out := make([]wire.PageData, len(indices))
	for i, idx := range indices {
		pg := found[idx] // zero value if never written, matching VolumeReader.Read
		out[i] = wire.PageData{Idx: idx, Data: append([]byte(nil), pg[:]...)}
	}
	return out, nil
}

// readFromLog pulls every commit in entry's [Lo, Hi] range and consumes
// the still-remaining requested indices out of whichever commit's
// segment holds them, searching from the newest commit in the range
// backward so the freshest write for a given index wins.
func (p *Pipeline) readFromLog(ctx context.Context, vid graft.VolumeId, entry graft.SnapshotEntry, remaining map[graft.PageIdx]struct{}, found map[graft.PageIdx]graft.Page) error {
	req := &wire.PullSegmentsRequest{Log: entry.Log, FromLSN: entry.Lo, ToLSN: entry.Hi}
	buf, err := p.meta.Post(wire.RouteMetastorePullSegments, req.Encode())
	if err != nil {
		return err
	}
	resp, err := wire.DecodePullSegmentsResponse(buf)
	if err != nil {
		return gerrs.Wrap(gerrs.KindIO, err, "read_pages: decode pull_segments response")
	}

	for i := len(resp.Commits) - 1; i >= 0 && len(remaining) > 0; i-- {
		c := resp.Commits[i]
		if c.Segment == nil {
			continue
		}
		if p.cache != nil && !p.cache.MayContain(c.Segment.Sid, vid) {
			continue
		}
		var hit []graft.PageIdx
		for idx := range remaining {
			if c.Segment.PageSet != nil && c.Segment.PageSet.Contains(uint32(idx)) {
				hit = append(hit, idx)
			}
		}
		if len(hit) == 0 {
			continue
		}
		if err := p.readHits(ctx, vid, c.Segment.Sid, hit, remaining, found); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) readHits(ctx context.Context, vid graft.VolumeId, sid graft.SegmentId, hit []graft.PageIdx, remaining map[graft.PageIdx]struct{}, found map[graft.PageIdx]graft.Page) error {
	rd, err := p.cache.Load(ctx, sid)
	if err != nil {
		return gerrs.Wrap(gerrs.KindIO, err, "read_pages: load segment %s", sid.Pretty())
	}
	for _, idx := range hit {
		if !rd.Has(vid, idx) {
			continue
		}
		pg, err := rd.ReadPage(vid, idx)
		if err != nil {
			return gerrs.Wrap(gerrs.KindIO, err, "read_pages: read page %d from segment %s", idx, sid.Pretty())
		}
		found[idx] = pg
		delete(remaining, idx)
	}
	return nil
}
