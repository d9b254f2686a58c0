package sync

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/graft-sh/graft/client/storage"
	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv"
	"github.com/graft-sh/graft/segment"
	"github.com/graft-sh/graft/wire"
)

// FetchLog implements spec §4.6's FetchLog action: compute the missing LSN
// set for log against the metastore's current head and backfill it,
// including any checkpoint commits the fetched range references that
// aren't already local. All writes land in one batch.
func (e *Engine) FetchLog(ctx context.Context, log graft.LogId) (graft.LSN, error) {
	offResp, err := e.pullOffsets(ctx, log)
	if err != nil {
		return 0, err
	}
	if offResp.HeadLSN == 0 {
		return 0, nil // remote has no commits yet
	}

	existing, err := e.logs.ExistingLSNs(log)
	if err != nil {
		return 0, err
	}

	lo := graft.FirstLSN
	for l := offResp.HeadLSN; l >= graft.FirstLSN && existing[l]; l-- {
		lo = l + 1
		if l == graft.FirstLSN {
			break
		}
	}
	if lo > offResp.HeadLSN {
		return offResp.HeadLSN, nil // already fully caught up
	}

	segResp, err := e.pullSegments(ctx, log, lo, offResp.HeadLSN)
	if err != nil {
		return 0, err
	}

	b := e.logs.KV().NewBatch()
	for _, c := range segResp.Commits {
		if existing[c.Lsn] {
			continue
		}
		storage.PutCommit(b, c)
	}
	for _, c := range segResp.Commits {
		for _, cp := range c.Checkpoints {
			if cp >= lo || existing[cp] {
				continue
			}
			cpResp, err := e.pullSegments(ctx, log, cp, cp)
			if err != nil {
				return 0, err
			}
			for _, cc := range cpResp.Commits {
				storage.PutCommit(b, cc)
			}
			existing[cp] = true
		}
	}
	if err := b.Commit(ctx); err != nil {
		return 0, fmt.Errorf("sync: fetch log %s: write batch: %w", log.Pretty(), err)
	}
	return offResp.HeadLSN, nil
}

func (e *Engine) pullOffsets(ctx context.Context, log graft.LogId) (*wire.PullOffsetsResponse, error) {
	req := &wire.PullOffsetsRequest{Log: log}
	body, err := e.meta.Post(wire.RouteMetastorePullOffsets, req.Encode())
	if err != nil {
		return nil, err
	}
	return wire.DecodePullOffsetsResponse(body)
}

func (e *Engine) pullSegments(ctx context.Context, log graft.LogId, from, to graft.LSN) (*wire.PullSegmentsResponse, error) {
	req := &wire.PullSegmentsRequest{Log: log, FromLSN: from, ToLSN: to}
	body, err := e.meta.Post(wire.RouteMetastorePullSegments, req.Encode())
	if err != nil {
		return nil, err
	}
	return wire.DecodePullSegmentsResponse(body)
}

// HydrateSnapshot fetches every frame a Snapshot references that isn't
// already stored locally, up to e.hydrateLimit concurrent fetches (spec
// §4.6: "coalesces adjacent frames, runs up to N fetches concurrently").
// Adjacent-frame coalescing is left to the object store's own range-read
// efficiency: client/sync always fetches a whole sealed Segment per
// distinct SegmentId (see Fetcher's doc comment), so two frames in the
// same Segment already cost one fetch rather than two.
func (e *Engine) HydrateSnapshot(ctx context.Context, vid graft.VolumeId, snap *graft.Snapshot) error {
	segments := map[graft.SegmentId]*graft.SegmentRef{}
	for _, entry := range snap.Entries {
		for lsn := entry.Hi; ; lsn-- {
			c, ok := e.logs.CommitAt(entry.Log, lsn)
			if ok && c.Segment != nil {
				segments[c.Segment.Sid] = c.Segment
			}
			if lsn == entry.Lo {
				break
			}
		}
	}

	missing := map[graft.SegmentId]*graft.SegmentRef{}
	for sid, seg := range segments {
		if present, err := e.segmentFullyLocal(vid, seg); err != nil {
			return err
		} else if !present {
			missing[sid] = seg
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.hydrateLimit)
	for _, seg := range missing {
		seg := seg
		g.Go(func() error {
			return e.fetcher.FetchSegment(gctx, vid, seg, graft.FrameRef{})
		})
	}
	return g.Wait()
}

// RemoteCommit implements spec §4.6's RemoteCommit action: push every
// staged local commit not yet represented remotely, in the five steps the
// spec numbers.
func (e *Engine) RemoteCommit(ctx context.Context, vol *graft.Volume) error {
	sp := vol.Sync
	if sp == nil {
		sp = &graft.SyncPoint{}
	}
	localHead, ok := e.logs.HeadLSN(vol.Local)
	if !ok || localHead <= sp.LocalWatermark {
		return nil // nothing staged
	}
	commit, ok := e.logs.CommitAt(vol.Local, localHead)
	if !ok {
		return gerrs.Fatal("local head %d missing its own commit record", localHead).WithVolume(vol.Vid.Pretty())
	}

	// Step 1: upload the staged Segment if this commit carries one.
	if commit.Segment != nil {
		if err := e.uploadSegment(ctx, vol.Vid, commit.Segment); err != nil {
			return err
		}
	}

	// Step 2: compute CommitHash.
	targetRemoteLsn := sp.RemoteLSN + 1
	hash := graft.ComputeCommitHash(vol.Remote, targetRemoteLsn, commit.PageCount, commit.Segment, commit.Checkpoints)

	// Step 3: record PendingCommit durably before the network call.
	vol.Pending = &graft.PendingCommit{LocalLSN: localHead, TargetRemoteLSN: targetRemoteLsn, Hash: hash}
	if err := e.logs.PutVolume(ctx, vol); err != nil {
		return err
	}

	// Step 4: POST to metastore with the expected prior remote LSN.
	req := &wire.CommitRequest{
		Log:             vol.Remote,
		Volume:          vol.Vid,
		ExpectedHeadLSN: sp.RemoteLSN,
		Commit:          &graft.Commit{Log: vol.Remote, Lsn: targetRemoteLsn, PageCount: commit.PageCount, Segment: commit.Segment, Hash: hash, Checkpoints: commit.Checkpoints},
	}
	body, err := e.meta.Post(wire.RouteMetastoreCommit, req.Encode())
	if err != nil {
		return err
	}
	resp, err := wire.DecodeCommitResponse(body)
	if err != nil {
		return err
	}

	// Step 5: apply the new remote commit locally, clear pending, advance
	// SyncPoint, all in one batch.
	return e.finalizeRemoteCommit(ctx, vol, resp.Commit, localHead)
}

func (e *Engine) uploadSegment(ctx context.Context, vid graft.VolumeId, seg *graft.SegmentRef) error {
	key := seg.Sid.Pretty()
	if _, err := e.objs.Head(ctx, key); err == nil {
		return nil // already uploaded
	}

	w, err := newSegmentWriterFromStaged(e.logs, vid, seg)
	if err != nil {
		return err
	}
	body, err := w.Finalize()
	if err != nil {
		return gerrs.Wrap(gerrs.KindStorage, err, "finalize segment %s", key).WithSegment(key)
	}
	if err := e.objs.Put(ctx, key, bytes.NewReader(body), int64(len(body))); err != nil {
		return gerrs.Wrap(gerrs.KindStorage, err, "upload segment %s", key).WithSegment(key)
	}
	return nil
}

// newSegmentWriterFromStaged rebuilds a segment.Writer from the pages a
// prior VolumeWriter.Commit already staged under seg.Sid in the pages
// partition, so RemoteCommit never has to keep the raw page bytes around
// between the local commit and the remote upload.
func newSegmentWriterFromStaged(logs *storage.LogStore, vid graft.VolumeId, seg *graft.SegmentRef) (*segment.Writer, error) {
	w, err := segment.NewWriter(nil)
	if err != nil {
		return nil, gerrs.Wrap(gerrs.KindStorage, err, "new segment writer for %s", seg.Sid.Pretty()).WithSegment(seg.Sid.Pretty())
	}
	var outerErr error
	seg.PageSet.Iterate(func(u uint32) bool {
		idx := graft.PageIdx(u)
		b, ok, getErr := logs.KV().Get(kv.PartitionPages, storage.PageKey(seg.Sid, idx))
		if getErr != nil {
			outerErr = fmt.Errorf("sync: read staged page %d of segment %s: %w", idx, seg.Sid.Pretty(), getErr)
			return false
		}
		if !ok {
			outerErr = gerrs.Fatal("staged page %d of segment %s missing from local store", idx, seg.Sid.Pretty()).WithSegment(seg.Sid.Pretty())
			return false
		}
		var pg graft.Page
		copy(pg[:], b)
		w.AddPage(vid, idx, pg)
		return true
	})
	if outerErr != nil {
		return nil, outerErr
	}
	return w, nil
}

// segmentFullyLocal reports whether every page seg.PageSet names is already
// present in the local pages partition, so HydrateSnapshot can skip a
// redundant fetch for a Segment this writer just committed itself.
func (e *Engine) segmentFullyLocal(vid graft.VolumeId, seg *graft.SegmentRef) (bool, error) {
	missing := false
	var outerErr error
	seg.PageSet.Iterate(func(u uint32) bool {
		idx := graft.PageIdx(u)
		_, ok, err := e.logs.KV().Get(kv.PartitionPages, storage.PageKey(seg.Sid, idx))
		if err != nil {
			outerErr = err
			return false
		}
		if !ok {
			missing = true
			return false
		}
		return true
	})
	if outerErr != nil {
		return false, outerErr
	}
	return !missing, nil
}

func (e *Engine) finalizeRemoteCommit(ctx context.Context, vol *graft.Volume, remoteCommit *graft.Commit, localLsnApplied graft.LSN) error {
	b := e.logs.KV().NewBatch()
	storage.PutCommit(b, remoteCommit)
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("sync: apply finalized remote commit: %w", err)
	}
	vol.Pending = nil
	vol.Sync = &graft.SyncPoint{RemoteLSN: remoteCommit.Lsn, LocalWatermark: localLsnApplied}
	return e.logs.PutVolume(ctx, vol)
}

// RecoverPendingCommit implements spec §4.6's crash-recovery action: a
// PendingCommit is durable and CommitHash uniquely identifies the target
// remote commit, so recovery only needs to ask the remote whether it
// landed.
func (e *Engine) RecoverPendingCommit(ctx context.Context, vol *graft.Volume) error {
	p := vol.Pending
	if p == nil {
		return nil
	}

	commit, ok := e.logs.CommitAt(vol.Remote, p.TargetRemoteLSN)
	if !ok {
		segResp, err := e.pullSegments(ctx, vol.Remote, p.TargetRemoteLSN, p.TargetRemoteLSN)
		if err != nil {
			return err
		}
		if len(segResp.Commits) == 1 {
			commit = segResp.Commits[0]
			ok = true
		}
	}

	if ok && commit.Hash == p.Hash {
		return e.finalizeRemoteCommit(ctx, vol, commit, p.LocalLSN)
	}

	// The commit never landed (or landed under a different hash, meaning
	// another writer won the race): drop the pending marker. The next
	// tick's classification picks the volume back up from the
	// now-resolved state.
	vol.Pending = nil
	return e.logs.PutVolume(ctx, vol)
}

// SyncRemoteToLocal implements spec §4.6's fast-forward action: rewrite
// remote commits past the SyncPoint into the local Log at consecutive
// LSNs, failing with Diverged if local has its own unsynced commits.
func (e *Engine) SyncRemoteToLocal(ctx context.Context, vol *graft.Volume) error {
	sp := vol.Sync
	if sp == nil {
		sp = &graft.SyncPoint{}
	}
	localHead, ok := e.logs.HeadLSN(vol.Local)
	if ok && localHead > sp.LocalWatermark {
		return gerrs.Diverged("volume %s has local commits past its sync watermark", vol.Vid.Pretty()).WithVolume(vol.Vid.Pretty())
	}

	remoteHead, ok := e.logs.HeadLSN(vol.Remote)
	if !ok || remoteHead <= sp.RemoteLSN {
		return nil
	}

	b := e.logs.KV().NewBatch()
	next := sp.LocalWatermark + 1
	var lastApplied graft.LSN
	for lsn := sp.RemoteLSN + 1; lsn <= remoteHead; lsn++ {
		rc, ok := e.logs.CommitAt(vol.Remote, lsn)
		if !ok {
			return gerrs.Fatal("remote commit %d missing from local mirror during fast-forward", lsn).WithVolume(vol.Vid.Pretty())
		}
		local := &graft.Commit{Log: vol.Local, Lsn: next, PageCount: rc.PageCount, Segment: rc.Segment, Hash: rc.Hash, Checkpoints: rc.Checkpoints}
		storage.PutCommit(b, local)
		lastApplied = next
		next++
	}
	log := vol.Local
	b.Precondition(storage.HeadPrecondition(log, localHead))
	if err := b.Commit(ctx); err != nil {
		if err == kv.ErrPreconditionFailed {
			return gerrs.Diverged("volume %s local log advanced during fast-forward", vol.Vid.Pretty()).WithVolume(vol.Vid.Pretty())
		}
		return err
	}

	vol.Sync = &graft.SyncPoint{RemoteLSN: remoteHead, LocalWatermark: lastApplied}
	return e.logs.PutVolume(ctx, vol)
}
