package metastore

import (
	"context"
	"testing"

	"github.com/graft-sh/graft/client/storage"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv/memkv"
	"github.com/graft-sh/graft/splinter"
	"github.com/graft-sh/graft/wire"
)

func newTestAcceptor() *Acceptor {
	return New(storage.NewLogStore(memkv.New()))
}

func segRefFor(indices ...uint32) *graft.SegmentRef {
	sp := splinter.New()
	for _, idx := range indices {
		sp.Insert(idx)
	}
	return &graft.SegmentRef{Sid: graft.NewSegmentId(), PageSet: sp}
}

func TestCommitAdvancesHeadAndChecksContiguity(t *testing.T) {
	a := newTestAcceptor()
	log := graft.NewLogId()
	vid := graft.NewVolumeId()

	req := &wire.CommitRequest{
		Log:             log,
		Volume:          vid,
		ExpectedHeadLSN: 0,
		Commit:          &graft.Commit{PageCount: 1, Segment: segRefFor(1)},
	}
	final, err := a.Commit(context.Background(), req)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if final.Lsn != 1 {
		t.Fatalf("expected lsn 1, got %d", final.Lsn)
	}
	if !final.IsCheckpoint() {
		t.Fatal("expected first contiguous commit to be a checkpoint")
	}
	if final.Hash.IsZero() {
		t.Fatal("expected a non-zero commit hash")
	}
}

func TestCommitRejectsStaleExpectedHead(t *testing.T) {
	a := newTestAcceptor()
	log := graft.NewLogId()
	vid := graft.NewVolumeId()

	req := &wire.CommitRequest{Log: log, Volume: vid, ExpectedHeadLSN: 0, Commit: &graft.Commit{PageCount: 1, Segment: segRefFor(1)}}
	if _, err := a.Commit(context.Background(), req); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// Same ExpectedHeadLSN again should now be rejected: head has moved to 1.
	_, err := a.Commit(context.Background(), req)
	if err == nil {
		t.Fatal("expected RejectedCommit on stale expected head")
	}
}

func TestCommitNonContiguousInheritsCheckpoint(t *testing.T) {
	a := newTestAcceptor()
	log := graft.NewLogId()
	vid := graft.NewVolumeId()

	first := &wire.CommitRequest{Log: log, Volume: vid, ExpectedHeadLSN: 0, Commit: &graft.Commit{PageCount: 1, Segment: segRefFor(1)}}
	c1, err := a.Commit(context.Background(), first)
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// PageCount 3 but only page 3 newly written: pages 2 is missing from the
	// aggregate, so this commit cannot be a checkpoint.
	second := &wire.CommitRequest{Log: log, Volume: vid, ExpectedHeadLSN: c1.Lsn, Commit: &graft.Commit{PageCount: 3, Segment: segRefFor(3)}}
	c2, err := a.Commit(context.Background(), second)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if c2.IsCheckpoint() {
		t.Fatal("expected second commit to not be a checkpoint (gap at page 2)")
	}
	if len(c2.Checkpoints) != 1 || c2.Checkpoints[0] != c1.Lsn {
		t.Fatalf("expected checkpoints to carry forward [%d], got %v", c1.Lsn, c2.Checkpoints)
	}

	// A third commit writes only page 2. Neither its own pages nor the
	// pages written since the last checkpoint ({2, 3}) cover 1..3, so it
	// is not a checkpoint either.
	third := &wire.CommitRequest{Log: log, Volume: vid, ExpectedHeadLSN: c2.Lsn, Commit: &graft.Commit{PageCount: 3, Segment: segRefFor(2)}}
	c3, err := a.Commit(context.Background(), third)
	if err != nil {
		t.Fatalf("third commit: %v", err)
	}
	if c3.IsCheckpoint() {
		t.Fatal("expected third commit, which writes only page 2, to not be a checkpoint")
	}
}

func TestHandlersRoundTripPullOffsetsAndSegments(t *testing.T) {
	a := newTestAcceptor()
	log := graft.NewLogId()
	vid := graft.NewVolumeId()

	req := &wire.CommitRequest{Log: log, Volume: vid, ExpectedHeadLSN: 0, Commit: &graft.Commit{PageCount: 1, Segment: segRefFor(1)}}
	if _, err := a.Commit(context.Background(), req); err != nil {
		t.Fatalf("commit: %v", err)
	}

	offBody, err := a.handlePullOffsets((&wire.PullOffsetsRequest{Log: log}).Encode())
	if err != nil {
		t.Fatalf("handlePullOffsets: %v", err)
	}
	offResp, err := wire.DecodePullOffsetsResponse(offBody)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if offResp.HeadLSN != 1 {
		t.Fatalf("expected head lsn 1, got %d", offResp.HeadLSN)
	}

	segBody, err := a.handlePullSegments((&wire.PullSegmentsRequest{Log: log, FromLSN: 1, ToLSN: 1}).Encode())
	if err != nil {
		t.Fatalf("handlePullSegments: %v", err)
	}
	segResp, err := wire.DecodePullSegmentsResponse(segBody)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(segResp.Commits) != 1 || segResp.Commits[0].Lsn != 1 {
		t.Fatalf("unexpected commits: %+v", segResp.Commits)
	}
}
