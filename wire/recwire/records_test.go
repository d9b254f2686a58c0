package recwire

import (
	"testing"

	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/splinter"
)

func TestCommitRoundTrip(t *testing.T) {
	sp := splinter.FromKeys([]uint32{1, 2, 5})
	seg := &graft.SegmentRef{
		Sid:     graft.NewSegmentId(),
		PageSet: sp,
		Frames:  []graft.FrameRef{{Frame: 0, Offset: 4096, Length: 8192}},
	}
	want := &graft.Commit{
		Log:         graft.NewLogId(),
		Lsn:         42,
		PageCount:   100,
		Segment:     seg,
		Hash:        graft.CommitHash{1, 2, 3},
		Checkpoints: []graft.LSN{1, 20, 42},
	}

	buf := EncodeCommit(want)
	got, err := DecodeCommit(buf)
	if err != nil {
		t.Fatalf("DecodeCommit: %v", err)
	}
	if !got.Log.Equal(want.Log) || got.Lsn != want.Lsn || got.PageCount != want.PageCount {
		t.Fatalf("scalar fields mismatch: %+v", got)
	}
	if got.Hash != want.Hash {
		t.Fatalf("hash mismatch")
	}
	if len(got.Checkpoints) != len(want.Checkpoints) {
		t.Fatalf("checkpoints mismatch: %v", got.Checkpoints)
	}
	if got.Segment == nil || !got.Segment.Sid.Equal(want.Segment.Sid) {
		t.Fatalf("segment ref mismatch")
	}
	if got.Segment.PageSet.Cardinality() != 3 {
		t.Fatalf("page set cardinality = %d, want 3", got.Segment.PageSet.Cardinality())
	}
	if len(got.Segment.Frames) != 1 || got.Segment.Frames[0].Length != 8192 {
		t.Fatalf("frame ref mismatch: %+v", got.Segment.Frames)
	}
}

func TestVolumeRoundTrip(t *testing.T) {
	want := &graft.Volume{
		Vid:    graft.NewVolumeId(),
		Local:  graft.NewLogId(),
		Remote: graft.NewLogId(),
		Sync:   &graft.SyncPoint{RemoteLSN: 10, LocalWatermark: 12},
		Pending: &graft.PendingCommit{
			LocalLSN:        13,
			TargetRemoteLSN: 11,
			Hash:            graft.CommitHash{9, 9},
		},
		Parent: &graft.VolumeRef{Vid: graft.NewVolumeId(), AtLSN: 7},
	}

	buf := EncodeVolume(want)
	got, err := DecodeVolume(buf)
	if err != nil {
		t.Fatalf("DecodeVolume: %v", err)
	}
	if got.Vid.Pretty() != want.Vid.Pretty() {
		t.Fatalf("vid mismatch")
	}
	if got.Local != want.Local {
		t.Fatalf("local log mismatch")
	}
	if got.Sync == nil || got.Sync.RemoteLSN != 10 || got.Sync.LocalWatermark != 12 {
		t.Fatalf("sync point mismatch: %+v", got.Sync)
	}
	if got.Pending == nil || got.Pending.LocalLSN != 13 {
		t.Fatalf("pending commit mismatch: %+v", got.Pending)
	}
	if got.Parent == nil || got.Parent.AtLSN != 7 {
		t.Fatalf("parent ref mismatch: %+v", got.Parent)
	}
}

func TestCheckpointsRoundTrip(t *testing.T) {
	want := &graft.LogCheckpoints{LSNs: []graft.LSN{1, 10, 100}, ETag: "abc"}
	buf := EncodeCheckpoints(want)
	got, err := DecodeCheckpoints(buf)
	if err != nil {
		t.Fatalf("DecodeCheckpoints: %v", err)
	}
	if got.ETag != "abc" || len(got.LSNs) != 3 {
		t.Fatalf("checkpoints mismatch: %+v", got)
	}
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	// A buffer with an extra, made-up field number must still decode; new
	// optional fields get new numbers and old readers skip them.
	buf := NewWriter().
		Bytes(fVolumeVid, graft.NewVolumeId().Bytes()).
		Uint64(999, 123456).
		Finish()
	if _, err := DecodeVolume(buf); err != nil {
		t.Fatalf("DecodeVolume with unknown field: %v", err)
	}
}
