package wire

import (
	"testing"

	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
)

func TestErrorRoundTrip(t *testing.T) {
	want := gerrs.RejectedCommit("head moved").WithVolume("vol_abc").WithLSN(7)
	buf := EncodeError(want)
	got, err := DecodeError(buf)
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if got.Kind != want.Kind || got.Message != want.Message || got.Volume != want.Volume || got.LSN != want.LSN {
		t.Fatalf("error round trip mismatch: %+v", got)
	}
}

func TestCommitRequestRoundTrip(t *testing.T) {
	want := &CommitRequest{
		Log:             graft.NewLogId(),
		Volume:          graft.NewVolumeId(),
		ExpectedHeadLSN: 5,
		Commit: &graft.Commit{
			Log:       graft.NewLogId(),
			Lsn:       6,
			PageCount: 20,
		},
	}
	buf := want.Encode()
	got, err := DecodeCommitRequest(buf)
	if err != nil {
		t.Fatalf("DecodeCommitRequest: %v", err)
	}
	if got.Log != want.Log || got.ExpectedHeadLSN != want.ExpectedHeadLSN {
		t.Fatalf("mismatch: %+v", got)
	}
	if got.Commit == nil || got.Commit.Lsn != 6 {
		t.Fatalf("nested commit mismatch: %+v", got.Commit)
	}
}

func TestSnapshotResponseRoundTrip(t *testing.T) {
	snap := &graft.Snapshot{
		Entries:   []graft.SnapshotEntry{{Log: graft.NewLogId(), Lo: 1, Hi: 10}},
		PageCount: 50,
	}
	resp := &SnapshotResponse{Snapshot: snap}
	buf := resp.Encode()
	got, err := DecodeSnapshotResponse(buf)
	if err != nil {
		t.Fatalf("DecodeSnapshotResponse: %v", err)
	}
	if got.Snapshot.PageCount != 50 || len(got.Snapshot.Entries) != 1 {
		t.Fatalf("mismatch: %+v", got.Snapshot)
	}
}

func TestPullOffsetsRoundTrip(t *testing.T) {
	log := graft.NewLogId()
	req := &PullOffsetsRequest{Log: log}
	gotReq, err := DecodePullOffsetsRequest(req.Encode())
	if err != nil {
		t.Fatalf("DecodePullOffsetsRequest: %v", err)
	}
	if gotReq.Log != log {
		t.Fatalf("request log mismatch")
	}

	resp := &PullOffsetsResponse{HeadLSN: 42}
	gotResp, err := DecodePullOffsetsResponse(resp.Encode())
	if err != nil {
		t.Fatalf("DecodePullOffsetsResponse: %v", err)
	}
	if gotResp.HeadLSN != 42 {
		t.Fatalf("response HeadLSN mismatch: %d", gotResp.HeadLSN)
	}
}

func TestPullSegmentsRoundTrip(t *testing.T) {
	log := graft.NewLogId()
	req := &PullSegmentsRequest{Log: log, FromLSN: 2, ToLSN: 9}
	gotReq, err := DecodePullSegmentsRequest(req.Encode())
	if err != nil {
		t.Fatalf("DecodePullSegmentsRequest: %v", err)
	}
	if gotReq.FromLSN != 2 || gotReq.ToLSN != 9 {
		t.Fatalf("request range mismatch: %+v", gotReq)
	}

	resp := &PullSegmentsResponse{Commits: []*graft.Commit{
		{Log: log, Lsn: 2, PageCount: 1},
		{Log: log, Lsn: 3, PageCount: 2},
	}}
	gotResp, err := DecodePullSegmentsResponse(resp.Encode())
	if err != nil {
		t.Fatalf("DecodePullSegmentsResponse: %v", err)
	}
	if len(gotResp.Commits) != 2 || gotResp.Commits[1].Lsn != 3 {
		t.Fatalf("commits mismatch: %+v", gotResp.Commits)
	}
}
