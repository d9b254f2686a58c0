package sync

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/graft-sh/graft/client/storage"
	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv/memkv"
	"github.com/graft-sh/graft/wire"
)

// fakeMetastore answers PullOffsets/PullSegments/Commit against its own
// LogStore, standing in for the real metastore package so client/sync's
// actions can be exercised over the actual wire.Server/wire.Client pair
// instead of mocking the RPC layer.
type fakeMetastore struct {
	logs *storage.LogStore
}

func newFakeMetastore() *fakeMetastore {
	return &fakeMetastore{logs: storage.NewLogStore(memkv.New())}
}

func (m *fakeMetastore) handlePullOffsets(body []byte) ([]byte, error) {
	req, err := wire.DecodePullOffsetsRequest(body)
	if err != nil {
		return nil, err
	}
	head, _ := m.logs.HeadLSN(req.Log)
	return (&wire.PullOffsetsResponse{HeadLSN: head}).Encode(), nil
}

func (m *fakeMetastore) handlePullSegments(body []byte) ([]byte, error) {
	req, err := wire.DecodePullSegmentsRequest(body)
	if err != nil {
		return nil, err
	}
	var commits []*graft.Commit
	for lsn := req.FromLSN; lsn <= req.ToLSN; lsn++ {
		if c, ok := m.logs.CommitAt(req.Log, lsn); ok {
			commits = append(commits, c)
		}
	}
	return (&wire.PullSegmentsResponse{Commits: commits}).Encode(), nil
}

func (m *fakeMetastore) handleCommit(body []byte) ([]byte, error) {
	req, err := wire.DecodeCommitRequest(body)
	if err != nil {
		return nil, err
	}
	head, _ := m.logs.HeadLSN(req.Log)
	if head != req.ExpectedHeadLSN {
		return nil, gerrs.RejectedCommit("head is %d, expected %d", head, req.ExpectedHeadLSN).WithVolume(req.Volume.Pretty())
	}
	accepted := req.Commit
	b := m.logs.KV().NewBatch()
	storage.PutCommit(b, accepted)
	if err := b.Commit(context.Background()); err != nil {
		return nil, err
	}
	return (&wire.CommitResponse{Commit: accepted}).Encode(), nil
}

// startFakeMetastoreServer binds a wire.Server with the fakeMetastore's
// three handlers to an OS-assigned loopback port and returns a wire.Client
// already pointed at it, plus a teardown func.
func startFakeMetastoreServer(t *testing.T) (*fakeMetastore, *wire.Client, func()) {
	t.Helper()
	m := newFakeMetastore()
	srv := wire.NewServer(nil)
	srv.Handle(wire.RouteMetastorePullOffsets, m.handlePullOffsets)
	srv.Handle(wire.RouteMetastorePullSegments, m.handlePullSegments)
	srv.Handle(wire.RouteMetastoreCommit, m.handleCommit)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()

	client := wire.NewClient("http://"+ln.Addr().String(), nil)
	return m, client, func() { ln.Close() }
}

func newTestEngine(t *testing.T, meta *wire.Client) (*Engine, *storage.LogStore) {
	t.Helper()
	logs := storage.NewLogStore(memkv.New())
	e := NewEngine(logs, nil, meta, Config{Interval: time.Hour, HydrateLimit: 4})
	return e, logs
}

func TestFetchLogBackfillsMissingCommits(t *testing.T) {
	remote, meta, teardown := startFakeMetastoreServer(t)
	defer teardown()

	log := graft.NewLogId()
	b := remote.logs.KV().NewBatch()
	storage.PutCommit(b, &graft.Commit{Log: log, Lsn: 1, PageCount: 1})
	storage.PutCommit(b, &graft.Commit{Log: log, Lsn: 2, PageCount: 2})
	if err := b.Commit(context.Background()); err != nil {
		t.Fatalf("seed remote log: %v", err)
	}

	e, logs := newTestEngine(t, meta)
	head, err := e.FetchLog(context.Background(), log)
	if err != nil {
		t.Fatalf("FetchLog: %v", err)
	}
	if head != 2 {
		t.Fatalf("expected head 2, got %d", head)
	}

	existing, err := logs.ExistingLSNs(log)
	if err != nil {
		t.Fatalf("ExistingLSNs: %v", err)
	}
	if !existing[1] || !existing[2] {
		t.Fatalf("expected LSNs 1 and 2 to be backfilled, got %+v", existing)
	}
}

func TestRemoteCommitPushesStagedLocalCommit(t *testing.T) {
	_, meta, teardown := startFakeMetastoreServer(t)
	defer teardown()

	e, logs := newTestEngine(t, meta)

	vol := &graft.Volume{Vid: graft.NewVolumeId(), Local: graft.NewLogId(), Remote: graft.NewLogId()}
	if err := logs.PutVolume(context.Background(), vol); err != nil {
		t.Fatalf("PutVolume: %v", err)
	}
	b := logs.KV().NewBatch()
	storage.PutCommit(b, &graft.Commit{Log: vol.Local, Lsn: 1, PageCount: 3})
	if err := b.Commit(context.Background()); err != nil {
		t.Fatalf("seed local commit: %v", err)
	}

	if err := e.RemoteCommit(context.Background(), vol); err != nil {
		t.Fatalf("RemoteCommit: %v", err)
	}

	if vol.Pending != nil {
		t.Fatalf("expected Pending cleared, got %+v", vol.Pending)
	}
	if vol.Sync == nil || vol.Sync.RemoteLSN != 1 || vol.Sync.LocalWatermark != 1 {
		t.Fatalf("unexpected SyncPoint: %+v", vol.Sync)
	}
	if _, ok := logs.CommitAt(vol.Remote, 1); !ok {
		t.Fatalf("expected remote commit 1 to be applied locally")
	}
}

func TestRecoverPendingCommitFinalizesAlreadyLandedCommit(t *testing.T) {
	remote, meta, teardown := startFakeMetastoreServer(t)
	defer teardown()

	e, logs := newTestEngine(t, meta)

	vol := &graft.Volume{Vid: graft.NewVolumeId(), Local: graft.NewLogId(), Remote: graft.NewLogId()}
	hash := graft.ComputeCommitHash(vol.Remote, 1, 3, nil, nil)
	landed := &graft.Commit{Log: vol.Remote, Lsn: 1, PageCount: 3, Hash: hash}

	// Simulate the metastore having already accepted the commit (as if a
	// prior RemoteCommit crashed between its step 4 and step 5).
	rb := remote.logs.KV().NewBatch()
	storage.PutCommit(rb, landed)
	if err := rb.Commit(context.Background()); err != nil {
		t.Fatalf("seed remote commit: %v", err)
	}

	vol.Pending = &graft.PendingCommit{LocalLSN: 1, TargetRemoteLSN: 1, Hash: hash}
	if err := logs.PutVolume(context.Background(), vol); err != nil {
		t.Fatalf("PutVolume: %v", err)
	}

	if err := e.RecoverPendingCommit(context.Background(), vol); err != nil {
		t.Fatalf("RecoverPendingCommit: %v", err)
	}
	if vol.Pending != nil {
		t.Fatalf("expected Pending cleared after recovery")
	}
	if vol.Sync == nil || vol.Sync.RemoteLSN != 1 {
		t.Fatalf("unexpected SyncPoint after recovery: %+v", vol.Sync)
	}
	if _, ok := logs.CommitAt(vol.Remote, 1); !ok {
		t.Fatalf("expected recovered commit applied locally")
	}
}

func TestSyncVolumeClassifiesDivergedWhenBothSidesChanged(t *testing.T) {
	remote, meta, teardown := startFakeMetastoreServer(t)
	defer teardown()

	e, logs := newTestEngine(t, meta)

	vol := &graft.Volume{Vid: graft.NewVolumeId(), Local: graft.NewLogId(), Remote: graft.NewLogId()}
	if err := logs.PutVolume(context.Background(), vol); err != nil {
		t.Fatalf("PutVolume: %v", err)
	}

	lb := logs.KV().NewBatch()
	storage.PutCommit(lb, &graft.Commit{Log: vol.Local, Lsn: 1, PageCount: 1})
	if err := lb.Commit(context.Background()); err != nil {
		t.Fatalf("seed local commit: %v", err)
	}

	rb := remote.logs.KV().NewBatch()
	storage.PutCommit(rb, &graft.Commit{Log: vol.Remote, Lsn: 1, PageCount: 1})
	if err := rb.Commit(context.Background()); err != nil {
		t.Fatalf("seed remote commit: %v", err)
	}

	err := e.syncVolume(context.Background(), vol)
	if gerrs.KindOf(err) != gerrs.KindDiverged {
		t.Fatalf("expected Diverged, got %v", err)
	}
}
