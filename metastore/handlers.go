package metastore

import (
	"context"

	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/wire"
)

// RegisterRoutes wires the metastore's wire protocol routes onto srv.
func RegisterRoutes(srv *wire.Server, a *Acceptor) {
	srv.Handle(wire.RouteMetastoreSnapshot, a.handleSnapshot)
	srv.Handle(wire.RouteMetastorePullOffsets, a.handlePullOffsets)
	srv.Handle(wire.RouteMetastorePullSegments, a.handlePullSegments)
	srv.Handle(wire.RouteMetastoreCommit, a.handleCommit)
}

func (a *Acceptor) handleSnapshot(body []byte) ([]byte, error) {
	req, err := wire.DecodeSnapshotRequest(body)
	if err != nil {
		return nil, err
	}
	vol, ok := a.logs.VolumeByID(req.Volume)
	if !ok {
		return nil, gerrs.NotFound("volume %s", req.Volume.Pretty())
	}
	var at *graft.LSN
	if req.AtLSN != 0 {
		lsn := req.AtLSN
		at = &lsn
	}
	snap, err := graft.ResolveSnapshot(a.logs, vol, at)
	if err != nil {
		return nil, err
	}
	resp := &wire.SnapshotResponse{Snapshot: snap}
	return resp.Encode(), nil
}

func (a *Acceptor) handlePullOffsets(body []byte) ([]byte, error) {
	req, err := wire.DecodePullOffsetsRequest(body)
	if err != nil {
		return nil, err
	}
	head, _ := a.logs.HeadLSN(req.Log)
	resp := &wire.PullOffsetsResponse{HeadLSN: head}
	return resp.Encode(), nil
}

func (a *Acceptor) handlePullSegments(body []byte) ([]byte, error) {
	req, err := wire.DecodePullSegmentsRequest(body)
	if err != nil {
		return nil, err
	}
	var commits []*graft.Commit
	for lsn := req.FromLSN; lsn <= req.ToLSN; lsn++ {
		if c, ok := a.logs.CommitAt(req.Log, lsn); ok {
			commits = append(commits, c)
		}
	}
	resp := &wire.PullSegmentsResponse{Commits: commits}
	return resp.Encode(), nil
}

func (a *Acceptor) handleCommit(body []byte) ([]byte, error) {
	req, err := wire.DecodeCommitRequest(body)
	if err != nil {
		return nil, err
	}
	final, err := a.Commit(context.Background(), req)
	if err != nil {
		return nil, err
	}
	resp := &wire.CommitResponse{Commit: final}
	return resp.Encode(), nil
}
