// Package metastore implements the commit acceptor: the single
// compare-and-advance authority every Volume's Log commits pass through
// on their way to durable, globally-visible state (spec §4.8).
package metastore

import (
	"context"

	"github.com/graft-sh/graft/client/storage"
	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv"
	"github.com/graft-sh/graft/splinter"
	"github.com/graft-sh/graft/wire"
)

// Acceptor owns the metastore's LogStore. LogId is already a globally
// unique namespace, so there is no need for a second, metastore-specific
// key scheme: the same storage.LogStore type the client side uses to
// read its local replica also durably persists the log of record here.
type Acceptor struct {
	logs *storage.LogStore
}

func New(logs *storage.LogStore) *Acceptor { return &Acceptor{logs: logs} }

func (a *Acceptor) LogStore() *storage.LogStore { return a.logs }

// Commit runs spec §4.8's six-step compare-and-advance. Any Lsn,
// Hash, and Checkpoints already set on the caller's Commit are ignored;
// Commit computes them itself and returns the finalized record.
func (a *Acceptor) Commit(ctx context.Context, req *wire.CommitRequest) (*graft.Commit, error) {
	head, hasHead := a.logs.HeadLSN(req.Log)
	var headLSN graft.LSN
	if hasHead {
		headLSN = head
	}
	if headLSN != req.ExpectedHeadLSN {
		return nil, gerrs.RejectedCommit("log %s: head is %d, expected %d", req.Log.Pretty(), headLSN, req.ExpectedHeadLSN).WithVolume(req.Volume.Pretty())
	}

	newLSN := req.ExpectedHeadLSN + 1

	checkpoints, err := a.computeCheckpoints(req.Log, req.ExpectedHeadLSN, newLSN, req.Commit)
	if err != nil {
		return nil, err
	}

	final := &graft.Commit{
		Log:         req.Log,
		Lsn:         newLSN,
		PageCount:   req.Commit.PageCount,
		Segment:     req.Commit.Segment,
		Checkpoints: checkpoints,
	}
	final.Hash = graft.ComputeCommitHash(final.Log, final.Lsn, final.PageCount, final.Segment, final.Checkpoints)

	b := a.logs.KV().NewBatch()
	b.Precondition(storage.HeadPrecondition(req.Log, req.ExpectedHeadLSN))
	storage.PutCommit(b, final)
	if final.IsCheckpoint() {
		cps := a.logs.Checkpoints(req.Log)
		cps.LSNs = append(append([]graft.LSN{}, cps.LSNs...), final.Lsn)
		storage.PutCheckpoints(b, req.Log, cps)
	}
	if err := b.Commit(ctx); err != nil {
		if err == kv.ErrPreconditionFailed {
			return nil, gerrs.RejectedCommit("log %s: head moved concurrently, expected %d", req.Log.Pretty(), req.ExpectedHeadLSN).WithVolume(req.Volume.Pretty())
		}
		return nil, gerrs.Wrap(gerrs.KindStorage, err, "commit log %s", req.Log.Pretty())
	}

	return final, nil
}

// computeCheckpoints implements spec §4.8 step 4: the new commit becomes
// a checkpoint exactly when the union of every PageSet from the last
// known checkpoint (exclusive) through this commit covers 1..=last
// pageidx with no gaps, i.e. its cardinality equals the commit's
// cumulative PageCount. Otherwise the checkpoint list carries forward
// unchanged from the prior commit.
func (a *Acceptor) computeCheckpoints(log graft.LogId, priorHead, newLSN graft.LSN, incoming *graft.Commit) ([]graft.LSN, error) {
	cps := a.logs.Checkpoints(log)
	lastCp, hasCp := cps.LastCheckpointAtOrBelow(priorHead)

	aggregate := splinter.New()
	if incoming.Segment != nil && incoming.Segment.PageSet != nil {
		aggregate = splinter.Union(aggregate, incoming.Segment.PageSet)
	}

	floor := graft.FirstLSN
	if hasCp {
		floor = lastCp + 1
	}
	for lsn := priorHead; lsn >= floor && lsn > 0; lsn-- {
		c, ok := a.logs.CommitAt(log, lsn)
		if !ok {
			return nil, gerrs.Fatal("metastore: log %s missing commit at lsn %d while computing checkpoint contiguity", log.Pretty(), lsn)
		}
		if c.Segment != nil && c.Segment.PageSet != nil {
			aggregate = splinter.Union(aggregate, c.Segment.PageSet)
		}
		if lsn == floor {
			break
		}
	}

	contiguous := aggregate.Cardinality() == int(incoming.PageCount)
	if contiguous {
		return append(append([]graft.LSN{}, cps.LSNs...), newLSN), nil
	}
	return append([]graft.LSN{}, cps.LSNs...), nil
}
