package graft

import "github.com/graft-sh/graft/gerrs"

// LogSource is the minimal read surface the search-path resolver needs.
// client/storage.LogStore is the implementation, backed by its kv.Store
// partitions; metastore reuses that same type. graft itself stays
// storage-agnostic.
type LogSource interface {
	// HeadLSN returns the current head LSN of log, or (0, false) if the
	// log has no commits yet.
	HeadLSN(log LogId) (LSN, bool)
	// VolumeByID looks up a Volume record, needed to keep walking a fork
	// chain through successive Parent references.
	VolumeByID(vid VolumeId) (*Volume, bool)
	// Checkpoints returns the cached checkpoint list for log (may be
	// empty, never nil).
	Checkpoints(log LogId) *LogCheckpoints
	// CommitAt returns the commit at the given LSN, used to read its
	// page_count for the returned Snapshot.
	CommitAt(log LogId, lsn LSN) (*Commit, bool)
}

// maxForkDepth bounds the fork walk; forks form a DAG (design note §9), so
// exceeding this depth means corruption (a cycle), not a legitimately deep
// fork chain.
const maxForkDepth = 64

// ResolveSnapshot implements the spec §4.4 algorithm: it walks v's local
// Log, and if a checkpoint doesn't terminate the walk, follows v's parent
// chain until one does (or the walk bottoms out at a root Volume).
func ResolveSnapshot(src LogSource, v *Volume, requested *LSN) (*Snapshot, error) {
	var entries []SnapshotEntry

	curVid := v.Vid
	curLog := v.Local
	curParent := v.Parent

	var hi LSN
	if requested != nil {
		hi = *requested
	} else {
		head, ok := src.HeadLSN(curLog)
		if !ok {
			return nil, gerrs.SnapshotMissing("volume %s has no commits", curVid.Pretty())
		}
		hi = head
	}

	for depth := 0; ; depth++ {
		if depth > maxForkDepth {
			return nil, gerrs.Fatal("search path exceeded max fork depth %d; treating as a cycle", maxForkDepth)
		}

		lo := FirstLSN
		stop := true
		if cps := src.Checkpoints(curLog); cps != nil {
			if cp, ok := cps.LastCheckpointAtOrBelow(hi); ok {
				lo = cp
			} else {
				stop = false
			}
		} else {
			stop = false
		}

		entries = append(entries, SnapshotEntry{Log: curLog, Lo: lo, Hi: hi})

		if stop || curParent == nil {
			break
		}

		parentVol, ok := src.VolumeByID(curParent.Vid)
		if !ok {
			return nil, gerrs.Fatal("search path references missing parent volume %s", curParent.Vid.Pretty())
		}
		curVid = parentVol.Vid
		curLog = parentVol.Local
		hi = curParent.AtLSN
		curParent = parentVol.Parent
	}

	headEntry := entries[0]
	commit, ok := src.CommitAt(headEntry.Log, headEntry.Hi)
	var pageCount PageCount
	if ok {
		pageCount = commit.PageCount
	}

	return &Snapshot{Entries: entries, PageCount: pageCount}, nil
}
