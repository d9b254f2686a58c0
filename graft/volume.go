package graft

import "github.com/graft-sh/graft/splinter"

// VolumeRef points at a parent Volume's state at a specific LSN; Volumes
// form a fork DAG through this reference (design note §9: "at most one
// parent VolumeRef... the resolver enforces a depth limit").
type VolumeRef struct {
	Vid   VolumeId
	AtLSN LSN
}

// SyncPoint anchors a Volume's push/pull progress: the last remote LSN
// known to be durable, and the local LSN watermark up to which local
// commits have been folded into that remote state.
type SyncPoint struct {
	RemoteLSN      LSN
	LocalWatermark LSN // 0 means "no local commits synced yet"
}

// PendingCommit is the durable in-flight marker for a RemoteCommit action
// (spec §3, I2): its presence forbids new local commits until resolved by
// RecoverPendingCommit or a successful RemoteCommit finalize step.
type PendingCommit struct {
	LocalLSN        LSN
	TargetRemoteLSN LSN
	Hash            CommitHash
}

// Volume is the mutable, page-addressable object clients read and write.
// It is backed by exactly one local Log and, optionally, one remote Log.
type Volume struct {
	Vid      VolumeId
	Local    LogId
	Remote   LogId // zero value if this Volume has no remote counterpart
	Sync     *SyncPoint
	Pending  *PendingCommit
	Parent   *VolumeRef // nil for a root Volume with no fork ancestry
}

func (v *Volume) HasRemote() bool { return !v.Remote.IsZero() }
func (v *Volume) HasPending() bool { return v.Pending != nil }

// FrameRef denormalizes a (frame#, byte range) pair onto a SegmentRef and
// travels with it through the commit log. client/sync's Fetcher does not
// use it: FetchSegment always reads the whole segment object.
type FrameRef struct {
	Frame  uint32
	Offset uint32
	Length uint32
}

// SegmentRef references an immutable Segment plus the set of page indices
// a Commit sourced from it (spec I3: page_set has no PageIdx 0 and
// contains exactly the pages whose contents live in that Segment).
type SegmentRef struct {
	Sid     SegmentId
	PageSet *splinter.Splinter
	Frames  []FrameRef // optional; nil when the writer didn't denormalize it
}

// Commit is an immutable record advancing a Log by exactly one LSN.
type Commit struct {
	Log         LogId
	Lsn         LSN
	PageCount   PageCount
	Segment     *SegmentRef // nil for a commit that only truncates/no-ops
	Hash        CommitHash  // zero value for a purely-local, never-pushed commit
	Checkpoints []LSN       // sorted ascending, <= Lsn (spec I5)
}

// IsCheckpoint reports whether this commit's own LSN is itself one of its
// recorded checkpoints (i.e. this commit is fully self-reconstructable).
func (c *Commit) IsCheckpoint() bool {
	if len(c.Checkpoints) == 0 {
		return false
	}
	return c.Checkpoints[len(c.Checkpoints)-1] == c.Lsn
}

// LogCheckpoints is the per-Log cached checkpoint list (spec §3), with an
// optional ETag for conditional pulls from the metastore's checkpoint
// cache object.
type LogCheckpoints struct {
	LSNs []LSN
	ETag string
}

// LastCheckpointAtOrBelow returns the greatest checkpoint LSN <= at, or
// (0, false) if none exists - used by the search-path resolver to decide
// where a fork walk can stop (spec §4.4 step 3).
func (c *LogCheckpoints) LastCheckpointAtOrBelow(at LSN) (LSN, bool) {
	var best LSN
	found := false
	for _, l := range c.LSNs {
		if l > at {
			break
		}
		best, found = l, true
	}
	return best, found
}
