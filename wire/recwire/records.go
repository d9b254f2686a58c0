package recwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/splinter"
)

// Field numbers below are assigned once and never reused; a dropped field
// leaves a permanent gap, matching protobuf's own compatibility rule.
const (
	fSegmentId      protowire.Number = 1
	fSegmentPageSet protowire.Number = 2
	fSegmentFrames  protowire.Number = 3

	fFrameNum    protowire.Number = 1
	fFrameOffset protowire.Number = 2
	fFrameLength protowire.Number = 3

	fCommitLog         protowire.Number = 1
	fCommitLsn         protowire.Number = 2
	fCommitPageCount   protowire.Number = 3
	fCommitSegment     protowire.Number = 4
	fCommitHash        protowire.Number = 5
	fCommitCheckpoints protowire.Number = 6

	fVolumeVid      protowire.Number = 1
	fVolumeLocal    protowire.Number = 2
	fVolumeRemote   protowire.Number = 3
	fVolumeSyncRLSN protowire.Number = 4
	fVolumeSyncLocW protowire.Number = 5
	fVolumePendLLSN protowire.Number = 6
	fVolumePendTLSN protowire.Number = 7
	fVolumePendHash protowire.Number = 8
	fVolumeParentV  protowire.Number = 9
	fVolumeParentL  protowire.Number = 10

	fCheckpointsLSNs protowire.Number = 1
	fCheckpointsETag protowire.Number = 2
)

func EncodeFrameRef(f graft.FrameRef) []byte {
	return NewWriter().
		Uint64(fFrameNum, uint64(f.Frame)).
		Uint64(fFrameOffset, uint64(f.Offset)).
		Uint64(fFrameLength, uint64(f.Length)).
		Finish()
}

func DecodeFrameRef(buf []byte) (graft.FrameRef, error) {
	var f graft.FrameRef
	err := Parse(buf, func(field Field) error {
		switch field.Num {
		case fFrameNum:
			v, err := field.Uint64()
			f.Frame = uint32(v)
			return err
		case fFrameOffset:
			v, err := field.Uint64()
			f.Offset = uint32(v)
			return err
		case fFrameLength:
			v, err := field.Uint64()
			f.Length = uint32(v)
			return err
		}
		return nil
	})
	return f, err
}

func EncodeSegmentRef(s *graft.SegmentRef) []byte {
	if s == nil {
		return nil
	}
	w := NewWriter().Bytes(fSegmentId, s.Sid.Bytes())
	if s.PageSet != nil {
		w.Bytes(fSegmentPageSet, s.PageSet.Bytes())
	}
	for _, fr := range s.Frames {
		w.Message(fSegmentFrames, EncodeFrameRef(fr))
	}
	return w.Finish()
}

func DecodeSegmentRef(buf []byte) (*graft.SegmentRef, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	s := &graft.SegmentRef{}
	err := Parse(buf, func(field Field) error {
		switch field.Num {
		case fSegmentId:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			sid, err := graft.SegmentIdFromBytes(b)
			if err != nil {
				return err
			}
			s.Sid = sid
		case fSegmentPageSet:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			sp, err := splinter.FromBytes(b)
			if err != nil {
				return fmt.Errorf("recwire: segment page set: %w", err)
			}
			s.PageSet = sp
		case fSegmentFrames:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			fr, err := DecodeFrameRef(b)
			if err != nil {
				return err
			}
			s.Frames = append(s.Frames, fr)
		}
		return nil
	})
	return s, err
}

func EncodeCommit(c *graft.Commit) []byte {
	w := NewWriter().
		Bytes(fCommitLog, c.Log.Bytes()).
		Uint64(fCommitLsn, uint64(c.Lsn)).
		Uint64(fCommitPageCount, uint64(c.PageCount)).
		Bytes(fCommitHash, c.Hash[:])
	if c.Segment != nil {
		w.Message(fCommitSegment, EncodeSegmentRef(c.Segment))
	}
	for _, cp := range c.Checkpoints {
		w.Uint64(fCommitCheckpoints, uint64(cp))
	}
	return w.Finish()
}

func DecodeCommit(buf []byte) (*graft.Commit, error) {
	c := &graft.Commit{}
	err := Parse(buf, func(field Field) error {
		switch field.Num {
		case fCommitLog:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			lid, err := graft.LogIdFromBytes(b)
			if err != nil {
				return err
			}
			c.Log = lid
		case fCommitLsn:
			v, err := field.Uint64()
			c.Lsn = graft.LSN(v)
			return err
		case fCommitPageCount:
			v, err := field.Uint64()
			c.PageCount = graft.PageCount(v)
			return err
		case fCommitHash:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			copy(c.Hash[:], b)
		case fCommitSegment:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			seg, err := DecodeSegmentRef(b)
			if err != nil {
				return err
			}
			c.Segment = seg
		case fCommitCheckpoints:
			v, err := field.Uint64()
			if err != nil {
				return err
			}
			c.Checkpoints = append(c.Checkpoints, graft.LSN(v))
		}
		return nil
	})
	return c, err
}

func EncodeVolume(v *graft.Volume) []byte {
	w := NewWriter().
		Bytes(fVolumeVid, v.Vid.Bytes()).
		Bytes(fVolumeLocal, v.Local.Bytes()).
		Bytes(fVolumeRemote, v.Remote.Bytes())
	if v.Sync != nil {
		w.Uint64(fVolumeSyncRLSN, uint64(v.Sync.RemoteLSN))
		w.Uint64(fVolumeSyncLocW, uint64(v.Sync.LocalWatermark))
	}
	if v.Pending != nil {
		w.Uint64(fVolumePendLLSN, uint64(v.Pending.LocalLSN))
		w.Uint64(fVolumePendTLSN, uint64(v.Pending.TargetRemoteLSN))
		w.Bytes(fVolumePendHash, v.Pending.Hash[:])
	}
	if v.Parent != nil {
		w.Bytes(fVolumeParentV, v.Parent.Vid.Bytes())
		w.Uint64(fVolumeParentL, uint64(v.Parent.AtLSN))
	}
	return w.Finish()
}

func DecodeVolume(buf []byte) (*graft.Volume, error) {
	v := &graft.Volume{}
	var sync graft.SyncPoint
	var haveSync bool
	var pending graft.PendingCommit
	var havePending bool
	var parentVid graft.VolumeId
	var parentLsn graft.LSN
	var haveParent bool

	err := Parse(buf, func(field Field) error {
		switch field.Num {
		case fVolumeVid:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			id, err := graft.VolumeIdFromBytes(b)
			if err != nil {
				return err
			}
			v.Vid = id
		case fVolumeLocal:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			id, err := graft.LogIdFromBytes(b)
			if err != nil {
				return err
			}
			v.Local = id
		case fVolumeRemote:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			id, err := graft.LogIdFromBytes(b)
			if err != nil {
				return err
			}
			v.Remote = id
		case fVolumeSyncRLSN:
			val, err := field.Uint64()
			sync.RemoteLSN = graft.LSN(val)
			haveSync = true
			return err
		case fVolumeSyncLocW:
			val, err := field.Uint64()
			sync.LocalWatermark = graft.LSN(val)
			haveSync = true
			return err
		case fVolumePendLLSN:
			val, err := field.Uint64()
			pending.LocalLSN = graft.LSN(val)
			havePending = true
			return err
		case fVolumePendTLSN:
			val, err := field.Uint64()
			pending.TargetRemoteLSN = graft.LSN(val)
			havePending = true
			return err
		case fVolumePendHash:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			copy(pending.Hash[:], b)
			havePending = true
		case fVolumeParentV:
			b, err := field.Bytes()
			if err != nil {
				return err
			}
			id, err := graft.VolumeIdFromBytes(b)
			if err != nil {
				return err
			}
			parentVid = id
			haveParent = true
		case fVolumeParentL:
			val, err := field.Uint64()
			parentLsn = graft.LSN(val)
			haveParent = true
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if haveSync {
		v.Sync = &sync
	}
	if havePending {
		v.Pending = &pending
	}
	if haveParent {
		v.Parent = &graft.VolumeRef{Vid: parentVid, AtLSN: parentLsn}
	}
	return v, nil
}

func EncodeCheckpoints(c *graft.LogCheckpoints) []byte {
	w := NewWriter()
	for _, lsn := range c.LSNs {
		w.Uint64(fCheckpointsLSNs, uint64(lsn))
	}
	w.String(fCheckpointsETag, c.ETag)
	return w.Finish()
}

func DecodeCheckpoints(buf []byte) (*graft.LogCheckpoints, error) {
	c := &graft.LogCheckpoints{}
	err := Parse(buf, func(field Field) error {
		switch field.Num {
		case fCheckpointsLSNs:
			v, err := field.Uint64()
			if err != nil {
				return err
			}
			c.LSNs = append(c.LSNs, graft.LSN(v))
		case fCheckpointsETag:
			s, err := field.String()
			if err != nil {
				return err
			}
			c.ETag = s
		}
		return nil
	})
	return c, err
}
