package storage

import (
	"context"
	"fmt"

	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv"
	"github.com/graft-sh/graft/wire/recwire"
)

// LogStore wraps a kv.Store with Volume/Commit/Checkpoints access,
// satisfying graft.LogSource so ResolveSnapshot can walk it directly.
type LogStore struct {
	kv kv.Store
}

func NewLogStore(store kv.Store) *LogStore { return &LogStore{kv: store} }

func (s *LogStore) KV() kv.Store { return s.kv }

func (s *LogStore) VolumeByID(vid graft.VolumeId) (*graft.Volume, bool) {
	b, ok, err := s.kv.Get(kv.PartitionVolumes, volumeKey(vid))
	if err != nil || !ok {
		return nil, false
	}
	v, err := recwire.DecodeVolume(b)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (s *LogStore) PutVolume(ctx context.Context, v *graft.Volume) error {
	b := s.kv.NewBatch()
	b.Put(kv.PartitionVolumes, volumeKey(v.Vid), recwire.EncodeVolume(v))
	return b.Commit(ctx)
}

func (s *LogStore) HeadLSN(log graft.LogId) (graft.LSN, bool) {
	rows, err := s.kv.ScanRange(kv.PartitionLog, logPrefix(log), nextPrefix(logPrefix(log)), true)
	if err != nil || len(rows) == 0 {
		return 0, false
	}
	c, err := recwire.DecodeCommit(rows[0].Value)
	if err != nil {
		return 0, false
	}
	return c.Lsn, true
}

func (s *LogStore) CommitAt(log graft.LogId, lsn graft.LSN) (*graft.Commit, bool) {
	b, ok, err := s.kv.Get(kv.PartitionLog, logKey(log, lsn))
	if err != nil || !ok {
		return nil, false
	}
	c, err := recwire.DecodeCommit(b)
	if err != nil {
		return nil, false
	}
	return c, true
}

func (s *LogStore) Checkpoints(log graft.LogId) *graft.LogCheckpoints {
	b, ok, err := s.kv.Get(kv.PartitionHandles, checkpointsKey(log))
	if err != nil || !ok {
		return &graft.LogCheckpoints{}
	}
	cps, err := recwire.DecodeCheckpoints(b)
	if err != nil {
		return &graft.LogCheckpoints{}
	}
	return cps
}

func (s *LogStore) PutCheckpoints(ctx context.Context, log graft.LogId, cps *graft.LogCheckpoints) error {
	b := s.kv.NewBatch()
	b.Put(kv.PartitionHandles, checkpointsKey(log), recwire.EncodeCheckpoints(cps))
	return b.Commit(ctx)
}

// ExistingLSNs returns the set of LSNs already present for log, used by
// FetchLog to compute the missing range.
func (s *LogStore) ExistingLSNs(log graft.LogId) (map[graft.LSN]bool, error) {
	rows, err := s.kv.ScanPrefix(kv.PartitionLog, logPrefix(log))
	if err != nil {
		return nil, fmt.Errorf("storage: scan log %s: %w", log.Pretty(), err)
	}
	out := make(map[graft.LSN]bool, len(rows))
	for _, row := range rows {
		c, err := recwire.DecodeCommit(row.Value)
		if err != nil {
			return nil, fmt.Errorf("storage: decode commit: %w", err)
		}
		out[c.Lsn] = true
	}
	return out, nil
}

// PutCommit appends commit to log as part of batch b, keyed for ascending
// LSN order.
func PutCommit(b *kv.WriteBatch, c *graft.Commit) {
	b.Put(kv.PartitionLog, logKey(c.Log, c.Lsn), recwire.EncodeCommit(c))
}

// PutCheckpoints stages log's checkpoint cache update as part of batch b,
// so the metastore can fold it into the same batch as the Commit it was
// computed from (spec §4.8 step 5).
func PutCheckpoints(b *kv.WriteBatch, log graft.LogId, cps *graft.LogCheckpoints) {
	b.Put(kv.PartitionHandles, checkpointsKey(log), recwire.EncodeCheckpoints(cps))
}

// HeadPrecondition returns a kv.Precondition verifying log's current head
// LSN equals expected, used by VolumeWriter.Commit and client/sync's
// SyncRemoteToLocal to guard a batch against a concurrent head move.
func HeadPrecondition(log graft.LogId, expected graft.LSN) kv.Precondition {
	return func(v kv.ReadView) bool {
		rows, err := v.ScanRange(kv.PartitionLog, logPrefix(log), nextPrefix(logPrefix(log)), true)
		if err != nil {
			return false
		}
		if len(rows) == 0 {
			return expected == 0
		}
		c, err := recwire.DecodeCommit(rows[0].Value)
		return err == nil && c.Lsn == expected
	}
}

// nextPrefix returns the smallest byte string greater than every string
// with the given prefix, for an exclusive upper bound on a ScanRange over
// that prefix.
func nextPrefix(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil // all 0xff: no finite upper bound needed
}

var _ graft.LogSource = (*LogStore)(nil)
