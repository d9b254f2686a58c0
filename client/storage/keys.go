// Package storage implements the client-side VolumeReader/VolumeWriter
// over a kv.Store (spec §4.5): page reads that fall through to a
// FetchSegment on miss, and a writer that stages dirty pages in memory
// until commit.
package storage

import (
	"encoding/binary"

	"github.com/graft-sh/graft/graft"
)

func volumeKey(vid graft.VolumeId) []byte { return vid.Bytes() }

// logKey orders ascending by LSN within one log, matching buntdb's
// string-ordered index so ScanRange(reverse) gives newest-first without a
// secondary sort.
func logKey(log graft.LogId, lsn graft.LSN) []byte {
	k := make([]byte, 0, 24)
	k = append(k, log.Bytes()...)
	var lb [8]byte
	binary.BigEndian.PutUint64(lb[:], uint64(lsn))
	return append(k, lb[:]...)
}

func logPrefix(log graft.LogId) []byte { return log.Bytes() }

func pageKey(sid graft.SegmentId, idx graft.PageIdx) []byte {
	k := make([]byte, 0, 20)
	k = append(k, sid.Bytes()...)
	var ib [4]byte
	binary.BigEndian.PutUint32(ib[:], uint32(idx))
	return append(k, ib[:]...)
}

// PageKey is pageKey exported for client/sync's fetch actions, which write
// into the same pages partition from outside this package.
func PageKey(sid graft.SegmentId, idx graft.PageIdx) []byte { return pageKey(sid, idx) }

func checkpointsKey(log graft.LogId) []byte {
	return append([]byte("checkpoints:"), log.Bytes()...)
}
