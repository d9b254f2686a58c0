package graft

import (
	"crypto/sha256"
	"encoding/binary"
)

// ComputeCommitHash implements spec I6: a deterministic function of
// (log, lsn, page_count, segment_ref, checkpoints) alone, so two
// independent clients computing it for the same logical commit agree
// bit-for-bit. It intentionally excludes anything not listed there (e.g.
// wall-clock time, the committing node's identity).
//
// SHA-256 is used rather than one of the fast hashes elsewhere in this
// codebase (xxhash) because those produce 64-bit digests and
// CommitHash is specified as 32 bytes; see DESIGN.md for why no
// third-party library in the dependency graph offers a wide,
// collision-resistant digest suited to cross-implementation agreement.
func ComputeCommitHash(log LogId, lsn LSN, pageCount PageCount, seg *SegmentRef, checkpoints []LSN) CommitHash {
	h := sha256.New()
	h.Write(log.Bytes())

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(lsn))
	h.Write(buf[:])

	var pc [4]byte
	binary.BigEndian.PutUint32(pc[:], uint32(pageCount))
	h.Write(pc[:])

	if seg == nil {
		h.Write([]byte{0})
	} else {
		h.Write([]byte{1})
		h.Write(seg.Sid.Bytes())
		if seg.PageSet != nil {
			h.Write(seg.PageSet.Bytes())
		}
	}

	var cn [4]byte
	binary.BigEndian.PutUint32(cn[:], uint32(len(checkpoints)))
	h.Write(cn[:])
	for _, cp := range checkpoints {
		var cb [8]byte
		binary.BigEndian.PutUint64(cb[:], uint64(cp))
		h.Write(cb[:])
	}

	var out CommitHash
	copy(out[:], h.Sum(nil))
	return out
}
