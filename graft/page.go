package graft

import "math"

// LSN is a per-Log sequence number; strictly increasing, gapless once any
// commit is present. LSN 0 is reserved (spec I1).
type LSN uint64

const (
	FirstLSN LSN = 1
	LastLSN  LSN = math.MaxUint64
)

func (l LSN) Next() LSN { return l + 1 }
func (l LSN) Valid() bool { return l != 0 }

// PageIdx indexes a page within a Volume; 1-based, non-zero.
type PageIdx uint32

const FirstPageIdx PageIdx = 1
const LastPageIdx PageIdx = math.MaxUint32

// Pages reports how many pages are needed for a Volume whose last written
// index is idx (i.e. the minimum PageCount that makes idx addressable).
func (idx PageIdx) Pages() PageCount { return PageCount(idx) }

// PageCount is a Volume's current logical size, in pages. May be 0.
type PageCount uint32

// PageSize is fixed for the lifetime of the format (spec §6). The segment
// package asserts this is a power of two at init time.
const PageSize = 4096

// Page is a single, fixed-size, immutable page of content.
type Page [PageSize]byte

// EmptyPage is the canonical zero-filled page returned for reads past the
// end of a Volume or for pages that have never been written.
var EmptyPage = Page{}

// CommitHash deterministically identifies a remote commit (spec I6): a
// function of (log, lsn, page_count, segment_ref, checkpoints) alone, so
// independent clients computing it for the same logical commit agree
// bit-for-bit.
type CommitHash [32]byte

func (h CommitHash) IsZero() bool { return h == CommitHash{} }
func (h CommitHash) String() string {
	const hexdigits = "0123456789abcdef"
	buf := make([]byte, 64)
	for i, b := range h {
		buf[i*2] = hexdigits[b>>4]
		buf[i*2+1] = hexdigits[b&0xf]
	}
	return string(buf)
}
