// Package segment implements Graft's immutable, self-describing page blob
// (spec §4.2): a header page, a sequence of page frames, and a trailing
// index of (volume, pageIdx) -> byte range.
package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/graft-sh/graft/graft"
)

// magic identifies a Graft segment file.
var magic = [4]byte{'G', 'R', 'F', 'S'}

const formatVersion = 1

// MaxFramePages bounds how many pages one frame may hold (spec §4.2).
const MaxFramePages = 64

// headerLen is the on-disk header layout:
// magic(4) + version(1) + pageSize(4) + totalPages(4) + indexOffset(8) + indexLength(8).
const headerLen = 4 + 1 + 4 + 4 + 8 + 8

// HeaderPageSize is the fixed, page-aligned size reserved for the header at
// offset 0 (spec §4.2: "header page").
const HeaderPageSize = graft.PageSize

func init() {
	// compile-time-adjacent assertion that PageSize is a power of two
	// (spec §6); a nonzero array length fails the assignment to [0]struct{}
	// and so fails to compile.
	var _ [0]struct{} = [graft.PageSize & (graft.PageSize - 1)]struct{}{}
}

type header struct {
	pageSize    uint32
	totalPages  uint32
	indexOffset uint64
	indexLength uint64
}

func (h *header) encode() []byte {
	buf := make([]byte, HeaderPageSize)
	copy(buf[0:4], magic[:])
	buf[4] = formatVersion
	binary.LittleEndian.PutUint32(buf[5:9], h.pageSize)
	binary.LittleEndian.PutUint32(buf[9:13], h.totalPages)
	binary.LittleEndian.PutUint64(buf[13:21], h.indexOffset)
	binary.LittleEndian.PutUint64(buf[21:29], h.indexLength)
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerLen {
		return nil, fmt.Errorf("segment: header too short (%d bytes)", len(buf))
	}
	if string(buf[0:4]) != string(magic[:]) {
		return nil, fmt.Errorf("segment: bad magic")
	}
	if buf[4] != formatVersion {
		return nil, fmt.Errorf("segment: unsupported version %d", buf[4])
	}
	h := &header{
		pageSize:    binary.LittleEndian.Uint32(buf[5:9]),
		totalPages:  binary.LittleEndian.Uint32(buf[9:13]),
		indexOffset: binary.LittleEndian.Uint64(buf[13:21]),
		indexLength: binary.LittleEndian.Uint64(buf[21:29]),
	}
	if h.pageSize != graft.PageSize {
		return nil, fmt.Errorf("segment: page size %d does not match build's %d", h.pageSize, graft.PageSize)
	}
	return h, nil
}

// frameLoc records where one (possibly compressed) frame lives in the file.
type frameLoc struct {
	offset   uint64
	length   uint64
	pages    uint32 // number of pages this frame decompresses to
	codec    Codec
	checksum uint64 // cos.FrameChecksum of the decompressed frame body
}

type pageLoc struct {
	frame uint32
	local uint32 // page's index within the decompressed frame
}
