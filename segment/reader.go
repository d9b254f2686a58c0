package segment

import (
	"fmt"
	"io"

	"github.com/graft-sh/graft/cmn/cos"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/splinter"
)

// Reader provides random and sequential access to an already-sealed
// segment. It satisfies spec §4.2's contract of "one index probe, one
// byte-range read" per page lookup: ReadPage reads the page's whole frame
// extent in a single ReadAt call, then slices the requested page out of the
// decompressed buffer.
type Reader struct {
	r      io.ReaderAt
	size   int64
	hdr    *header
	ix     *index
	frames map[int][]byte // decompressed frame cache, by frame number
}

// Open parses r's header and index. r must expose the full segment of the
// given total size.
func Open(r io.ReaderAt, size int64) (*Reader, error) {
	hdrBuf := make([]byte, HeaderPageSize)
	if _, err := r.ReadAt(hdrBuf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("segment: read header: %w", err)
	}
	hdr, err := decodeHeader(hdrBuf)
	if err != nil {
		return nil, err
	}
	if int64(hdr.indexOffset+hdr.indexLength) > size {
		return nil, fmt.Errorf("segment: index extends past end of file")
	}

	ixBuf := make([]byte, hdr.indexLength)
	if _, err := r.ReadAt(ixBuf, int64(hdr.indexOffset)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("segment: read index: %w", err)
	}
	ix, err := decodeIndex(ixBuf)
	if err != nil {
		return nil, err
	}

	return &Reader{r: r, size: size, hdr: hdr, ix: ix, frames: make(map[int][]byte)}, nil
}

// TotalPages returns the number of pages stored across all volumes in this
// segment.
func (rd *Reader) TotalPages() uint32 { return rd.hdr.totalPages }

// Has reports whether the segment stores a page for (vid, idx).
func (rd *Reader) Has(vid graft.VolumeId, idx graft.PageIdx) bool {
	_, ok := rd.ix.lookup(vid, idx)
	return ok
}

// PresentPages returns the Splinter of page indices this segment stores for
// vid, or nil if vid has no pages here.
func (rd *Reader) PresentPages(vid graft.VolumeId) *splinter.Splinter {
	return rd.ix.present[vid]
}

func (rd *Reader) decompressFrame(frameNum uint32) ([]byte, error) {
	if buf, ok := rd.frames[int(frameNum)]; ok {
		return buf, nil
	}
	if int(frameNum) >= len(rd.ix.frames) {
		return nil, fmt.Errorf("segment: frame %d out of range", frameNum)
	}
	loc := rd.ix.frames[frameNum]

	raw := make([]byte, loc.length)
	if _, err := rd.r.ReadAt(raw, int64(loc.offset)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("segment: read frame %d: %w", frameNum, err)
	}
	if len(raw) < 1 {
		return nil, fmt.Errorf("segment: truncated frame %d", frameNum)
	}
	codec := Codec(raw[0])
	if codec != loc.codec {
		return nil, fmt.Errorf("segment: frame %d codec mismatch", frameNum)
	}
	compressor, err := codecFor(codec)
	if err != nil {
		return nil, err
	}
	decompressed, err := compressor.Decompress(raw[1:])
	if err != nil {
		return nil, fmt.Errorf("segment: decompress frame %d: %w", frameNum, err)
	}
	if got := cos.FrameChecksum(decompressed); got != loc.checksum {
		return nil, fmt.Errorf("segment: frame %d checksum mismatch: got %x, want %x", frameNum, got, loc.checksum)
	}
	rd.frames[int(frameNum)] = decompressed
	return decompressed, nil
}

// ReadPage returns the page stored for (vid, idx).
func (rd *Reader) ReadPage(vid graft.VolumeId, idx graft.PageIdx) (graft.Page, error) {
	var out graft.Page
	loc, ok := rd.ix.lookup(vid, idx)
	if !ok {
		return out, fmt.Errorf("segment: no page %s/%d in this segment", vid.Pretty(), idx)
	}
	frame, err := rd.decompressFrame(loc.frame)
	if err != nil {
		return out, err
	}
	start := int(loc.local) * graft.PageSize
	if start+graft.PageSize > len(frame) {
		return out, fmt.Errorf("segment: corrupt frame %d: page %d out of bounds", loc.frame, loc.local)
	}
	copy(out[:], frame[start:start+graft.PageSize])
	return out, nil
}

// ReadRange returns pages [lo, hi] (inclusive) for vid, in ascending order.
// Missing pages within the range are returned as EmptyPage, matching the
// client runtime's read-past-write semantics (spec §4.5).
func (rd *Reader) ReadRange(vid graft.VolumeId, lo, hi graft.PageIdx) ([]graft.Page, error) {
	if hi < lo {
		return nil, nil
	}
	out := make([]graft.Page, 0, hi-lo+1)
	for idx := lo; idx <= hi; idx++ {
		if !rd.Has(vid, idx) {
			out = append(out, graft.EmptyPage)
			continue
		}
		pg, err := rd.ReadPage(vid, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, pg)
		if idx == graft.LastPageIdx {
			break
		}
	}
	return out, nil
}

// Entry is one (PageIdx, Page) pair yielded by Iterator.
type Entry struct {
	Idx  graft.PageIdx
	Page graft.Page
}

// Iterator returns vid's stored pages in ascending PageIdx order.
func (rd *Reader) Iterator(vid graft.VolumeId) ([]Entry, error) {
	m, ok := rd.ix.pages[vid]
	if !ok {
		return nil, nil
	}
	idxs := make([]graft.PageIdx, 0, len(m))
	for idx := range m {
		idxs = append(idxs, idx)
	}
	sortPageIdx(idxs)

	out := make([]Entry, 0, len(idxs))
	for _, idx := range idxs {
		pg, err := rd.ReadPage(vid, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Idx: idx, Page: pg})
	}
	return out, nil
}

func sortPageIdx(s []graft.PageIdx) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
