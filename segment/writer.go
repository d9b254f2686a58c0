package segment

import (
	"bytes"

	"github.com/graft-sh/graft/cmn/cos"
	"github.com/graft-sh/graft/graft"
)

// pendingPage is one page buffered into the writer's current, not-yet-sealed
// frame.
type pendingPage struct {
	vid graft.VolumeId
	idx graft.PageIdx
	pg  graft.Page
}

// Writer accumulates pages into ≤MaxFramePages frames and emits the header
// and index only at Finalize, matching spec §4.2's "segments are built
// incrementally, written once" requirement.
type Writer struct {
	compressor Compressor
	cur        []pendingPage
	sealed     [][]pendingPage
}

// NewWriter constructs a Writer. A nil compressor defaults to zstd.
func NewWriter(compressor Compressor) (*Writer, error) {
	if compressor == nil {
		var err error
		compressor, err = NewZstdCompressor()
		if err != nil {
			return nil, err
		}
	}
	return &Writer{compressor: compressor}, nil
}

// AddPage appends one page for volume vid at idx. Pages may arrive in any
// order and span multiple volumes within the same segment.
func (w *Writer) AddPage(vid graft.VolumeId, idx graft.PageIdx, pg graft.Page) {
	w.cur = append(w.cur, pendingPage{vid: vid, idx: idx, pg: pg})
	if len(w.cur) == MaxFramePages {
		w.sealed = append(w.sealed, w.cur)
		w.cur = nil
	}
}

// PageCount reports how many pages have been added so far.
func (w *Writer) PageCount() int {
	n := len(w.cur)
	for _, f := range w.sealed {
		n += len(f)
	}
	return n
}

// Finalize assembles the header, frames, and index into one contiguous
// buffer and returns it. The Writer must not be reused afterward.
func (w *Writer) Finalize() ([]byte, error) {
	if len(w.cur) > 0 {
		w.sealed = append(w.sealed, w.cur)
		w.cur = nil
	}

	ix := newIndex()
	var body bytes.Buffer
	offset := uint64(HeaderPageSize)
	totalPages := uint32(0)

	for frameNum, frame := range w.sealed {
		raw := make([]byte, 0, len(frame)*graft.PageSize)
		for _, p := range frame {
			raw = append(raw, p.pg[:]...)
		}
		checksum := cos.FrameChecksum(raw)
		compressed := w.compressor.Compress(nil, raw)

		frameHeader := []byte{byte(w.compressor.Codec())}
		body.Write(frameHeader)
		body.Write(compressed)
		frameLen := uint64(len(frameHeader) + len(compressed))

		ix.frames = append(ix.frames, frameLoc{
			offset:   offset,
			length:   frameLen,
			pages:    uint32(len(frame)),
			codec:    w.compressor.Codec(),
			checksum: checksum,
		})

		for local, p := range frame {
			ix.put(p.vid, p.idx, pageLoc{frame: uint32(frameNum), local: uint32(local)})
		}

		offset += frameLen
		totalPages += uint32(len(frame))
	}

	indexBytes := ix.encode()

	h := &header{
		pageSize:    graft.PageSize,
		totalPages:  totalPages,
		indexOffset: offset,
		indexLength: uint64(len(indexBytes)),
	}

	out := make([]byte, 0, HeaderPageSize+body.Len()+len(indexBytes))
	out = append(out, h.encode()...)
	out = append(out, body.Bytes()...)
	out = append(out, indexBytes...)
	return out, nil
}
