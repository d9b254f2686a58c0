package segment

import (
	"bytes"
	"testing"

	"github.com/graft-sh/graft/graft"
)

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b[off:])
	if n < len(p) {
		return n, bytes.ErrTooLarge
	}
	return n, nil
}

func pageFilled(b byte) graft.Page {
	var p graft.Page
	for i := range p {
		p[i] = b
	}
	return p
}

func buildAndOpen(t *testing.T, vid graft.VolumeId, n int, compressor Compressor) *Reader {
	t.Helper()
	w, err := NewWriter(compressor)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < n; i++ {
		w.AddPage(vid, graft.PageIdx(i+1), pageFilled(byte(i)))
	}
	out, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	rd, err := Open(byteReaderAt(out), int64(len(out)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return rd
}

func TestRoundTripOnePage(t *testing.T) {
	vid := graft.NewVolumeId()
	rd := buildAndOpen(t, vid, 1, NoneCompressor)
	pg, err := rd.ReadPage(vid, 1)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if pg != pageFilled(0) {
		t.Fatalf("page content mismatch")
	}
}

func TestRoundTripFullFrame(t *testing.T) {
	vid := graft.NewVolumeId()
	rd := buildAndOpen(t, vid, MaxFramePages, NoneCompressor)
	if rd.TotalPages() != MaxFramePages {
		t.Fatalf("TotalPages = %d, want %d", rd.TotalPages(), MaxFramePages)
	}
	for i := 0; i < MaxFramePages; i++ {
		pg, err := rd.ReadPage(vid, graft.PageIdx(i+1))
		if err != nil {
			t.Fatalf("ReadPage(%d): %v", i+1, err)
		}
		if pg != pageFilled(byte(i)) {
			t.Fatalf("page %d content mismatch", i+1)
		}
	}
}

func TestRoundTripSpansMultipleFrames(t *testing.T) {
	vid := graft.NewVolumeId()
	rd := buildAndOpen(t, vid, MaxFramePages+5, NoneCompressor)
	if got := rd.TotalPages(); got != MaxFramePages+5 {
		t.Fatalf("TotalPages = %d, want %d", got, MaxFramePages+5)
	}
	pg, err := rd.ReadPage(vid, MaxFramePages+3)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if pg != pageFilled(byte(MaxFramePages+2)) {
		t.Fatalf("content mismatch across frame boundary")
	}
}

func TestReadRangeFillsMissingWithEmpty(t *testing.T) {
	vid := graft.NewVolumeId()
	w, err := NewWriter(NoneCompressor)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.AddPage(vid, 1, pageFilled(1))
	w.AddPage(vid, 3, pageFilled(3))
	out, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	rd, err := Open(byteReaderAt(out), int64(len(out)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pages, err := rd.ReadRange(vid, 1, 3)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("len(pages) = %d, want 3", len(pages))
	}
	if pages[1] != graft.EmptyPage {
		t.Fatalf("expected page 2 to be empty")
	}
}

func TestRoundTripZstd(t *testing.T) {
	vid := graft.NewVolumeId()
	comp, err := NewZstdCompressor()
	if err != nil {
		t.Fatalf("NewZstdCompressor: %v", err)
	}
	rd := buildAndOpen(t, vid, 10, comp)
	pg, err := rd.ReadPage(vid, 5)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if pg != pageFilled(4) {
		t.Fatalf("content mismatch")
	}
}

func TestIteratorAscending(t *testing.T) {
	vid := graft.NewVolumeId()
	rd := buildAndOpen(t, vid, 5, NoneCompressor)
	entries, err := rd.Iterator(vid)
	if err != nil {
		t.Fatalf("Iterator: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("len(entries) = %d, want 5", len(entries))
	}
	for i, e := range entries {
		if e.Idx != graft.PageIdx(i+1) {
			t.Fatalf("entries[%d].Idx = %d, want %d", i, e.Idx, i+1)
		}
	}
}

func TestMultiVolumeSegment(t *testing.T) {
	v1, v2 := graft.NewVolumeId(), graft.NewVolumeId()
	w, err := NewWriter(NoneCompressor)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.AddPage(v1, 1, pageFilled(11))
	w.AddPage(v2, 1, pageFilled(22))
	out, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	rd, err := Open(byteReaderAt(out), int64(len(out)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pg1, err := rd.ReadPage(v1, 1)
	if err != nil {
		t.Fatalf("ReadPage v1: %v", err)
	}
	pg2, err := rd.ReadPage(v2, 1)
	if err != nil {
		t.Fatalf("ReadPage v2: %v", err)
	}
	if pg1 != pageFilled(11) || pg2 != pageFilled(22) {
		t.Fatalf("volume isolation broken")
	}
}
