package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/splinter"
)

// index is the trailing section of a segment: a per-volume Splinter of
// present page indices, plus a (volume, pageIdx) -> pageLoc map and the
// frame table those locations reference (spec §4.2).
type index struct {
	frames  []frameLoc
	pages   map[graft.VolumeId]map[graft.PageIdx]pageLoc
	present map[graft.VolumeId]*splinter.Splinter
}

func newIndex() *index {
	return &index{
		pages:   make(map[graft.VolumeId]map[graft.PageIdx]pageLoc),
		present: make(map[graft.VolumeId]*splinter.Splinter),
	}
}

func (ix *index) put(vid graft.VolumeId, idx graft.PageIdx, loc pageLoc) {
	m, ok := ix.pages[vid]
	if !ok {
		m = make(map[graft.PageIdx]pageLoc)
		ix.pages[vid] = m
	}
	m[idx] = loc

	sp, ok := ix.present[vid]
	if !ok {
		sp = splinter.New()
		ix.present[vid] = sp
	}
	sp.Insert(uint32(idx))
}

func (ix *index) lookup(vid graft.VolumeId, idx graft.PageIdx) (pageLoc, bool) {
	m, ok := ix.pages[vid]
	if !ok {
		return pageLoc{}, false
	}
	loc, ok := m[idx]
	return loc, ok
}

// encode serializes the index as:
//
//	frameCount(u32) { offset(u64) length(u64) pages(u32) codec(u8) checksum(u64) }*
//	volumeCount(u32) { volumeId(16) pageCount(u32) { pageIdx(u32) frame(u32) local(u32) }* splinterLen(u32) splinter bytes }*
func (ix *index) encode() []byte {
	buf := make([]byte, 0, 4096)

	var tmp [8]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:4], v)
		buf = append(buf, tmp[:4]...)
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:8], v)
		buf = append(buf, tmp[:8]...)
	}

	putU32(uint32(len(ix.frames)))
	for _, f := range ix.frames {
		putU64(f.offset)
		putU64(f.length)
		putU32(f.pages)
		buf = append(buf, byte(f.codec))
		putU64(f.checksum)
	}

	putU32(uint32(len(ix.pages)))
	for vid, m := range ix.pages {
		buf = append(buf, vid.Bytes()...)
		putU32(uint32(len(m)))
		for pidx, loc := range m {
			putU32(uint32(pidx))
			putU32(loc.frame)
			putU32(loc.local)
		}
		sp := ix.present[vid]
		sb := sp.Bytes()
		putU32(uint32(len(sb)))
		buf = append(buf, sb...)
	}

	return buf
}

func decodeIndex(buf []byte) (*index, error) {
	ix := newIndex()
	r := buf

	readU32 := func() (uint32, error) {
		if len(r) < 4 {
			return 0, fmt.Errorf("segment: truncated index")
		}
		v := binary.LittleEndian.Uint32(r[:4])
		r = r[4:]
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if len(r) < 8 {
			return 0, fmt.Errorf("segment: truncated index")
		}
		v := binary.LittleEndian.Uint64(r[:8])
		r = r[8:]
		return v, nil
	}

	frameCount, err := readU32()
	if err != nil {
		return nil, err
	}
	ix.frames = make([]frameLoc, frameCount)
	for i := range ix.frames {
		off, err := readU64()
		if err != nil {
			return nil, err
		}
		length, err := readU64()
		if err != nil {
			return nil, err
		}
		pages, err := readU32()
		if err != nil {
			return nil, err
		}
		if len(r) < 1 {
			return nil, fmt.Errorf("segment: truncated index")
		}
		codec := Codec(r[0])
		r = r[1:]
		checksum, err := readU64()
		if err != nil {
			return nil, err
		}
		ix.frames[i] = frameLoc{offset: off, length: length, pages: pages, codec: codec, checksum: checksum}
	}

	volCount, err := readU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < volCount; i++ {
		if len(r) < 16 {
			return nil, fmt.Errorf("segment: truncated index")
		}
		vid, err := graft.VolumeIdFromBytes(r[:16])
		if err != nil {
			return nil, err
		}
		r = r[16:]

		pageCount, err := readU32()
		if err != nil {
			return nil, err
		}
		m := make(map[graft.PageIdx]pageLoc, pageCount)
		for j := uint32(0); j < pageCount; j++ {
			pidx, err := readU32()
			if err != nil {
				return nil, err
			}
			frame, err := readU32()
			if err != nil {
				return nil, err
			}
			local, err := readU32()
			if err != nil {
				return nil, err
			}
			m[graft.PageIdx(pidx)] = pageLoc{frame: frame, local: local}
		}
		ix.pages[vid] = m

		splinterLen, err := readU32()
		if err != nil {
			return nil, err
		}
		if uint32(len(r)) < splinterLen {
			return nil, fmt.Errorf("segment: truncated index")
		}
		sp, err := splinter.FromBytes(r[:splinterLen])
		if err != nil {
			return nil, fmt.Errorf("segment: decode per-volume splinter: %w", err)
		}
		r = r[splinterLen:]
		ix.present[vid] = sp
	}

	return ix, nil
}
