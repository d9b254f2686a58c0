package splinter

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// magic identifies a serialized Splinter; footer is magic + total
// cardinality, so FromBytes can validate a buffer and learn its size
// before walking the radix tree.
var magic = [4]byte{'S', 'P', 'L', '1'}

const footerLen = 4 /* magic */ + 4 /* cardinality */

// Bytes serializes the set: a pre-order walk of the radix tree (high run,
// then per present high byte a mid run and its low-leaf runs), followed by
// the footer.
func (s *Splinter) Bytes() []byte {
	var buf bytes.Buffer
	writeRun(&buf, &s.high)
	s.high.ascend(func(hi byte) {
		m := s.children[hi]
		writeRun(&buf, &m.run)
		m.run.ascend(func(mid byte) {
			l := m.children[mid]
			writeRun(&buf, &l.run)
		})
	})
	buf.Write(magic[:])
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(s.n))
	buf.Write(n[:])
	return buf.Bytes()
}

func writeRun(buf *bytes.Buffer, r *run) {
	if r.kind == kindBitmap {
		buf.WriteByte(byte(kindBitmap))
		var b [32]byte
		for i, w := range r.bitmap {
			binary.LittleEndian.PutUint64(b[i*8:], w)
		}
		buf.Write(b[:])
		return
	}
	buf.WriteByte(byte(kindList))
	var cnt [2]byte
	binary.LittleEndian.PutUint16(cnt[:], uint16(len(r.list)))
	buf.Write(cnt[:])
	buf.Write(r.list)
}

// FromBytes validates the magic and footer and decodes the tree. The
// footer check happens before any node is parsed, so a short buffer or
// one whose tail is not a footer is rejected in constant time; damage
// inside the body surfaces during the decode or as a cardinality
// mismatch after it.
func FromBytes(b []byte) (*Splinter, error) {
	if len(b) < footerLen {
		return nil, fmt.Errorf("splinter: buffer too short (%d bytes)", len(b))
	}
	footer := b[len(b)-footerLen:]
	if !bytes.Equal(footer[:4], magic[:]) {
		return nil, fmt.Errorf("splinter: bad magic")
	}
	wantCard := binary.LittleEndian.Uint32(footer[4:])
	body := b[:len(b)-footerLen]

	s := New()
	r := &reader{buf: body}
	if err := r.readInto(s); err != nil {
		return nil, err
	}
	if !r.atEnd() {
		return nil, fmt.Errorf("splinter: trailing bytes after decode")
	}
	if uint32(s.n) != wantCard {
		return nil, fmt.Errorf("splinter: cardinality mismatch: footer says %d, decoded %d", wantCard, s.n)
	}
	return s, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) atEnd() bool { return r.off == len(r.buf) }

func (r *reader) readRun() (run, []byte, error) {
	if r.off >= len(r.buf) {
		return run{}, nil, fmt.Errorf("splinter: truncated run header")
	}
	kind := runKind(r.buf[r.off])
	r.off++
	switch kind {
	case kindBitmap:
		if r.off+32 > len(r.buf) {
			return run{}, nil, fmt.Errorf("splinter: truncated bitmap")
		}
		var rn run
		rn.kind = kindBitmap
		for i := 0; i < 4; i++ {
			rn.bitmap[i] = binary.LittleEndian.Uint64(r.buf[r.off+i*8:])
		}
		r.off += 32
		rn.n = popcount(&rn)
		return rn, nil, nil
	case kindList:
		if r.off+2 > len(r.buf) {
			return run{}, nil, fmt.Errorf("splinter: truncated list length")
		}
		cnt := int(binary.LittleEndian.Uint16(r.buf[r.off:]))
		r.off += 2
		if r.off+cnt > len(r.buf) {
			return run{}, nil, fmt.Errorf("splinter: truncated list body")
		}
		list := append([]byte(nil), r.buf[r.off:r.off+cnt]...)
		r.off += cnt
		return run{kind: kindList, list: list, n: cnt}, nil, nil
	default:
		return run{}, nil, fmt.Errorf("splinter: unknown run kind %d", kind)
	}
}

func popcount(r *run) int {
	n := 0
	for _, w := range r.bitmap {
		for w != 0 {
			w &= w - 1
			n++
		}
	}
	return n
}

func (r *reader) readInto(s *Splinter) error {
	highRun, _, err := r.readRun()
	if err != nil {
		return err
	}
	s.high = highRun
	var walkErr error
	s.high.ascend(func(hi byte) {
		if walkErr != nil {
			return
		}
		midRun, _, err := r.readRun()
		if err != nil {
			walkErr = err
			return
		}
		m := newMidNode()
		m.run = midRun
		s.children[hi] = m
		m.run.ascend(func(mid byte) {
			if walkErr != nil {
				return
			}
			lowRun, _, err := r.readRun()
			if err != nil {
				walkErr = err
				return
			}
			m.children[mid] = &lowNode{run: lowRun}
			s.n += lowRun.n
		})
	})
	return walkErr
}
