//go:build unix

package segcache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/graft-sh/graft/graft"
)

// backing holds one cached segment's bytes and the resource that must be
// released when it's evicted.
type backing interface {
	data() []byte
	close() error
}

// mmapBacking spills body to a temp file under the cache's spill
// directory and maps it read-only, so an evicted entry's memory is
// returned to the OS immediately via munmap rather than waiting on GC.
type mmapBacking struct {
	f   *os.File
	buf []byte
}

func newBacking(spillDir string, sid graft.SegmentId, body []byte) (backing, error) {
	if spillDir == "" {
		return &memBacking{buf: body}, nil
	}
	if len(body) == 0 {
		return &memBacking{buf: body}, nil // mmap of a zero-length file is undefined
	}

	f, err := os.CreateTemp(spillDir, "seg-"+sid.Pretty()+"-*")
	if err != nil {
		return nil, fmt.Errorf("segcache: create spill file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("segcache: write spill file: %w", err)
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, len(body), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("segcache: mmap spill file: %w", err)
	}
	return &mmapBacking{f: f, buf: buf}, nil
}

func (b *mmapBacking) data() []byte { return b.buf }

func (b *mmapBacking) close() error {
	name := b.f.Name()
	err := unix.Munmap(b.buf)
	b.f.Close()
	os.Remove(name)
	return err
}

// memBacking is the zero-FD fallback used when the cache has no spill
// directory configured (tests) or the body is empty.
type memBacking struct{ buf []byte }

func (b *memBacking) data() []byte { return b.buf }
func (b *memBacking) close() error { return nil }
