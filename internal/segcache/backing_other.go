//go:build !unix

package segcache

import "github.com/graft-sh/graft/graft"

// backing holds one cached segment's bytes and the resource that must be
// released when it's evicted.
type backing interface {
	data() []byte
	close() error
}

// memBacking is the only backing on non-unix builds: no mmap support,
// so cached bodies simply live on the heap until evicted.
type memBacking struct{ buf []byte }

func (b *memBacking) data() []byte { return b.buf }
func (b *memBacking) close() error { return nil }

func newBacking(_ string, _ graft.SegmentId, body []byte) (backing, error) {
	return &memBacking{buf: body}, nil
}
