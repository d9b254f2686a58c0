package pagestore

import (
	"sync"

	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/splinter"
)

// CommitSegmentReq announces a sealed, durably-uploaded Segment and the
// set of pages it holds per Volume (spec §4.7). WritePages subscribes to
// this before submitting its pages so it can see, and not miss, the
// broadcast the uploader task publishes once those pages land.
type CommitSegmentReq struct {
	Sid       graft.SegmentId
	PerVolume map[graft.VolumeId]*splinter.Splinter
}

// Bus fans CommitSegmentReq out to every current subscriber. This is a
// plain in-process channel fan-out, not the teacher's network-oriented
// transport package: the notification never leaves the pagestore
// process, so there is nothing for transport's framing to buy here.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan CommitSegmentReq
}

func NewBus() *Bus { return &Bus{subs: make(map[int]chan CommitSegmentReq)} }

// Subscribe returns a channel receiving every CommitSegmentReq published
// after this call returns. The caller must invoke cancel once done
// listening, or the subscription (and its buffered channel) leaks.
func (b *Bus) Subscribe() (ch <-chan CommitSegmentReq, cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	sub := make(chan CommitSegmentReq, 32)
	b.subs[id] = sub
	b.mu.Unlock()
	return sub, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish fans req out to every current subscriber asynchronously, so a
// slow subscriber never delays the uploader task that calls this.
func (b *Bus) Publish(req CommitSegmentReq) {
	b.mu.Lock()
	chans := make([]chan CommitSegmentReq, 0, len(b.subs))
	for _, ch := range b.subs {
		chans = append(chans, ch)
	}
	b.mu.Unlock()
	go func() {
		for _, ch := range chans {
			ch <- req
		}
	}()
}
