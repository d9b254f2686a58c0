package pagestore

import (
	"context"
	"testing"
	"time"

	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/objstore"
	"github.com/graft-sh/graft/pagestore/segcache"
	"github.com/graft-sh/graft/wire"
)

func testPageData(idx graft.PageIdx, b byte) wire.PageData {
	data := make([]byte, graft.PageSize)
	for i := range data {
		data[i] = b
	}
	return wire.PageData{Idx: idx, Data: data}
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, objstore.Store) {
	t.Helper()
	objs := objstore.NewMemStore()
	cache, err := segcache.New(8, "", func(ctx context.Context, sid graft.SegmentId) ([]byte, error) {
		rc, err := objs.GetRange(ctx, sid.Pretty(), 0, -1)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 4096)
		for {
			n, err := rc.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if err != nil {
				break
			}
		}
		return buf, nil
	})
	if err != nil {
		t.Fatalf("new segcache: %v", err)
	}
	p := New(objs, cache, nil, cfg)
	return p, objs
}

func TestWritePagesFlushesOnCapacity(t *testing.T) {
	p, objs := newTestPipeline(t, Config{SegmentCapacity: 2, FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	vid := graft.NewVolumeId()
	accepted, err := p.WritePages(ctx, vid, []wire.PageData{
		testPageData(1, 0xaa),
		testPageData(2, 0xbb),
	})
	if err != nil {
		t.Fatalf("WritePages: %v", err)
	}
	if len(accepted) != 1 {
		t.Fatalf("expected pages grouped into 1 segment, got %d", len(accepted))
	}
	if accepted[0].Pages.Cardinality() != 2 {
		t.Fatalf("expected 2 accepted pages, got %d", accepted[0].Pages.Cardinality())
	}

	objList, err := objs.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objList) != 1 {
		t.Fatalf("expected 1 sealed segment uploaded, got %d", len(objList))
	}
}

func TestWritePagesFlushesOnTimer(t *testing.T) {
	p, _ := newTestPipeline(t, Config{SegmentCapacity: 1000, FlushInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	vid := graft.NewVolumeId()
	accepted, err := p.WritePages(ctx, vid, []wire.PageData{testPageData(1, 0xcc)})
	if err != nil {
		t.Fatalf("WritePages: %v", err)
	}
	if len(accepted) != 1 || accepted[0].Pages.Cardinality() != 1 {
		t.Fatalf("unexpected accept result: %+v", accepted)
	}
}

func TestWritePagesRejectsDuplicateIndex(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	ctx := context.Background()
	vid := graft.NewVolumeId()
	_, err := p.WritePages(ctx, vid, []wire.PageData{
		testPageData(1, 0x01),
		testPageData(1, 0x02),
	})
	if err == nil {
		t.Fatal("expected error for duplicate page index")
	}
}

func TestWritePagesRejectsWrongSize(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	ctx := context.Background()
	vid := graft.NewVolumeId()
	_, err := p.WritePages(ctx, vid, []wire.PageData{{Idx: 1, Data: []byte("short")}})
	if err == nil {
		t.Fatal("expected error for undersized page")
	}
}

func TestReadPagesRoundTripsThroughSegment(t *testing.T) {
	p, _ := newTestPipeline(t, Config{SegmentCapacity: 4, FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	vid := graft.NewVolumeId()
	pages := []wire.PageData{testPageData(1, 0x11), testPageData(2, 0x22)}
	accepted, err := p.WritePages(ctx, vid, pages)
	if err != nil {
		t.Fatalf("WritePages: %v", err)
	}
	sid := accepted[0].Sid

	rd, err := p.cache.Load(ctx, sid)
	if err != nil {
		t.Fatalf("load segment: %v", err)
	}
	if !rd.Has(vid, 1) || !rd.Has(vid, 2) {
		t.Fatal("segment missing written pages")
	}
	got, err := rd.ReadPage(vid, 1)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if got[0] != 0x11 {
		t.Fatalf("unexpected page content byte %x", got[0])
	}
}
