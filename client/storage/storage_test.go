package storage

import (
	"context"
	"testing"

	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv/memkv"
)

func newTestVolume(t *testing.T, logs *LogStore) *graft.Volume {
	t.Helper()
	vid := graft.NewVolumeId()
	log := graft.NewLogId()
	vol := &graft.Volume{Vid: vid, Local: log}
	if err := logs.PutVolume(context.Background(), vol); err != nil {
		t.Fatalf("PutVolume: %v", err)
	}
	// Seed graft.FirstLSN (LSN 1) as an empty root commit so HeadLSN/ResolveSnapshot have
	// somewhere to start walking from.
	b := logs.KV().NewBatch()
	PutCommit(b, &graft.Commit{Log: log, Lsn: graft.FirstLSN, PageCount: 0})
	if err := b.Commit(context.Background()); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
	return vol
}

func pageWith(b byte) graft.Page {
	var pg graft.Page
	for i := range pg {
		pg[i] = b
	}
	return pg
}

func TestReadPastPageCountIsEmpty(t *testing.T) {
	logs := NewLogStore(memkv.New())
	vol := newTestVolume(t, logs)

	r, err := OpenVolumeReader(logs, nil, vol, nil)
	if err != nil {
		t.Fatalf("OpenVolumeReader: %v", err)
	}
	pg, err := r.Read(context.Background(), 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pg != graft.EmptyPage {
		t.Fatalf("expected empty page past page_count")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	logs := NewLogStore(memkv.New())
	vol := newTestVolume(t, logs)

	w, err := OpenVolumeWriter(logs, nil, vol)
	if err != nil {
		t.Fatalf("OpenVolumeWriter: %v", err)
	}
	want := pageWith(0xAB)
	w.WritePage(1, want)
	w.WritePage(2, pageWith(0xCD))

	if w.PageCount() != 2 {
		t.Fatalf("PageCount = %d, want 2", w.PageCount())
	}

	ctx := context.Background()
	got, err := w.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read before commit: %v", err)
	}
	if got != want {
		t.Fatalf("Read before commit returned wrong page")
	}

	commit, err := w.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commit.Lsn != graft.FirstLSN.Next() {
		t.Fatalf("commit.Lsn = %d, want %d", commit.Lsn, graft.FirstLSN.Next())
	}

	r2, err := OpenVolumeReader(logs, nil, vol, nil)
	if err != nil {
		t.Fatalf("reopen reader: %v", err)
	}
	got2, err := r2.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read after commit: %v", err)
	}
	if got2 != want {
		t.Fatalf("Read after commit returned wrong page")
	}
}

func TestSoftTruncatePreservesCommittedContent(t *testing.T) {
	logs := NewLogStore(memkv.New())
	vol := newTestVolume(t, logs)
	ctx := context.Background()

	w, err := OpenVolumeWriter(logs, nil, vol)
	if err != nil {
		t.Fatalf("OpenVolumeWriter: %v", err)
	}
	want := pageWith(0x11)
	w.WritePage(1, want)
	w.WritePage(2, pageWith(0x22))
	if _, err := w.Commit(ctx); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	w2, err := OpenVolumeWriter(logs, nil, vol)
	if err != nil {
		t.Fatalf("reopen writer: %v", err)
	}
	w2.WritePage(3, pageWith(0x33))
	w2.SoftTruncate(1)
	if w2.PageCount() != 1 {
		t.Fatalf("PageCount after truncate = %d, want 1", w2.PageCount())
	}
	// Page 3 was dropped by the truncate and never committed.
	pg3, err := w2.Read(ctx, 3)
	if err != nil {
		t.Fatalf("Read idx 3: %v", err)
	}
	if pg3 != graft.EmptyPage {
		t.Fatalf("expected page 3 to read empty past the truncated count")
	}

	// Growing back past the truncation point must still see page 1's
	// original committed content (spec §8 scenario 3).
	w2.SoftTruncate(2)
	got1, err := w2.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read idx 1: %v", err)
	}
	if got1 != want {
		t.Fatalf("soft truncate erased previously committed content at idx 1")
	}
}

func TestConcurrentCommitConflict(t *testing.T) {
	logs := NewLogStore(memkv.New())
	vol := newTestVolume(t, logs)
	ctx := context.Background()

	w1, err := OpenVolumeWriter(logs, nil, vol)
	if err != nil {
		t.Fatalf("open w1: %v", err)
	}
	w2, err := OpenVolumeWriter(logs, nil, vol)
	if err != nil {
		t.Fatalf("open w2: %v", err)
	}

	w1.WritePage(1, pageWith(0x01))
	w2.WritePage(1, pageWith(0x02))

	if _, err := w1.Commit(ctx); err != nil {
		t.Fatalf("w1 commit should succeed: %v", err)
	}
	_, err = w2.Commit(ctx)
	if err == nil {
		t.Fatalf("expected w2 commit to fail with ConcurrentWrite")
	}
	if gerrs.KindOf(err) != gerrs.KindConcurrentWrite {
		t.Fatalf("err kind = %v, want ConcurrentWrite", gerrs.KindOf(err))
	}
}
