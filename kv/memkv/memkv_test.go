package memkv

import (
	"context"
	"testing"

	"github.com/graft-sh/graft/kv"
)

func TestGetInsertDelete(t *testing.T) {
	s := New()
	if _, ok, _ := s.Get(kv.PartitionVolumes, []byte("a")); ok {
		t.Fatalf("expected missing key")
	}
	if err := s.Insert(kv.PartitionVolumes, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, ok, err := s.Get(kv.PartitionVolumes, []byte("a"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if err := s.Delete(kv.PartitionVolumes, []byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(kv.PartitionVolumes, []byte("a")); ok {
		t.Fatalf("expected key gone after delete")
	}
}

func TestScanPrefixAndRange(t *testing.T) {
	s := New()
	for _, k := range []string{"a1", "a2", "a3", "b1"} {
		if err := s.Insert(kv.PartitionLog, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}
	rows, err := s.ScanPrefix(kv.PartitionLog, []byte("a"))
	if err != nil || len(rows) != 3 {
		t.Fatalf("ScanPrefix = %d rows, err %v", len(rows), err)
	}

	rows, err = s.ScanRange(kv.PartitionLog, []byte("a1"), []byte("a3"), false)
	if err != nil || len(rows) != 2 {
		t.Fatalf("ScanRange ascending = %d rows, err %v", len(rows), err)
	}

	rows, err = s.ScanRange(kv.PartitionLog, []byte("a1"), nil, true)
	if err != nil || len(rows) != 4 {
		t.Fatalf("ScanRange reverse = %d rows, err %v", len(rows), err)
	}
	if string(rows[0].Key) != "b1" {
		t.Fatalf("ScanRange reverse not newest-first: %q", rows[0].Key)
	}
}

func TestWriteBatchAtomicAndPrecondition(t *testing.T) {
	s := New()
	b := s.NewBatch()
	b.Put(kv.PartitionVolumes, []byte("x"), []byte("1"))
	b.Put(kv.PartitionVolumes, []byte("y"), []byte("2"))
	if err := b.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, ok, _ := s.Get(kv.PartitionVolumes, []byte("x")); !ok {
		t.Fatalf("expected x present")
	}

	b2 := s.NewBatch()
	b2.Put(kv.PartitionVolumes, []byte("z"), []byte("3"))
	b2.Precondition(func(v kv.ReadView) bool {
		_, ok, _ := v.Get(kv.PartitionVolumes, []byte("nonexistent"))
		return ok
	})
	if err := b2.Commit(context.Background()); err != kv.ErrPreconditionFailed {
		t.Fatalf("Commit with failing precondition = %v, want ErrPreconditionFailed", err)
	}
	if _, ok, _ := s.Get(kv.PartitionVolumes, []byte("z")); ok {
		t.Fatalf("expected rejected batch to apply nothing")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New()
	if err := s.Insert(kv.PartitionHandles, []byte("h"), []byte("v1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	view, err := s.SnapshotAt(s.Seq())
	if err != nil {
		t.Fatalf("SnapshotAt: %v", err)
	}
	if err := s.Insert(kv.PartitionHandles, []byte("h"), []byte("v2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, ok, err := view.Get(kv.PartitionHandles, []byte("h"))
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("snapshot view seen newer write: %q, %v, %v", v, ok, err)
	}
	v, ok, err = s.Get(kv.PartitionHandles, []byte("h"))
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("live store did not see update: %q", v)
	}
}
