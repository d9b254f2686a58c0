package objstore

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
)

func TestFSStorePutGetRange(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	content := []byte("0123456789")
	if err := s.Put(ctx, "seg/abc", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r, err := s.GetRange(ctx, "seg/abc", 2, 3)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "234" {
		t.Fatalf("GetRange = %q, want 234", got)
	}

	info, err := s.Head(ctx, "seg/abc")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Fatalf("Head.Size = %d, want %d", info.Size, len(content))
	}

	items, err := s.List(ctx, "seg/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Key != "seg/abc" {
		t.Fatalf("List = %+v", items)
	}

	if _, err := filepath.Abs(dir); err != nil {
		t.Fatalf("filepath.Abs: %v", err)
	}
}

func TestFSStoreNoPartialObjectOnFailedWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	r, w := io.Pipe()
	w.CloseWithError(io.ErrClosedPipe)
	if err := s.Put(ctx, "broken", r, 0); err == nil {
		t.Fatalf("expected Put to fail on a broken reader")
	}
	if _, err := s.Head(ctx, "broken"); err == nil {
		t.Fatalf("expected no object to be visible after a failed Put")
	}
}
