package runtime

import (
	"context"
	"testing"

	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv/memkv"
)

func TestOpenVolumeThenReadWrite(t *testing.T) {
	rt := New(memkv.New(), nil, nil)
	ctx := context.Background()

	vol, err := rt.OpenVolume(ctx)
	if err != nil {
		t.Fatalf("OpenVolume: %v", err)
	}

	w, err := rt.Writer(vol, nil)
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}
	var pg graft.Page
	pg[0] = 0x9
	w.WritePage(1, pg)
	if _, err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := rt.Reader(vol, nil)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	got, err := r.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != pg {
		t.Fatalf("Read returned wrong page")
	}
}

func TestRequestSyncWithoutEngineFails(t *testing.T) {
	rt := New(memkv.New(), nil, nil)
	err := rt.RequestSync(context.Background(), graft.NewVolumeId())
	if err == nil {
		t.Fatalf("expected RequestSync to fail with no engine attached")
	}
}
