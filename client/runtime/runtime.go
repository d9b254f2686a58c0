// Package runtime assembles the client-facing handle on top of
// client/storage: a Volume's storage, its metastore RPC sender, and the
// sync engine's command channel, bundled into one cheap-to-clone value
// (spec §4.5: "Handles are cheap to clone").
package runtime

import (
	"context"

	"github.com/graft-sh/graft/client/storage"
	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv"
	"github.com/graft-sh/graft/wire"
)

// Runtime is the handle application code holds: it owns references to the
// local kv.Store, an optional metastore/pagestore RPC client, and a
// reference to the autosync command channel (nil until AttachSyncChannel
// is called). Copying a Runtime copies only pointers, matching the
// teacher's own handle-by-reference convention for long-lived shared
// state (e.g. cluster.Bowner).
type Runtime struct {
	logs     *storage.LogStore
	metaRPC  *wire.Client
	pageRPC  *wire.Client
	syncReqs chan<- SyncRequest
}

// SyncRequest is the narrow command surface client/sync accepts from a
// Runtime: "sync this volume now" rather than waiting for the next tick.
// client/sync defines and owns the consumer end; this package only needs
// the channel's element type to expose RequestSync without importing
// client/sync back (which would cycle storage -> runtime -> sync -> runtime).
type SyncRequest struct {
	Volume graft.VolumeId
	Done   chan<- error // optional; nil if the caller doesn't want to wait
}

func New(store kv.Store, metaRPC, pageRPC *wire.Client) *Runtime {
	return &Runtime{logs: storage.NewLogStore(store), metaRPC: metaRPC, pageRPC: pageRPC}
}

// AttachSyncChannel wires an already-spawned client/sync engine's command
// channel into the Runtime, so RequestSync has somewhere to send.
func (rt *Runtime) AttachSyncChannel(ch chan<- SyncRequest) { rt.syncReqs = ch }

func (rt *Runtime) LogStore() *storage.LogStore { return rt.logs }
func (rt *Runtime) MetastoreClient() *wire.Client { return rt.metaRPC }
func (rt *Runtime) PagestoreClient() *wire.Client { return rt.pageRPC }

// OpenVolume creates a fresh local Volume with its own Log, seeds an empty
// root commit at FirstLSN so HeadLSN/ResolveSnapshot have a starting
// point, and persists both before returning.
func (rt *Runtime) OpenVolume(ctx context.Context) (*graft.Volume, error) {
	vol := &graft.Volume{Vid: graft.NewVolumeId(), Local: graft.NewLogId()}

	b := rt.logs.KV().NewBatch()
	storage.PutCommit(b, &graft.Commit{Log: vol.Local, Lsn: graft.FirstLSN, PageCount: 0})
	if err := b.Commit(ctx); err != nil {
		return nil, err
	}
	if err := rt.logs.PutVolume(ctx, vol); err != nil {
		return nil, err
	}
	return vol, nil
}

// Reader opens a VolumeReader for vol at its current head. fetcher may be
// nil for volumes whose snapshot is known to be fully hydrated locally
// (e.g. immediately after a local-only write); a nil fetcher surfaces a
// gerrs.IOErr on any miss instead of reaching out to the network.
func (rt *Runtime) Reader(vol *graft.Volume, fetcher storage.SegmentFetcher) (*storage.VolumeReader, error) {
	return storage.OpenVolumeReader(rt.logs, fetcher, vol, nil)
}

// Writer opens a VolumeWriter for vol.
func (rt *Runtime) Writer(vol *graft.Volume, fetcher storage.SegmentFetcher) (*storage.VolumeWriter, error) {
	return storage.OpenVolumeWriter(rt.logs, fetcher, vol)
}

// RequestSync asks the attached autosync engine to sync vol now rather
// than waiting for its next tick, blocking until it reports back if the
// caller supplies ctx without cancellation. Returns gerrs.Fatal if no
// engine has been attached.
func (rt *Runtime) RequestSync(ctx context.Context, vid graft.VolumeId) error {
	if rt.syncReqs == nil {
		return gerrs.Fatal("no sync engine attached to this runtime").WithVolume(vid.Pretty())
	}
	done := make(chan error, 1)
	select {
	case rt.syncReqs <- SyncRequest{Volume: vid, Done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
