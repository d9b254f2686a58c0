package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/graft-sh/graft/client/runtime"
	"github.com/graft-sh/graft/client/sync"
	"github.com/graft-sh/graft/cmn/config"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv/bunt"
	"github.com/graft-sh/graft/objstore"
	"github.com/graft-sh/graft/wire"
)

func dispatchVolume(args []string) int {
	if len(args) == 0 {
		return fail("volume requires a subcommand: open | read | write | sync")
	}
	switch args[0] {
	case "open":
		return volumeOpen(args[1:])
	case "read":
		return volumeRead(args[1:])
	case "write":
		return volumeWrite(args[1:])
	case "sync":
		return volumeSync(args[1:])
	default:
		return fail("volume: unknown subcommand %q", args[0])
	}
}

// clientEnv bundles the store handle, object store, and RPC clients every
// volume subcommand opens the same way.
type clientEnv struct {
	cfg  *config.Config
	rt   *runtime.Runtime
	objs objstore.Store
	meta *wire.Client
	page *wire.Client
}

func openClientEnv(cfgPath, dataDir string) (*clientEnv, func(), int) {
	cfg, code := resolveConfig(cfgPath, dataDir)
	if cfg == nil {
		return nil, nil, code
	}

	store, err := bunt.Open(cfg.DataDir + "/client.db")
	if err != nil {
		return nil, nil, failErr("open client db", err)
	}

	var meta, pageRPC *wire.Client
	if cfg.Client.MetastoreAddr != "" {
		meta = wire.NewClient(cfg.Client.MetastoreAddr, nil)
	}
	if cfg.Client.PagestoreAddr != "" {
		pageRPC = wire.NewClient(cfg.Client.PagestoreAddr, nil)
	}

	var objs objstore.Store
	if cfg.Pagestore.ObjectStoreURL != "" {
		objs, err = objstore.OpenURL(context.Background(), cfg.Pagestore.ObjectStoreURL)
		if err != nil {
			store.Close()
			return nil, nil, failErr("open object store", err)
		}
	}

	rt := runtime.New(store, meta, pageRPC)
	env := &clientEnv{cfg: cfg, rt: rt, objs: objs, meta: meta, page: pageRPC}
	return env, func() { store.Close() }, 0
}

func volumeOpen(args []string) int {
	fs := flag.NewFlagSet("volume open", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "local data directory")
	cfgPath := fs.String("config", "", "path to a config.Config JSON file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	env, closeFn, code := openClientEnv(*cfgPath, *dataDir)
	if env == nil {
		return code
	}
	defer closeFn()

	vol, err := env.rt.OpenVolume(context.Background())
	if err != nil {
		return failErr("open volume", err)
	}
	fmt.Println(vol.Vid.Pretty())
	return 0
}

func parseVolumeFlag(s string) (graft.VolumeId, int) {
	if s == "" {
		return graft.VolumeId{}, fail("-volume is required")
	}
	vid, err := graft.VolumeIdFromPretty(s)
	if err != nil {
		return graft.VolumeId{}, failErr("parse -volume", err)
	}
	return vid, 0
}

func volumeRead(args []string) int {
	fs := flag.NewFlagSet("volume read", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "local data directory")
	cfgPath := fs.String("config", "", "path to a config.Config JSON file")
	volumeFlag := fs.String("volume", "", "volume id, as printed by 'volume open'")
	page := fs.Uint64("page", 0, "page index to read")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	vid, code := parseVolumeFlag(*volumeFlag)
	if code != 0 {
		return code
	}

	env, closeFn, code := openClientEnv(*cfgPath, *dataDir)
	if env == nil {
		return code
	}
	defer closeFn()

	vol, ok := env.rt.LogStore().VolumeByID(vid)
	if !ok {
		return fail("volume %s not found locally", vid.Pretty())
	}

	var fetcher *sync.Fetcher
	if env.objs != nil {
		fetcher = sync.NewFetcher(env.objs, env.rt.LogStore().KV())
	}
	rd, err := env.rt.Reader(vol, fetcher)
	if err != nil {
		return failErr("open reader", err)
	}
	pg, err := rd.Read(context.Background(), graft.PageIdx(*page))
	if err != nil {
		return failErr("read page", err)
	}
	fmt.Println(hex.EncodeToString(pg[:]))
	return 0
}

func volumeWrite(args []string) int {
	fs := flag.NewFlagSet("volume write", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "local data directory")
	cfgPath := fs.String("config", "", "path to a config.Config JSON file")
	volumeFlag := fs.String("volume", "", "volume id, as printed by 'volume open'")
	page := fs.Uint64("page", 0, "page index to write")
	file := fs.String("file", "", "path to read page content from (at most the page size; shorter content is zero-padded)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	vid, code := parseVolumeFlag(*volumeFlag)
	if code != 0 {
		return code
	}
	if *file == "" {
		return fail("-file is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return failErr("read page file", err)
	}
	if len(raw) > graft.PageSize {
		return fail("page file %s is %d bytes, larger than page size %d", *file, len(raw), graft.PageSize)
	}
	var pg graft.Page
	copy(pg[:], raw)

	env, closeFn, code := openClientEnv(*cfgPath, *dataDir)
	if env == nil {
		return code
	}
	defer closeFn()

	vol, ok := env.rt.LogStore().VolumeByID(vid)
	if !ok {
		return fail("volume %s not found locally", vid.Pretty())
	}

	var fetcher *sync.Fetcher
	if env.objs != nil {
		fetcher = sync.NewFetcher(env.objs, env.rt.LogStore().KV())
	}
	w, err := env.rt.Writer(vol, fetcher)
	if err != nil {
		return failErr("open writer", err)
	}
	w.WritePage(graft.PageIdx(*page), pg)
	commit, err := w.Commit(context.Background())
	if err != nil {
		return failErr("commit", err)
	}
	fmt.Printf("committed lsn=%d page_count=%d\n", commit.Lsn, commit.PageCount)
	return 0
}

func volumeSync(args []string) int {
	fs := flag.NewFlagSet("volume sync", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "local data directory")
	cfgPath := fs.String("config", "", "path to a config.Config JSON file")
	volumeFlag := fs.String("volume", "", "volume id, as printed by 'volume open'")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	vid, code := parseVolumeFlag(*volumeFlag)
	if code != 0 {
		return code
	}

	env, closeFn, code := openClientEnv(*cfgPath, *dataDir)
	if env == nil {
		return code
	}
	defer closeFn()
	if env.meta == nil {
		return fail("sync requires -config or a client.metastore_addr to reach a metastore")
	}

	vol, ok := env.rt.LogStore().VolumeByID(vid)
	if !ok {
		return fail("volume %s not found locally", vid.Pretty())
	}

	engine := sync.NewEngine(env.rt.LogStore(), env.objs, env.meta, sync.DefaultConfig())
	engine.Track(vol)
	env.rt.AttachSyncChannel(engine.ReqChan())

	ctx, cancel := backgroundWithCancel()
	defer cancel()
	go engine.Run(ctx)
	defer engine.Stop()

	if err := env.rt.RequestSync(context.Background(), vid); err != nil {
		return failErr("sync", err)
	}
	fmt.Println("sync ok")
	return 0
}
