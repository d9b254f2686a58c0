package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/graft-sh/graft/auth"
	"github.com/graft-sh/graft/auth/localtoken"
	"github.com/graft-sh/graft/client/storage"
	"github.com/graft-sh/graft/cmn/config"
	"github.com/graft-sh/graft/cmn/nlog"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/kv/bunt"
	"github.com/graft-sh/graft/metastore"
	"github.com/graft-sh/graft/objstore"
	"github.com/graft-sh/graft/pagestore"
	"github.com/graft-sh/graft/pagestore/segcache"
	"github.com/graft-sh/graft/wire"
)

func dispatchServe(args []string) int {
	if len(args) == 0 {
		return fail("serve requires a node type: metastore | pagestore")
	}
	switch args[0] {
	case "metastore":
		return serveMetastore(args[1:])
	case "pagestore":
		return servePagestore(args[1:])
	default:
		return fail("serve: unknown node type %q", args[0])
	}
}

func loadAuthenticator(keyFile string) (auth.Authenticator, error) {
	if keyFile == "" {
		return nil, nil
	}
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", keyFile, err)
	}
	return localtoken.New(key)
}

func serveMetastore(args []string) int {
	fs := flag.NewFlagSet("serve metastore", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "local data directory (bunt db under data-dir/metastore.db)")
	listen := fs.String("listen", "", "listen address, overrides config")
	keyFile := fs.String("key-file", "", "PASETO-style symmetric key file; empty disables auth")
	cfgPath := fs.String("config", "", "path to a config.Config JSON file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, code := resolveConfig(*cfgPath, *dataDir)
	if cfg == nil {
		return code
	}
	if *listen != "" {
		cfg.Metastore.ListenAddr = *listen
	}
	if *keyFile != "" {
		cfg.Auth.KeyFile = *keyFile
	}

	store, err := bunt.Open(cfg.DataDir + "/metastore.db")
	if err != nil {
		return failErr("open metastore db", err)
	}
	defer store.Close()

	authenticator, err := loadAuthenticator(cfg.Auth.KeyFile)
	if err != nil {
		return failErr("load authenticator", err)
	}

	acceptor := metastore.New(storage.NewLogStore(store))
	srv := wire.NewServer(authenticator)
	metastore.RegisterRoutes(srv, acceptor)

	ln, err := net.Listen("tcp", cfg.Metastore.ListenAddr)
	if err != nil {
		return failErr("listen", err)
	}
	nlog.Infof("graft metastore listening on %s (data dir %s)", cfg.Metastore.ListenAddr, cfg.DataDir)
	if err := srv.Serve(ln); err != nil {
		return failErr("metastore server exited", err)
	}
	return 0
}

func servePagestore(args []string) int {
	fs := flag.NewFlagSet("serve pagestore", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "local data directory (segment cache spill dir under data-dir/segcache)")
	listen := fs.String("listen", "", "listen address, overrides config")
	objURL := fs.String("object-store", "", "segment object store URL (file://, s3://, az://, gs://), overrides config")
	metaAddr := fs.String("metastore-addr", "", "metastore base URL, e.g. http://127.0.0.1:7070")
	cacheCap := fs.Int("segment-cache-capacity", 0, "max sealed segments held in the body cache, 0 = use config")
	keyFile := fs.String("key-file", "", "PASETO-style symmetric key file; empty disables auth")
	cfgPath := fs.String("config", "", "path to a config.Config JSON file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, code := resolveConfig(*cfgPath, *dataDir)
	if cfg == nil {
		return code
	}
	if *listen != "" {
		cfg.Pagestore.ListenAddr = *listen
	}
	if *objURL != "" {
		cfg.Pagestore.ObjectStoreURL = *objURL
	}
	if *cacheCap > 0 {
		cfg.Pagestore.SegmentCacheCap = *cacheCap
	}
	if *keyFile != "" {
		cfg.Auth.KeyFile = *keyFile
	}
	if *metaAddr != "" {
		cfg.Client.MetastoreAddr = *metaAddr
	}

	ctx, cancel := backgroundWithCancel()
	defer cancel()

	objs, err := objstore.OpenURL(ctx, cfg.Pagestore.ObjectStoreURL)
	if err != nil {
		return failErr("open object store", err)
	}

	cache, err := segcache.New(cfg.Pagestore.SegmentCacheCap, cfg.DataDir+"/segcache", segmentLoader(objs))
	if err != nil {
		return failErr("open segment cache", err)
	}
	defer cache.Close()

	authenticator, err := loadAuthenticator(cfg.Auth.KeyFile)
	if err != nil {
		return failErr("load authenticator", err)
	}

	var metaClient *wire.Client
	if cfg.Client.MetastoreAddr != "" {
		metaClient = wire.NewClient(cfg.Client.MetastoreAddr, nil)
	}

	p := pagestore.New(objs, cache, metaClient, pagestore.DefaultConfig())
	go p.Run(ctx)

	srv := wire.NewServer(authenticator)
	pagestore.RegisterRoutes(srv, p)

	ln, err := net.Listen("tcp", cfg.Pagestore.ListenAddr)
	if err != nil {
		return failErr("listen", err)
	}
	nlog.Infof("graft pagestore listening on %s (object store %s)", cfg.Pagestore.ListenAddr, cfg.Pagestore.ObjectStoreURL)
	if err := srv.Serve(ln); err != nil {
		return failErr("pagestore server exited", err)
	}
	return 0
}

// segmentLoader adapts an objstore.Store into the segcache.Loader the
// body cache calls on a miss: fetch the whole sealed segment in one
// ranged GET (length -1 means "to EOF").
func segmentLoader(objs objstore.Store) segcache.Loader {
	return func(ctx context.Context, sid graft.SegmentId) ([]byte, error) {
		rc, err := objs.GetRange(ctx, sid.Pretty(), 0, -1)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
}

func resolveConfig(cfgPath, dataDir string) (*config.Config, int) {
	if cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, failErr("load config", err)
		}
		return cfg, 0
	}
	if dataDir == "" {
		return nil, fail("either -config or -data-dir is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, failErr("create data dir", err)
	}
	return config.Default(dataDir), 0
}
