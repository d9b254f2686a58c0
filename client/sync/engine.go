package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/graft-sh/graft/client/runtime"
	"github.com/graft-sh/graft/client/storage"
	"github.com/graft-sh/graft/cmn/nlog"
	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/internal/backoff"
	"github.com/graft-sh/graft/objstore"
	"github.com/graft-sh/graft/wire"
)

const (
	minRetryDelay = 500 * time.Millisecond
	maxRetryDelay = 30 * time.Second
)

// Engine is the single cooperative autosync task (spec §4.6): one
// goroutine wakes on a ticker, classifies every open Volume, and runs
// per Volume per tick either RecoverPendingCommit alone (a PendingCommit
// is present) or FetchLog (when the Volume has a remote) followed by at
// most one of RemoteCommit or SyncRemoteToLocal. All actions it calls are plain
// synchronous function calls from that same goroutine, except
// HydrateSnapshot's internal errgroup fan-out, which the engine awaits
// before moving to the next Volume.
type Engine struct {
	logs         *storage.LogStore
	objs         objstore.Store
	meta         *wire.Client
	fetcher      *Fetcher
	hydrateLimit int
	interval     time.Duration

	mu       stdsync.Mutex
	volumes  map[graft.VolumeId]*graft.Volume
	retry    map[graft.VolumeId]*backoff.Backoff
	retryAt  map[graft.VolumeId]time.Time

	reqCh  chan runtime.SyncRequest
	stopCh chan struct{}
	doneCh chan struct{}
}

// Config bundles Engine's tunables (spec §4.6's "N concurrent fetches"
// and the tick interval, both otherwise unconstrained by the spec).
type Config struct {
	Interval     time.Duration
	HydrateLimit int
}

func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second, HydrateLimit: 8}
}

func NewEngine(logs *storage.LogStore, objs objstore.Store, meta *wire.Client, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.HydrateLimit <= 0 {
		cfg.HydrateLimit = DefaultConfig().HydrateLimit
	}
	return &Engine{
		logs:         logs,
		objs:         objs,
		meta:         meta,
		fetcher:      NewFetcher(objs, logs.KV()),
		hydrateLimit: cfg.HydrateLimit,
		interval:     cfg.Interval,
		volumes:      make(map[graft.VolumeId]*graft.Volume),
		retry:        make(map[graft.VolumeId]*backoff.Backoff),
		retryAt:      make(map[graft.VolumeId]time.Time),
		reqCh:        make(chan runtime.SyncRequest, 16),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// ReqChan exposes the channel a client/runtime.Runtime attaches via
// AttachSyncChannel, so RequestSync can wake the engine out of band
// instead of waiting for the next tick.
func (e *Engine) ReqChan() chan<- runtime.SyncRequest { return e.reqCh }

// Track registers vol so the engine's tick loop classifies and syncs it.
// Untrack removes it, e.g. once a volume is closed.
func (e *Engine) Track(vol *graft.Volume) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volumes[vol.Vid] = vol
}

func (e *Engine) Untrack(vid graft.VolumeId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.volumes, vid)
}

// Run drives the tick loop until ctx is canceled or Stop is called.
// Grounded on the teacher's collector.run select-loop (ticker + control
// channel + stop channel); this engine's control channel carries
// out-of-band sync requests instead of stream add/remove commands.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tickAll(ctx)
		case req := <-e.reqCh:
			err := e.syncOne(ctx, req.Volume)
			if req.Done != nil {
				req.Done <- err
			}
		}
	}
}

func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) tickAll(ctx context.Context) {
	now := time.Now()
	e.mu.Lock()
	vols := make([]*graft.Volume, 0, len(e.volumes))
	for vid, v := range e.volumes {
		if at, ok := e.retryAt[vid]; ok && now.Before(at) {
			continue
		}
		vols = append(vols, v)
	}
	e.mu.Unlock()

	for _, vol := range vols {
		e.runAndTrackRetry(ctx, vol)
	}
}

// runAndTrackRetry runs the classifier for vol and, if it fails with a
// gerrs.Kind.Retryable() error, schedules the volume's next attempt after
// an internal/backoff delay instead of retrying every tick. A success or
// a non-retryable failure (Diverged, RejectedCommit, ...) resets the
// backoff sequence.
func (e *Engine) runAndTrackRetry(ctx context.Context, vol *graft.Volume) {
	err := e.syncVolume(ctx, vol)
	vid := vol.Vid

	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil {
		delete(e.retry, vid)
		delete(e.retryAt, vid)
		return
	}
	if gerrs.KindOf(err) == gerrs.KindDiverged {
		nlog.Warningf("sync: volume %s: %v", vid.Pretty(), err)
		delete(e.retry, vid)
		delete(e.retryAt, vid)
		return
	}
	if !gerrs.KindOf(err).Retryable() {
		nlog.Warningf("sync: volume %s: %v", vid.Pretty(), err)
		delete(e.retry, vid)
		delete(e.retryAt, vid)
		return
	}

	b, ok := e.retry[vid]
	if !ok {
		b = backoff.New(minRetryDelay, maxRetryDelay)
		e.retry[vid] = b
	}
	delay := b.Next()
	e.retryAt[vid] = time.Now().Add(delay)
	nlog.Warningf("sync: volume %s: %v (retrying in %s)", vid.Pretty(), err, delay)
}

// syncOne answers an out-of-band RequestSync immediately, bypassing any
// pending backoff window: an explicit caller-initiated request is a
// reason to try now regardless of how the last unattended tick went.
func (e *Engine) syncOne(ctx context.Context, vid graft.VolumeId) error {
	e.mu.Lock()
	vol, ok := e.volumes[vid]
	e.mu.Unlock()
	if !ok {
		return gerrs.NotFound("volume %s is not tracked by the sync engine", vid.Pretty())
	}
	err := e.syncVolume(ctx, vol)

	e.mu.Lock()
	if err == nil || !gerrs.KindOf(err).Retryable() {
		delete(e.retry, vid)
		delete(e.retryAt, vid)
	}
	e.mu.Unlock()
	return err
}

// syncVolume implements spec §4.6's per-tick classifier. PendingCommit
// takes precedence over every other classification.
func (e *Engine) syncVolume(ctx context.Context, vol *graft.Volume) error {
	if vol.HasPending() {
		return e.RecoverPendingCommit(ctx, vol)
	}

	sp := vol.Sync
	if sp == nil {
		sp = &graft.SyncPoint{}
	}

	localHead, _ := e.logs.HeadLSN(vol.Local)
	localChanged := localHead > sp.LocalWatermark

	remoteChanged := false
	if vol.HasRemote() {
		if _, err := e.FetchLog(ctx, vol.Remote); err != nil {
			return err
		}
		remoteHead, _ := e.logs.HeadLSN(vol.Remote)
		remoteChanged = remoteHead > sp.RemoteLSN
	}

	switch {
	case localChanged && remoteChanged:
		return gerrs.Diverged("volume %s changed on both local and remote since last sync", vol.Vid.Pretty()).WithVolume(vol.Vid.Pretty())
	case localChanged:
		if !vol.HasRemote() {
			return nil // no remote to push to yet
		}
		return e.RemoteCommit(ctx, vol)
	case remoteChanged:
		return e.SyncRemoteToLocal(ctx, vol)
	default:
		return nil // neither side changed; FetchLog above already ran
	}
}
