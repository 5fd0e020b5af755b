// Package loader is the public entry point: Loader owns every per-node
// Buffer for one cache, drives the partition-and-remap algorithm in
// load0, and exposes the addData/flush/close API applications call
// directly.
package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/griddata/loader/affinity"
	"github.com/griddata/loader/buffer"
	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/errs"
	"github.com/griddata/loader/logging"
	procmetrics "github.com/griddata/loader/metrics"
	"github.com/griddata/loader/pkg/busylock"
	"github.com/griddata/loader/pkg/completion"
	"github.com/griddata/loader/router"
	"github.com/griddata/loader/wire"
)

const defaultMaxRemaps = 32

// Config bundles everything a Loader needs to be constructed once; the
// mutable knobs (BufSize, ParallelOps, AutoFlushFreq) are adjusted
// afterward through setters on the live Loader rather than a
// rebuild-on-change config object.
type Config struct {
	CacheName          string
	Discovery          cluster.Discovery
	Transport          cluster.Transport
	Pool               cluster.WorkerPool
	Resolver           *affinity.Resolver
	Marshaller         wire.Marshaller
	Updater            buffer.Updater
	DeploymentResolver cluster.DeploymentResolver
	Scheduler          Scheduler
	BufSize            int
	ParallelOps        int64
	AutoFlushFreq      int64 // milliseconds; 0 disables
	SkipStore          bool
	MaxRemaps          int
}

// Scheduler is the collaborator the loader enlists with for auto-flush,
// implemented by the flushq package.
type Scheduler interface {
	Register(key string, freqMillis int64, flush func(ctx context.Context) error)
	Unregister(key string)
}

// Loader is the per-cache ingestion engine. One Loader owns every Buffer
// for its cache name; it is safe for concurrent use by multiple goroutines
// calling AddData/Flush/Close.
type Loader struct {
	cfg       Config
	id        uuid.UUID
	responder string
	log       iLogger

	lock *busylock.BusyLock
	mu   sync.Mutex

	buffers *xsync.MapOf[cluster.NodeID, *buffer.Buffer]
	router  *router.Router

	maxRemaps int
	overall   *completion.Completion[struct{}]

	stopTopo context.CancelFunc
}

type iLogger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// New constructs and wires a Loader for cfg.CacheName. It registers a
// discovery listener and a dedicated response topic for the lifetime of
// the loader; Close tears both down.
func New(cfg Config) *Loader {
	if cfg.BufSize <= 0 {
		cfg.BufSize = 1
	}
	if cfg.ParallelOps <= 0 {
		cfg.ParallelOps = 1
	}
	if cfg.MaxRemaps <= 0 {
		cfg.MaxRemaps = defaultMaxRemaps
	}

	id := uuid.New()
	l := &Loader{
		cfg:       cfg,
		id:        id,
		responder: router.NewTopic(id),
		log:       logging.Get("loader"),
		lock:      busylock.New(),
		buffers:   xsync.NewMapOf[cluster.NodeID, *buffer.Buffer](),
		maxRemaps: cfg.MaxRemaps,
		overall:   completion.New[struct{}](),
	}

	l.router = router.New(cfg.Transport, l.responder, func(node cluster.NodeID) (router.Responder, bool) {
		return l.buffers.Load(node)
	})

	ctx, cancel := context.WithCancel(context.Background())
	l.stopTopo = cancel
	l.wireTopology(ctx)

	if cfg.AutoFlushFreq > 0 && cfg.Scheduler != nil {
		cfg.Scheduler.Register(l.responder, cfg.AutoFlushFreq, l.tryFlush)
	}

	return l
}

func (l *Loader) wireTopology(ctx context.Context) {
	events := l.cfg.Discovery.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				l.onTopologyEvent(ev)
			}
		}
	}()
}

func (l *Loader) onTopologyEvent(ev cluster.Event) {
	l.cfg.Resolver.OnTopologyEvent(ev)
	if ev.Type != cluster.NodeLeft && ev.Type != cluster.NodeFailed {
		return
	}
	if b, ok := l.buffers.Load(ev.Node); ok {
		l.removeBuffer(ev.Node, b)
		b.OnNodeLeft()
	}
}

// AddData ingests a batch of entries, returning a completion that resolves
// once every key has been durably applied or terminally failed.
func (l *Loader) AddData(ctx context.Context, entries []buffer.Entry) *completion.Completion[struct{}] {
	if !l.lock.EnterBusy() {
		return completion.Failed[struct{}](errs.ErrLoaderClosed)
	}
	defer l.lock.LeaveBusy()

	procmetrics.EntriesIngested(len(entries))

	result := completion.New[struct{}]()
	live := newKeySet(entries)
	l.load0(ctx, entries, result, live, 0)
	return result
}

// AddOne is the single key/value convenience form; value=nil deletes.
func (l *Loader) AddOne(ctx context.Context, key any, value *any) *completion.Completion[struct{}] {
	return l.AddData(ctx, []buffer.Entry{{Key: key, Value: value}})
}

// RemoveData is an alias for AddOne(ctx, key, nil).
func (l *Loader) RemoveData(ctx context.Context, key any) *completion.Completion[struct{}] {
	return l.AddOne(ctx, key, nil)
}

// load0 implements the partition-then-submit-then-remap-on-failure loop,
// the Go shape of GridDataLoaderImpl.load0.
func (l *Loader) load0(ctx context.Context, entries []buffer.Entry, result *completion.Completion[struct{}], live *keySet, remapCount int) {
	if remapCount >= l.maxRemaps {
		result.Fail(errs.ErrTooManyRemaps)
		return
	}

	groups, err := l.groupByOwner(ctx, entries)
	if err != nil {
		result.Fail(err)
		return
	}

	for node, groupEntries := range groups {
		b := l.bufferFor(node, groupEntries[0].Key)
		fut := b.Update(ctx, groupEntries, nil)

		ge := groupEntries
		n := node
		fut.Then(func(_ buffer.Outcome, err error) {
			l.onGroupDone(ctx, ge, n, err, result, live, remapCount)
		})

		if !l.cfg.Discovery.Node(node) {
			l.removeBuffer(node, b)
			b.OnNodeLeft()
			// fut may not have reached b.inflight/b.local yet if this batch
			// just crossed BufSize and its go b.submit is still starting up,
			// so OnNodeLeft's sweep can miss it. Fail it directly too; Fail
			// is idempotent so this is harmless if OnNodeLeft already got it.
			fut.Fail(errs.Retryable(errs.Wrapf(errs.ErrNodeLeft, "%s", node)))
		}
	}
}

func (l *Loader) onGroupDone(ctx context.Context, entries []buffer.Entry, node cluster.NodeID, err error, result *completion.Completion[struct{}], live *keySet, remapCount int) {
	if err == nil {
		live.removeAll(entries)
		if live.empty() {
			result.Resolve(struct{}{})
		}
		return
	}

	if errs.IsRetryable(err) {
		procmetrics.Remap()
		l.load0(ctx, entries, result, live, remapCount+1)
		return
	}

	result.Fail(err)
}

func (l *Loader) groupByOwner(ctx context.Context, entries []buffer.Entry) (map[cluster.NodeID][]buffer.Entry, error) {
	groups := make(map[cluster.NodeID][]buffer.Entry)

	for _, e := range entries {
		node, err := l.owner(ctx, e.Key)
		if err != nil {
			return nil, err
		}
		groups[node] = append(groups[node], e)
	}
	return groups, nil
}

func (l *Loader) owner(ctx context.Context, key any) (cluster.NodeID, error) {
	cache, err := l.cfg.Resolver.Cache(ctx, l.cfg.CacheName)
	if err != nil {
		return cluster.NodeID{}, err
	}

	affKey := cache.AffinityKey(key)
	partition := cache.Partition(affKey)
	nodes := cache.Nodes(partition, l.cfg.Discovery.TopologyVersion())
	if len(nodes) == 0 {
		return cluster.NodeID{}, errs.ErrNoTopology
	}
	return nodes[0], nil
}

func (l *Loader) bufferFor(node cluster.NodeID, sample any) *buffer.Buffer {
	if b, ok := l.buffers.Load(node); ok {
		return b
	}

	local := node == l.cfg.Discovery.LocalNodeID()
	var deploy *cluster.Deployment
	if l.cfg.DeploymentResolver != nil {
		if d, ok := l.cfg.DeploymentResolver.Resolve(sample); ok {
			deploy = &d
		}
	}

	b := buffer.New(buffer.Config{
		Node:          node,
		IsLocal:       local,
		CacheName:     l.cfg.CacheName,
		BufSize:       l.cfg.BufSize,
		ParallelOps:   l.cfg.ParallelOps,
		SkipStore:     l.cfg.SkipStore,
		ResponseTopic: l.responder,
		Updater:       l.cfg.Updater,
		Marshaller:    l.cfg.Marshaller,
		Pool:          l.cfg.Pool,
		Transport:     l.cfg.Transport,
		Deployment:    deploy,
	})

	actual, _ := l.buffers.LoadOrStore(node, b)
	return actual
}

func (l *Loader) removeBuffer(node cluster.NodeID, expect *buffer.Buffer) {
	l.buffers.Compute(node, func(old *buffer.Buffer, loaded bool) (*buffer.Buffer, bool) {
		if !loaded || old != expect {
			return old, !loaded
		}
		return nil, true
	})
}

// Flush blocks until every currently-submitted batch across every buffer
// has resolved.
func (l *Loader) Flush(ctx context.Context) error {
	parts := l.flushAll(ctx)
	return completion.Compound(parts...).Wait(ctx)
}

func (l *Loader) flushAll(ctx context.Context) []*completion.Completion[struct{}] {
	var parts []*completion.Completion[struct{}]
	l.buffers.Range(func(_ cluster.NodeID, b *buffer.Buffer) bool {
		parts = append(parts, b.Flush(ctx))
		return true
	})
	return parts
}

// tryFlush is the Scheduler-driven best-effort flush: errors are logged,
// never surfaced.
func (l *Loader) tryFlush(ctx context.Context) error {
	if err := l.Flush(ctx); err != nil {
		l.log.Warningf("loader: scheduled flush for %s: %v", l.cfg.CacheName, err)
	}
	return nil
}

// PerNodeBufferSize sets bufSize for buffers created from now on; n must
// be > 0.
func (l *Loader) PerNodeBufferSize(n int) {
	if n <= 0 {
		panic(fmt.Sprintf("loader: bufSize must be > 0, got %d", n))
	}
	l.mu.Lock()
	l.cfg.BufSize = n
	l.mu.Unlock()
}

// PerNodeParallelLoadOperations sets parallelOps for buffers created from
// now on; n must be > 0.
func (l *Loader) PerNodeParallelLoadOperations(n int64) {
	if n <= 0 {
		panic(fmt.Sprintf("loader: parallelOps must be > 0, got %d", n))
	}
	l.mu.Lock()
	l.cfg.ParallelOps = n
	l.mu.Unlock()
}

// AutoFlushFrequency sets the auto-flush interval in milliseconds; 0
// disables. Repeated calls with the same value are a no-op with respect
// to scheduler membership.
func (l *Loader) AutoFlushFrequency(ms int64) {
	l.mu.Lock()
	changed := l.cfg.AutoFlushFreq != ms
	l.cfg.AutoFlushFreq = ms
	l.mu.Unlock()

	if !changed || l.cfg.Scheduler == nil {
		return
	}

	if ms <= 0 {
		l.cfg.Scheduler.Unregister(l.responder)
		return
	}
	l.cfg.Scheduler.Register(l.responder, ms, l.tryFlush)
}

// SetUpdater sets the server-side updater; fn must be non-nil.
func (l *Loader) SetUpdater(u buffer.Updater) {
	if u == nil {
		panic("loader: updater must not be nil")
	}
	l.mu.Lock()
	l.cfg.Updater = u
	l.mu.Unlock()
}

// Future returns the completion resolved once the loader reaches CLOSED.
func (l *Loader) Future() *completion.Completion[struct{}] {
	return l.overall
}

// Close transitions OPEN->CLOSING->CLOSED. cancel=false performs a final
// flush; cancel=true fails every outstanding handle instead.
func (l *Loader) Close(ctx context.Context, cancel bool) error {
	l.lock.Block()

	if l.cfg.Scheduler != nil {
		l.cfg.Scheduler.Unregister(l.responder)
	}
	l.router.Close()
	l.stopTopo()

	var err error
	if cancel {
		l.buffers.Range(func(_ cluster.NodeID, b *buffer.Buffer) bool {
			b.CancelAll()
			return true
		})
	} else {
		err = l.Flush(ctx)
	}

	l.overall.Resolve(struct{}{})
	return err
}

// keySet tracks the set of keys still awaiting resolution within one
// load0 call tree, deduplicated by key equality.
type keySet struct {
	mu   sync.Mutex
	keys map[any]struct{}
}

func newKeySet(entries []buffer.Entry) *keySet {
	ks := &keySet{keys: make(map[any]struct{}, len(entries))}
	for _, e := range entries {
		ks.keys[e.Key] = struct{}{}
	}
	return ks
}

func (ks *keySet) removeAll(entries []buffer.Entry) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for _, e := range entries {
		delete(ks.keys, e.Key)
	}
}

func (ks *keySet) empty() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return len(ks.keys) == 0
}
