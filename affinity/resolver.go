// Package affinity answers "which node(s) own this key" for a named cache,
// the client-side counterpart to GridAffinityProcessor from the original
// source. Resolver caches one Cache snapshot per cache name behind a
// completion.Completion so concurrent callers asking about the same,
// not-yet-resolved cache share a single resolution attempt instead of each
// kicking off their own.
package affinity

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/errs"
	"github.com/griddata/loader/logging"
	"github.com/griddata/loader/pkg/completion"
)

const (
	// cleanupDelay mirrors GridAffinityProcessor.AFFINITY_MAP_CLEAN_UP_DELAY:
	// node-left cache invalidation is deferred so a resolution already in
	// flight against the departed node has a chance to fail and retry
	// against its replacement before the entry disappears outright.
	cleanupDelay = 3 * time.Second
	// errorRetries/errorWait mirror GridAffinityProcessor.ERROR_RETRIES/WAIT.
	errorRetries = 3
	errorWait    = 500 * time.Millisecond
)

// LocalSource answers whether the calling node itself hosts cacheName, and
// if so supplies its affinity configuration directly - the fast path
// GridAffinityProcessor.affinityCache() takes before ever considering a
// remote call.
type LocalSource interface {
	Lookup(cacheName string) (fn Function, mapper NodeMapper, keyMapper KeyMapper, hosted bool)
}

// RemoteSource fetches a cache's affinity configuration from a remote node,
// the Go shape of GridAffinityProcessor.affinityFromNode(): marshal a
// request, send it, unmarshal the function/mapper pair out of the reply.
// localMode reports that the queried node has the cache configured as
// single-owner/LOCAL, which carries no affinity function to hand out -
// distinct from err, which signals the fetch itself failed (and is worth
// retrying against the same or another node).
type RemoteSource interface {
	FetchAffinity(ctx context.Context, node cluster.NodeID, cacheName string) (fn Function, mapper NodeMapper, keyMapper KeyMapper, localMode bool, err error)
}

// Resolver is the per-process affinity cache directory.
type Resolver struct {
	discovery cluster.Discovery
	local     LocalSource
	remote    RemoteSource
	log       func(format string, args ...any)

	entries *xsync.MapOf[string, *completion.Completion[*Cache]]
}

// NewResolver builds a Resolver. remote may be nil if every cache this
// process resolves is always local (tests, single-node setups).
func NewResolver(discovery cluster.Discovery, local LocalSource, remote RemoteSource) *Resolver {
	return &Resolver{
		discovery: discovery,
		local:     local,
		remote:    remote,
		log:       logging.Get("affinity").Infof,
		entries:   xsync.NewMapOf[string, *completion.Completion[*Cache]](),
	}
}

// Cache returns the resolved affinity snapshot for cacheName, resolving it
// on first use and sharing the result with any concurrent callers asking
// for the same cache. Mirrors affinityCache()'s putIfAbsent-on-a-future
// pattern so exactly one resolution attempt runs per cache name at a time.
func (r *Resolver) Cache(ctx context.Context, cacheName string) (*Cache, error) {
	fut, loaded := r.entries.LoadOrStore(cacheName, completion.New[*Cache]())
	if !loaded {
		go r.resolve(ctx, cacheName, fut)
	}
	return fut.Get(ctx)
}

func (r *Resolver) resolve(ctx context.Context, cacheName string, fut *completion.Completion[*Cache]) {
	if fn, mapper, keyMapper, hosted := r.local.Lookup(cacheName); hosted {
		fut.Resolve(NewCache(cacheName, fn, mapper, keyMapper))
		return
	}

	if r.remote == nil {
		fut.Fail(errs.Wrap(errs.ErrNoRemoteSource, cacheName))
		return
	}

	node, ok := r.pickCacheNode()
	if !ok {
		fut.Fail(errs.Wrap(errs.ErrNoCacheNode, cacheName))
		return
	}

	var lastErr error
	for attempt := 0; attempt < errorRetries; attempt++ {
		fn, mapper, keyMapper, localMode, err := r.remote.FetchAffinity(ctx, node, cacheName)
		if localMode {
			fut.Fail(errs.Wrap(errs.ErrLocalModeMismatch, cacheName))
			return
		}
		if err == nil {
			fut.Resolve(NewCache(cacheName, fn, mapper, keyMapper))
			return
		}
		lastErr = err
		r.log("affinity: fetch from %s failed (attempt %d/%d): %v", node, attempt+1, errorRetries, err)

		select {
		case <-ctx.Done():
			fut.Fail(ctx.Err())
			return
		case <-time.After(errorWait):
		}
	}

	fut.Fail(errs.Wrapf(errs.ErrResolverFailure, "%s: %v", cacheName, lastErr))
}

// pickCacheNode picks an arbitrary live node to query for remote affinity
// config: any member can answer from its own deployment, so any live
// member is eligible.
func (r *Resolver) pickCacheNode() (cluster.NodeID, bool) {
	nodes := r.discovery.Nodes()
	for _, n := range nodes {
		if r.discovery.Alive(n) {
			return n, true
		}
	}
	return cluster.NodeID{}, false
}

// OnTopologyEvent reacts to a membership change. On any change it asks
// every already-resolved cache to drop its stale partition tables; on a
// node-left/failed event it additionally schedules, after cleanupDelay,
// the removal of every resolved cache entry once no live node other than
// the departed one remains (see stillHosted) - modelled on
// GridAffinityProcessor's combination of an immediate cleanUpCache() sweep
// and a delayed affMap eviction.
func (r *Resolver) OnTopologyEvent(ev cluster.Event) {
	r.entries.Range(func(name string, fut *completion.Completion[*Cache]) bool {
		if cache, err, ok := fut.Peek(); ok && err == nil {
			cache.CleanUpCache(ev.TopologyVersion)
		}
		return true
	})

	if ev.Type != cluster.NodeLeft && ev.Type != cluster.NodeFailed {
		return
	}

	time.AfterFunc(cleanupDelay, func() {
		r.entries.Range(func(name string, fut *completion.Completion[*Cache]) bool {
			cache, err, ok := fut.Peek()
			if !ok || err != nil {
				return true
			}
			if !r.stillHosted(cache, ev.Node) {
				r.entries.Delete(name)
			}
			return true
		})
	})
}

// stillHosted reports whether any live node other than departed remains in
// the topology. It does not check which nodes host cache; the cache
// argument is not consulted.
func (r *Resolver) stillHosted(cache *Cache, departed cluster.NodeID) bool {
	for _, n := range r.discovery.Nodes() {
		if n == departed || !r.discovery.Alive(n) {
			continue
		}
		return true
	}
	return false
}
