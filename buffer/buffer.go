// Package buffer implements the per-destination-node batching and send
// logic a Loader needs for each node it talks to. Pulling it out as its
// own package lets it be unit tested without a whole Loader/topology
// wired up, and lets the Loader engine treat it as a plain collaborator.
package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/semaphore"

	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/errs"
	"github.com/griddata/loader/logging"
	procmetrics "github.com/griddata/loader/metrics"
	"github.com/griddata/loader/pkg/completion"
	"github.com/griddata/loader/wire"
)

// Entry is one key/value pair queued for a node. Value is a pointer so a
// nil value (remove) is distinguishable from a present-but-zero value,
// matching GridDataLoadEntry's key/val pair with an explicit "no value"
// state.
type Entry struct {
	Key   any
	Value *any
}

// Outcome is what a submitted batch resolves with: nothing on success,
// an error on failure. Buffer never returns partial-batch results - the
// updater contract is all-or-nothing per batch.
type Outcome = struct{}

// Request pairs the entries of one batch with the request id used to
// correlate its response. Buffer and the Loader Engine do not construct or
// consume it; remaps re-send the entries captured by each group's listener.
type Request struct {
	ReqID   uint64
	Entries []Entry
}

// Updater runs a batch of entries against local storage. It is only ever
// invoked directly, for a batch this process itself owns; a batch bound
// for a remote node is sent over the wire and applied by whatever updater
// that node has configured, which is outside this module's scope.
type Updater interface {
	Update(ctx context.Context, cacheName string, entries []Entry, skipStore bool) error
}

// Config bundles a Buffer's fixed collaborators and tuning knobs.
type Config struct {
	Node          cluster.NodeID
	IsLocal       bool
	CacheName     string
	BufSize       int
	ParallelOps   int64
	SkipStore     bool
	ResponseTopic string
	Updater       Updater
	Marshaller    wire.Marshaller
	Pool          cluster.WorkerPool
	Transport     cluster.Transport
	Deployment    *cluster.Deployment
}

// Buffer accumulates entries destined for one node and flushes them in
// bufSize batches, bounding the number of batches in flight to a node via
// a counting semaphore - the Go shape of GridDataLoaderImpl.Buffer's
// java.util.concurrent.Semaphore.
type Buffer struct {
	cfg Config
	log logger

	mu                sync.Mutex
	pending           []Entry
	pendingCompletion *completion.Completion[Outcome]

	permits  *semaphore.Weighted
	inflight *xsync.MapOf[uint64, *completion.Completion[Outcome]]
	local    *xsync.MapOf[uint64, *completion.Completion[Outcome]]

	reqIDGen atomic.Uint64
	closed   atomic.Bool

	latency metrics.Histogram
}

type logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// New builds a Buffer for one destination node.
func New(cfg Config) *Buffer {
	if cfg.BufSize <= 0 {
		cfg.BufSize = 1
	}
	if cfg.ParallelOps <= 0 {
		cfg.ParallelOps = 1
	}

	sample := metrics.NewUniformSample(1028)

	b := &Buffer{
		cfg:               cfg,
		log:               logging.Get("buffer"),
		pendingCompletion: completion.New[Outcome](),
		permits:           semaphore.NewWeighted(cfg.ParallelOps),
		inflight:          xsync.NewMapOf[uint64, *completion.Completion[Outcome]](),
		local:             xsync.NewMapOf[uint64, *completion.Completion[Outcome]](),
		latency:           metrics.NewHistogram(sample),
	}
	metrics.GetOrRegisterHistogram("buffer.submit_latency."+cfg.Node.String(), nil, sample)
	return b
}

// Stats exposes the per-buffer submit-to-resolution latency histogram.
func (b *Buffer) Stats() metrics.Histogram {
	return b.latency
}

// Update appends entries to the pending batch and attaches listener to its
// eventual completion, flushing immediately if the batch is now full.
// Mirrors GridDataLoaderImpl.Buffer.update: swap the pending pair under
// lock, submit outside it.
func (b *Buffer) Update(ctx context.Context, entries []Entry, listener func(Outcome, error)) *completion.Completion[Outcome] {
	b.mu.Lock()
	b.pending = append(b.pending, entries...)
	fut := b.pendingCompletion
	if listener != nil {
		fut.Then(listener)
	}

	var toSubmit []Entry
	var submitFut *completion.Completion[Outcome]
	if len(b.pending) >= b.cfg.BufSize {
		toSubmit = b.pending
		submitFut = b.pendingCompletion
		b.pending = nil
		b.pendingCompletion = completion.New[Outcome]()
	}
	b.mu.Unlock()

	if toSubmit != nil {
		go b.submit(ctx, toSubmit, submitFut)
	}

	return fut
}

// Flush joins every currently outstanding batch - inflight remote sends,
// running local updates, and whatever is still pending - into one
// compound completion.
func (b *Buffer) Flush(ctx context.Context) *completion.Completion[struct{}] {
	b.mu.Lock()
	var pendingFut *completion.Completion[Outcome]
	var pendingEntries []Entry
	if len(b.pending) > 0 {
		pendingEntries = b.pending
		pendingFut = b.pendingCompletion
		b.pending = nil
		b.pendingCompletion = completion.New[Outcome]()
	}
	b.mu.Unlock()

	if pendingEntries != nil {
		go b.submit(ctx, pendingEntries, pendingFut)
	}

	var parts []*completion.Completion[Outcome]
	b.inflight.Range(func(_ uint64, f *completion.Completion[Outcome]) bool {
		parts = append(parts, f)
		return true
	})
	b.local.Range(func(_ uint64, f *completion.Completion[Outcome]) bool {
		parts = append(parts, f)
		return true
	})
	if pendingFut != nil {
		parts = append(parts, pendingFut)
	}

	return completion.Compound(parts...)
}

func (b *Buffer) submit(ctx context.Context, entries []Entry, fut *completion.Completion[Outcome]) {
	waitStart := time.Now()
	if err := b.permits.Acquire(ctx, 1); err != nil {
		fut.Fail(errs.Wrap(err, "buffer: acquire permit"))
		return
	}
	procmetrics.PermitWaitMillis(float64(time.Since(waitStart).Milliseconds()))
	procmetrics.BatchSubmitted()

	submitStart := time.Now()
	fut.Then(func(_ Outcome, _ error) {
		b.latency.Update(time.Since(submitStart).Milliseconds())
	})

	if b.cfg.IsLocal {
		b.submitLocal(ctx, entries, fut)
		return
	}
	b.submitRemote(ctx, entries, fut)
}

func (b *Buffer) submitLocal(ctx context.Context, entries []Entry, fut *completion.Completion[Outcome]) {
	reqID := b.reqIDGen.Add(1)
	b.local.Store(reqID, fut)

	done := b.cfg.Pool.Submit(ctx, false, func() (any, error) {
		return nil, b.cfg.Updater.Update(ctx, b.cfg.CacheName, entries, b.cfg.SkipStore)
	})

	go func() {
		outcome := <-done
		if _, ok := b.local.LoadAndDelete(reqID); ok {
			b.permits.Release(1)
		}
		if outcome.Err != nil {
			fut.Fail(outcome.Err)
			return
		}
		fut.Resolve(Outcome{})
	}()
}

func (b *Buffer) submitRemote(ctx context.Context, entries []Entry, fut *completion.Completion[Outcome]) {
	entriesBlob, err := b.cfg.Marshaller.Marshal(entries)
	if err != nil {
		b.permits.Release(1)
		fut.Fail(errs.Wrap(errs.ErrMarshalError, "entries"))
		return
	}

	reqID := b.reqIDGen.Add(1)
	b.inflight.Store(reqID, fut)

	req := wire.LoadRequest{
		ReqID:         reqID,
		ResponseTopic: b.cfg.ResponseTopic,
		CacheName:     b.cfg.CacheName,
		EntriesBlob:   entriesBlob,
		SkipStore:     b.cfg.SkipStore,
		Deployment:    b.cfg.Deployment,
	}

	if err := b.cfg.Transport.Send(ctx, b.cfg.Node, wire.LoadTopic, req); err != nil {
		if _, ok := b.inflight.LoadAndDelete(reqID); ok {
			b.permits.Release(1)
		}
		fut.Fail(errs.Retryable(errs.Wrapf(errs.ErrNodeLeft, "%s: %v", b.cfg.Node, err)))
		return
	}
}

// OnResponse resolves the inflight completion identified by resp.ReqID.
// An unknown request id is logged and dropped, matching the original
// source's defensive handling of a stray/duplicate response.
func (b *Buffer) OnResponse(resp wire.LoadResponse) {
	fut, ok := b.inflight.LoadAndDelete(resp.ReqID)
	if !ok {
		b.log.Warningf("buffer: response for unknown request %d from %s", resp.ReqID, b.cfg.Node)
		return
	}
	b.permits.Release(1)

	if len(resp.ErrorBlob) > 0 {
		var msg string
		if err := b.cfg.Marshaller.Unmarshal(resp.ErrorBlob, &msg); err != nil {
			msg = "updater error (undecodable)"
		}
		fut.Fail(errs.Wrap(errs.ErrUpdaterError, msg))
		return
	}
	fut.Resolve(Outcome{})
}

// OnNodeLeft fails every inflight request and the current pending batch
// with a retryable NodeLeft error, releasing their permits. Mirrors
// GridDataLoaderImpl.Buffer.onNodeLeft.
func (b *Buffer) OnNodeLeft() {
	procmetrics.NodeLeft()
	b.failAll(errs.Retryable(errs.ErrNodeLeft))
}

// CancelAll fails every outstanding handle with Cancelled, without
// marking them retryable - used on Loader Close(cancel=true).
func (b *Buffer) CancelAll() {
	b.closed.Store(true)
	b.failAll(errs.ErrCancelled)
}

func (b *Buffer) failAll(err error) {
	b.inflight.Range(func(id uint64, _ *completion.Completion[Outcome]) bool {
		if f, ok := b.inflight.LoadAndDelete(id); ok {
			b.permits.Release(1)
			f.Fail(err)
		}
		return true
	})

	b.local.Range(func(id uint64, _ *completion.Completion[Outcome]) bool {
		if f, ok := b.local.LoadAndDelete(id); ok {
			b.permits.Release(1)
			f.Fail(err)
		}
		return true
	})

	b.mu.Lock()
	fut := b.pendingCompletion
	b.pendingCompletion = completion.New[Outcome]()
	b.pending = nil
	b.mu.Unlock()
	fut.Fail(err)
}
