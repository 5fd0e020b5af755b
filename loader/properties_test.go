package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/griddata/loader/affinity"
	"github.com/griddata/loader/buffer"
	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/errs"
	"github.com/griddata/loader/internal/testfakes"
	"github.com/griddata/loader/wire"
)

// harness bundles the fakes a Loader needs, with accessors tests use to
// drive remote acknowledgements and node departures.
type harness struct {
	local     cluster.NodeID
	discovery *testfakes.Discovery
	transport *testfakes.Transport
	updater   *testfakes.Updater
	loader    *Loader
}

func newHarness(t *testing.T, local cluster.NodeID, peers []cluster.NodeID, fn affinity.Function, mapper affinity.NodeMapper, bufSize int, maxRemaps int) *harness {
	t.Helper()

	discovery := testfakes.NewDiscovery(local, peers...)
	transport := testfakes.NewTransport(local)
	updater := testfakes.NewUpdater()

	localSrc := &testfakes.LocalSource{Fn: fn, Mapper: mapper, Hosted: true}
	resolver := affinity.NewResolver(discovery, localSrc, nil)

	l := New(Config{
		CacheName:   "orders",
		Discovery:   discovery,
		Transport:   transport,
		Pool:        testfakes.NewWorkerPool(),
		Resolver:    resolver,
		Marshaller:  wire.NewCBORMarshaller(),
		Updater:     updater,
		BufSize:     bufSize,
		ParallelOps: 16,
		MaxRemaps:   maxRemaps,
	})

	return &harness{local: local, discovery: discovery, transport: transport, updater: updater, loader: l}
}

func (h *harness) ackRemote(t *testing.T, node cluster.NodeID) {
	t.Helper()
	for _, s := range h.transport.Sends() {
		if s.Node != node || s.Topic != wire.LoadTopic {
			continue
		}
		req := s.Msg.(wire.LoadRequest)
		h.transport.Deliver(req.ResponseTopic, node, wire.LoadResponse{ReqID: req.ReqID})
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// Property 1 (completion coverage): every key submitted is eventually
// handed to the node that owned it at submission time.
func TestProperty_CompletionCoverage(t *testing.T) {
	local := uuid.New()
	h := newHarness(t, local, nil, testfakes.NewDigitModFunction(1), testfakes.ModMapper{Nodes_: []cluster.NodeID{local}}, 4, 32)

	v := any(1)
	fut := h.loader.AddOne(context.Background(), "k0", &v)
	if err := h.loader.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	keys := h.updater.Keys()
	if !containsKey(keys, "k0") {
		t.Errorf("updater keys = %v, want to contain k0", keys)
	}
}

// Property 3 (remap bound): load0 never recurses more than maxRemaps times
// for a single batch. Each time the request reaches remote, an injected
// NodeLeft fails it and forces a remap; after exactly maxRemaps attempts
// load0 gives up without sending a (maxRemaps+1)th request.
func TestProperty_RemapBound(t *testing.T) {
	const maxRemaps = 5
	remote := uuid.New()
	h := newHarness(t, uuid.New(), []cluster.NodeID{remote}, testfakes.NewDigitModFunction(1), testfakes.ModMapper{Nodes_: []cluster.NodeID{remote}}, 1, maxRemaps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v := any(1)
	fut := h.loader.AddOne(ctx, "k0", &v)

	for i := 1; i <= maxRemaps; i++ {
		waitUntil(t, func() bool { return len(h.transport.Sends()) >= i })
		h.discovery.Leave(remote)
	}

	err := fut.Wait(ctx)
	if err == nil {
		t.Fatal("expected an error once the remap bound is exhausted")
	}
	if !errors.Is(err, errs.ErrTooManyRemaps) {
		t.Errorf("err = %v, want ErrTooManyRemaps", err)
	}
	if got := len(h.transport.Sends()); got != maxRemaps {
		t.Errorf("sends = %d, want %d: load0 must not send a request beyond the remap bound", got, maxRemaps)
	}
}

// Property 5 (close completeness): after Close resolves, every buffer has
// no pending or inflight entries left.
func TestProperty_CloseCompleteness(t *testing.T) {
	local := uuid.New()
	h := newHarness(t, local, nil, testfakes.NewDigitModFunction(1), testfakes.ModMapper{Nodes_: []cluster.NodeID{local}}, 100, 32)

	for i := 0; i < 10; i++ {
		v := any(i)
		h.loader.AddOne(context.Background(), "k0", &v)
	}

	if err := h.loader.Close(context.Background(), false); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h.loader.buffers.Range(func(_ cluster.NodeID, b *buffer.Buffer) bool {
		flushed := b.Flush(context.Background())
		if err := flushed.Wait(context.Background()); err != nil {
			t.Errorf("Flush after Close: %v", err)
		}
		return true
	})
}

// Property 2 (at-least-once): a node-left injected mid-flight either
// results in the key being delivered on remap or the completion failing
// terminally - it never silently disappears.
func TestProperty_AtLeastOnceUnderNodeLeft(t *testing.T) {
	n1, n2 := uuid.New(), uuid.New()
	mapper := &switchingMapper{order: []cluster.NodeID{n2, n1}}
	h := newHarness(t, n1, []cluster.NodeID{n2}, testfakes.NewDigitModFunction(1), mapper, 1, 32)

	v := any(1)
	fut := h.loader.AddOne(context.Background(), "k0", &v)

	waitUntil(t, func() bool { return len(h.transport.Sends()) >= 1 })
	h.discovery.Leave(n2)

	if err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if keys := h.updater.Keys(); !containsKey(keys, "k0") {
		t.Errorf("updater keys = %v, want to contain k0", keys)
	}
}

// switchingMapper returns order[0] on first call and order[1] thereafter,
// modelling the resolver returning a replacement node once the original
// owner has left.
type switchingMapper struct {
	mu    sync.Mutex
	calls int
	order []cluster.NodeID
}

func (m *switchingMapper) Nodes(_ int, _ int64) []cluster.NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	if idx >= len(m.order) {
		idx = len(m.order) - 1
	}
	m.calls++
	return []cluster.NodeID{m.order[idx]}
}

func containsKey(keys []any, want any) bool {
	for _, k := range keys {
		if k == want {
			return true
		}
	}
	return false
}
