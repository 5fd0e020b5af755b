package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/wire"
)

// noopUpdater is a minimal Updater that always succeeds, for tests that
// only care about the Buffer's internal bookkeeping, not what the updater
// was handed.
type noopUpdater struct{}

func (noopUpdater) Update(_ context.Context, _ string, _ []Entry, _ bool) error { return nil }

// inlinePool runs every submitted task synchronously on the calling
// goroutine - adequate for tests that don't care about scheduling
// fairness, only about the outcome.
type inlinePool struct{}

func (inlinePool) Submit(_ context.Context, _ bool, task func() (any, error)) <-chan cluster.Outcome {
	out := make(chan cluster.Outcome, 1)
	val, err := task()
	out <- cluster.Outcome{Val: val, Err: err}
	return out
}

// recordingTransport is a minimal cluster.Transport that records every
// Send call and never delivers anything back to a listener.
type recordingTransport struct {
	mu   sync.Mutex
	sent int
}

func (t *recordingTransport) Send(_ context.Context, _ cluster.NodeID, _ string, _ any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent++
	return nil
}

func (t *recordingTransport) AddMessageListener(_ string, _ func(from cluster.NodeID, msg any)) {}

func (t *recordingTransport) RemoveMessageListener(_ string) {}

func (t *recordingTransport) Sends() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

// Testable property 4: at rest (no pending or inflight batches), the
// permit semaphore has parallelOps permits available.
func TestBuffer_PermitConservation(t *testing.T) {
	const parallelOps = 3
	b := New(Config{
		Node:        uuid.New(),
		IsLocal:     true,
		CacheName:   "C",
		BufSize:     1,
		ParallelOps: parallelOps,
		Updater:     noopUpdater{},
		Pool:        inlinePool{},
	})

	for i := 0; i < 10; i++ {
		v := any(i)
		fut := b.Update(context.Background(), []Entry{{Key: i, Value: &v}}, nil)
		if err := fut.Wait(context.Background()); err != nil {
			t.Fatalf("Wait(%d): %v", i, err)
		}
	}

	if !b.permits.TryAcquire(parallelOps) {
		t.Fatalf("expected all %d permits to be free at rest", parallelOps)
	}
	b.permits.Release(parallelOps)
}

// OnNodeLeft fails inflight requests as retryable, releasing their permits.
func TestBuffer_OnNodeLeft(t *testing.T) {
	transport := &recordingTransport{}
	b := New(Config{
		Node:        uuid.New(),
		IsLocal:     false,
		CacheName:   "C",
		BufSize:     1,
		ParallelOps: 1,
		Updater:     noopUpdater{},
		Pool:        inlinePool{},
		Transport:   transport,
		Marshaller:  wire.NewCBORMarshaller(),
	})

	v := any(1)
	fut := b.Update(context.Background(), []Entry{{Key: "a", Value: &v}}, nil)

	waitFor(t, func() bool { return transport.Sends() == 1 })

	b.OnNodeLeft()
	t.Logf("DEBUG inflight empty? sends=%d", transport.Sends())
	if err := fut.Wait(context.Background()); err == nil {
		t.Fatal("expected an error after OnNodeLeft failed the inflight request")
	}
}

func waitFor(t *testing.T, cond func() bool) {
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
