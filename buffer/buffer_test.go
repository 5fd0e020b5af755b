package buffer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	. "github.com/griddata/loader/buffer"
	"github.com/griddata/loader/errs"
	"github.com/griddata/loader/internal/testfakes"
)

func newLocalBuffer(t *testing.T, bufSize int, parallelOps int64, updater *testfakes.Updater) *Buffer {
	t.Helper()
	if updater == nil {
		updater = testfakes.NewUpdater()
	}
	return New(Config{
		Node:        uuid.New(),
		IsLocal:     true,
		CacheName:   "C",
		BufSize:     bufSize,
		ParallelOps: parallelOps,
		Updater:     updater,
		Pool:        testfakes.NewWorkerPool(),
	})
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

// S1: size-triggered flush splits a batch into bufSize-sized submissions.
func TestBuffer_SizeTriggeredFlush(t *testing.T) {
	updater := testfakes.NewUpdater()
	b := newLocalBuffer(t, 4, 16, updater)

	entries := make([]Entry, 5)
	for i := range entries {
		v := any(i)
		entries[i] = Entry{Key: i, Value: &v}
	}

	fut := b.Update(context.Background(), entries, nil)
	if err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	waitFor(t, func() bool { return len(updater.Batches()) == 2 })
	batches := updater.Batches()
	if len(batches[0]) != 4 {
		t.Errorf("batches[0] len = %d, want 4", len(batches[0]))
	}
	if len(batches[1]) != 1 {
		t.Errorf("batches[1] len = %d, want 1", len(batches[1]))
	}
}

// S1 variant: an explicit Flush before the size trigger sends everything
// pending as one batch.
func TestBuffer_FlushBeforeSizeTrigger(t *testing.T) {
	updater := testfakes.NewUpdater()
	b := newLocalBuffer(t, 8, 16, updater)

	entries := make([]Entry, 5)
	for i := range entries {
		v := any(i)
		entries[i] = Entry{Key: i, Value: &v}
	}
	b.Update(context.Background(), entries[:4], nil)
	fut := b.Flush(context.Background())
	b.Update(context.Background(), entries[4:], nil)

	if err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	batches := updater.Batches()
	if len(batches) != 1 || len(batches[0]) != 4 {
		t.Errorf("batches = %v, want one batch of 4", batches)
	}
}

// S5: parallelOps caps concurrent outstanding requests to one node.
func TestBuffer_ParallelismCap(t *testing.T) {
	const parallelOps = 2
	release := make(chan struct{})
	inflight := make(chan struct{}, 100)

	updater := testfakes.NewUpdater()
	b := New(Config{
		Node:        uuid.New(),
		IsLocal:     true,
		CacheName:   "C",
		BufSize:     1,
		ParallelOps: parallelOps,
		Updater:     blockingUpdater{inner: updater, inflight: inflight, release: release},
		Pool:        testfakes.NewWorkerPool(),
	})

	for i := 0; i < 10; i++ {
		v := any(i)
		go b.Update(context.Background(), []Entry{{Key: i, Value: &v}}, nil)
	}

	waitFor(t, func() bool { return len(inflight) == parallelOps })
	time.Sleep(20 * time.Millisecond)
	if len(inflight) > parallelOps {
		t.Errorf("inflight = %d, want <= %d", len(inflight), parallelOps)
	}

	close(release)
}

type blockingUpdater struct {
	inner    *testfakes.Updater
	inflight chan struct{}
	release  chan struct{}
}

func (u blockingUpdater) Update(ctx context.Context, cacheName string, entries []Entry, skipStore bool) error {
	u.inflight <- struct{}{}
	<-u.release
	<-u.inflight
	return u.inner.Update(ctx, cacheName, entries, skipStore)
}

// S7: CancelAll fails every outstanding handle with Cancelled.
func TestBuffer_CancelAll(t *testing.T) {
	b := newLocalBuffer(t, 1000, 16, nil)

	var futs []interface {
		Wait(context.Context) error
	}
	for i := 0; i < 100; i++ {
		v := any(i)
		fut := b.Update(context.Background(), []Entry{{Key: i, Value: &v}}, nil)
		futs = append(futs, fut)
	}

	b.CancelAll()

	for _, fut := range futs {
		if err := fut.Wait(context.Background()); !errors.Is(err, errs.ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	}
}
