package flushq

import (
	"container/heap"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errFlushFailed = errors.New("flush failed")

// Testable property 6: re-registering the same key with the same
// frequency is a no-op with respect to queue membership.
func TestScheduler_RegisterIdempotence(t *testing.T) {
	s := New()

	s.Register("k", 1000, func(context.Context) error { return nil })
	e1 := s.byKey["k"]

	s.Register("k", 1000, func(context.Context) error { return nil })
	e2 := s.byKey["k"]

	if e1 != e2 {
		t.Error("re-registering with the same frequency should not replace the entry")
	}
	if len(s.items) != 1 {
		t.Errorf("len(items) = %d, want 1", len(s.items))
	}
}

// A different frequency reschedules the entry rather than adding a second.
func TestScheduler_RegisterDifferentFrequencyReschedules(t *testing.T) {
	s := New()

	s.Register("k", 1000, func(context.Context) error { return nil })
	s.Register("k", 2000, func(context.Context) error { return nil })

	if len(s.items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(s.items))
	}
	if got := s.byKey["k"].freq; got != 2*time.Second {
		t.Errorf("freq = %v, want 2s", got)
	}
}

func TestScheduler_Unregister(t *testing.T) {
	s := New()
	s.Register("k", 1000, func(context.Context) error { return nil })
	s.Unregister("k")

	if len(s.items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(s.items))
	}
	if _, ok := s.byKey["k"]; ok {
		t.Error("byKey still contains k after Unregister")
	}

	// Unregistering an unknown key is a no-op, not an error.
	s.Unregister("missing")
}

func TestScheduler_RunFiresDueEntries(t *testing.T) {
	s := New()
	var calls atomic.Int32
	s.Register("k", 10, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && calls.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("expected at least one flush to have fired")
	}
}

// tryFlush-style contract: a failing flush is logged, never propagated out
// of Run, and the entry is rescheduled for another attempt.
func TestScheduler_FailingFlushIsSwallowedAndRescheduled(t *testing.T) {
	s := New()
	var calls atomic.Int32
	s.Register("k", 10, func(context.Context) error {
		calls.Add(1)
		return errFlushFailed
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && calls.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want >= 2 (a failing flush should still be rescheduled)", calls.Load())
	}
}

func TestDelayHeap_OrdersByNextFlush(t *testing.T) {
	var h delayHeap
	now := time.Now()
	heap.Push(&h, &entry{key: "late", nextFlush: now.Add(time.Hour)})
	heap.Push(&h, &entry{key: "early", nextFlush: now})
	heap.Push(&h, &entry{key: "mid", nextFlush: now.Add(time.Minute)})

	var order []string
	for h.Len() > 0 {
		order = append(order, heap.Pop(&h).(*entry).key)
	}
	want := []string{"early", "mid", "late"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}
