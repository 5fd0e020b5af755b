// Package flushq is the shared delay queue every Loader with a non-zero
// auto-flush frequency enlists in, the Go shape of GridDataLoaderImpl's
// static flushQ (a java.util.concurrent.DelayQueue) and its background
// flusher thread. It combines a binary heap with a key map so a Loader can
// be re-registered or removed by key in O(log n) instead of walking the
// whole queue.
package flushq

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/griddata/loader/logging"
)

type entry struct {
	key        string
	freq       time.Duration
	nextFlush  time.Time
	flush      func(ctx context.Context) error
	index      int
}

// delayHeap is a min-heap over entry.nextFlush.
type delayHeap []*entry

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].nextFlush.Before(h[j].nextFlush) }
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is the shared auto-flush queue. One Scheduler is typically
// created per process and handed to every Loader that wants auto-flush.
type Scheduler struct {
	mu    sync.Mutex
	items delayHeap
	byKey map[string]*entry
	wake  chan struct{}
	log   iLogger
}

type iLogger interface {
	Warningf(format string, args ...interface{})
}

// New builds an idle Scheduler. Call Run to start its background loop.
func New() *Scheduler {
	return &Scheduler{
		byKey: make(map[string]*entry),
		wake:  make(chan struct{}, 1),
		log:   logging.Get("flushq"),
	}
}

// Register enlists key to be flushed every freqMillis milliseconds,
// calling flush on each tick. Re-registering the same key with the same
// frequency is a no-op with respect to queue membership (testable
// property 6); a different frequency reschedules it. freqMillis<=0 is
// rejected by the Loader before it ever calls Register - callers wanting
// to disable auto-flush call Unregister instead.
func (s *Scheduler) Register(key string, freqMillis int64, flush func(ctx context.Context) error) {
	freq := time.Duration(freqMillis) * time.Millisecond

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byKey[key]; ok {
		if e.freq == freq {
			return
		}
		e.freq = freq
		e.nextFlush = time.Now().Add(freq)
		e.flush = flush
		heap.Fix(&s.items, e.index)
		s.notify()
		return
	}

	e := &entry{key: key, freq: freq, nextFlush: time.Now().Add(freq), flush: flush}
	s.byKey[key] = e
	heap.Push(&s.items, e)
	s.notify()
}

// Unregister removes key from the queue. A key that was never registered
// is a no-op.
func (s *Scheduler) Unregister(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byKey[key]
	if !ok {
		return
	}
	delete(s.byKey, key)
	heap.Remove(&s.items, e.index)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the background loop until ctx is cancelled. Each due entry's
// flush is invoked; failures are collected into a multierror and logged,
// never propagated, matching tryFlush's "periodic flush is advisory"
// contract.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := s.nextWait()
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return time.Hour
	}
	wait := s.items[0].nextFlush.Sub(time.Now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (s *Scheduler) tick(ctx context.Context) {
	due := s.popDue()
	if len(due) == 0 {
		return
	}

	var merr *multierror.Error
	for _, e := range due {
		if err := e.flush(ctx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr != nil {
		s.log.Warningf("flushq: %d scheduled flush(es) failed: %v", len(merr.Errors), merr.ErrorOrNil())
	}

	s.reschedule(due)
}

func (s *Scheduler) popDue() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []*entry
	for len(s.items) > 0 && !s.items[0].nextFlush.After(now) {
		e := heap.Pop(&s.items).(*entry)
		delete(s.byKey, e.key)
		due = append(due, e)
	}
	return due
}

func (s *Scheduler) reschedule(due []*entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range due {
		e.nextFlush = time.Now().Add(e.freq)
		s.byKey[e.key] = e
		heap.Push(&s.items, e)
	}
}
