package testfakes

import (
	"context"
	"sync"

	"github.com/griddata/loader/buffer"
)

// Updater is a buffer.Updater that records every batch it was handed and
// can be told to fail the next N calls - used to exercise remap/retry
// paths without a real grid on the other end.
type Updater struct {
	mu      sync.Mutex
	batches [][]buffer.Entry
	failN   int
	err     error
}

func NewUpdater() *Updater { return &Updater{} }

func (u *Updater) Update(_ context.Context, _ string, entries []buffer.Entry, _ bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.batches = append(u.batches, entries)
	if u.failN > 0 {
		u.failN--
		return u.err
	}
	return nil
}

// FailNext makes the next n calls to Update return err.
func (u *Updater) FailNext(n int, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failN = n
	u.err = err
}

// Batches returns every batch handed to Update so far, in order.
func (u *Updater) Batches() [][]buffer.Entry {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([][]buffer.Entry(nil), u.batches...)
}

// Keys returns every key seen across all batches, in the order received.
func (u *Updater) Keys() []any {
	u.mu.Lock()
	defer u.mu.Unlock()
	var keys []any
	for _, b := range u.batches {
		for _, e := range b {
			keys = append(keys, e.Key)
		}
	}
	return keys
}
