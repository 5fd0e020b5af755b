// Package workerpool is the Go stand-in for GridKernalContext's closure
// pools: a bounded goroutine pool the loader submits local updater
// invocations and topology-event dispatches to, so neither runs inline
// on a caller's or memberlist's own goroutine. Built on a counting
// semaphore that caps concurrent workers, split into two independently
// sized pools: a system pool for control-plane work and a public pool
// for user data.
package workerpool

import (
	"context"

	"github.com/griddata/loader/cluster"
)

// Pool is a cluster.WorkerPool implementation backed by two counting
// semaphores (buffered channels), one per pool kind.
type Pool struct {
	public chan struct{}
	system chan struct{}
}

// New builds a Pool with publicSize concurrent slots for data-path work
// and systemSize for control-plane work.
func New(publicSize, systemSize int) *Pool {
	if publicSize <= 0 {
		publicSize = 1
	}
	if systemSize <= 0 {
		systemSize = 1
	}
	return &Pool{
		public: make(chan struct{}, publicSize),
		system: make(chan struct{}, systemSize),
	}
}

// Submit runs task on a fresh goroutine once a slot in the chosen pool
// is free, reporting its outcome on the returned channel exactly once.
func (p *Pool) Submit(ctx context.Context, useSystemPool bool, task func() (any, error)) <-chan cluster.Outcome {
	sem := p.public
	if useSystemPool {
		sem = p.system
	}

	out := make(chan cluster.Outcome, 1)

	go func() {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			out <- cluster.Outcome{Err: ctx.Err()}
			return
		}
		defer func() { <-sem }()

		val, err := task()
		out <- cluster.Outcome{Val: val, Err: err}
	}()

	return out
}
