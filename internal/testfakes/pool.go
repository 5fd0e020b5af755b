package testfakes

import (
	"context"

	"github.com/griddata/loader/cluster"
)

// WorkerPool is a cluster.WorkerPool that runs every task inline on the
// calling goroutine - no pooling, no concurrency limit - adequate for tests
// that don't care about scheduling fairness, only about the outcome.
type WorkerPool struct{}

func NewWorkerPool() *WorkerPool { return &WorkerPool{} }

func (WorkerPool) Submit(_ context.Context, _ bool, task func() (any, error)) <-chan cluster.Outcome {
	out := make(chan cluster.Outcome, 1)
	val, err := task()
	out <- cluster.Outcome{Val: val, Err: err}
	return out
}
