package topology

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/griddata/loader/cluster"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// TestListener_JoinGossipsAddress starts two agents on localhost and
// verifies that each learns of the other and can resolve its gossiped
// data-transport address.
func TestListener_JoinGossipsAddress(t *testing.T) {
	a, err := New(Config{BindAddr: "127.0.0.1", BindPort: 0, DataAddr: "127.0.0.1:19001"})
	if err != nil {
		t.Fatalf("New(a): %v", err)
	}
	defer a.Leave(time.Second)

	seedAddr := a.ml.LocalNode().Addr.String() + ":" + strconv.Itoa(int(a.ml.LocalNode().Port))

	b, err := New(Config{BindAddr: "127.0.0.1", BindPort: 0, Seeds: []string{seedAddr}, DataAddr: "127.0.0.1:19002"})
	if err != nil {
		t.Fatalf("New(b): %v", err)
	}
	defer b.Leave(time.Second)

	waitFor(t, func() bool { return len(a.Nodes()) == 2 && len(b.Nodes()) == 2 })

	addr, ok := a.Address(b.LocalNodeID())
	if !ok || addr != "127.0.0.1:19002" {
		t.Fatalf("a.Address(b) = %q, %v; want 127.0.0.1:19002, true", addr, ok)
	}

	addr, ok = b.Address(a.LocalNodeID())
	if !ok || addr != "127.0.0.1:19001" {
		t.Fatalf("b.Address(a) = %q, %v; want 127.0.0.1:19001, true", addr, ok)
	}
}

// TestListener_DispatchOffThread verifies join/leave notifications are
// handed to the configured WorkerPool rather than acted on inline.
func TestListener_DispatchOffThread(t *testing.T) {
	pool := &countingPool{}
	a, err := New(Config{BindAddr: "127.0.0.1", BindPort: 0, Pool: pool})
	if err != nil {
		t.Fatalf("New(a): %v", err)
	}
	defer a.Leave(time.Second)

	seedAddr := a.ml.LocalNode().Addr.String() + ":" + strconv.Itoa(int(a.ml.LocalNode().Port))

	events := a.Subscribe()

	b, err := New(Config{BindAddr: "127.0.0.1", BindPort: 0, Seeds: []string{seedAddr}})
	if err != nil {
		t.Fatalf("New(b): %v", err)
	}
	defer b.Leave(time.Second)

	select {
	case ev := <-events:
		if ev.Type != cluster.NodeJoined {
			t.Fatalf("event type = %v, want NodeJoined", ev.Type)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for join event")
	}

	if pool.submits.Load() == 0 {
		t.Fatal("expected at least one Submit through the configured pool")
	}
}

// countingPool is a cluster.WorkerPool that runs tasks inline (like
// production code would eventually run them, just without a real pool)
// while counting how many dispatches it saw.
type countingPool struct {
	submits atomic.Int32
}

func (p *countingPool) Submit(_ context.Context, _ bool, task func() (any, error)) <-chan cluster.Outcome {
	p.submits.Add(1)
	out := make(chan cluster.Outcome, 1)
	val, err := task()
	out <- cluster.Outcome{Val: val, Err: err}
	return out
}
