// Package testfakes holds the in-memory collaborator fakes shared by this
// module's test packages: a controllable Discovery, Transport and
// WorkerPool, plus local/remote affinity sources. Kept out of the packages
// they fake so test-only code never leaks into a production import graph.
package testfakes

import (
	"context"
	"sync"

	"github.com/griddata/loader/cluster"
)

// Discovery is a controllable cluster.Discovery: nodes are added/removed
// directly by the test, and events pushed to Subscribe's channel are
// delivered in order with no off-thread dispatch (tests that need to
// exercise the loader's own dispatch goroutine push through this channel
// themselves).
type Discovery struct {
	mu      sync.Mutex
	local   cluster.NodeID
	members map[cluster.NodeID]bool // true = alive
	topVer  int64
	subs    []chan cluster.Event
}

// NewDiscovery builds a Discovery whose local node id is local, seeded
// with members already alive.
func NewDiscovery(local cluster.NodeID, members ...cluster.NodeID) *Discovery {
	d := &Discovery{
		local:   local,
		members: make(map[cluster.NodeID]bool),
		topVer:  1,
	}
	for _, m := range members {
		d.members[m] = true
	}
	d.members[local] = true
	return d
}

func (d *Discovery) LocalNodeID() cluster.NodeID { return d.local }

func (d *Discovery) Nodes() []cluster.NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := make([]cluster.NodeID, 0, len(d.members))
	for n := range d.members {
		nodes = append(nodes, n)
	}
	return nodes
}

func (d *Discovery) Node(id cluster.NodeID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.members[id]
	return ok
}

func (d *Discovery) Alive(id cluster.NodeID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.members[id]
}

func (d *Discovery) PingNode(_ context.Context, id cluster.NodeID) bool {
	return d.Alive(id)
}

func (d *Discovery) Subscribe() <-chan cluster.Event {
	ch := make(chan cluster.Event, 16)
	d.mu.Lock()
	d.subs = append(d.subs, ch)
	d.mu.Unlock()
	return ch
}

func (d *Discovery) TopologyVersion() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.topVer
}

// Leave marks id as departed (NodeLeft) and fans the event out to every
// subscriber, bumping the topology version first so the event carries the
// post-departure version.
func (d *Discovery) Leave(id cluster.NodeID) {
	d.mu.Lock()
	delete(d.members, id)
	d.topVer++
	ev := cluster.Event{Type: cluster.NodeLeft, Node: id, TopologyVersion: d.topVer}
	subs := append([]chan cluster.Event(nil), d.subs...)
	d.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
	}
}

// Fail is Leave's NodeFailed counterpart.
func (d *Discovery) Fail(id cluster.NodeID) {
	d.mu.Lock()
	delete(d.members, id)
	d.topVer++
	ev := cluster.Event{Type: cluster.NodeFailed, Node: id, TopologyVersion: d.topVer}
	subs := append([]chan cluster.Event(nil), d.subs...)
	d.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
	}
}

// Join adds id as a live member without emitting an event, matching the
// loader's "no immediate action on join" contract.
func (d *Discovery) Join(id cluster.NodeID) {
	d.mu.Lock()
	d.members[id] = true
	d.topVer++
	d.mu.Unlock()
}
