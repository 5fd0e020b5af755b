package testfakes

import (
	"context"
	"sync"

	"github.com/griddata/loader/cluster"
)

// Transport is a controllable cluster.Transport. Sends are recorded and,
// unless Gate has been called for the destination node, delivered
// synchronously to any registered listener on the same topic - loopback,
// in-process messaging with no actual network involved.
type Transport struct {
	mu        sync.Mutex
	listeners map[string]func(from cluster.NodeID, msg any)
	sent      []Sent
	gated     map[cluster.NodeID]bool
	self      cluster.NodeID
}

// Sent records one Send call.
type Sent struct {
	Node  cluster.NodeID
	Topic string
	Msg   any
}

// NewTransport builds a Transport that identifies its own sends as coming
// from self (used as the "from" node when looping a message back to a
// listener).
func NewTransport(self cluster.NodeID) *Transport {
	return &Transport{
		listeners: make(map[string]func(from cluster.NodeID, msg any)),
		gated:     make(map[cluster.NodeID]bool),
		self:      self,
	}
}

func (t *Transport) Send(_ context.Context, node cluster.NodeID, topic string, msg any) error {
	t.mu.Lock()
	t.sent = append(t.sent, Sent{Node: node, Topic: topic, Msg: msg})
	gated := t.gated[node]
	fn := t.listeners[topic]
	t.mu.Unlock()

	if gated || fn == nil {
		return nil
	}
	fn(t.self, msg)
	return nil
}

func (t *Transport) AddMessageListener(topic string, fn func(from cluster.NodeID, msg any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[topic] = fn
}

func (t *Transport) RemoveMessageListener(topic string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, topic)
}

// Gate suppresses delivery of future sends to node - used to model a node
// that received a LoadRequest but never responds, e.g. for S3/S5.
func (t *Transport) Gate(node cluster.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gated[node] = true
}

// Sends returns every Send call recorded so far, in order.
func (t *Transport) Sends() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// Deliver manually invokes the listener registered for topic as if from
// had sent msg - used to simulate a LoadResponse arriving after a send was
// gated.
func (t *Transport) Deliver(topic string, from cluster.NodeID, msg any) {
	t.mu.Lock()
	fn := t.listeners[topic]
	t.mu.Unlock()
	if fn != nil {
		fn(from, msg)
	}
}
