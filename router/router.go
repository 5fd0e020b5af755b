// Package router owns the per-loader response topic: it registers a
// listener on a Transport for one loader's unique inbound topic and
// dispatches each LoadResponse to the Buffer that owns its request id,
// keyed by the responding node. Listener registration is a distinct
// concern from load0's partitioning logic, even though the Loader wires
// both.
package router

import (
	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/logging"
	"github.com/griddata/loader/wire"
)

// Responder is the subset of buffer.Buffer the router needs: something
// that can accept an inbound LoadResponse.
type Responder interface {
	OnResponse(resp wire.LoadResponse)
}

// Router dispatches inbound LoadResponse messages arriving on one
// loader's dedicated topic to the Buffer that owns the originating
// node.
type Router struct {
	topic     string
	transport cluster.Transport
	lookup    func(node cluster.NodeID) (Responder, bool)
	log       iLogger
}

type iLogger interface {
	Debugf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
}

// NewTopic derives a collision-resistant response topic for one loader
// instance from that instance's own id (Loader passes a fresh uuid per
// loader, not the node id, so two loaders on one node never share a topic).
func NewTopic(local cluster.NodeID) string {
	return "griddata.load.resp." + local.String()
}

// New registers a listener on transport for topic, dispatching each
// inbound LoadResponse via lookup. lookup typically resolves to
// Loader.buffers.Load.
func New(transport cluster.Transport, topic string, lookup func(node cluster.NodeID) (Responder, bool)) *Router {
	r := &Router{
		topic:     topic,
		transport: transport,
		lookup:    lookup,
		log:       logging.Get("router"),
	}
	transport.AddMessageListener(topic, r.dispatch)
	return r
}

func (r *Router) dispatch(from cluster.NodeID, msg any) {
	resp, ok := msg.(wire.LoadResponse)
	if !ok {
		r.log.Warningf("router: unexpected message type on %s from %s", r.topic, from)
		return
	}

	responder, ok := r.lookup(from)
	if !ok {
		r.log.Debugf("router: response %d from %s: no buffer, dropped", resp.ReqID, from)
		return
	}
	responder.OnResponse(resp)
}

// Close removes the listener. Safe to call once, from the owning
// Loader's Close.
func (r *Router) Close() {
	r.transport.RemoveMessageListener(r.topic)
}
