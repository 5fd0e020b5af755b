// Package cluster declares the environment collaborators the loader relies
// on but does not own: node identity, topology membership and events, the
// message transport, and the local worker pool. Concrete implementations
// (memberlist-backed discovery, an in-process worker pool, a framed network
// transport) live in the topology, workerpool and transport packages respectively;
// this package only fixes the contracts so the loader, buffer and affinity
// packages can depend on interfaces instead of on each other's concrete
// types.
package cluster

import (
	"context"

	"github.com/google/uuid"
)

// NodeID identifies a node in the grid. Backed by uuid.UUID so that node
// identity survives process restarts when persisted, and so that the
// response-topic-per-loader scheme (router package) can derive a collision
// resistant topic name from it.
type NodeID = uuid.UUID

// EventType enumerates the topology events the loader reacts to.
type EventType int

const (
	// NodeJoined fires when a previously unknown node becomes visible.
	// Per spec, the loader takes no immediate action on join.
	NodeJoined EventType = iota
	// NodeLeft fires on orderly departure.
	NodeLeft
	// NodeFailed fires on a detected failure (missed heartbeats). The
	// loader treats NodeLeft and NodeFailed identically.
	NodeFailed
)

// Event is a single topology change notification.
type Event struct {
	Type            EventType
	Node            NodeID
	TopologyVersion int64
}

// Discovery abstracts cluster membership: the local node's identity, the
// currently known node set, liveness checks, and a stream of topology
// events. A real implementation is backed by memberlist (see the topology
// package); tests use a fake.
type Discovery interface {
	LocalNodeID() NodeID
	Nodes() []NodeID
	// Node reports whether id is currently a known member.
	Node(id NodeID) bool
	Alive(id NodeID) bool
	PingNode(ctx context.Context, id NodeID) bool
	// Subscribe returns a channel of topology events. The channel is never
	// closed by Discovery, and there is no way to unsubscribe: Discovery
	// keeps every returned channel for its own lifetime.
	Subscribe() <-chan Event
	TopologyVersion() int64
}

// Transport abstracts sending a message to a node over a named topic and
// registering/removing a listener for inbound messages on a topic. The
// loader uses one topic per loader instance for responses (router package)
// and the well-known "griddata.load" topic for LoadRequest delivery.
type Transport interface {
	Send(ctx context.Context, node NodeID, topic string, msg any) error
	AddMessageListener(topic string, fn func(from NodeID, msg any))
	RemoveMessageListener(topic string)
}

// WorkerPool abstracts the shared goroutine pool used for local-node
// updater execution and for off-thread dispatch of topology notifications;
// the loader never owns its own threads.
type WorkerPool interface {
	// Submit runs task asynchronously and reports its outcome on the
	// returned channel exactly once. useSystemPool selects a dedicated,
	// higher-priority pool for control-plane work (e.g. topology
	// notifications) as opposed to user data-path work.
	Submit(ctx context.Context, useSystemPool bool, task func() (any, error)) <-chan Outcome
}

// Outcome is the result of a WorkerPool.Submit call.
type Outcome struct {
	Val any
	Err error
}

// Deployment is the opaque peer-deployment descriptor piggybacked on a
// LoadRequest: a plain struct, not an attempt to mirror dynamic class
// loading. A nil *Deployment means no deployment metadata is attached.
type Deployment struct {
	Mode          string
	ClassName     string
	UserVersion   string
	Participants  []NodeID
	ClassLoaderID string
}

// DeploymentResolver externalizes the "is this a library/builtin type that
// isn't worth deploying" predicate. Callers that don't need peer
// deployment at all pass a nil DeploymentResolver to the loader, which
// then never attaches a Deployment to outgoing requests.
type DeploymentResolver interface {
	// Resolve inspects sample (typically the first key or value added to a
	// loader) and returns a Deployment descriptor, or ok=false if none
	// applies (sample's type doesn't need peer deployment).
	Resolve(sample any) (Deployment, bool)
}
