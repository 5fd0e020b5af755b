// Package topology implements cluster.Discovery on top of memberlist's
// gossip-based membership protocol. It is the Go replacement for the
// original source's discovery-event listener registered straight on
// GridKernalContext: memberlist delivers join/leave/update notifications
// through its own internal notify goroutine, so every notification this
// package receives is dispatched onto a WorkerPool before it reaches
// application code, matching the "never act on the discovery thread"
// rule that GridDataLoaderImpl's own listener registration follows via
// ctx.closure().callLocalSafe.
package topology

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"

	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/logging"
)

// Listener is a cluster.Discovery implementation backed by a memberlist
// cluster. Construct one with New and Subscribe to its event stream.
type Listener struct {
	ml      *memberlist.Memberlist
	pool    cluster.WorkerPool
	local   cluster.NodeID
	log     iLogger
	topoVer atomic.Int64

	mu   sync.Mutex
	subs []chan cluster.Event

	nodesMu sync.RWMutex
	nodes   map[cluster.NodeID]*memberlist.Node

	dataAddr string
}

type iLogger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
}

// Config bundles the memberlist settings this package cares about;
// everything else uses memberlist.DefaultLocalConfig's defaults.
type Config struct {
	BindAddr string
	BindPort int
	Seeds    []string
	Pool     cluster.WorkerPool
	// DataAddr is this node's own load-request transport listen address,
	// gossiped as node metadata so peers can resolve it without a separate
	// directory service.
	DataAddr string
}

// New starts a memberlist agent and joins cfg.Seeds. The local node's
// NodeID is generated fresh each run - this module doesn't persist node
// identity across restarts, nor survive a client process restart.
func New(cfg Config) (*Listener, error) {
	local := uuid.New()

	l := &Listener{
		pool:     cfg.Pool,
		local:    local,
		log:      logging.Get("topology"),
		nodes:    make(map[cluster.NodeID]*memberlist.Node),
		dataAddr: cfg.DataAddr,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = local.String()
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.Events = (*eventDelegate)(l)
	mlConfig.Delegate = (*metaDelegate)(l)

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, err
	}
	l.ml = ml

	if len(cfg.Seeds) > 0 {
		if _, err := ml.Join(cfg.Seeds); err != nil {
			return nil, err
		}
	}

	l.topoVer.Store(1)
	return l, nil
}

func (l *Listener) LocalNodeID() cluster.NodeID {
	return l.local
}

func (l *Listener) Nodes() []cluster.NodeID {
	l.nodesMu.RLock()
	defer l.nodesMu.RUnlock()

	ids := make([]cluster.NodeID, 0, len(l.nodes))
	for id := range l.nodes {
		ids = append(ids, id)
	}
	return ids
}

func (l *Listener) Node(id cluster.NodeID) bool {
	l.nodesMu.RLock()
	defer l.nodesMu.RUnlock()
	_, ok := l.nodes[id]
	return ok
}

func (l *Listener) Alive(id cluster.NodeID) bool {
	return l.Node(id)
}

// Address resolves a known node's gossiped data-transport address (see
// metaDelegate), for transports (e.g. the transport package's
// AddressBook) that need a dialable address rather than just a NodeID.
func (l *Listener) Address(id cluster.NodeID) (string, bool) {
	l.nodesMu.RLock()
	defer l.nodesMu.RUnlock()
	n, ok := l.nodes[id]
	if !ok || len(n.Meta) == 0 {
		return "", false
	}
	return string(n.Meta), true
}

// PingNode asks memberlist's failure detector to probe id directly,
// used by callers wanting a fresher liveness signal than the gossip
// convergence delay provides.
func (l *Listener) PingNode(ctx context.Context, id cluster.NodeID) bool {
	l.nodesMu.RLock()
	node, ok := l.nodes[id]
	l.nodesMu.RUnlock()
	if !ok {
		return false
	}

	addr := &net.UDPAddr{IP: node.Addr, Port: int(node.Port)}
	_, err := l.ml.Ping(node.Name, addr)
	return err == nil
}

func (l *Listener) TopologyVersion() int64 {
	return l.topoVer.Load()
}

// Subscribe returns a channel of topology events. Each subscriber gets
// its own buffered channel; a slow subscriber drops events rather than
// blocking the dispatch goroutine.
func (l *Listener) Subscribe() <-chan cluster.Event {
	ch := make(chan cluster.Event, 64)
	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()
	return ch
}

func (l *Listener) publish(ev cluster.Event) {
	l.mu.Lock()
	subs := append([]chan cluster.Event(nil), l.subs...)
	l.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			l.log.Warningf("topology: subscriber channel full, dropping %v for %s", ev.Type, ev.Node)
		}
	}
}

// Leave gracefully leaves the memberlist cluster, waiting up to timeout
// for the leave broadcast to propagate.
func (l *Listener) Leave(timeout time.Duration) error {
	return l.ml.Leave(timeout)
}

// eventDelegate adapts memberlist.EventDelegate's synchronous callbacks
// into dispatches onto the WorkerPool, never running loader-facing logic
// inline on memberlist's notify goroutine.
type eventDelegate Listener

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) {
	l := (*Listener)(d)
	id, err := uuid.Parse(n.Name)
	if err != nil {
		l.log.Warningf("topology: join from node with non-uuid name %q", n.Name)
		return
	}

	l.nodesMu.Lock()
	l.nodes[id] = n
	l.nodesMu.Unlock()

	l.topoVer.Add(1)
	l.dispatch(cluster.Event{Type: cluster.NodeJoined, Node: id, TopologyVersion: l.topoVer.Load()})
}

func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
	l := (*Listener)(d)
	id, err := uuid.Parse(n.Name)
	if err != nil {
		return
	}

	l.nodesMu.Lock()
	delete(l.nodes, id)
	l.nodesMu.Unlock()

	l.topoVer.Add(1)
	l.dispatch(cluster.Event{Type: cluster.NodeFailed, Node: id, TopologyVersion: l.topoVer.Load()})
}

func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) {
	// Metadata-only update; membership itself is unchanged. The loader
	// has no use for per-node metadata today.
}

// metaDelegate implements memberlist.Delegate just far enough to gossip
// this node's data-transport address as opaque metadata. Everything else
// memberlist's Delegate interface asks for (broadcasts, push/pull state) is
// unused - this module has no piggybacked application state to exchange
// beyond the address, unlike a full CRDT-style gossip consumer.
type metaDelegate Listener

func (d *metaDelegate) NodeMeta(limit int) []byte {
	l := (*Listener)(d)
	if len(l.dataAddr) > limit {
		return nil
	}
	return []byte(l.dataAddr)
}

func (d *metaDelegate) NotifyMsg([]byte) {}

func (d *metaDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (d *metaDelegate) LocalState(join bool) []byte { return nil }

func (d *metaDelegate) MergeRemoteState(buf []byte, join bool) {}

// dispatch hands the event to the worker pool (off the memberlist notify
// goroutine) and only then publishes it to subscribers.
func (l *Listener) dispatch(ev cluster.Event) {
	if l.pool == nil {
		l.publish(ev)
		return
	}
	l.pool.Submit(context.Background(), true, func() (any, error) {
		l.publish(ev)
		return nil, nil
	})
}
