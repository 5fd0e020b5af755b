// Package wiring assembles a Loader and its collaborators from a
// config.Config, the glue every loadctl subcommand that talks to a grid
// needs.
package wiring

import (
	"context"
	"fmt"

	"github.com/griddata/loader/affinity"
	"github.com/griddata/loader/buffer"
	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/config"
	"github.com/griddata/loader/flushq"
	"github.com/griddata/loader/loader"
	"github.com/griddata/loader/logging"
	"github.com/griddata/loader/topology"
	"github.com/griddata/loader/transport"
	"github.com/griddata/loader/wire"
	"github.com/griddata/loader/workerpool"
)

// defaultPartitions is the partition count the CLI's default affinity
// function divides key space into, matching a modest single-cache
// deployment; a real application wires its own affinity.Function through a
// custom LocalSource instead of going through wiring at all.
const defaultPartitions = 1024

// Grid bundles everything Build constructs so callers can shut it down
// cleanly with Close.
type Grid struct {
	Loader   *loader.Loader
	Topology *topology.Listener
	Pool     *workerpool.Pool
	Sched    *flushq.Scheduler

	transport *transport.TCP
	cancel    context.CancelFunc
}

// Close tears down the loader, the scheduler and the network layer, in
// that order, mirroring Loader.Close's own OPEN->CLOSING->CLOSED sequence
// one level up.
func (g *Grid) Close(ctx context.Context, cancelInFlight bool) error {
	err := g.Loader.Close(ctx, cancelInFlight)
	g.cancel()
	_ = g.transport.Close()
	if leaveErr := g.Topology.Leave(0); leaveErr != nil && err == nil {
		err = leaveErr
	}
	return err
}

// addressBook resolves node addresses from memberlist's own membership
// view, since the gossip protocol already tracks each peer's address.
type addressBook struct {
	t *topology.Listener
}

func (b *addressBook) Address(node cluster.NodeID) (string, bool) {
	return b.t.Address(node)
}

// Build joins the gossip ring, starts the load-request transport and the
// auto-flush scheduler, and constructs a Loader for cfg.CacheName ready to
// accept AddData calls.
func Build(cfg *config.Config, updater buffer.Updater) (*Grid, error) {
	logging.Init(cfg.LogLevel)

	pool := workerpool.New(cfg.PublicPoolSize, cfg.SystemPoolSize)

	topo, err := topology.New(topology.Config{
		BindAddr: cfg.BindAddr,
		BindPort: cfg.BindPort,
		Seeds:    cfg.Seeds,
		Pool:     pool,
		DataAddr: cfg.ListenAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("wiring: join gossip ring: %w", err)
	}

	marshaller := wire.NewCBORMarshaller()
	books := &addressBook{t: topo}
	tport := transport.New(topo.LocalNodeID(), books, marshaller)
	if err := tport.Listen(cfg.ListenAddr); err != nil {
		return nil, fmt.Errorf("wiring: listen on %s: %w", cfg.ListenAddr, err)
	}

	resolver := affinity.NewResolver(topo, &neverHostedLocalSource{}, &rendezvousRemoteSource{topology: topo})

	sched := flushq.New()
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	if updater == nil {
		updater = &refusingUpdater{}
	}

	l := loader.New(loader.Config{
		CacheName:     cfg.CacheName,
		Discovery:     topo,
		Transport:     tport,
		Pool:          pool,
		Resolver:      resolver,
		Marshaller:    marshaller,
		Updater:       updater,
		Scheduler:     sched,
		BufSize:       cfg.BufSize,
		ParallelOps:   cfg.ParallelOps,
		AutoFlushFreq: cfg.AutoFlushFreqMillis,
		SkipStore:     cfg.SkipStore,
		MaxRemaps:     cfg.MaxRemaps,
	})

	return &Grid{Loader: l, Topology: topo, Pool: pool, Sched: sched, transport: tport, cancel: cancel}, nil
}

// neverHostedLocalSource always reports that the calling process does not
// host the cache itself - correct for a loadctl invocation, which is
// always a load client rather than a grid data node.
type neverHostedLocalSource struct{}

func (neverHostedLocalSource) Lookup(string) (affinity.Function, affinity.NodeMapper, affinity.KeyMapper, bool) {
	return nil, nil, nil, false
}

// rendezvousRemoteSource answers affinity resolution locally instead of
// making a network round trip: the rendezvous/HRW hashing scheme is
// deterministic across every member that agrees on the partition count, so
// there is nothing to fetch from a remote node once the current topology is
// known - only the true partition-owner assignment computed by the grid's
// own partition-exchange protocol would need a real fetch, and that
// protocol is out of scope for this module.
type rendezvousRemoteSource struct {
	topology *topology.Listener
}

func (r *rendezvousRemoteSource) FetchAffinity(_ context.Context, _ cluster.NodeID, _ string) (affinity.Function, affinity.NodeMapper, affinity.KeyMapper, bool, error) {
	fn := affinity.NewModFunction(defaultPartitions)
	local := r.topology.LocalNodeID()
	mapper := affinity.NewRendezvousMapper(1, func(int64) []cluster.NodeID {
		var owners []cluster.NodeID
		for _, n := range r.topology.Nodes() {
			if n != local {
				owners = append(owners, n)
			}
		}
		return owners
	})
	return fn, mapper, nil, false, nil
}

// refusingUpdater is the fallback Updater a Grid built without one is
// given. It is only ever invoked if a Buffer decides its destination node
// is the local one, which never happens for a loadctl process since
// neverHostedLocalSource/rendezvousRemoteSource never nominate it as an
// owner.
type refusingUpdater struct{}

func (refusingUpdater) Update(context.Context, string, []buffer.Entry, bool) error {
	return fmt.Errorf("wiring: loadctl does not host cache data locally")
}
