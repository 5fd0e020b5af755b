package wiring

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/griddata/loader/topology"
)

func TestNeverHostedLocalSource_AlwaysReportsUnhosted(t *testing.T) {
	var src neverHostedLocalSource
	_, _, _, hosted := src.Lookup("orders")
	if hosted {
		t.Fatal("neverHostedLocalSource.Lookup reported hosted=true; a loadctl process never hosts cache data")
	}
}

func TestRendezvousRemoteSource_FetchAffinityIsDeterministic(t *testing.T) {
	topo, err := topology.New(topology.Config{BindAddr: "127.0.0.1", BindPort: 0})
	if err != nil {
		t.Fatalf("topology.New: %v", err)
	}
	defer topo.Leave(0)

	src := &rendezvousRemoteSource{topology: topo}

	fn1, mapper1, _, localMode, err := src.FetchAffinity(context.Background(), uuid.New(), "orders")
	if err != nil {
		t.Fatalf("FetchAffinity: %v", err)
	}
	if localMode {
		t.Fatal("rendezvousRemoteSource reported localMode=true; it never should")
	}
	fn2, mapper2, _, _, err := src.FetchAffinity(context.Background(), uuid.New(), "orders")
	if err != nil {
		t.Fatalf("FetchAffinity: %v", err)
	}

	if fn1.Partitions() != fn2.Partitions() {
		t.Errorf("Partitions() = %d, %d; want equal across calls", fn1.Partitions(), fn2.Partitions())
	}

	nodes1 := mapper1.Nodes(0, 1)
	nodes2 := mapper2.Nodes(0, 1)
	if len(nodes1) != len(nodes2) {
		t.Fatalf("Nodes(0) length differs across calls: %v vs %v", nodes1, nodes2)
	}
	for i := range nodes1 {
		if nodes1[i] != nodes2[i] {
			t.Errorf("Nodes(0)[%d] = %v, want %v: rendezvous assignment must be deterministic for a fixed membership", i, nodes1[i], nodes2[i])
		}
	}
}

func TestRefusingUpdater_AlwaysErrors(t *testing.T) {
	var u refusingUpdater
	if err := u.Update(context.Background(), "orders", nil, false); err == nil {
		t.Fatal("refusingUpdater.Update should always return an error")
	}
}

func TestAddressBook_DelegatesToTopology(t *testing.T) {
	topo, err := topology.New(topology.Config{BindAddr: "127.0.0.1", BindPort: 0, DataAddr: "127.0.0.1:19400"})
	if err != nil {
		t.Fatalf("topology.New: %v", err)
	}
	defer topo.Leave(0)

	b := &addressBook{t: topo}
	if _, ok := b.Address(uuid.New()); ok {
		t.Fatal("Address should report false for a node that never joined")
	}
	if _, ok := b.Address(topo.LocalNodeID()); !ok {
		t.Fatal("Address should resolve the local node's own id")
	}
}
