package transport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/wire"
)

type fixedBook map[cluster.NodeID]string

func (b fixedBook) Address(node cluster.NodeID) (string, bool) {
	addr, ok := b[node]
	return addr, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// TestTCP_InboundMessageReportsDialerAsSource dials from node a to node b
// and checks that b's handler observes a's real node id as the sender,
// rather than a zero NodeID, confirming the connect-time handshake feeds
// through to AddMessageListener callbacks.
func TestTCP_InboundMessageReportsDialerAsSource(t *testing.T) {
	nodeA := uuid.New()
	nodeB := uuid.New()

	addrA := "127.0.0.1:19300"
	addrB := "127.0.0.1:19301"

	book := fixedBook{nodeA: addrA, nodeB: addrB}
	marshaller := wire.NewCBORMarshaller()

	a := New(nodeA, book, marshaller)
	if err := a.Listen(addrA); err != nil {
		t.Fatalf("a.Listen: %v", err)
	}
	defer a.Close()

	b := New(nodeB, book, marshaller)
	if err := b.Listen(addrB); err != nil {
		t.Fatalf("b.Listen: %v", err)
	}
	defer b.Close()

	received := make(chan cluster.NodeID, 1)
	b.AddMessageListener(wire.LoadTopic, func(from cluster.NodeID, msg any) {
		received <- from
	})

	req := wire.LoadRequest{ReqID: 1, CacheName: "c"}
	if err := a.Send(context.Background(), nodeB, wire.LoadTopic, req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case from := <-received:
		if from != nodeA {
			t.Fatalf("handler saw from=%s, want %s", from, nodeA)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never invoked")
	}
}

// TestTCP_ConnectionReused verifies a second Send to the same node does not
// open a second outbound connection.
func TestTCP_ConnectionReused(t *testing.T) {
	nodeA := uuid.New()
	nodeB := uuid.New()

	addrA := "127.0.0.1:19302"
	addrB := "127.0.0.1:19303"

	book := fixedBook{nodeA: addrA, nodeB: addrB}
	marshaller := wire.NewCBORMarshaller()

	a := New(nodeA, book, marshaller)
	if err := a.Listen(addrA); err != nil {
		t.Fatalf("a.Listen: %v", err)
	}
	defer a.Close()

	b := New(nodeB, book, marshaller)
	if err := b.Listen(addrB); err != nil {
		t.Fatalf("b.Listen: %v", err)
	}
	defer b.Close()

	count := make(chan struct{}, 2)
	b.AddMessageListener(wire.LoadTopic, func(cluster.NodeID, any) { count <- struct{}{} })

	req := wire.LoadRequest{ReqID: 1, CacheName: "c"}
	if err := a.Send(context.Background(), nodeB, wire.LoadTopic, req); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if err := a.Send(context.Background(), nodeB, wire.LoadTopic, req); err != nil {
		t.Fatalf("Send 2: %v", err)
	}

	waitFor(t, func() bool { return len(count) == 2 })

	a.connMu.Lock()
	n := len(a.conns)
	a.connMu.Unlock()
	if n != 1 {
		t.Fatalf("a has %d outbound connections, want 1", n)
	}
}
