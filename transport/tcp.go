// Package transport implements cluster.Transport over plain TCP
// connections framed with wire.WriteFrame/ReadFrame. Frames are keyed by
// topic rather than a (shardID, requestID) pair because the loader
// addresses messages to per-instance response topics as well as the one
// well-known load-request topic - topic doubles as the dispatch key and,
// since the loader only ever puts two message shapes on the wire, as the
// decode hint too.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/griddata/loader/cluster"
	"github.com/griddata/loader/logging"
	"github.com/griddata/loader/wire"
)

// AddressBook resolves a NodeID to a dialable address. A real deployment
// backs this with the topology package's membership view; tests use a
// fixed map.
type AddressBook interface {
	Address(node cluster.NodeID) (string, bool)
}

// TCP is a cluster.Transport implementation. One TCP listens on a local
// address, accepts inbound connections, and lazily dials outbound ones,
// keeping at most one connection per peer.
type TCP struct {
	local      cluster.NodeID
	books      AddressBook
	marshaller wire.Marshaller
	log        iLogger

	listenerMu sync.Mutex
	listener   net.Listener

	connMu sync.Mutex
	conns  map[string]net.Conn

	handlerMu sync.RWMutex
	handlers  map[string]func(from cluster.NodeID, msg any)
}

type iLogger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// New builds a TCP transport identifying itself as local to peers it
// dials. Call Listen to start accepting inbound connections before any
// peer can reach this process.
func New(local cluster.NodeID, books AddressBook, marshaller wire.Marshaller) *TCP {
	return &TCP{
		local:      local,
		books:      books,
		marshaller: marshaller,
		log:        logging.Get("wire"),
		conns:      make(map[string]net.Conn),
		handlers:   make(map[string]func(from cluster.NodeID, msg any)),
	}
}

// Listen starts accepting inbound connections on addr.
func (t *TCP) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	t.listenerMu.Lock()
	t.listener = ln
	t.listenerMu.Unlock()

	go t.acceptLoop(ln)
	return nil
}

func (t *TCP) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go t.acceptConn(conn)
	}
}

// acceptConn reads the dialer's handshake off a freshly accepted
// connection to learn its node id, then serves frames from it under that
// identity for the connection's lifetime.
func (t *TCP) acceptConn(conn net.Conn) {
	from, err := readHandshake(conn)
	if err != nil {
		t.log.Warningf("transport: handshake: %v", err)
		conn.Close()
		return
	}
	t.serve(conn, from)
}

// serve reads frames from conn until it closes, delivering each to its
// topic's handler with from as the reported source node.
func (t *TCP) serve(conn net.Conn, from cluster.NodeID) {
	defer conn.Close()

	var buf []byte
	for {
		topic, _, payload, err := wire.ReadFrame(conn, buf)
		if err != nil {
			if err != io.EOF {
				t.log.Warningf("transport: read frame: %v", err)
			}
			return
		}
		buf = payload[:cap(payload)]

		t.handlerMu.RLock()
		handler, ok := t.handlers[topic]
		t.handlerMu.RUnlock()
		if !ok {
			t.log.Debugf("transport: no handler for topic %q, dropping", topic)
			continue
		}

		msg, err := t.decode(topic, payload)
		if err != nil {
			t.log.Errorf("transport: decode topic %q: %v", topic, err)
			continue
		}

		go handler(from, msg)
	}
}

// writeHandshake sends local's raw bytes as the first thing on a newly
// dialed connection, so the accepting side's acceptConn can learn which
// node just connected.
func writeHandshake(conn net.Conn, local cluster.NodeID) error {
	_, err := conn.Write(local[:])
	return err
}

// readHandshake reads the 16 raw node-id bytes a dialer writes immediately
// after connecting.
func readHandshake(conn net.Conn) (cluster.NodeID, error) {
	var id cluster.NodeID
	_, err := io.ReadFull(conn, id[:])
	return id, err
}

func (t *TCP) decode(topic string, payload []byte) (any, error) {
	if topic == wire.LoadTopic {
		var req wire.LoadRequest
		if err := t.marshaller.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return req, nil
	}

	var resp wire.LoadResponse
	if err := t.marshaller.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Send marshals msg and writes it as a framed message to node's
// connection, dialing lazily if none exists yet.
func (t *TCP) Send(ctx context.Context, node cluster.NodeID, topic string, msg any) error {
	payload, err := t.marshaller.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal for %s: %w", topic, err)
	}

	conn, err := t.connFor(node)
	if err != nil {
		return err
	}

	return wire.WriteFrame(conn, topic, 0, payload)
}

func (t *TCP) connFor(node cluster.NodeID) (net.Conn, error) {
	key := node.String()

	t.connMu.Lock()
	defer t.connMu.Unlock()

	if conn, ok := t.conns[key]; ok {
		return conn, nil
	}

	addr, ok := t.books.Address(node)
	if !ok {
		return nil, fmt.Errorf("transport: no known address for node %s", node)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	if err := writeHandshake(conn, t.local); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: handshake %s: %w", addr, err)
	}

	t.conns[key] = conn
	go t.serve(conn, node)
	return conn, nil
}

// AddMessageListener registers fn to run for every inbound message on
// topic, replacing any previous registration.
func (t *TCP) AddMessageListener(topic string, fn func(from cluster.NodeID, msg any)) {
	t.handlerMu.Lock()
	t.handlers[topic] = fn
	t.handlerMu.Unlock()
}

// RemoveMessageListener removes the registration for topic, if any.
func (t *TCP) RemoveMessageListener(topic string) {
	t.handlerMu.Lock()
	delete(t.handlers, topic)
	t.handlerMu.Unlock()
}

// Close shuts down the listener and every outbound connection.
func (t *TCP) Close() error {
	t.listenerMu.Lock()
	if t.listener != nil {
		t.listener.Close()
	}
	t.listenerMu.Unlock()

	t.connMu.Lock()
	defer t.connMu.Unlock()
	for _, conn := range t.conns {
		conn.Close()
	}
	return nil
}
