package transport

import (
	"fmt"
	"sync"
	"time"

	"raftcore/raft"
)

// Hub wires a fixed set of in-process nodes together with direct,
// lossless, zero-latency delivery. It is the reference Connector
// implementation: enough to run a multi-node cluster inside one
// process (and to unit-test the event loop) without any real network.
// A lossy/latent/partitionable network sits in package sim, built on
// top of the same per-node inbox idea.
type Hub struct {
	mu    sync.Mutex
	nodes map[raft.ServerId]*MemoryConnector
}

// NewHub returns an empty hub; call Connector for each participating
// server to register it.
func NewHub() *Hub {
	return &Hub{nodes: make(map[raft.ServerId]*MemoryConnector)}
}

// Connector returns the Connector for id, creating it on first use.
func (h *Hub) Connector(id raft.ServerId) *MemoryConnector {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.nodes[id]; ok {
		return c
	}
	c := &MemoryConnector{
		id:    id,
		hub:   h,
		inbox: make(chan raft.Message, 256),
		done:  make(chan struct{}),
	}
	h.nodes[id] = c
	return c
}

func (h *Hub) lookup(id raft.ServerId) (*MemoryConnector, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.nodes[id]
	return c, ok
}

// deliver routes msg to its MessageTo() recipient's inbox.
func (h *Hub) deliver(msg raft.Message) error {
	target, ok := h.lookup(msg.MessageTo())
	if !ok {
		return fmt.Errorf("transport: no such server %d", msg.MessageTo())
	}
	select {
	case target.inbox <- msg:
		return nil
	case <-target.done:
		return ErrShutdown
	}
}

// MemoryConnector is one node's end of a Hub. It implements Connector
// using a buffered channel for inbound messages and a real timer for
// maxWait, so it is suitable for production in-process clusters as well
// as tests that don't need a virtual clock.
type MemoryConnector struct {
	id        raft.ServerId
	hub       *Hub
	inbox     chan raft.Message
	done      chan struct{}
	closeOnce sync.Once
}

// WaitForNextIncomingMessage blocks for at most maxWait.
func (c *MemoryConnector) WaitForNextIncomingMessage(maxWait time.Duration) (raft.Message, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-c.done:
		return nil, ErrShutdown
	case msg := <-c.inbox:
		return msg, nil
	case <-timer.C:
		return nil, nil
	}
}

// EnqueueOutgoingRequest routes req directly to its recipient.
func (c *MemoryConnector) EnqueueOutgoingRequest(req raft.Message) error {
	select {
	case <-c.done:
		return ErrShutdown
	default:
	}
	return c.hub.deliver(req)
}

// EnqueueReply routes reply directly to its recipient.
func (c *MemoryConnector) EnqueueReply(reply raft.Message) error {
	return c.EnqueueOutgoingRequest(reply)
}

// Close shuts the connector down; any blocked or future
// WaitForNextIncomingMessage call returns ErrShutdown.
func (c *MemoryConnector) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Deliver injects msg directly into this connector's inbox, bypassing
// hub routing, for a caller that decides delivery (loss, latency,
// partitions) itself. The simulator in package sim does not use it; it
// delivers through its own SimConnector.
func (c *MemoryConnector) Deliver(msg raft.Message) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-c.done:
		return ErrShutdown
	}
}
