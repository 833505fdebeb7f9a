package sim

import (
	"time"

	"raftcore/raft"
	"raftcore/transport"
)

// wakeRequest is how a parked node tells the simulator the latest
// deadline by which it wants to be resumed, even with nothing to
// deliver. The simulator coalesces these across every live node and
// never schedules a wake-up earlier than the current virtual time.
type wakeRequest struct {
	deadline time.Time
}

// SimConnector implements raft.Connector (and, being structurally
// identical, transport.Connector) for exactly one node inside a
// Simulator run. Unlike transport.MemoryConnector it never starts a
// real timer: WaitForNextIncomingMessage parks on a channel and is only
// ever woken by the simulator's own driver loop, keeping the whole run
// driven by the virtual clock.
type SimConnector struct {
	id    raft.ServerId
	clock *VirtualClock
	net   *Network
	sim   *Simulator

	inbox  chan raft.Message
	wake   chan wakeRequest
	unpark chan struct{}
	done   chan struct{}
}

func newSimConnector(id raft.ServerId, clock *VirtualClock, net *Network, sim *Simulator) *SimConnector {
	return &SimConnector{
		id:     id,
		clock:  clock,
		net:    net,
		sim:    sim,
		inbox:  make(chan raft.Message, 64),
		wake:   make(chan wakeRequest, 1),
		unpark: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// WaitForNextIncomingMessage publishes the deadline this call is
// willing to wait until, then parks until either a message arrives, the
// simulator unparks it (the deadline was reached with nothing queued),
// or the run is shut down.
func (c *SimConnector) WaitForNextIncomingMessage(maxWait time.Duration) (raft.Message, error) {
	select {
	case <-c.done:
		return nil, transport.ErrShutdown
	default:
	}

	deadline := c.clock.Now().Add(maxWait)
	select {
	case c.wake <- wakeRequest{deadline: deadline}:
	case <-c.done:
		return nil, transport.ErrShutdown
	}

	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.unpark:
		return nil, nil
	case <-c.done:
		return nil, transport.ErrShutdown
	}
}

// EnqueueOutgoingRequest hands req to the network model for loss and
// latency sampling: a delivered message is scheduled as a SimEvent, a
// dropped one is logged and discarded.
func (c *SimConnector) EnqueueOutgoingRequest(req raft.Message) error {
	return c.sim.route(c.id, req)
}

// EnqueueReply is identical to EnqueueOutgoingRequest: the network
// model doesn't distinguish requests from replies, only endpoints.
func (c *SimConnector) EnqueueReply(reply raft.Message) error {
	return c.sim.route(c.id, reply)
}

// deliver injects msg directly into this connector's inbox and unparks
// it if it is currently waiting. Called by the simulator once a
// SendOverNetwork event's scheduled time arrives.
func (c *SimConnector) deliver(msg raft.Message) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

// forceUnpark wakes the node without delivering anything: its
// WaitForNextIncomingMessage deadline has been reached.
func (c *SimConnector) forceUnpark() {
	select {
	case c.unpark <- struct{}{}:
	default:
	}
}

func (c *SimConnector) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
