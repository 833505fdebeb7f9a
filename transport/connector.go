// Package transport defines the contract a node uses to exchange RPCs
// with its peers, and provides an in-memory reference implementation
// used by tests (the simulator has its own connector). A concrete network transport
// (sockets, gRPC, …) is the embedder's responsibility; this package
// only names the interface it must satisfy.
package transport

import (
	"errors"
	"time"

	"raftcore/raft"
)

// ErrShutdown is returned once the transport has been torn down. It is
// terminal: the node that observes it exits its event loop.
var ErrShutdown = errors.New("transport: shut down")

// Connector is the single-consumer, multi-producer channel a node uses
// to talk to its peers. WaitForNextIncomingMessage must respect maxWait
// using the same clock abstraction the node uses for its own ticks.
type Connector interface {
	// WaitForNextIncomingMessage blocks for at most maxWait for the next
	// inbound message. A nil message with a nil error means the wait
	// expired with nothing to deliver.
	WaitForNextIncomingMessage(maxWait time.Duration) (raft.Message, error)

	// EnqueueOutgoingRequest sends req towards its destination.
	// Non-blocking from the caller's perspective.
	EnqueueOutgoingRequest(req raft.Message) error

	// EnqueueReply sends reply towards the originator of the request it
	// answers, correlated by RequestId.
	EnqueueReply(reply raft.Message) error
}
