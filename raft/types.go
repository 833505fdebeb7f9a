// Package raft implements the per-node Raft consensus state machine:
// leader election, the event loop that drives it, and the RPC message
// model. It does not provide a network transport, a durable log, or an
// application state machine — those are supplied by the embedder
// through the interfaces in the transport and storage packages.
package raft

import (
	"time"

	"github.com/google/uuid"
)

// ServerId identifies a server within a cluster. It is opaque to the
// role machine beyond equality and ordering.
type ServerId uint64

// TermIndex is a Raft term number. Terms are monotonically non-decreasing
// per node and totally ordered across the cluster.
type TermIndex uint64

// LogIndex indexes entries in the replicated log. Zero means "no entry".
type LogIndex uint64

// RequestId correlates a request with its eventual reply. Replies always
// carry the RequestId of the request they answer.
type RequestId string

// NewRequestId returns a fresh, globally unique request token.
func NewRequestId() RequestId {
	return RequestId(uuid.New().String())
}

// LogEntry is a single (index, term, command) triple. Commands are
// opaque to the role machine; it only needs to move them around.
type LogEntry struct {
	Index   LogIndex
	Term    TermIndex
	Command []byte
}

// Config holds the tunables the embedder supplies when constructing a
// node. Caller is responsible for Validate() returning nil before the
// config is used to build a Node.
type Config struct {
	// ServerID is this node's identity in the cluster.
	ServerID ServerId

	// OtherServers is the set of peer IDs, excluding ServerID.
	OtherServers []ServerId

	// LeaderHeartbeatInterval is how often a Leader emits empty
	// AppendEntries to suppress follower elections.
	LeaderHeartbeatInterval time.Duration

	// MinElectionTimeoutMs and MaxElectionTimeoutMs bound the
	// randomized follower/candidate timeout: inclusive lower bound,
	// exclusive upper bound.
	MinElectionTimeoutMs uint32
	MaxElectionTimeoutMs uint32
}

// Validate checks the invariants Config must satisfy for stable
// leadership: max > min, and max > 2x the heartbeat interval.
func (c Config) Validate() error {
	if c.MaxElectionTimeoutMs <= c.MinElectionTimeoutMs {
		return ErrInvalidConfig
	}
	heartbeatMs := uint32(c.LeaderHeartbeatInterval / time.Millisecond)
	if c.MaxElectionTimeoutMs <= 2*heartbeatMs {
		return ErrInvalidConfig
	}
	return nil
}

// Quorum returns the strict majority of the full cluster, including self.
func (c Config) Quorum() int {
	return (len(c.OtherServers)+1)/2 + 1
}
