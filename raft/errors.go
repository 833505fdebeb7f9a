package raft

import "errors"

// Errors defined by package raft. The errors that end a node's loop, a
// storage failure or a transport shutdown, come from the storage and
// transport layers and are returned by Loop.Run unchanged; the two below
// report an invalid config and a programmer error.
var (
	// ErrInvalidConfig is returned by Config.Validate when
	// MaxElectionTimeoutMs does not leave room for a stable leader
	// (must exceed both MinElectionTimeoutMs and 2x the heartbeat
	// interval).
	ErrInvalidConfig = errors.New("raft: invalid config")

	// ErrUnknownRole is a programmer error: a Node in a role the
	// dispatcher doesn't recognize.
	ErrUnknownRole = errors.New("raft: unknown role")
)

// Panic messages are raised via panic, not returned, because they
// indicate a broken invariant rather than a recoverable condition.
const (
	panicTwoLeadersSameTerm = "raft: received AppendEntries from another leader in the same term"
)
