package raft

import (
	"math/rand"
	"time"

	"raftcore/storage"
)

// Step is the pure heart of the role machine: given the current role,
// the event to process, the current clock reading, durable storage, the
// node's config, and its PRNG, it returns the next role and the actions
// to perform. The only side effects are calls against store; Step itself
// never blocks, sleeps, or touches a network.
func Step(n Node, ev Event, now time.Time, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	n, actions, err := applyUniversalPreprocessing(n, ev, now, store, cfg, rng)
	if err != nil {
		return n, nil, err
	}

	var roleActions []Action
	switch n.Role {
	case Follower:
		n, roleActions, err = stepFollower(n, ev, now, store, cfg, rng)
	case Candidate:
		n, roleActions, err = stepCandidate(n, ev, now, store, cfg, rng)
	case Leader:
		n, roleActions, err = stepLeader(n, ev, now, store, cfg, rng)
	default:
		return n, nil, ErrUnknownRole
	}
	if err != nil {
		return n, nil, err
	}

	return n, append(actions, roleActions...), nil
}

// applyUniversalPreprocessing implements spec 4.1's "universal
// pre-processing": refresh the clock reading, and if the event carries a
// term strictly greater than our own, unconditionally step down to
// Follower in the new term before any role-specific handling runs.
func applyUniversalPreprocessing(n Node, ev Event, now time.Time, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	n = refreshClock(n, now)

	if ev.Kind != IncomingRpc {
		return n, nil, nil
	}

	msgTerm := uint64(ev.Msg.MessageTerm())
	if msgTerm <= store.CurrentTerm() {
		return n, nil, nil
	}

	store.UpdateTerm(msgTerm)
	if err := store.Sync(); err != nil {
		return n, nil, err
	}

	timeout := randomElectionTimeout(rng, cfg)
	next := transitionToFollower(commonOf(n), timeout, nil)
	return next, []Action{setNextTimeout(timeout)}, nil
}

// refreshClock updates the `now` reading carried in whichever role
// record is active, without otherwise changing the node.
func refreshClock(n Node, now time.Time) Node {
	switch n.Role {
	case Follower:
		fs := *n.follower
		fs.now = now
		return Node{Role: Follower, follower: &fs}
	case Candidate:
		cs := *n.candidate
		cs.now = now
		return Node{Role: Candidate, candidate: &cs}
	case Leader:
		ls := *n.leader
		ls.now = now
		return Node{Role: Leader, leader: &ls}
	default:
		return n
	}
}

// commonOf extracts the shared fields out of whichever role is active.
func commonOf(n Node) common {
	switch n.Role {
	case Follower:
		return n.follower.common
	case Candidate:
		return n.candidate.common
	case Leader:
		return n.leader.common
	default:
		panic(ErrUnknownRole)
	}
}

// randomElectionTimeout draws uniformly from
// [MinElectionTimeoutMs, MaxElectionTimeoutMs).
func randomElectionTimeout(rng *rand.Rand, cfg Config) time.Duration {
	span := int64(cfg.MaxElectionTimeoutMs - cfg.MinElectionTimeoutMs)
	ms := int64(cfg.MinElectionTimeoutMs) + rng.Int63n(span)
	return time.Duration(ms) * time.Millisecond
}
