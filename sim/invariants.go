package sim

import (
	"fmt"

	"raftcore/raft"
)

// InvariantViolation aborts the simulation: the role machine has broken
// a safety property it is supposed to uphold unconditionally.
type InvariantViolation struct {
	Property string
	Detail   string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("sim: invariant violated (%s): %s", v.Property, v.Detail)
}

// InvariantChecker consumes the stream of StateEvent published by every
// node at the end of each step and verifies, continuously, the three
// properties the role machine is proved against: term monotonicity,
// election safety, and leader agreement.
type InvariantChecker struct {
	lastTerm       map[raft.ServerId]raft.TermIndex
	leadersByTerm  map[raft.TermIndex]map[raft.ServerId]struct{}
	believedByTerm map[raft.TermIndex]map[raft.ServerId]struct{}
}

// NewInvariantChecker returns a checker with no observations yet.
func NewInvariantChecker() *InvariantChecker {
	return &InvariantChecker{
		lastTerm:       make(map[raft.ServerId]raft.TermIndex),
		leadersByTerm:  make(map[raft.TermIndex]map[raft.ServerId]struct{}),
		believedByTerm: make(map[raft.TermIndex]map[raft.ServerId]struct{}),
	}
}

// Observe feeds one node's published StateEvent through all three
// checks. It returns the first violation found, if any; callers should
// treat a non-nil return as fatal to the run.
func (c *InvariantChecker) Observe(ev raft.StateEvent) error {
	if err := c.checkTermMonotonic(ev); err != nil {
		return err
	}
	if err := c.checkElectionSafety(ev); err != nil {
		return err
	}
	return c.checkLeaderAgreement(ev)
}

func (c *InvariantChecker) checkTermMonotonic(ev raft.StateEvent) error {
	prev, seen := c.lastTerm[ev.ServerID]
	if seen && ev.CurrentTerm < prev {
		return &InvariantViolation{
			Property: "term-monotonic",
			Detail:   fmt.Sprintf("server %d term regressed from %d to %d", ev.ServerID, prev, ev.CurrentTerm),
		}
	}
	c.lastTerm[ev.ServerID] = ev.CurrentTerm
	return nil
}

func (c *InvariantChecker) checkElectionSafety(ev raft.StateEvent) error {
	if ev.Role != raft.Leader {
		return nil
	}
	set, ok := c.leadersByTerm[ev.CurrentTerm]
	if !ok {
		set = make(map[raft.ServerId]struct{})
		c.leadersByTerm[ev.CurrentTerm] = set
	}
	set[ev.ServerID] = struct{}{}
	if len(set) > 1 {
		return &InvariantViolation{
			Property: "election-safety",
			Detail:   fmt.Sprintf("term %d has multiple self-reported leaders: %v", ev.CurrentTerm, keys(set)),
		}
	}
	return nil
}

func (c *InvariantChecker) checkLeaderAgreement(ev raft.StateEvent) error {
	if ev.LeaderForTerm == nil {
		return nil
	}
	set, ok := c.believedByTerm[ev.CurrentTerm]
	if !ok {
		set = make(map[raft.ServerId]struct{})
		c.believedByTerm[ev.CurrentTerm] = set
	}
	set[*ev.LeaderForTerm] = struct{}{}
	if len(set) > 1 {
		return &InvariantViolation{
			Property: "leader-agreement",
			Detail:   fmt.Sprintf("term %d has disagreeing believed leaders: %v", ev.CurrentTerm, keys(set)),
		}
	}
	return nil
}

func keys(m map[raft.ServerId]struct{}) []raft.ServerId {
	out := make([]raft.ServerId, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
