package raft

import "time"

// Role names the three roles a node can be in.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// marker is an unexported field embedded in every role record. It has no
// behavior of its own; its purpose is to push construction through the
// transitionTo* constructors below rather than ad hoc struct literals
// from outside the package, the same discipline the source material
// enforces with a private marker field on each role variant.
type marker struct{}

// common holds the fields every role shares.
type common struct {
	marker

	serverID     ServerId
	otherServers []ServerId
	commitIndex  LogIndex
	lastApplied  LogIndex
	now          time.Time
}

// FollowerState is the volatile state of a node in the Follower role.
type FollowerState struct {
	common

	electionTimeout          time.Duration
	lastElectionTimerStarted time.Time
	leaderID                 *ServerId
}

// CandidateState is the volatile state of a node in the Candidate role.
type CandidateState struct {
	common

	electionTimeout          time.Duration
	lastElectionTimerStarted time.Time
	votesReceived            map[ServerId]struct{}
}

// LeaderState is the volatile state of a node in the Leader role.
type LeaderState struct {
	common

	lastHeartbeatSent time.Time
	nextIndex         map[ServerId]LogIndex
	matchIndex        map[ServerId]LogIndex
}

// Node is the tagged union Follower | Candidate | Leader. Exactly one of
// follower/candidate/leader is non-nil, selected by Role. Role records
// are created on entry to the role and discarded on transition; only the
// durable ElectionStore survives a restart.
type Node struct {
	Role Role

	follower  *FollowerState
	candidate *CandidateState
	leader    *LeaderState
}

// ServerID returns this node's own id, regardless of role.
func (n Node) ServerID() ServerId {
	switch n.Role {
	case Follower:
		return n.follower.serverID
	case Candidate:
		return n.candidate.serverID
	case Leader:
		return n.leader.serverID
	default:
		panic(ErrUnknownRole)
	}
}

// LeaderID returns the server this node believes is leader, if any. A
// Follower reports the leader it last accepted, a Leader reports itself,
// and a Candidate reports none.
func (n Node) LeaderID() (ServerId, bool) {
	switch n.Role {
	case Follower:
		if n.follower.leaderID != nil {
			return *n.follower.leaderID, true
		}
		return 0, false
	case Leader:
		return n.leader.serverID, true
	default:
		return 0, false
	}
}

func commonFrom(cfg Config, now time.Time) common {
	return common{
		serverID:     cfg.ServerID,
		otherServers: cfg.OtherServers,
		now:          now,
	}
}

func carryCommon(prev common, now time.Time) common {
	c := prev
	c.now = now
	return c
}

// NewFollower constructs the initial Node for a freshly started process:
// Follower, no leader known, election timer freshly seeded.
func NewFollower(cfg Config, now time.Time, timeout time.Duration) Node {
	fs := &FollowerState{
		common:                   commonFrom(cfg, now),
		electionTimeout:          timeout,
		lastElectionTimerStarted: now,
	}
	return Node{Role: Follower, follower: fs}
}

// transitionToFollower copies the common fields forward (preserving
// commitIndex/lastApplied across the role change) and starts a fresh
// election timer.
func transitionToFollower(c common, timeout time.Duration, leaderID *ServerId) Node {
	fs := &FollowerState{
		common:                   carryCommon(c, c.now),
		electionTimeout:          timeout,
		lastElectionTimerStarted: c.now,
		leaderID:                 leaderID,
	}
	return Node{Role: Follower, follower: fs}
}

// clearLeaderID returns a Follower Node identical to fs except with
// leaderID cleared. Unlike transitionToFollower it leaves the election
// timer — electionTimeout and lastElectionTimerStarted — untouched:
// granting a vote is not a heartbeat and must not keep postponing this
// node's own election.
func clearLeaderID(fs *FollowerState) Node {
	next := *fs
	next.leaderID = nil
	return Node{Role: Follower, follower: &next}
}

// transitionToCandidate copies the common fields forward and resets the
// votes-received set to just self.
func transitionToCandidate(c common, timeout time.Duration) Node {
	cs := &CandidateState{
		common:                   carryCommon(c, c.now),
		electionTimeout:          timeout,
		lastElectionTimerStarted: c.now,
		votesReceived:            map[ServerId]struct{}{c.serverID: {}},
	}
	return Node{Role: Candidate, candidate: cs}
}

// transitionToLeader copies the common fields forward and initializes
// per-peer replication state to just past the end of our log.
func transitionToLeader(c common, lastLogIndex LogIndex, now time.Time) Node {
	ls := &LeaderState{
		common:            carryCommon(c, now),
		lastHeartbeatSent: now,
		nextIndex:         make(map[ServerId]LogIndex, len(c.otherServers)),
		matchIndex:        make(map[ServerId]LogIndex, len(c.otherServers)),
	}
	for _, peer := range c.otherServers {
		ls.nextIndex[peer] = lastLogIndex + 1
		ls.matchIndex[peer] = 0
	}
	return Node{Role: Leader, leader: ls}
}
