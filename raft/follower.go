package raft

import (
	"math/rand"
	"time"

	"raftcore/storage"
)

func stepFollower(n Node, ev Event, now time.Time, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	fs := n.follower

	switch ev.Kind {
	case Tick:
		if now.After(fs.lastElectionTimerStarted.Add(fs.electionTimeout)) {
			return startElection(fs.common, store, cfg, rng)
		}
		return n, nil, nil

	case IncomingRpc:
		switch msg := ev.Msg.(type) {
		case AppendEntries:
			return followerHandleAppendEntries(n, msg, store, cfg, rng)
		case RequestVote:
			return followerHandleRequestVote(n, msg, store, cfg, rng)
		case Vote, AppendEntriesAck:
			// Late replies addressed to a role that can't have sent the
			// matching request; ignore.
			return n, nil, nil
		default:
			return n, nil, nil
		}

	default:
		return n, nil, nil
	}
}

func followerHandleAppendEntries(n Node, req AppendEntries, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	fs := n.follower
	currentTerm := store.CurrentTerm()

	if uint64(req.Term) < currentTerm {
		ack := AppendEntriesAck{RequestId: req.RequestId, From: cfg.ServerID, To: req.From, Term: TermIndex(currentTerm), Success: false}
		return n, []Action{outgoingRpc(ack)}, nil
	}

	leaderID := req.From
	timeout := randomElectionTimeout(rng, cfg)
	next := transitionToFollower(fs.common, timeout, &leaderID)
	ack := AppendEntriesAck{RequestId: req.RequestId, From: cfg.ServerID, To: req.From, Term: TermIndex(currentTerm), Success: true}
	return next, []Action{setNextTimeout(timeout), outgoingRpc(ack)}, nil
}

func followerHandleRequestVote(n Node, req RequestVote, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	fs := n.follower
	currentTerm := store.CurrentTerm()

	if uint64(req.Term) < currentTerm {
		vote := Vote{RequestId: req.RequestId, From: cfg.ServerID, To: req.From, Term: TermIndex(currentTerm), VoteGranted: false}
		return n, []Action{outgoingRpc(vote)}, nil
	}

	votedFor, hasVote := store.VotedForInCurrentTerm()
	canGrant := !hasVote || ServerId(votedFor) == req.From
	// TODO(log-replication): once entries are wired in, also require
	// the candidate's (LastLogTerm, LastLogIndex) to be at least as
	// up-to-date as ours, lexicographically term-then-index.

	if !canGrant {
		vote := Vote{RequestId: req.RequestId, From: cfg.ServerID, To: req.From, Term: TermIndex(currentTerm), VoteGranted: false}
		return n, []Action{outgoingRpc(vote)}, nil
	}

	store.RecordVote(uint64(req.From))
	if err := store.Sync(); err != nil {
		return n, nil, err
	}

	// Granting a vote clears leaderID but, unlike an AppendEntries
	// heartbeat, does not reset the election timer: a Follower handing out
	// votes to several candidates in a row must not keep postponing its
	// own election because of it.
	next := clearLeaderID(fs)
	vote := Vote{RequestId: req.RequestId, From: cfg.ServerID, To: req.From, Term: TermIndex(currentTerm), VoteGranted: true}
	return next, []Action{outgoingRpc(vote)}, nil
}

// startElection is shared by Follower (timing out into Candidate) and
// Candidate (restarting an election after its own timeout): bump the
// term, vote for self, reset the timer, and fan out RequestVote to
// every peer.
func startElection(c common, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	newTerm := store.CurrentTerm() + 1
	store.UpdateTerm(newTerm)
	store.RecordVote(uint64(c.serverID))
	if err := store.Sync(); err != nil {
		return Node{}, nil, err
	}

	timeout := randomElectionTimeout(rng, cfg)
	next := transitionToCandidate(c, timeout)

	actions := make([]Action, 0, len(c.otherServers)+1)
	actions = append(actions, setNextTimeout(timeout))
	for _, peer := range c.otherServers {
		actions = append(actions, outgoingRpc(RequestVote{
			RequestId:    NewRequestId(),
			From:         c.serverID,
			To:           peer,
			Term:         TermIndex(newTerm),
			LastLogIndex: 0,
			LastLogTerm:  0,
		}))
	}

	// Empty peer set: quorum of one, we win immediately.
	if len(c.otherServers) == 0 {
		leaderNode := transitionToLeader(next.candidate.common, 0, c.now)
		heartbeats := heartbeatActions(leaderNode, TermIndex(newTerm))
		return leaderNode, append([]Action{setNextTimeout(cfg.LeaderHeartbeatInterval)}, heartbeats...), nil
	}

	return next, actions, nil
}
