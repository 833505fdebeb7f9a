package raft

import (
	"math/rand"
	"time"

	"raftcore/storage"
)

func stepCandidate(n Node, ev Event, now time.Time, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	cs := n.candidate

	switch ev.Kind {
	case Tick:
		if now.After(cs.lastElectionTimerStarted.Add(cs.electionTimeout)) {
			return startElection(cs.common, store, cfg, rng)
		}
		return n, nil, nil

	case IncomingRpc:
		switch msg := ev.Msg.(type) {
		case RequestVote:
			// Same term, we already voted for ourselves: deny.
			vote := Vote{RequestId: msg.RequestId, From: cfg.ServerID, To: msg.From, Term: TermIndex(store.CurrentTerm()), VoteGranted: false}
			return n, []Action{outgoingRpc(vote)}, nil

		case AppendEntries:
			return candidateHandleAppendEntries(n, msg, store, cfg, rng)

		case Vote:
			return candidateHandleVote(n, msg, store, cfg, rng)

		case AppendEntriesAck:
			return n, nil, nil

		default:
			return n, nil, nil
		}

	default:
		return n, nil, nil
	}
}

// candidateHandleAppendEntries: a same-term AppendEntries means another
// candidate already won this term's election; step down and accept it
// as leader. A stale-term AppendEntries is rejected like any other.
func candidateHandleAppendEntries(n Node, req AppendEntries, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	cs := n.candidate
	currentTerm := store.CurrentTerm()

	if uint64(req.Term) < currentTerm {
		ack := AppendEntriesAck{RequestId: req.RequestId, From: cfg.ServerID, To: req.From, Term: TermIndex(currentTerm), Success: false}
		return n, []Action{outgoingRpc(ack)}, nil
	}

	leaderID := req.From
	timeout := randomElectionTimeout(rng, cfg)
	next := transitionToFollower(cs.common, timeout, &leaderID)
	ack := AppendEntriesAck{RequestId: req.RequestId, From: cfg.ServerID, To: req.From, Term: TermIndex(currentTerm), Success: true}
	return next, []Action{setNextTimeout(timeout), outgoingRpc(ack)}, nil
}

// candidateHandleVote tallies a granted vote and transitions to Leader
// once a quorum, self included, has been reached. Votes from a stale
// term, votes denied, or a repeat vote from a server already counted are
// all no-ops.
func candidateHandleVote(n Node, reply Vote, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	cs := n.candidate

	if !reply.VoteGranted || uint64(reply.Term) != store.CurrentTerm() {
		return n, nil, nil
	}

	if _, already := cs.votesReceived[reply.From]; already {
		return n, nil, nil
	}

	next := *cs
	votes := make(map[ServerId]struct{}, len(cs.votesReceived)+1)
	for id := range cs.votesReceived {
		votes[id] = struct{}{}
	}
	votes[reply.From] = struct{}{}
	next.votesReceived = votes

	if len(votes) < cfg.Quorum() {
		return Node{Role: Candidate, candidate: &next}, nil, nil
	}

	leaderNode := transitionToLeader(next.common, 0, next.now)
	actions := append([]Action{setNextTimeout(cfg.LeaderHeartbeatInterval)}, heartbeatActions(leaderNode, TermIndex(store.CurrentTerm()))...)
	return leaderNode, actions, nil
}
