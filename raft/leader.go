package raft

import (
	"math/rand"
	"time"

	"raftcore/storage"
)

func stepLeader(n Node, ev Event, now time.Time, store *storage.ElectionStore, cfg Config, rng *rand.Rand) (Node, []Action, error) {
	ls := n.leader

	switch ev.Kind {
	case Tick:
		if now.Before(ls.lastHeartbeatSent.Add(cfg.LeaderHeartbeatInterval)) {
			return n, nil, nil
		}
		next := *ls
		next.now = now
		next.lastHeartbeatSent = now
		nextNode := Node{Role: Leader, leader: &next}
		actions := append([]Action{setNextTimeout(cfg.LeaderHeartbeatInterval)}, heartbeatActions(nextNode, TermIndex(store.CurrentTerm()))...)
		return nextNode, actions, nil

	case IncomingRpc:
		switch msg := ev.Msg.(type) {
		case RequestVote:
			vote := Vote{RequestId: msg.RequestId, From: cfg.ServerID, To: msg.From, Term: TermIndex(store.CurrentTerm()), VoteGranted: false}
			return n, []Action{outgoingRpc(vote)}, nil

		case AppendEntries:
			currentTerm := store.CurrentTerm()
			if uint64(msg.Term) < currentTerm {
				ack := AppendEntriesAck{RequestId: msg.RequestId, From: cfg.ServerID, To: msg.From, Term: TermIndex(currentTerm), Success: false}
				return n, []Action{outgoingRpc(ack)}, nil
			}
			// Universal pre-processing already steps down to Follower on
			// any strictly-greater term before this handler runs, so a
			// same-term AppendEntries here means a second leader was
			// elected in our own term: a broken safety invariant.
			panic(panicTwoLeadersSameTerm)

		case AppendEntriesAck:
			return leaderHandleAck(n, msg)

		case Vote:
			// A vote trailing in after we already won; harmless.
			return n, nil, nil

		default:
			return n, nil, nil
		}

	default:
		return n, nil, nil
	}
}

// leaderHandleAck records nothing beyond acceptance in the election-only
// core: there is no log to advance matchIndex/nextIndex against yet. A
// rejected ack from a higher term would already have been converted to a
// step-down by universal pre-processing.
func leaderHandleAck(n Node, ack AppendEntriesAck) (Node, []Action, error) {
	return n, nil, nil
}

// heartbeatActions builds one empty AppendEntries per peer, used both
// for the regular heartbeat tick and for the first heartbeat sent
// immediately upon winning an election.
func heartbeatActions(n Node, term TermIndex) []Action {
	ls := n.leader
	actions := make([]Action, 0, len(ls.otherServers))
	for _, peer := range ls.otherServers {
		actions = append(actions, outgoingRpc(AppendEntries{
			RequestId:    NewRequestId(),
			From:         ls.serverID,
			To:           peer,
			Term:         term,
			PrevLogIndex: 0,
			PrevLogTerm:  0,
			Entries:      nil,
			LeaderCommit: ls.commitIndex,
		}))
	}
	return actions
}
