package raft

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raftcore/storage"
)

func newTestStore(t *testing.T) *storage.ElectionStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "election")
	s, err := storage.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConfig(self ServerId, peers ...ServerId) Config {
	return Config{
		ServerID:                self,
		OtherServers:            peers,
		LeaderHeartbeatInterval: 50 * time.Millisecond,
		MinElectionTimeoutMs:    150,
		MaxElectionTimeoutMs:    300,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig(1, 2, 3)
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.MaxElectionTimeoutMs = bad.MinElectionTimeoutMs
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	tooClose := cfg
	tooClose.MinElectionTimeoutMs = 50
	tooClose.MaxElectionTimeoutMs = uint32(2 * cfg.LeaderHeartbeatInterval.Milliseconds())
	require.ErrorIs(t, tooClose.Validate(), ErrInvalidConfig)
}

func TestQuorum(t *testing.T) {
	require.Equal(t, 1, testConfig(1).Quorum())
	require.Equal(t, 2, testConfig(1, 2).Quorum())
	require.Equal(t, 2, testConfig(1, 2, 3).Quorum())
	require.Equal(t, 3, testConfig(1, 2, 3, 4).Quorum())
}

func TestEmptyPeerSetWinsImmediately(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := NewFollower(cfg, now, 200*time.Millisecond)

	n, actions, err := Step(n, NewTick(now.Add(time.Second)), now.Add(time.Second), store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Leader, n.Role)
	require.Equal(t, uint64(1), store.CurrentTerm())

	var sawTimeout bool
	for _, a := range actions {
		if a.Kind == SetNextTimeout {
			sawTimeout = true
		}
	}
	require.True(t, sawTimeout)
}

func TestTickBeforeTimeoutIsNoop(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := NewFollower(cfg, now, 200*time.Millisecond)

	n, actions, err := Step(n, NewTick(now.Add(50*time.Millisecond)), now.Add(50*time.Millisecond), store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Follower, n.Role)
	require.Empty(t, actions)
}

func TestFollowerTimesOutIntoCandidate(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := NewFollower(cfg, now, 200*time.Millisecond)

	later := now.Add(201 * time.Millisecond)
	n, actions, err := Step(n, NewTick(later), later, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Candidate, n.Role)
	require.Equal(t, uint64(1), store.CurrentTerm())
	votedFor, ok := store.VotedForInCurrentTerm()
	require.True(t, ok)
	require.Equal(t, uint64(1), votedFor)

	// one RequestVote per peer, plus the timeout action
	var rpcCount int
	for _, a := range actions {
		if a.Kind == OutgoingRpc {
			rpcCount++
			_, isRV := a.Msg.(RequestVote)
			require.True(t, isRV)
		}
	}
	require.Equal(t, 2, rpcCount)
}

func TestStrictGreaterThanTimeoutComparison(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := NewFollower(cfg, now, 200*time.Millisecond)

	exactly := now.Add(200 * time.Millisecond)
	n, _, err := Step(n, NewTick(exactly), exactly, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Follower, n.Role, "a tick exactly at the deadline must not yet time out")
}

func TestVoteRequestRejectsStaleTerm(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	store.UpdateTerm(5)
	require.NoError(t, store.Sync())
	n := NewFollower(cfg, now, 200*time.Millisecond)

	req := RequestVote{RequestId: NewRequestId(), From: 2, To: 1, Term: 3}
	n, actions, err := Step(n, NewIncomingRpc(req), now, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Follower, n.Role)
	require.Len(t, actions, 1)
	vote := actions[0].Msg.(Vote)
	require.False(t, vote.VoteGranted)
	require.Equal(t, TermIndex(5), vote.Term)
}

func TestVoteRequestGrantsOncePerTerm(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := NewFollower(cfg, now, 200*time.Millisecond)

	first := RequestVote{RequestId: NewRequestId(), From: 2, To: 1, Term: 1}
	n, actions, err := Step(n, NewIncomingRpc(first), now, store, cfg, rng)
	require.NoError(t, err)
	require.True(t, actions[len(actions)-1].Msg.(Vote).VoteGranted)

	second := RequestVote{RequestId: NewRequestId(), From: 3, To: 1, Term: 1}
	n, actions, err = Step(n, NewIncomingRpc(second), now, store, cfg, rng)
	require.NoError(t, err)
	require.False(t, actions[len(actions)-1].Msg.(Vote).VoteGranted)
}

func TestHigherTermStepsDownBeforeRoleHandling(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := transitionToCandidate(commonFrom(cfg, now), 200*time.Millisecond)

	ae := AppendEntries{RequestId: NewRequestId(), From: 2, To: 1, Term: 9}
	n, _, err := Step(n, NewIncomingRpc(ae), now, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Follower, n.Role)
	require.Equal(t, uint64(9), store.CurrentTerm())
}

func TestCandidateWinsOnQuorum(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := transitionToCandidate(commonFrom(cfg, now), 200*time.Millisecond)
	store.UpdateTerm(1)
	require.NoError(t, store.Sync())

	vote := Vote{RequestId: NewRequestId(), From: 2, To: 1, Term: 1, VoteGranted: true}
	n, actions, err := Step(n, NewIncomingRpc(vote), now, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Leader, n.Role)

	var heartbeats int
	for _, a := range actions {
		if a.Kind == OutgoingRpc {
			if _, ok := a.Msg.(AppendEntries); ok {
				heartbeats++
			}
		}
	}
	require.Equal(t, 2, heartbeats)
}

func TestDuplicateVoteDoesNotCountTwice(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3, 4, 5)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := transitionToCandidate(commonFrom(cfg, now), 200*time.Millisecond)
	store.UpdateTerm(1)
	require.NoError(t, store.Sync())

	vote := Vote{RequestId: NewRequestId(), From: 2, To: 1, Term: 1, VoteGranted: true}
	n, _, err := Step(n, NewIncomingRpc(vote), now, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Candidate, n.Role)
	require.Len(t, n.candidate.votesReceived, 2)

	n, _, err = Step(n, NewIncomingRpc(vote), now, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Candidate, n.Role)
	require.Len(t, n.candidate.votesReceived, 2)
}

func TestLeaderPanicsOnSameTermAppendEntries(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	store.UpdateTerm(4)
	require.NoError(t, store.Sync())
	n := transitionToLeader(commonFrom(cfg, now), 0, now)

	ae := AppendEntries{RequestId: NewRequestId(), From: 2, To: 1, Term: 4}
	require.Panics(t, func() {
		_, _, _ = Step(n, NewIncomingRpc(ae), now, store, cfg, rng)
	})
}

func TestLeaderSendsHeartbeatOnTick(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := transitionToLeader(commonFrom(cfg, now), 0, now)

	later := now.Add(cfg.LeaderHeartbeatInterval + time.Millisecond)
	n, actions, err := Step(n, NewTick(later), later, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Leader, n.Role)

	var heartbeats int
	for _, a := range actions {
		if a.Kind == OutgoingRpc {
			heartbeats++
		}
	}
	require.Equal(t, 2, heartbeats)
}

func TestLeaderRejectsVoteRequest(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := transitionToLeader(commonFrom(cfg, now), 0, now)

	req := RequestVote{RequestId: NewRequestId(), From: 2, To: 1, Term: 0}
	n, actions, err := Step(n, NewIncomingRpc(req), now, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Leader, n.Role)
	require.False(t, actions[0].Msg.(Vote).VoteGranted)
}

func TestAppendEntriesResetsFollowerTimer(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	// Narrow the timeout range so it cannot contain the stale 200ms
	// value below: any freshly redrawn timeout is then guaranteed to
	// differ from it, regardless of the PRNG draw.
	cfg.MaxElectionTimeoutMs = 199
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := NewFollower(cfg, now, 200*time.Millisecond)

	ae := AppendEntries{RequestId: NewRequestId(), From: 2, To: 1, Term: 0}
	n, actions, err := Step(n, NewIncomingRpc(ae), now, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Follower, n.Role)
	leaderID, ok := n.LeaderID()
	require.True(t, ok)
	require.Equal(t, ServerId(2), leaderID)

	var sawTimeout, sawAck bool
	var newTimeout time.Duration
	for _, a := range actions {
		if a.Kind == SetNextTimeout {
			sawTimeout = true
			newTimeout = a.Timeout
		}
		if a.Kind == OutgoingRpc {
			if ack, ok := a.Msg.(AppendEntriesAck); ok {
				sawAck = true
				require.True(t, ack.Success)
			}
		}
	}
	require.True(t, sawTimeout)
	require.True(t, sawAck)
	// "Reset" means a fresh draw from [min,max), not a reuse of the
	// timeout this Follower already started with.
	require.NotEqual(t, 200*time.Millisecond, newTimeout)
}

// TestAppendEntriesIdempotent covers spec §8's idempotence property: two
// identical AppendEntries delivered back to back each produce their own
// success=true ack, and neither corrupts the Follower's view of who the
// leader is.
func TestAppendEntriesIdempotent(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(1, 2, 3)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	n := NewFollower(cfg, now, 200*time.Millisecond)

	ae := AppendEntries{RequestId: NewRequestId(), From: 2, To: 1, Term: 0}

	n, actions, err := Step(n, NewIncomingRpc(ae), now, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Follower, n.Role)
	leaderID, ok := n.LeaderID()
	require.True(t, ok)
	require.Equal(t, ServerId(2), leaderID)
	requireSuccessfulAck(t, actions)

	n, actions, err = Step(n, NewIncomingRpc(ae), now, store, cfg, rng)
	require.NoError(t, err)
	require.Equal(t, Follower, n.Role)
	leaderID, ok = n.LeaderID()
	require.True(t, ok)
	require.Equal(t, ServerId(2), leaderID)
	requireSuccessfulAck(t, actions)
}

func requireSuccessfulAck(t *testing.T, actions []Action) {
	t.Helper()
	var sawAck bool
	for _, a := range actions {
		if a.Kind == OutgoingRpc {
			if ack, ok := a.Msg.(AppendEntriesAck); ok {
				sawAck = true
				require.True(t, ack.Success)
			}
		}
	}
	require.True(t, sawAck)
}
