package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenInitializesZeroRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "election")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, uint64(0), s.CurrentTerm())
	_, ok := s.VotedForInCurrentTerm()
	require.False(t, ok)
}

func TestUpdateTermAndRecordVoteRequireSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "election")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	s.UpdateTerm(5).RecordVote(42)
	require.Equal(t, uint64(5), s.CurrentTerm())
	server, ok := s.VotedForInCurrentTerm()
	require.True(t, ok)
	require.Equal(t, uint64(42), server)

	require.NoError(t, s.Sync())
}

func TestVoteScopedToCurrentTerm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "election")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	s.UpdateTerm(1).RecordVote(7)
	require.NoError(t, s.Sync())

	// Advancing the term without a new vote must not leak the old vote.
	s.UpdateTerm(2)
	_, ok := s.VotedForInCurrentTerm()
	require.False(t, ok, "a vote recorded for an older term must not be visible after the term advances")
}

func TestSyncSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "election")
	s, err := Open(path, nil)
	require.NoError(t, err)

	s.UpdateTerm(9).RecordVote(3)
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(9), reopened.CurrentTerm())
	server, ok := reopened.VotedForInCurrentTerm()
	require.True(t, ok)
	require.Equal(t, uint64(3), server)
}

func TestUnsyncedWritesDoNotSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "election")
	s, err := Open(path, nil)
	require.NoError(t, err)

	s.UpdateTerm(9) // never synced
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(0), reopened.CurrentTerm())
}

func TestRecordRoundTrip(t *testing.T) {
	r := ElectionRecord{CurrentTerm: 17, HasVote: true, VoteTerm: 17, VoteServer: 4}
	got, err := roundTrip(r)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	r := ElectionRecord{CurrentTerm: 1}
	buf := append(r.encode(), 0xFF)
	_, err := decodeRecord(buf)
	require.Error(t, err)
}

func TestFaultInjectionForcesIoError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "election")
	injector := NewFaultInjector()
	s, err := Open(path, injector)
	require.NoError(t, err)
	defer s.Close()

	injector.InjectNextFailures(1)
	err = s.Sync()
	require.Error(t, err)

	var psErr *PersistentStorageError
	require.ErrorAs(t, err, &psErr)
	require.Equal(t, IoError, psErr.Kind)
}

func TestFaultInjectorTriggerCallback(t *testing.T) {
	injector := NewFaultInjector()
	var triggered []string
	injector.OnInjected(func(op string) { triggered = append(triggered, op) })
	injector.InjectNextFailures(2)

	require.False(t, injector.Guard("op1"))
	require.True(t, injector.Guard("op2"))
	require.Equal(t, []string{"op2"}, triggered)
	require.False(t, injector.Guard("op3"))
}

func TestEveryNOpsFailsPeriodically(t *testing.T) {
	injector := NewFaultInjector()
	injector.EveryNOps(3)

	var results []bool
	for i := 0; i < 9; i++ {
		results = append(results, injector.Guard("op"))
	}
	require.Equal(t, []bool{false, false, true, false, false, true, false, false, true}, results)
}
