package sim

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raftcore/raft"
)

// fiveNodeConfigs builds the 5-node, 100ms-heartbeat, [150,300)ms
// election-timeout cluster configuration shared by every end-to-end
// scenario.
func fiveNodeConfigs() []raft.Config {
	ids := []raft.ServerId{0, 1, 2, 3, 4}
	cfgs := make([]raft.Config, 0, len(ids))
	for _, id := range ids {
		var peers []raft.ServerId
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		cfgs = append(cfgs, raft.Config{
			ServerID:                id,
			OtherServers:            peers,
			LeaderHeartbeatInterval: 100 * time.Millisecond,
			MinElectionTimeoutMs:    150,
			MaxElectionTimeoutMs:    300,
		})
	}
	return cfgs
}

func newScenarioSimulator(t *testing.T, seed int64) *Simulator {
	t.Helper()
	start := time.Unix(0, 0)
	s := NewSimulator(seed, start, 0.01, 5, 2)
	for _, cfg := range fiveNodeConfigs() {
		path := filepath.Join(t.TempDir(), "election")
		_, err := s.AddNode(cfg, path, seed)
		require.NoError(t, err)
	}
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestScenarioNoPartitionElectsLeader(t *testing.T) {
	s := newScenarioSimulator(t, 1)
	err := s.Run(300 * time.Second)
	require.NoError(t, err)
	require.True(t, s.WasLeaderElected())
}

func TestScenarioMajorityPartitionExcludesMinority(t *testing.T) {
	s := newScenarioSimulator(t, 2)
	s.Net.Partition([][]raft.ServerId{{0, 1, 3}, {2, 4}})

	err := s.Run(300 * time.Second)
	require.NoError(t, err)
	require.True(t, s.WasLeaderElected())

	leaders := s.EverElectedLeaders()
	_, twoIsLeader := leaders[2]
	_, fourIsLeader := leaders[4]
	require.False(t, twoIsLeader)
	require.False(t, fourIsLeader)
}

func TestScenarioThreeWaySplitNeverElects(t *testing.T) {
	s := newScenarioSimulator(t, 3)
	s.Net.Partition([][]raft.ServerId{{0, 1}, {2, 3}, {4}})

	err := s.Run(300 * time.Second)
	require.NoError(t, err)
	require.False(t, s.WasLeaderElected())
}

func TestScenarioHealAfterPartitionElectsLeader(t *testing.T) {
	s := newScenarioSimulator(t, 4)
	s.Net.Partition([][]raft.ServerId{{0, 1, 3}, {2, 4}})
	s.ScheduleHeal(s.Clock.Now().Add(30 * time.Second))

	err := s.Run(60 * time.Second)
	require.NoError(t, err)
	require.True(t, s.WasLeaderElected())
}

func TestScenarioFaultInjectedIOStillElects(t *testing.T) {
	s := newScenarioSimulator(t, 5)
	s.ScheduleFaultEveryN(s.Clock.Now().Add(5*time.Second), 0, 1000)

	err := s.Run(60 * time.Second)
	require.NoError(t, err)
	require.True(t, s.WasLeaderElected())
	require.Nil(t, s.Violation())
}

func TestScenarioDeterministicReplay(t *testing.T) {
	run := func() []string {
		s := newScenarioSimulator(t, 42)
		require.NoError(t, s.Run(30*time.Second))
		return s.Log.Entries()
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
}
