// Command simdemo runs a single in-memory 5-node cluster through the
// simulator's scenario 1 (no partition, a leader is elected) and prints
// the resulting structured log. It is a demonstration, not a CLI: it
// takes no arguments and exists to show the simulator harness running
// end to end outside of a test binary.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"raftcore/raft"
	"raftcore/sim"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "simdemo:", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := os.MkdirTemp("", "simdemo")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	ids := []raft.ServerId{0, 1, 2, 3, 4}
	s := sim.NewSimulator(1, time.Unix(0, 0), 0.01, 5, 2)

	for _, id := range ids {
		var peers []raft.ServerId
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		cfg := raft.Config{
			ServerID:                id,
			OtherServers:            peers,
			LeaderHeartbeatInterval: 100 * time.Millisecond,
			MinElectionTimeoutMs:    150,
			MaxElectionTimeoutMs:    300,
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("node-%d.election", id))
		if _, err := s.AddNode(cfg, path, 1); err != nil {
			return err
		}
	}

	s.Start()
	defer s.Stop()

	if err := s.Run(300 * time.Second); err != nil {
		return fmt.Errorf("simulation aborted: %w", err)
	}

	fmt.Printf("leader elected: %v\n", s.WasLeaderElected())
	for _, line := range s.Log.Entries() {
		fmt.Println(line)
	}
	return nil
}
