package raft

import (
	"fmt"
	"log"
	"time"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Logger provides structured logging for a node's role machine and, in
// the simulator, its surrounding network. It is not touched by Step
// itself — Step is pure — but by the event loop and by sim, which call
// it as they apply the actions Step returns.
type Logger struct {
	nodeID ServerId
	level  LogLevel
}

// NewLogger creates a new logger for a node.
func NewLogger(nodeID ServerId, level LogLevel) *Logger {
	return &Logger{nodeID: nodeID, level: level}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level <= DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.level <= INFO {
		l.log("INFO", format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level <= WARN {
		l.log("WARN", format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.level <= ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *Logger) log(level, format string, args ...interface{}) {
	timestamp := time.Now().Format("15:04:05.000")
	prefix := fmt.Sprintf("[%s] [node=%d] [%s] ", timestamp, l.nodeID, level)
	log.Printf(prefix+format, args...)
}

// Specialized log helpers for role-machine events.

func (l *Logger) LogStateChange(oldRole, newRole Role, term uint64) {
	emoji := map[Role]string{
		Follower:  "👤",
		Candidate: "🗳️",
		Leader:    "👑",
	}
	l.Info("%s %s → %s %s (term=%d)", emoji[oldRole], oldRole, emoji[newRole], newRole, term)
}

func (l *Logger) LogElectionStart(term uint64) {
	l.Info("🗳️  starting election for term %d", term)
}

func (l *Logger) LogElectionWon(term uint64, votes, needed int) {
	l.Info("👑 won election for term %d (votes=%d/%d)", term, votes, needed)
}

func (l *Logger) LogVoteGranted(candidate ServerId, term uint64) {
	l.Info("✅ granted vote to %d for term %d", candidate, term)
}

func (l *Logger) LogVoteDenied(candidate ServerId, term uint64, reason string) {
	l.Info("❌ denied vote to %d for term %d: %s", candidate, term, reason)
}

func (l *Logger) LogHeartbeatSent(term uint64, peerCount int) {
	l.Debug("💓 sent heartbeat to %d peers (term=%d)", peerCount, term)
}

func (l *Logger) LogHeartbeatReceived(leader ServerId, term uint64) {
	l.Debug("💓 received heartbeat from %d (term=%d)", leader, term)
}

func (l *Logger) LogAppendEntries(leader ServerId, term uint64, prevLogIndex uint64, entryCount int) {
	l.Debug("📥 AppendEntries from %d (term=%d, prevIndex=%d, entries=%d)", leader, term, prevLogIndex, entryCount)
}

func (l *Logger) LogStepDown(oldTerm, newTerm uint64) {
	l.Info("⬇️  stepping down: term %d → %d", oldTerm, newTerm)
}

func (l *Logger) LogElectionTimeout() {
	l.Debug("⏰ election timeout, becoming candidate")
}

// Simulator-only helpers: the network and fault-injection model live in
// package sim, but funnel their narration through the same Logger so a
// run produces one coherent, human-readable timeline.

func (l *Logger) LogPartition(group []ServerId) {
	l.Warn("🔌 network partitioned, this node's group: %v", group)
}

func (l *Logger) LogPartitionHealed() {
	l.Info("🔌 network partition healed")
}

func (l *Logger) LogPacketDropped(kind string, to ServerId) {
	l.Debug("📉 dropped %s to %d", kind, to)
}

func (l *Logger) LogFaultInjected(op string) {
	l.Warn("💥 injected fault on storage op %q", op)
}
