package raft

import (
	"math/rand"
	"time"

	"raftcore/storage"
)

// Connector is the subset of transport.Connector the event loop needs.
// Declared here rather than imported from package transport to keep the
// dependency edge pointing the direction spec'd: transport depends on
// raft's message types, not the reverse.
type Connector interface {
	WaitForNextIncomingMessage(maxWait time.Duration) (Message, error)
	EnqueueOutgoingRequest(req Message) error
	EnqueueReply(reply Message) error
}

// StateEvent is published once per loop iteration for observability. The
// core never assumes delivery: Push may discard it.
type StateEvent struct {
	ServerID      ServerId
	Role          Role
	CurrentTerm   TermIndex
	VotedFor      *ServerId
	LeaderForTerm *ServerId
}

// EventSink receives one StateEvent per driven step. Push must not block
// the loop; a slow or buffering sink is the implementation's problem to
// solve, not the loop's.
type EventSink interface {
	Push(StateEvent)
}

// noopSink discards every event; used when the embedder supplies none.
type noopSink struct{}

func (noopSink) Push(StateEvent) {}

// Loop owns one node's run: its role, its storage, its transport, its
// config, and its PRNG. Run drives it until a storage error or a
// transport shutdown ends the node.
type Loop struct {
	node      Node
	store     *storage.ElectionStore
	transport Connector
	cfg       Config
	rng       *rand.Rand
	sink      EventSink
	logger    *Logger
	maxWait   time.Duration
	now       func() time.Time
}

// NewLoop builds a Loop starting in the Follower role with a freshly
// seeded election timeout. now is the clock the loop reads for Tick
// events; pass time.Now in production and a virtual-clock closure under
// the simulator, so both share one notion of elapsed time with the
// transport they were built against.
func NewLoop(cfg Config, store *storage.ElectionStore, conn Connector, rng *rand.Rand, sink EventSink, logger *Logger, now func() time.Time) *Loop {
	if sink == nil {
		sink = noopSink{}
	}
	start := now()
	timeout := randomElectionTimeout(rng, cfg)
	return &Loop{
		node:      NewFollower(cfg, start, timeout),
		store:     store,
		transport: conn,
		cfg:       cfg,
		rng:       rng,
		sink:      sink,
		logger:    logger,
		maxWait:   timeout,
		now:       now,
	}
}

// Run drives the loop until a storage failure or transport shutdown.
// Both are expected terminal conditions, not programmer errors: Run
// returns the error that ended the node rather than panicking.
func (l *Loop) Run() error {
	for {
		if err := l.runOnce(); err != nil {
			return err
		}
	}
}

func (l *Loop) runOnce() error {
	waitStart := l.now()
	msg, err := l.transport.WaitForNextIncomingMessage(l.maxWait)
	if err != nil {
		return err
	}

	tickNow := l.now()
	prevNode := l.node
	prevTerm := TermIndex(l.store.CurrentTerm())
	node, actions, err := Step(l.node, NewTick(tickNow), tickNow, l.store, l.cfg, l.rng)
	if err != nil {
		return err
	}
	l.node = node
	l.logTransition(prevNode, prevTerm)

	if msg != nil {
		l.logIncoming(msg)
		prevNode = l.node
		prevTerm = TermIndex(l.store.CurrentTerm())
		node, rpcActions, err := Step(l.node, NewIncomingRpc(msg), tickNow, l.store, l.cfg, l.rng)
		if err != nil {
			return err
		}
		l.node = node
		l.logTransition(prevNode, prevTerm)
		actions = append(actions, rpcActions...)
	}

	elapsed := l.now().Sub(waitStart)
	l.maxWait -= elapsed
	if l.maxWait < 0 {
		l.maxWait = 0
	}

	if err := l.drain(actions); err != nil {
		return err
	}

	l.publish()
	return nil
}

// logTransition narrates a role change detected between prev and the
// loop's current node, using whichever specialized helper fits the
// transition; a same-role step logs nothing.
func (l *Loop) logTransition(prev Node, prevTerm TermIndex) {
	if prev.Role == l.node.Role {
		return
	}
	newTerm := TermIndex(l.store.CurrentTerm())

	switch {
	case prev.Role != Candidate && l.node.Role == Candidate:
		l.logger.LogElectionTimeout()
		l.logger.LogElectionStart(uint64(newTerm))
	case prev.Role == Candidate && l.node.Role == Leader:
		l.logger.LogElectionWon(uint64(newTerm), len(prev.candidate.votesReceived)+1, l.cfg.Quorum())
	case l.node.Role == Follower && newTerm > prevTerm:
		l.logger.LogStepDown(uint64(prevTerm), uint64(newTerm))
	}
	l.logger.LogStateChange(prev.Role, l.node.Role, uint64(newTerm))
}

// logIncoming narrates a message as it arrives, before Step processes it.
func (l *Loop) logIncoming(msg Message) {
	ae, ok := msg.(AppendEntries)
	if !ok {
		return
	}
	if len(ae.Entries) == 0 {
		l.logger.LogHeartbeatReceived(ae.From, uint64(ae.Term))
		return
	}
	l.logger.LogAppendEntries(ae.From, uint64(ae.Term), uint64(ae.PrevLogIndex), len(ae.Entries))
}

// drain applies actions in order: the last SetNextTimeout seen wins, and
// every OutgoingRpc is forwarded to the transport as a request or a
// reply depending on its message type. The role machine never marks
// this distinction explicitly; replies are exactly Vote and
// AppendEntriesAck, requests are RequestVote and AppendEntries.
func (l *Loop) drain(actions []Action) error {
	var heartbeats int
	var heartbeatTerm TermIndex
	for _, a := range actions {
		switch a.Kind {
		case SetNextTimeout:
			l.maxWait = a.Timeout
		case OutgoingRpc:
			switch m := a.Msg.(type) {
			case Vote:
				if m.VoteGranted {
					l.logger.LogVoteGranted(m.To, uint64(m.Term))
				} else {
					l.logger.LogVoteDenied(m.To, uint64(m.Term), "stale term, already voted, or no longer candidate")
				}
			case AppendEntries:
				heartbeats++
				heartbeatTerm = m.Term
			}
			if err := l.send(a.Msg); err != nil {
				return err
			}
		}
	}
	if heartbeats > 0 {
		l.logger.LogHeartbeatSent(uint64(heartbeatTerm), heartbeats)
	}
	return nil
}

func (l *Loop) send(msg Message) error {
	switch msg.(type) {
	case Vote, AppendEntriesAck:
		return l.transport.EnqueueReply(msg)
	default:
		return l.transport.EnqueueOutgoingRequest(msg)
	}
}

func (l *Loop) publish() {
	ev := StateEvent{
		ServerID:    l.node.ServerID(),
		Role:        l.node.Role,
		CurrentTerm: TermIndex(l.store.CurrentTerm()),
	}
	if votedFor, ok := l.store.VotedForInCurrentTerm(); ok {
		id := ServerId(votedFor)
		ev.VotedFor = &id
	}
	if leader, ok := l.node.LeaderID(); ok {
		ev.LeaderForTerm = &leader
	}
	l.sink.Push(ev)
}
