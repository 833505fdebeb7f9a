package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"raftcore/raft"
	"raftcore/storage"
)

// NodeHandle is everything the simulator owns for one node: its durable
// store, the fault injector wired into it, its logger, and its current
// connector. The connector is swapped out wholesale by restart when the
// node's thread exits; connector/exited are only ever read or written
// under the owning Simulator's mu, never a mutex of their own, so a
// restart and a Stop can never race each other.
type NodeHandle struct {
	ID       raft.ServerId
	Config   raft.Config
	Store    *storage.ElectionStore
	Injector *storage.FaultInjector
	Logger   *raft.Logger

	connector *SimConnector
	exited    chan struct{}

	rng *rand.Rand
}

func (s *Simulator) snapshot(h *NodeHandle) (*SimConnector, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.connector, h.exited
}

// eventSink adapts one node's published StateEvent stream into the
// simulator's invariant checker and its ever-elected-leader set. State
// events are not written to the structured log.
type eventSink struct {
	sim *Simulator
}

func (s eventSink) Push(ev raft.StateEvent) {
	s.sim.observe(ev)
}

// Simulator drives a fixed set of nodes to completion on a virtual
// clock: it owns the clock, the network, the event queue, and the
// invariant checker, and implements the wake-up coalescing protocol
// that lets nodes block on real channels without ever touching a real
// timer.
type Simulator struct {
	Clock *VirtualClock
	Net   *Network
	Sched *Scheduler
	Inv   *InvariantChecker
	Log   *SimLog

	mu         sync.Mutex
	nodes      map[raft.ServerId]*NodeHandle
	pending    map[raft.ServerId]time.Time
	violated   error
	everLeader map[raft.ServerId]struct{}
	stopping   bool
	wg         sync.WaitGroup
}

// NewSimulator constructs the shared clock/network/scheduler/invariant
// checker/log, but starts no nodes; call AddNode per server, then Run.
func NewSimulator(seed int64, start time.Time, baselineDropProbability, meanLatencyMs, latencyStdDev float64) *Simulator {
	rng := rand.New(rand.NewSource(seed))
	return &Simulator{
		Clock:      NewVirtualClock(start),
		Net:        NewNetwork(rng, baselineDropProbability, meanLatencyMs, latencyStdDev),
		Sched:      NewScheduler(),
		Inv:        NewInvariantChecker(),
		Log:        NewSimLog(nil),
		nodes:      make(map[raft.ServerId]*NodeHandle),
		pending:    make(map[raft.ServerId]time.Time),
		everLeader: make(map[raft.ServerId]struct{}),
	}
}

// nodeSeed derives a node-local PRNG stream from the simulator seed and
// the node's ServerId, so the whole run is reproducible from one seed
// while each node still draws independent-looking randomness.
func nodeSeed(seed int64, id raft.ServerId) int64 {
	return seed*1_000_003 + int64(id)
}

// AddNode opens cfg's durable store (fresh, at path) behind a fault
// injector and builds its SimConnector and PRNG. It starts nothing: Start
// builds each node's event loop and launches it on its own goroutine.
// Call before Start and Run.
func (s *Simulator) AddNode(cfg raft.Config, storePath string, seed int64) (*NodeHandle, error) {
	logger := raft.NewLogger(cfg.ServerID, raft.INFO)

	injector := storage.NewFaultInjector()
	injector.OnInjected(func(op string) {
		s.Log.Record(s.Clock.Now(), "node %d: fault injected on %s", cfg.ServerID, op)
		logger.LogFaultInjected(op)
	})

	store, err := storage.Open(storePath, injector)
	if err != nil {
		return nil, err
	}

	conn := newSimConnector(cfg.ServerID, s.Clock, s.Net, s)
	rng := rand.New(rand.NewSource(nodeSeed(seed, cfg.ServerID)))

	handle := &NodeHandle{
		ID:        cfg.ServerID,
		Config:    cfg,
		Store:     store,
		Injector:  injector,
		Logger:    logger,
		connector: conn,
		exited:    make(chan struct{}),
		rng:       rng,
	}

	s.mu.Lock()
	s.nodes[cfg.ServerID] = handle
	s.mu.Unlock()
	return handle, nil
}

// Start launches every added node's loop on its own goroutine, each
// supervised so the node restarts, per spec's wake-up protocol, if its
// thread ever exits while the simulation is still running.
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.nodes {
		s.wg.Add(1)
		go func(h *NodeHandle) {
			defer s.wg.Done()
			s.superviseNode(h)
		}(h)
	}
}

// superviseNode runs h's event loop to completion and, unless the
// simulator is shutting down, mints a fresh Connector and a fresh Loop
// with the same Config and restarts it on the same goroutine. This is
// the "a new transport handle is minted and a new thread started with
// the same configuration" restart path the wake-up protocol requires so
// a fault-induced exit doesn't leave a node permanently dead.
func (s *Simulator) superviseNode(h *NodeHandle) {
	for {
		conn, exited := s.snapshot(h)
		loop := raft.NewLoop(h.Config, h.Store, conn, h.rng, eventSink{sim: s}, h.Logger, s.Clock.Now)
		err := runLoop(loop)
		close(exited)

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}
		h.connector = newSimConnector(h.ID, s.Clock, s.Net, s)
		h.exited = make(chan struct{})
		s.mu.Unlock()

		s.Log.Record(s.Clock.Now(), "node %d restarting after exit: %v", h.ID, err)
	}
}

// runLoop recovers a panic out of loop.Run as a plain error so a broken
// invariant caught inside the role machine (e.g. the two-leaders-same-
// term panic) ends this node's thread the same way a storage failure
// does, without taking the whole simulator process down with it.
func runLoop(loop *raft.Loop) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return loop.Run()
}

// route is called by a SimConnector when its node enqueues an outbound
// message: sample the network, log the outcome, and schedule delivery.
func (s *Simulator) route(from raft.ServerId, msg raft.Message) error {
	to := msg.MessageTo()
	drop, latencyMs := s.Net.SampleDelivery(from, to)

	now := s.Clock.Now()
	if drop {
		s.Log.Record(now, "dropped %T from %d to %d", msg, from, to)
		if h, ok := s.nodeHandle(from); ok {
			h.Logger.LogPacketDropped(fmt.Sprintf("%T", msg), to)
		}
		return nil
	}

	at := now.Add(time.Duration(latencyMs) * time.Millisecond)
	s.Log.Record(now, "queued %T from %d to %d, arriving t=%s", msg, from, to, at.Format("15:04:05.000"))
	s.Sched.Schedule(SimEvent{At: at, Kind: SendOverNetwork, Msg: msg})
	return nil
}

// observe feeds a published StateEvent through the invariant checker,
// recording the first violation seen (if any) so Run can abort.
func (s *Simulator) observe(ev raft.StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Role == raft.Leader {
		s.everLeader[ev.ServerID] = struct{}{}
	}
	if s.violated != nil {
		return
	}
	if err := s.Inv.Observe(ev); err != nil {
		s.violated = err
	}
}

// WasLeaderElected reports whether any node was ever observed in the
// Leader role during this run.
func (s *Simulator) WasLeaderElected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.everLeader) > 0
}

// EverElectedLeaders returns the set of server ids ever observed as
// Leader during this run.
func (s *Simulator) EverElectedLeaders() map[raft.ServerId]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[raft.ServerId]struct{}, len(s.everLeader))
	for k := range s.everLeader {
		out[k] = struct{}{}
	}
	return out
}

// SchedulePartition queues a partition change to take effect at t.
func (s *Simulator) SchedulePartition(t time.Time, groups [][]raft.ServerId) {
	s.Sched.Schedule(SimEvent{At: t, Kind: PartitionNetwork, Partitions: groups})
}

// ScheduleHeal queues a partition heal to take effect at t.
func (s *Simulator) ScheduleHeal(t time.Time) {
	s.Sched.Schedule(SimEvent{At: t, Kind: HealNetworkPartition})
}

// ScheduleFaultEveryN arms target's fault injector to fail one op out of
// every n, starting at t.
func (s *Simulator) ScheduleFaultEveryN(t time.Time, target raft.ServerId, n int) {
	s.Sched.Schedule(SimEvent{At: t, Kind: InjectIOFailureEveryNOps, FaultTarget: target, FaultEveryN: n})
}

// ScheduleFaultRestore queues target's fault injector being disabled at t.
func (s *Simulator) ScheduleFaultRestore(t time.Time, target raft.ServerId) {
	s.Sched.Schedule(SimEvent{At: t, Kind: RestoreIOFunctioning, FaultTarget: target})
}

// Violation returns the first invariant violation observed so far, if any.
func (s *Simulator) Violation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violated
}

// Run drives the simulator for the given virtual duration. Per round it
// collects every live node's wake-up request, coalesces them with any
// scheduled network/fault/partition events, and advances the clock to
// whichever comes first. It stops early if an invariant is violated.
func (s *Simulator) Run(duration time.Duration) error {
	deadline := s.Clock.Now().Add(duration)

	s.primeWakeRequests()

	for s.Clock.Now().Before(deadline) {
		if err := s.Violation(); err != nil {
			return err
		}

		earliestWake, haveWake := s.earliestPending()
		earliestEvent, haveEvent := s.Sched.Peek()

		switch {
		case haveEvent && (!haveWake || !earliestEvent.At.After(earliestWake)):
			s.advanceToEvent()
		case haveWake:
			s.advanceToWake(earliestWake)
		default:
			return nil // nothing left to do and nothing scheduled
		}
	}
	return s.Violation()
}

// primeWakeRequests blocks until every node has issued its first
// WaitForNextIncomingMessage call, which happens immediately on loop
// start; this establishes the initial pending map.
func (s *Simulator) primeWakeRequests() {
	s.mu.Lock()
	handles := make([]*NodeHandle, 0, len(s.nodes))
	for _, h := range s.nodes {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		conn, exited := s.snapshot(h)
		select {
		case req := <-conn.wake:
			s.mu.Lock()
			s.pending[h.ID] = req.deadline
			s.mu.Unlock()
		case <-exited:
		}
	}
}

func (s *Simulator) earliestPending() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best time.Time
	found := false
	for id, t := range s.pending {
		if _, alive := s.nodes[id]; !alive {
			continue
		}
		if !found || t.Before(best) {
			best = t
			found = true
		}
	}
	return best, found
}

// advanceToWake implements steps 1 and 4 of the wake-up protocol:
// advance to the coalesced deadline and unpark every live node, then
// wait for each to issue its next wake request so the next round's
// pending map is complete again.
func (s *Simulator) advanceToWake(at time.Time) {
	s.Clock.SetTo(at)

	s.mu.Lock()
	handles := make([]*NodeHandle, 0, len(s.nodes))
	for _, h := range s.nodes {
		handles = append(handles, h)
	}
	s.pending = make(map[raft.ServerId]time.Time)
	s.mu.Unlock()

	conns := make([]*SimConnector, len(handles))
	exits := make([]chan struct{}, len(handles))
	for i, h := range handles {
		conns[i], exits[i] = s.snapshot(h)
		conns[i].forceUnpark()
	}
	for i, h := range handles {
		select {
		case req := <-conns[i].wake:
			s.mu.Lock()
			s.pending[h.ID] = req.deadline
			s.mu.Unlock()
		case <-exits[i]:
		}
	}
}

// advanceToEvent implements steps 3 and 5: pop the earliest scheduled
// event, advance to it, and execute its effect.
func (s *Simulator) advanceToEvent() {
	ev, ok := s.Sched.Pop()
	if !ok {
		return
	}
	s.Clock.SetTo(ev.At)

	switch ev.Kind {
	case SendOverNetwork:
		s.deliverAndRefresh(ev.Msg)
	case PartitionNetwork:
		s.Net.Partition(ev.Partitions)
		s.Log.Record(s.Clock.Now(), "network partitioned: %v", ev.Partitions)
		for _, h := range s.liveHandles() {
			h.Logger.LogPartition(groupOf(ev.Partitions, h.ID))
		}
	case HealNetworkPartition:
		s.Net.Heal()
		s.Log.Record(s.Clock.Now(), "network partition healed")
		for _, h := range s.liveHandles() {
			h.Logger.LogPartitionHealed()
		}
	case InjectIOFailureEveryNOps:
		if h, ok := s.nodeHandle(ev.FaultTarget); ok {
			h.Injector.EveryNOps(ev.FaultEveryN)
			s.Log.Record(s.Clock.Now(), "fault injection armed on node %d (every %d ops)", ev.FaultTarget, ev.FaultEveryN)
		}
	case RestoreIOFunctioning:
		if h, ok := s.nodeHandle(ev.FaultTarget); ok {
			h.Injector.RestoreFunctioning()
			s.Log.Record(s.Clock.Now(), "fault injection disabled on node %d", ev.FaultTarget)
		}
	}
}

// groupOf returns the partition group containing id, or nil if id isn't
// named in groups.
func groupOf(groups [][]raft.ServerId, id raft.ServerId) []raft.ServerId {
	for _, g := range groups {
		for _, member := range g {
			if member == id {
				return g
			}
		}
	}
	return nil
}

func (s *Simulator) nodeHandle(id raft.ServerId) (*NodeHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.nodes[id]
	return h, ok
}

func (s *Simulator) liveHandles() []*NodeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*NodeHandle, 0, len(s.nodes))
	for _, h := range s.nodes {
		out = append(out, h)
	}
	return out
}

// deliverAndRefresh hands msg to its destination's inbox, then waits for
// that one node to loop back around and issue its next wake request,
// refreshing just its entry in the pending map. Every other node's
// pending deadline is untouched: it is still legitimately waiting.
func (s *Simulator) deliverAndRefresh(msg raft.Message) {
	h, ok := s.nodeHandle(msg.MessageTo())
	if !ok {
		return
	}
	conn, exited := s.snapshot(h)
	conn.deliver(msg)

	select {
	case req := <-conn.wake:
		s.mu.Lock()
		s.pending[h.ID] = req.deadline
		s.mu.Unlock()
	case <-exited:
		s.mu.Lock()
		delete(s.pending, h.ID)
		s.mu.Unlock()
	}
}

// Stop tears down every node's connector so its loop exits via
// transport.ErrShutdown, marks the simulator as stopping so no
// supervisor restarts a node out from under the shutdown, then waits
// for all node goroutines to return.
func (s *Simulator) Stop() {
	s.mu.Lock()
	s.stopping = true
	conns := make([]*SimConnector, 0, len(s.nodes))
	stores := make([]*storage.ElectionStore, 0, len(s.nodes))
	for _, h := range s.nodes {
		conns = append(conns, h.connector)
		stores = append(stores, h.Store)
	}
	s.mu.Unlock()

	for i := range conns {
		conns[i].close()
		_ = stores[i].Close()
	}
	s.wg.Wait()
}
