package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// recordSize is the fixed on-disk size of an election record: 8 bytes
// current term, 1 byte vote-present flag, 8 bytes vote term, 8 bytes
// vote server. Fixing the size makes torn writes detectable: a sync
// either leaves exactly recordSize bytes or the next open fails to
// decode, which is reported as SerdeError rather than silently
// accepted.
const recordSize = 8 + 1 + 8 + 8

// ElectionRecord is the durable (current_term, voted_for) pair. voted_for
// is scoped by the term in which it was cast: VoteTerm/VoteServer are
// only a valid "current vote" when VoteTerm equals CurrentTerm.
type ElectionRecord struct {
	CurrentTerm uint64
	HasVote     bool
	VoteTerm    uint64
	VoteServer  uint64
}

func (r ElectionRecord) encode() []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.CurrentTerm)
	if r.HasVote {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint64(buf[9:17], r.VoteTerm)
	binary.LittleEndian.PutUint64(buf[17:25], r.VoteServer)
	return buf
}

func decodeRecord(buf []byte) (ElectionRecord, error) {
	if len(buf) != recordSize {
		return ElectionRecord{}, fmt.Errorf("election record: expected %d bytes, got %d (trailing or truncated data)", recordSize, len(buf))
	}
	var r ElectionRecord
	r.CurrentTerm = binary.LittleEndian.Uint64(buf[0:8])
	switch buf[8] {
	case 0:
		r.HasVote = false
	case 1:
		r.HasVote = true
	default:
		return ElectionRecord{}, fmt.Errorf("election record: invalid vote-present byte %d", buf[8])
	}
	r.VoteTerm = binary.LittleEndian.Uint64(buf[9:17])
	r.VoteServer = binary.LittleEndian.Uint64(buf[17:25])
	return r, nil
}

// ElectionStore is the durable (current_term, voted_for) contract
// required by the role machine. A sequence of UpdateTerm/RecordVote
// calls is only observable to peers once Sync returns successfully —
// callers must not emit an outbound reply that depends on a write until
// Sync has confirmed it landed.
//
// All I/O routes through an injector so the simulator can force
// arbitrary operations to fail; the injector is disabled (no-op) unless
// the caller explicitly arms it.
type ElectionStore struct {
	mu       sync.Mutex
	file     *os.File
	record   ElectionRecord
	injector *FaultInjector
}

// Open creates path if absent, initializing it to (term=0, no vote),
// and truncates it to the fixed record size so torn writes are
// detectable on the next open. If injector is nil, fault injection is
// disabled.
func Open(path string, injector *FaultInjector) (*ElectionStore, error) {
	if injector == nil {
		injector = NewFaultInjector()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, ioError(err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, ioError(err)
	}

	s := &ElectionStore{file: file, injector: injector}

	if info.Size() == 0 {
		s.record = ElectionRecord{}
		if err := file.Truncate(recordSize); err != nil {
			file.Close()
			return nil, ioError(err)
		}
		if err := s.syncLocked("open:init"); err != nil {
			file.Close()
			return nil, err
		}
		return s, nil
	}

	buf := make([]byte, info.Size())
	if _, err := file.ReadAt(buf, 0); err != nil {
		file.Close()
		return nil, ioError(err)
	}
	rec, err := decodeRecord(buf)
	if err != nil {
		file.Close()
		return nil, serdeError(err)
	}
	s.record = rec
	return s, nil
}

// CurrentTerm returns the durable current term.
func (s *ElectionStore) CurrentTerm() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.CurrentTerm
}

// VotedForInCurrentTerm returns the server this node voted for in the
// current term, scoped by the stored term: a vote recorded against an
// older term never leaks forward.
func (s *ElectionStore) VotedForInCurrentTerm() (server uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record.HasVote && s.record.VoteTerm == s.record.CurrentTerm {
		return s.record.VoteServer, true
	}
	return 0, false
}

// UpdateTerm sets the in-memory current term. It does not clear the
// stored vote: VotedForInCurrentTerm already stops returning a stale
// vote once CurrentTerm moves past VoteTerm, so a separate clearing
// write isn't needed when the term changes without a vote being cast.
func (s *ElectionStore) UpdateTerm(t uint64) *ElectionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.CurrentTerm = t
	return s
}

// RecordVote binds a vote for server to the current term, in memory.
func (s *ElectionStore) RecordVote(server uint64) *ElectionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.HasVote = true
	s.record.VoteTerm = s.record.CurrentTerm
	s.record.VoteServer = server
	return s
}

// Sync rewinds to offset 0, writes the record, and flushes it to durable
// storage. Failures map to IoError; a sync that is never called leaves
// prior UpdateTerm/RecordVote calls unobservable to peers.
func (s *ElectionStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked("sync")
}

func (s *ElectionStore) syncLocked(op string) error {
	if s.injector.Guard(op) {
		return ioError(fmt.Errorf("injected failure on %s", op))
	}

	buf := s.record.encode()
	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return ioError(err)
	}
	if err := s.file.Sync(); err != nil {
		return ioError(err)
	}
	return nil
}

// Close releases the underlying file handle.
func (s *ElectionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// roundTrip is a test helper exposed for serialize/deserialize equality
// checks: encode then decode without touching disk.
func roundTrip(r ElectionRecord) (ElectionRecord, error) {
	return decodeRecord(r.encode())
}
