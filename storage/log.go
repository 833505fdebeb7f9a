package storage

// Log is the durable write-ahead log contract for replicated commands.
// It is part of the storage interface the role machine is specified
// against, but log replication beyond empty heartbeats is out of scope
// for this core: every method here panics with ErrLogUnimplemented.
// A future replication extension implements this against a real WAL.
type Log interface {
	LastEntryIndex() (uint64, error)
	HasEntry(index uint64) (bool, error)
	Append(entries [][]byte) error
}

// UnimplementedLog satisfies Log for embedders that haven't wired a real
// write-ahead log yet. Any call panics, signalling an internal error:
// the election-only core never calls these itself.
type UnimplementedLog struct{}

func (UnimplementedLog) LastEntryIndex() (uint64, error) {
	panic(ErrLogUnimplemented)
}

func (UnimplementedLog) HasEntry(index uint64) (bool, error) {
	panic(ErrLogUnimplemented)
}

func (UnimplementedLog) Append(entries [][]byte) error {
	panic(ErrLogUnimplemented)
}
