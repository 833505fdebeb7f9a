package storage

import "errors"

// PersistentStorageErrorKind classifies the two ways durable storage can
// fail. Both are fatal for the node that observes them.
type PersistentStorageErrorKind int

const (
	// IoError means a durable write or read failed at the OS/fault
	// injection layer.
	IoError PersistentStorageErrorKind = iota
	// SerdeError means a durable record failed to decode; treat as
	// corruption, fatal at startup.
	SerdeError
)

func (k PersistentStorageErrorKind) String() string {
	switch k {
	case IoError:
		return "IoError"
	case SerdeError:
		return "SerdeError"
	default:
		return "UnknownError"
	}
}

// PersistentStorageError wraps an underlying cause with its kind.
type PersistentStorageError struct {
	Kind PersistentStorageErrorKind
	Err  error
}

func (e *PersistentStorageError) Error() string {
	if e.Err == nil {
		return "storage: " + e.Kind.String()
	}
	return "storage: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *PersistentStorageError) Unwrap() error { return e.Err }

func ioError(err error) error {
	return &PersistentStorageError{Kind: IoError, Err: err}
}

func serdeError(err error) error {
	return &PersistentStorageError{Kind: SerdeError, Err: err}
}

// ErrLogUnimplemented is the value UnimplementedLog's append/query
// operations panic with in the election-only core. Log replication beyond empty heartbeats is a
// stub; any caller path that reaches these signals an internal error.
var ErrLogUnimplemented = errors.New("storage: log replication is not implemented in the election-only core")
