package sim

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// SimLog accumulates a textual, human-readable record of what the
// simulator does: queued and dropped messages, partition, heal and
// fault-injection events, injected faults, and node restarts. Message
// deliveries and node state changes are not recorded. It is the primary
// debugging artifact for a run; every entry is timestamped with the
// virtual clock reading at which it was recorded, not wall time.
type SimLog struct {
	mu      sync.Mutex
	entries []string
	stream  io.Writer
}

// NewSimLog returns an in-memory log. If stream is non-nil, every entry
// is additionally written to it as it is recorded (e.g. os.Stdout or an
// os.File opened by the caller).
func NewSimLog(stream io.Writer) *SimLog {
	return &SimLog{stream: stream}
}

func (l *SimLog) Record(now time.Time, format string, args ...interface{}) {
	line := fmt.Sprintf("[t=%s] %s", now.Format("15:04:05.000"), fmt.Sprintf(format, args...))

	l.mu.Lock()
	l.entries = append(l.entries, line)
	stream := l.stream
	l.mu.Unlock()

	if stream != nil {
		fmt.Fprintln(stream, line)
	}
}

// Entries returns a snapshot of every line recorded so far, in order.
func (l *SimLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}
