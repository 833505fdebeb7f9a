package storage

import "sync"

// FaultInjector is a countdown to the next failing I/O operation, with a
// trigger callback for observability. Each ElectionStore has its own
// injector (the simulator gives every node a separate one); there is no
// process-wide counter. It is disabled by default (zero value: enabled
// false, remaining 0) so production builds never pay for it. The
// simulator is the only caller that arms it.
type FaultInjector struct {
	mu         sync.Mutex
	remaining  int
	enabled    bool
	onInjected func(op string)
}

// NewFaultInjector returns a disabled injector; Guard always succeeds
// until EveryNOps or InjectNextFailures is called.
func NewFaultInjector() *FaultInjector {
	return &FaultInjector{}
}

// InjectNextFailures arms the injector so that the n-th guarded
// operation from now fails: the n-1 before it succeed, and so does every
// one after it until the injector is armed again.
func (f *FaultInjector) InjectNextFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
	f.remaining = n
}

// RestoreFunctioning disables fault injection entirely.
func (f *FaultInjector) RestoreFunctioning() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	f.remaining = 0
}

// OnInjected registers a callback invoked synchronously each time Guard
// forces a failure, so callers can observe fault injection without
// polling.
func (f *FaultInjector) OnInjected(fn func(op string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onInjected = fn
}

// Guard decrements the counter on every call while the injector is
// enabled and the counter is positive; the call that brings it to zero
// reports a failure for op and invokes the trigger. Guard does not re-arm
// itself: later calls succeed until the injector is armed again (which
// EveryNOps does from the trigger, giving "every Nth I/O op fails").
// Returns true if the caller should fail this operation.
func (f *FaultInjector) Guard(op string) bool {
	f.mu.Lock()
	if !f.enabled || f.remaining <= 0 {
		f.mu.Unlock()
		return false
	}
	f.remaining--
	fail := f.remaining == 0
	cb := f.onInjected
	f.mu.Unlock()

	if fail && cb != nil {
		cb(op)
	}
	return fail
}

// EveryNOps re-arms Guard to fail exactly one op out of every n, forever,
// by re-invoking InjectNextFailures(n) from the injected-failure hook.
// A callback registered earlier with OnInjected is still invoked on each
// injected failure. This is how the simulator implements
// InjectIOFailureEveryNOps(n).
func (f *FaultInjector) EveryNOps(n int) {
	f.mu.Lock()
	prev := f.onInjected
	f.mu.Unlock()

	f.InjectNextFailures(n)
	f.OnInjected(func(op string) {
		if prev != nil {
			prev(op)
		}
		f.InjectNextFailures(n)
	})
}
