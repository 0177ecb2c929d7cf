package kahawai

import "sync"

// Arbiter serializes ownership of the single physical encoder unit. One
// instance is shared by every encoder talking to the same hardware;
// independent instances give tests independent universes.
type Arbiter struct {
	mu     sync.Mutex
	holder int
}

// NewArbiter returns an arbiter with the hardware unowned.
func NewArbiter() *Arbiter {
	return &Arbiter{holder: -1}
}

// Acquire claims the hardware for handle and reports whether handle now
// holds it. Re-acquiring by the current holder succeeds.
func (a *Arbiter) Acquire(handle int) bool {
	if handle < 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder >= 0 && a.holder != handle {
		return false
	}
	a.holder = handle
	return true
}

// Release lets go of the hardware if handle holds it.
func (a *Arbiter) Release(handle int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == handle {
		a.holder = -1
	}
}

// Holder returns the owning handle, or -1 when the unit is free.
func (a *Arbiter) Holder() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder
}
