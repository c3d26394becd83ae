package beacon

import (
	"sync"
	"time"
)

// Failure is one rejected record as kept in a Link's history.
type Failure struct {
	// Stage is where processing stopped: "decode", "validate" or "pipeline".
	Stage string

	// Err is the error returned by that stage.
	Err error

	// At is the time the failure was recorded, per the Link's clock.
	At time.Time
}

// failureRing keeps the most recent failures. A nil ring records nothing.
type failureRing struct {
	mu    sync.RWMutex
	items []Failure
	head  int
	count int
}

// newFailureRing returns a ring holding up to size failures, or nil when
// size is not positive.
func newFailureRing(size int) *failureRing {
	if size <= 0 {
		return nil
	}
	return &failureRing{items: make([]Failure, size)}
}

func (r *failureRing) push(f Failure) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = f
	r.head = (r.head + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

func (r *failureRing) clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.items)
	r.head = 0
	r.count = 0
}

// all returns the recorded failures, oldest first.
func (r *failureRing) all() []Failure {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}
	size := len(r.items)
	out := make([]Failure, r.count)
	start := (r.head - r.count + size) % size
	for i := range out {
		out[i] = r.items[(start+i)%size]
	}
	return out
}
