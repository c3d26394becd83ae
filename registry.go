package beacon

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// Unsubscribe releases a subscription. Calling it more than once is a no-op.
// Once it returns, no new delivery to the callback starts. A delivery that
// was already entered on another goroutine may still be running.
type Unsubscribe func()

// subscription is a single registered callback with stable identity.
type subscription[E any] struct {
	id uuid.UUID
	fn func(E)

	// mu orders the active check in enter against remove.
	mu     sync.Mutex
	active bool
}

// enter reports whether a delivery may start. A true result counts the
// delivery as started even though fn has not been called yet.
func (s *subscription[E]) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// deactivate clears the active flag and reports whether it was set.
func (s *subscription[E]) deactivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.active
	s.active = false
	return was
}

// deliver invokes the callback if the subscription is still active.
// Panics are recovered so that one misbehaving subscriber cannot stall
// the fan-out for the others.
func (s *subscription[E]) deliver(ctx context.Context, source string, event E) {
	if !s.enter() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			capitan.Emit(ctx, SubscriberPanicked,
				KeySource.Field(source),
				KeySubscriber.Field(s.id.String()),
				KeyError.Field(fmt.Sprint(r)),
			)
		}
	}()
	s.fn(event)
}

// notification is a queued event with the subscribers registered at the
// moment it was published.
type notification[E any] struct {
	event E
	subs  []*subscription[E]
}

// registry is an observer registry with serialized fan-out.
//
// Events are queued in publish order and drained by one goroutine at a time.
// A publish made from inside a callback is queued behind the current
// notification rather than delivered re-entrantly.
type registry[E any] struct {
	source string

	mu       sync.Mutex
	subs     []*subscription[E]
	queue    []notification[E]
	draining bool
}

func newRegistry[E any](source string) *registry[E] {
	return &registry[E]{source: source}
}

// add registers fn and returns its release handle.
func (r *registry[E]) add(fn func(E)) (uuid.UUID, Unsubscribe) {
	s := &subscription[E]{id: uuid.New(), fn: fn, active: true}

	r.mu.Lock()
	next := slices.Clone(r.subs)
	next = append(next, s)
	r.subs = next
	r.mu.Unlock()

	return s.id, func() { r.remove(s) }
}

// remove deactivates s and drops it from future snapshots.
//
// Deactivation happens before anything else, so a fan-out that is already
// walking a snapshot containing s skips it. A delivery that passed enter
// before remove took s.mu may still be running when remove returns.
// remove never waits on the callback, which keeps it safe to call from
// inside the callback.
func (r *registry[E]) remove(s *subscription[E]) {
	if !s.deactivate() {
		return
	}

	r.mu.Lock()
	if i := slices.Index(r.subs, s); i >= 0 {
		next := slices.Clone(r.subs)
		r.subs = slices.Delete(next, i, i+1)
	}
	r.mu.Unlock()
}

// len returns the number of live subscriptions.
func (r *registry[E]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// enqueue records event against the current subscriber snapshot.
// Callers that need publish order to match mutation order call enqueue
// while holding their own state lock, then drain after releasing it.
func (r *registry[E]) enqueue(event E) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) == 0 {
		return
	}
	r.queue = append(r.queue, notification[E]{event: event, subs: r.subs})
}

// drain delivers queued notifications until the queue is empty.
//
// There is a single drainer. If another goroutine is already draining, drain
// returns immediately and the pending notifications are delivered later by
// that goroutine, under its ctx. A slow subscriber on the draining goroutine
// therefore delays notifications published by overlapping callers.
func (r *registry[E]) drain(ctx context.Context) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	for len(r.queue) > 0 {
		n := r.queue[0]
		r.queue[0] = notification[E]{}
		r.queue = r.queue[1:]
		r.mu.Unlock()

		for _, s := range n.subs {
			s.deliver(ctx, r.source, n.event)
		}

		r.mu.Lock()
	}
	r.queue = nil
	r.draining = false
	r.mu.Unlock()
}
