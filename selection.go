package beacon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
)

// Selection holds the currently selected entity and notifies subscribers
// when it changes.
//
// A Selection is meant to live for the whole process. Construct one with
// NewSelection, configure it with the chainable methods, optionally call
// Restore, then share the pointer with every consumer.
//
// Notifications are delivered synchronously on the goroutine that called
// Set, unless another goroutine is already delivering. In that case Set
// queues its notification and returns at once, and the delivering goroutine
// hands it to subscribers after the ones ahead of it. A Set made from inside
// a subscriber is queued the same way. Either way subscribers observe
// mutations in the order they happened.
type Selection struct {
	subs         *registry[Choice]
	persister    Persister
	alwaysNotify bool

	mu      sync.Mutex
	current Choice

	// saveMu orders writes to the persister; each write stores the value
	// current at that moment, so the last write wins.
	saveMu    sync.Mutex
	lastError atomic.Pointer[error]
}

// NewSelection creates a Selection with nothing selected.
func NewSelection() *Selection {
	return &Selection{
		subs: newRegistry[Choice]("selection"),
	}
}

// AlwaysNotify makes Set notify subscribers even when the new value equals
// the current one. By default unchanged values are not re-announced.
// Must be called before the Selection is shared.
func (s *Selection) AlwaysNotify() *Selection {
	s.alwaysNotify = true
	return s
}

// Persist sets the Persister used by Restore and written on every change.
// Must be called before the Selection is shared.
func (s *Selection) Persist(p Persister) *Selection {
	s.persister = p
	return s
}

// Restore loads the persisted selection and makes it current. Subscribers
// registered before Restore are notified if the value changed.
// Without a Persister, Restore does nothing.
func (s *Selection) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	c, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore selection: %w", err)
	}
	c = c.normalize()
	s.apply(ctx, c, false)
	capitan.Emit(ctx, SelectionRestored,
		KeySelection.Field(c.ID),
	)
	return nil
}

// Current returns the current selection.
func (s *Selection) Current() Choice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the current selection.
func (s *Selection) Set(ctx context.Context, c Choice) {
	s.apply(ctx, c.normalize(), true)
}

// Select is shorthand for Set(ctx, Some(id)).
func (s *Selection) Select(ctx context.Context, id string) {
	s.Set(ctx, Some(id))
}

// Clear is shorthand for Set(ctx, None()).
func (s *Selection) Clear(ctx context.Context) {
	s.Set(ctx, None())
}

// Subscribe registers fn for future changes and returns its release handle.
// fn is not called with the current value; read Current for that.
func (s *Selection) Subscribe(fn func(Choice)) Unsubscribe {
	_, unsubscribe := s.subs.add(fn)
	return unsubscribe
}

// Subscribers returns the number of live subscriptions.
func (s *Selection) Subscribers() int {
	return s.subs.len()
}

// LastError returns the last persistence error, or nil.
func (s *Selection) LastError() error {
	ptr := s.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// apply stores c and fans it out. The enqueue happens under the state lock so
// that notification order always matches mutation order.
func (s *Selection) apply(ctx context.Context, c Choice, save bool) {
	s.mu.Lock()
	prev := s.current
	changed := !prev.Equal(c)
	if !changed && !s.alwaysNotify {
		s.mu.Unlock()
		return
	}
	s.current = c
	s.subs.enqueue(c)
	s.mu.Unlock()

	if changed {
		capitan.Emit(ctx, SelectionChanged,
			KeyPrevious.Field(prev.ID),
			KeySelection.Field(c.ID),
		)
		if save && s.persister != nil {
			s.save(ctx)
		}
	}

	s.subs.drain(ctx)
}

func (s *Selection) save(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	c := s.Current()
	if err := s.persister.Save(ctx, c); err != nil {
		e := fmt.Errorf("failed to persist selection: %w", err)
		s.lastError.Store(&e)
		capitan.Emit(ctx, SelectionPersistFailed,
			KeySelection.Field(c.ID),
			KeyError.Field(err.Error()),
		)
		return
	}
	s.lastError.Store(nil)
}
