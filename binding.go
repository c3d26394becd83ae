package beacon

import (
	"context"
	"sync"
)

// Binding is a scoped subscription to a Selection that keeps a local copy of
// the current value.
//
// The subscription is acquired when the Binding is created and released by
// Close. Close is safe to call any number of times, from any goroutine,
// including from inside onChange.
type Binding struct {
	onChange    func(Choice)
	unsubscribe Unsubscribe

	mu     sync.Mutex
	value  Choice
	seen   bool
	closed bool
	stop   func() bool
}

// Bind subscribes to s and captures its current value. onChange, if not nil,
// is called with every later value until Close.
func Bind(s *Selection, onChange func(Choice)) *Binding {
	b := &Binding{onChange: onChange}
	unsubscribe := s.Subscribe(b.update)

	// Subscribing first means no change can slip between the read and the
	// subscription. If a notification already landed it is at least as new
	// as this read.
	initial := s.Current()
	b.mu.Lock()
	b.unsubscribe = unsubscribe
	if !b.seen {
		b.value = initial
	}
	closed := b.closed
	b.mu.Unlock()

	if closed {
		unsubscribe()
	}
	return b
}

// Scope is Bind with the release tied to ctx. The binding is closed when ctx
// is done or when Close is called, whichever happens first.
func Scope(ctx context.Context, s *Selection, onChange func(Choice)) *Binding {
	b := Bind(s, onChange)
	stop := context.AfterFunc(ctx, b.Close)
	b.mu.Lock()
	b.stop = stop
	b.mu.Unlock()
	return b
}

// With binds to s for the duration of fn. The binding is released on every
// exit path, including a panic in fn.
func With(s *Selection, fn func(*Binding) error) error {
	b := Bind(s, nil)
	defer b.Close()
	return fn(b)
}

// Value returns the binding's copy of the selection.
func (b *Binding) Value() Choice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Closed reports whether the binding has been released.
func (b *Binding) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close releases the subscription. Only the first call has any effect.
func (b *Binding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubscribe, stop := b.unsubscribe, b.stop
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if stop != nil {
		stop()
	}
}

func (b *Binding) update(c Choice) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.value = c
	b.seen = true
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange(c)
	}
}
