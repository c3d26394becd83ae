// Package testing provides test utilities for code built on beacon.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/beacon"
)

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForState waits until the link reaches the expected state or timeout occurs.
func WaitForState(t *testing.T, l *beacon.Link, expected beacon.State, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return l.State() == expected
	})
}

// RequireState fails the test immediately if the link is not in the expected state.
func RequireState(t *testing.T, l *beacon.Link, expected beacon.State) {
	t.Helper()
	if got := l.State(); got != expected {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
}

// RequireSelection fails the test unless sel currently selects id.
// An empty id requires that nothing is selected.
func RequireSelection(t *testing.T, sel *beacon.Selection, id string) {
	t.Helper()
	got := sel.Current()
	if id == "" {
		if got.Valid {
			t.Fatalf("expected no selection, got %s", got)
		}
		return
	}
	if !got.Valid || got.ID != id {
		t.Fatalf("expected selection %s, got %s", id, got)
	}
}

// NewTestLink creates a sync-mode link feeding sel from a buffered channel.
// Send the initial payload before calling Start, then drive each further
// payload with Process.
func NewTestLink(t *testing.T, sel *beacon.Selection, opts ...beacon.Option) (*beacon.Link, chan<- []byte) {
	t.Helper()
	ch := make(chan []byte, 10)
	l := beacon.NewLink(beacon.NewSyncChannelWatcher(ch), sel, opts...).SyncMode()
	return l, ch
}

// Recorder collects events delivered to a subscriber. It is safe for use
// from the notifying goroutine and the test goroutine at once.
type Recorder[E any] struct {
	mu     sync.Mutex
	events []E
}

// Record returns a callback that appends to r.
func (r *Recorder[E]) Record(e E) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder[E]) Events() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]E, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// RecordSelection subscribes a Recorder to sel until the test ends.
func RecordSelection(t *testing.T, sel *beacon.Selection) *Recorder[beacon.Choice] {
	t.Helper()
	r := &Recorder[beacon.Choice]{}
	t.Cleanup(sel.Subscribe(r.Record))
	return r
}

// RecordVersions subscribes a Recorder to v until the test ends.
func RecordVersions(t *testing.T, v *beacon.Versions) *Recorder[beacon.VersionChange] {
	t.Helper()
	r := &Recorder[beacon.VersionChange]{}
	t.Cleanup(v.Subscribe(r.Record))
	return r
}

// Context returns a context canceled when the test ends.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
