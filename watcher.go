package beacon

import "context"

// Watcher observes an external source of selection records and emits the
// raw bytes each time the source changes.
type Watcher interface {
	// Watch begins observing the source. The current value, if any, must be
	// sent first so a Link can apply the initial selection. The channel is
	// closed when ctx is canceled or the source fails permanently.
	Watch(ctx context.Context) (<-chan []byte, error)
}
