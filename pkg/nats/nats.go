// Package nats connects a beacon.Selection to a key in a NATS JetStream
// key-value bucket.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/beacon"
)

// cleared is emitted when the key is deleted or purged.
var cleared = []byte(`{}`)

// Watcher watches a KV key holding a selection record.
type Watcher struct {
	kv  jetstream.KeyValue
	key string
}

// New creates a Watcher for key in kv.
func New(kv jetstream.KeyValue, key string) *Watcher {
	return &Watcher{
		kv:  kv,
		key: key,
	}
}

// Watch emits the key's current value (an empty record if absent), then
// every new value, and an empty record on delete or purge.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	watcher, err := w.kv.Watch(ctx, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Stop()

		initialized := false
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				var payload []byte
				switch {
				case entry == nil:
					// End of initial values; a key that was never written
					// has produced nothing so far.
					if initialized {
						continue
					}
					payload = cleared
				case entry.Operation() == jetstream.KeyValueDelete, entry.Operation() == jetstream.KeyValuePurge:
					payload = cleared
				default:
					payload = entry.Value()
				}
				initialized = true

				select {
				case out <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Persister stores the selection as a JSON record under a KV key.
type Persister struct {
	kv  jetstream.KeyValue
	key string
}

// NewPersister creates a Persister for key in kv.
func NewPersister(kv jetstream.KeyValue, key string) *Persister {
	return &Persister{kv: kv, key: key}
}

// Load returns the stored selection. A missing or deleted key is no selection.
func (p *Persister) Load(ctx context.Context) (beacon.Choice, error) {
	entry, err := p.kv.Get(ctx, p.key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return beacon.None(), nil
	}
	if err != nil {
		return beacon.None(), fmt.Errorf("failed to read %s: %w", p.key, err)
	}
	c, err := beacon.DecodeRecord(entry.Value())
	if err != nil {
		return beacon.None(), fmt.Errorf("invalid selection in %s: %w", p.key, err)
	}
	return c, nil
}

// Save writes c. Clearing the selection deletes the key.
func (p *Persister) Save(ctx context.Context, c beacon.Choice) error {
	if !c.Valid {
		if err := p.kv.Delete(ctx, p.key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p.key, err)
		}
		return nil
	}
	data, err := beacon.EncodeRecord(c)
	if err != nil {
		return err
	}
	if _, err := p.kv.Put(ctx, p.key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.key, err)
	}
	return nil
}

var (
	_ beacon.Watcher   = (*Watcher)(nil)
	_ beacon.Persister = (*Persister)(nil)
)
