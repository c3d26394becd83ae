// Package consul connects a beacon.Selection to a Consul KV key using
// blocking queries.
package consul

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/beacon"
)

// cleared is emitted when the key is deleted.
var cleared = []byte(`{}`)

// DefaultRetryDelay is how long the watcher waits after a failed query.
const DefaultRetryDelay = time.Second

// Watcher watches a Consul KV key holding a selection record.
type Watcher struct {
	client     *api.Client
	key        string
	retryDelay time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithRetryDelay sets the pause after a failed blocking query.
func WithRetryDelay(d time.Duration) Option {
	return func(w *Watcher) {
		w.retryDelay = d
	}
}

// New creates a Watcher for key.
func New(client *api.Client, key string, opts ...Option) *Watcher {
	w := &Watcher{
		client:     client,
		key:        key,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch emits the key's current value (an empty record if absent), then a
// value each time the key's modify index advances. A deleted key emits an
// empty record once.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	kv := w.client.KV()

	pair, meta, err := kv.Get(w.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		lastIndex := meta.LastIndex
		present := pair != nil
		if !send(ctx, out, value(pair)) {
			return
		}

		for {
			opts := (&api.QueryOptions{WaitIndex: lastIndex}).WithContext(ctx)
			pair, meta, err := kv.Get(w.key, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.retryDelay):
				}
				continue
			}

			if meta.LastIndex <= lastIndex {
				continue
			}
			lastIndex = meta.LastIndex

			// The index also advances for unrelated deletes; only the
			// first missing read after a present one is a clear.
			if pair == nil && !present {
				continue
			}
			present = pair != nil
			if !send(ctx, out, value(pair)) {
				return
			}
		}
	}()

	return out, nil
}

func value(pair *api.KVPair) []byte {
	if pair == nil {
		return cleared
	}
	return pair.Value
}

func send(ctx context.Context, out chan<- []byte, val []byte) bool {
	select {
	case out <- val:
		return true
	case <-ctx.Done():
		return false
	}
}

// Persister stores the selection as a JSON record under a Consul KV key.
type Persister struct {
	client *api.Client
	key    string
}

// NewPersister creates a Persister for key.
func NewPersister(client *api.Client, key string) *Persister {
	return &Persister{client: client, key: key}
}

// Load returns the stored selection. A missing key is no selection.
func (p *Persister) Load(ctx context.Context) (beacon.Choice, error) {
	pair, _, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return beacon.None(), fmt.Errorf("failed to read %s: %w", p.key, err)
	}
	if pair == nil {
		return beacon.None(), nil
	}
	c, err := beacon.DecodeRecord(pair.Value)
	if err != nil {
		return beacon.None(), fmt.Errorf("invalid selection in %s: %w", p.key, err)
	}
	return c, nil
}

// Save writes c. Clearing the selection deletes the key.
func (p *Persister) Save(ctx context.Context, c beacon.Choice) error {
	opts := (&api.WriteOptions{}).WithContext(ctx)
	if !c.Valid {
		if _, err := p.client.KV().Delete(p.key, opts); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p.key, err)
		}
		return nil
	}
	data, err := beacon.EncodeRecord(c)
	if err != nil {
		return err
	}
	if _, err := p.client.KV().Put(&api.KVPair{Key: p.key, Value: data}, opts); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.key, err)
	}
	return nil
}

var (
	_ beacon.Watcher   = (*Watcher)(nil)
	_ beacon.Persister = (*Persister)(nil)
)
