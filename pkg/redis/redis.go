// Package redis connects a beacon.Selection to a Redis key.
//
// Watcher follows the key with keyspace notifications and feeds a
// beacon.Link. Persister stores the selection record under the key so that
// a restarted process can restore it.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/beacon"
)

// cleared is emitted when the key is deleted or expires.
var cleared = []byte(`{}`)

// Watcher watches a Redis key holding a selection record. Requires
// keyspace notifications:
//
//	CONFIG SET notify-keyspace-events KEA
type Watcher struct {
	client *redis.Client
	key    string
	db     int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDB sets the database number used in the keyspace channel name.
// Defaults to 0. It must match the client's database.
func WithDB(db int) Option {
	return func(w *Watcher) {
		w.db = db
	}
}

// New creates a Watcher for key.
func New(client *redis.Client, key string, opts ...Option) *Watcher {
	w := &Watcher{
		client: client,
		key:    key,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Channel returns the keyspace channel the watcher subscribes to.
func (w *Watcher) Channel() string {
	return fmt.Sprintf("__keyspace@%d__:%s", w.db, w.key)
}

// Watch subscribes to the key's keyspace channel. It emits the current value
// (or an empty record if the key is absent), then the new value after every
// write, and an empty record when the key is deleted or expires.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	pubsub := w.client.Subscribe(ctx, w.Channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

		val, err := w.read(ctx)
		if err != nil {
			return
		}
		if !send(ctx, out, val) {
			return
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload []byte
				switch msg.Payload {
				case "set", "setex", "psetex", "setnx", "getset", "getex":
					payload, err = w.read(ctx)
					if err != nil {
						continue
					}
				case "del", "expired", "evicted":
					payload = cleared
				default:
					continue
				}
				if !send(ctx, out, payload) {
					return
				}
			}
		}
	}()

	return out, nil
}

func (w *Watcher) read(ctx context.Context) ([]byte, error) {
	val, err := w.client.Get(ctx, w.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cleared, nil
	}
	return val, err
}

func send(ctx context.Context, out chan<- []byte, val []byte) bool {
	select {
	case out <- val:
		return true
	case <-ctx.Done():
		return false
	}
}

// Persister stores the selection as a JSON record under a Redis key.
type Persister struct {
	client *redis.Client
	key    string
}

// NewPersister creates a Persister for key.
func NewPersister(client *redis.Client, key string) *Persister {
	return &Persister{client: client, key: key}
}

// Load returns the stored selection. A missing key is no selection.
func (p *Persister) Load(ctx context.Context) (beacon.Choice, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return beacon.None(), nil
	}
	if err != nil {
		return beacon.None(), fmt.Errorf("failed to read %s: %w", p.key, err)
	}

	c, err := beacon.DecodeRecord(data)
	if err != nil {
		return beacon.None(), fmt.Errorf("invalid selection in %s: %w", p.key, err)
	}
	return c, nil
}

// Save writes c. Clearing the selection deletes the key.
func (p *Persister) Save(ctx context.Context, c beacon.Choice) error {
	if !c.Valid {
		if err := p.client.Del(ctx, p.key).Err(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p.key, err)
		}
		return nil
	}

	data, err := beacon.EncodeRecord(c)
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.key, err)
	}
	return nil
}

var (
	_ beacon.Watcher   = (*Watcher)(nil)
	_ beacon.Persister = (*Persister)(nil)
)
