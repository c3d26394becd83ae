// Package etcd connects a beacon.Selection to an etcd key using the
// native Watch API.
package etcd

import (
	"context"
	"fmt"

	"github.com/zoobzio/beacon"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// cleared is emitted when the key is deleted.
var cleared = []byte(`{}`)

// Watcher watches an etcd key holding a selection record.
type Watcher struct {
	client *clientv3.Client
	key    string
}

// New creates a Watcher for key.
func New(client *clientv3.Client, key string) *Watcher {
	return &Watcher{
		client: client,
		key:    key,
	}
}

// Watch emits the key's current value (an empty record if absent), then
// every new value, and an empty record on delete. The watch resumes from
// the revision of the initial read so no write in between is lost.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	resp, err := w.client.Get(ctx, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		initial := cleared
		if len(resp.Kvs) > 0 {
			initial = resp.Kvs[0].Value
		}
		if !send(ctx, out, initial) {
			return
		}

		watchChan := w.client.Watch(ctx, w.key, clientv3.WithRev(resp.Header.Revision+1))
		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}
				for _, event := range watchResp.Events {
					payload := cleared
					if event.Type == clientv3.EventTypePut {
						payload = event.Kv.Value
					}
					if !send(ctx, out, payload) {
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func send(ctx context.Context, out chan<- []byte, val []byte) bool {
	select {
	case out <- val:
		return true
	case <-ctx.Done():
		return false
	}
}

// Persister stores the selection as a JSON record under an etcd key.
type Persister struct {
	client *clientv3.Client
	key    string
}

// NewPersister creates a Persister for key.
func NewPersister(client *clientv3.Client, key string) *Persister {
	return &Persister{client: client, key: key}
}

// Load returns the stored selection. A missing key is no selection.
func (p *Persister) Load(ctx context.Context) (beacon.Choice, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return beacon.None(), fmt.Errorf("failed to read %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return beacon.None(), nil
	}
	c, err := beacon.DecodeRecord(resp.Kvs[0].Value)
	if err != nil {
		return beacon.None(), fmt.Errorf("invalid selection in %s: %w", p.key, err)
	}
	return c, nil
}

// Save writes c. Clearing the selection deletes the key.
func (p *Persister) Save(ctx context.Context, c beacon.Choice) error {
	if !c.Valid {
		if _, err := p.client.Delete(ctx, p.key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p.key, err)
		}
		return nil
	}
	data, err := beacon.EncodeRecord(c)
	if err != nil {
		return err
	}
	if _, err := p.client.Put(ctx, p.key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.key, err)
	}
	return nil
}

var (
	_ beacon.Watcher   = (*Watcher)(nil)
	_ beacon.Persister = (*Persister)(nil)
)
