// Package zookeeper connects a beacon.Selection to a ZooKeeper node using
// one-shot data watches.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/beacon"
)

// cleared is emitted when the node is missing or deleted.
var cleared = []byte(`{}`)

// DefaultRetryDelay is how long the watcher waits after a failed read.
const DefaultRetryDelay = time.Second

// Watcher watches a ZooKeeper node holding a selection record.
type Watcher struct {
	conn       *zk.Conn
	path       string
	retryDelay time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithRetryDelay sets the pause after a failed read.
func WithRetryDelay(d time.Duration) Option {
	return func(w *Watcher) {
		w.retryDelay = d
	}
}

// New creates a Watcher for path.
func New(conn *zk.Conn, path string, opts ...Option) *Watcher {
	w := &Watcher{
		conn:       conn,
		path:       path,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch emits the node's data (an empty record if the node is missing) and
// re-arms the watch after every event. A deleted node emits an empty record
// once and the watcher waits for it to be created again. The channel closes
// when ctx is done or the connection is closed.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		missing := false
		for {
			data, _, events, err := w.conn.GetW(w.path)
			switch {
			case errors.Is(err, zk.ErrNoNode):
				if !missing {
					missing = true
					if !send(ctx, out, cleared) {
						return
					}
				}
				exists, _, existsEvents, err := w.conn.ExistsW(w.path)
				if err != nil {
					if !w.pause(ctx, err) {
						return
					}
					continue
				}
				if exists {
					continue
				}
				events = existsEvents
			case err != nil:
				if !w.pause(ctx, err) {
					return
				}
				continue
			default:
				missing = false
				if !send(ctx, out, data) {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-events:
			}
		}
	}()

	return out, nil
}

// pause waits before a retry. It returns false if the watcher should stop.
func (w *Watcher) pause(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, zk.ErrClosing) || errors.Is(err, zk.ErrConnectionClosed) {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.retryDelay):
		return true
	}
}

func send(ctx context.Context, out chan<- []byte, val []byte) bool {
	select {
	case out <- val:
		return true
	case <-ctx.Done():
		return false
	}
}

// Persister stores the selection as a JSON record in a ZooKeeper node. The
// parent node must exist.
type Persister struct {
	conn *zk.Conn
	path string
	acl  []zk.ACL
}

// NewPersister creates a Persister for path. Nodes it creates are open to
// everyone; pass acl to restrict them.
func NewPersister(conn *zk.Conn, path string, acl ...zk.ACL) *Persister {
	if len(acl) == 0 {
		acl = zk.WorldACL(zk.PermAll)
	}
	return &Persister{conn: conn, path: path, acl: acl}
}

// Load returns the stored selection. A missing node is no selection.
func (p *Persister) Load(_ context.Context) (beacon.Choice, error) {
	data, _, err := p.conn.Get(p.path)
	if errors.Is(err, zk.ErrNoNode) {
		return beacon.None(), nil
	}
	if err != nil {
		return beacon.None(), fmt.Errorf("failed to read %s: %w", p.path, err)
	}
	c, err := beacon.DecodeRecord(data)
	if err != nil {
		return beacon.None(), fmt.Errorf("invalid selection in %s: %w", p.path, err)
	}
	return c, nil
}

// Save writes c, creating the node if needed. Clearing the selection
// deletes the node.
func (p *Persister) Save(_ context.Context, c beacon.Choice) error {
	if !c.Valid {
		if err := p.conn.Delete(p.path, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("failed to delete %s: %w", p.path, err)
		}
		return nil
	}

	data, err := beacon.EncodeRecord(c)
	if err != nil {
		return err
	}
	_, err = p.conn.Set(p.path, data, -1)
	if errors.Is(err, zk.ErrNoNode) {
		_, err = p.conn.Create(p.path, data, 0, p.acl)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p.path, err)
	}
	return nil
}

var (
	_ beacon.Watcher   = (*Watcher)(nil)
	_ beacon.Persister = (*Persister)(nil)
)
