// Package firestore connects beacon to Cloud Firestore realtime listeners.
//
// Watcher follows one document field holding the selected ID and feeds a
// beacon.Link. Persister writes the selection back to that field. Relay
// bumps a beacon.Versions domain whenever a collection changes.
package firestore

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/beacon"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultField is the document field holding the selected ID.
const DefaultField = "id"

// Watcher watches a Firestore document for selection changes. Each snapshot
// is emitted as a JSON record built from the configured field; a missing
// document or field is an empty record.
type Watcher struct {
	client     *firestore.Client
	collection string
	document   string
	field      string
}

// Option configures a Watcher or Persister.
type Option func(*target)

type target struct {
	field string
}

// WithField sets the document field holding the selected ID.
// Defaults to DefaultField.
func WithField(field string) Option {
	return func(t *target) {
		t.field = field
	}
}

func resolve(opts []Option) target {
	t := target{field: DefaultField}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// New creates a Watcher for collection/document.
func New(client *firestore.Client, collection, document string, opts ...Option) *Watcher {
	t := resolve(opts)
	return &Watcher{
		client:     client,
		collection: collection,
		document:   document,
		field:      t.field,
	}
}

// Watch starts a realtime listener on the document. The first snapshot is
// the current value.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	ref := w.client.Collection(w.collection).Doc(w.document)
	out := make(chan []byte)

	go func() {
		defer close(out)

		snapshots := ref.Snapshots(ctx)
		defer snapshots.Stop()

		for {
			snap, err := snapshots.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				continue
			}

			payload, err := encode(snap, w.field)
			if err != nil {
				continue
			}

			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// encode turns a snapshot into a JSON record.
func encode(snap *firestore.DocumentSnapshot, field string) ([]byte, error) {
	var rec beacon.Record
	if snap.Exists() {
		if v, ok := snap.Data()[field]; ok {
			switch id := v.(type) {
			case string:
				rec.ID = id
			case []byte:
				rec.ID = string(id)
			case nil:
			default:
				return nil, fmt.Errorf("field %s has unsupported type %T", field, v)
			}
		}
	}
	return json.Marshal(rec)
}

// Persister stores the selection in a document field.
type Persister struct {
	ref   *firestore.DocumentRef
	field string
}

// NewPersister creates a Persister for collection/document.
func NewPersister(client *firestore.Client, collection, document string, opts ...Option) *Persister {
	t := resolve(opts)
	return &Persister{
		ref:   client.Collection(collection).Doc(document),
		field: t.field,
	}
}

// Load returns the stored selection. A missing document is no selection.
func (p *Persister) Load(ctx context.Context) (beacon.Choice, error) {
	snap, err := p.ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return beacon.None(), nil
	}
	if err != nil {
		return beacon.None(), fmt.Errorf("failed to read %s: %w", p.ref.Path, err)
	}

	data, err := encode(snap, p.field)
	if err != nil {
		return beacon.None(), err
	}
	var rec beacon.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return beacon.None(), fmt.Errorf("failed to decode %s: %w", p.ref.Path, err)
	}
	if err := rec.Validate(); err != nil {
		return beacon.None(), err
	}
	return rec.Choice(), nil
}

// Save merges the selected ID into the document. Clearing deletes the field.
func (p *Persister) Save(ctx context.Context, c beacon.Choice) error {
	var value any = c.ID
	if !c.Valid {
		value = firestore.Delete
	}
	_, err := p.ref.Set(ctx, map[string]any{p.field: value}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p.ref.Path, err)
	}
	return nil
}

// Relay bumps a version domain whenever documents in a collection are
// added, modified or removed.
type Relay struct {
	client     *firestore.Client
	collection string
	domain     string
	versions   *beacon.Versions
}

// NewRelay creates a Relay that bumps domain in versions on every change
// to collection.
func NewRelay(client *firestore.Client, collection string, versions *beacon.Versions, domain string) *Relay {
	return &Relay{
		client:     client,
		collection: collection,
		domain:     domain,
		versions:   versions,
	}
}

// Run listens until ctx is done. The initial snapshot reflects existing
// documents and does not bump.
func (r *Relay) Run(ctx context.Context) error {
	snapshots := r.client.Collection(r.collection).Snapshots(ctx)
	defer snapshots.Stop()

	initial := true
	for {
		snap, err := snapshots.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("failed to listen on %s: %w", r.collection, err)
		}
		if initial {
			initial = false
			continue
		}
		if len(snap.Changes) > 0 {
			r.versions.Bump(ctx, r.domain)
		}
	}
}

var (
	_ beacon.Watcher   = (*Watcher)(nil)
	_ beacon.Persister = (*Persister)(nil)
)
