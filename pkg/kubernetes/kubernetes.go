// Package kubernetes connects a beacon.Selection to a data key in a
// Kubernetes ConfigMap or Secret using the Watch API.
package kubernetes

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/beacon"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// cleared is emitted when the resource or its key is missing.
var cleared = []byte(`{}`)

// DefaultRetryDelay is how long the watcher waits before re-establishing a
// failed watch.
const DefaultRetryDelay = time.Second

// ResourceType specifies the type of Kubernetes resource to watch.
type ResourceType int

const (
	// ConfigMap watches a ConfigMap resource.
	ConfigMap ResourceType = iota
	// Secret watches a Secret resource.
	Secret
)

// Resource names one data key of a ConfigMap or Secret.
type Resource struct {
	client    kubernetes.Interface
	namespace string
	name      string
	key       string
	kind      ResourceType
}

// Option configures a Watcher or Persister.
type Option func(*Resource)

// WithResourceType sets the resource type. Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(r *Resource) {
		r.kind = rt
	}
}

func newResource(client kubernetes.Interface, namespace, name, key string, opts []Option) Resource {
	r := Resource{
		client:    client,
		namespace: namespace,
		name:      name,
		key:       key,
		kind:      ConfigMap,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Watcher watches a data key holding a selection record.
type Watcher struct {
	Resource
	retryDelay time.Duration
}

// New creates a Watcher for key in the named resource.
func New(client kubernetes.Interface, namespace, name, key string, opts ...Option) *Watcher {
	return &Watcher{
		Resource:   newResource(client, namespace, name, key, opts),
		retryDelay: DefaultRetryDelay,
	}
}

// RetryDelay sets the pause before a failed watch is re-established.
func (w *Watcher) RetryDelay(d time.Duration) *Watcher {
	w.retryDelay = d
	return w
}

// Watch emits the key's current value, then a value whenever the resource
// changes. A missing resource or key emits an empty record. Consecutive
// identical values are emitted once. Failed watches are re-established
// after the retry delay.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		var last []byte
		emit := func(v []byte) bool {
			if last != nil && string(last) == string(v) {
				return true
			}
			last = v
			select {
			case out <- v:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			if err := w.watchLoop(ctx, emit); err == nil || ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
		}
	}()

	return out, nil
}

func (w *Watcher) watchLoop(ctx context.Context, emit func([]byte) bool) error {
	value, resourceVersion, err := w.read(ctx)
	if err != nil {
		return err
	}

	opts := metav1.ListOptions{
		FieldSelector:   fmt.Sprintf("metadata.name=%s", w.name),
		ResourceVersion: resourceVersion,
	}
	var watcher watch.Interface
	if w.kind == ConfigMap {
		watcher, err = w.client.CoreV1().ConfigMaps(w.namespace).Watch(ctx, opts)
	} else {
		watcher, err = w.client.CoreV1().Secrets(w.namespace).Watch(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to start watch: %w", err)
	}
	defer watcher.Stop()

	if !emit(value) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed")
			}
			switch event.Type {
			case watch.Error:
				return fmt.Errorf("watch error: %v", apierrors.FromObject(event.Object))
			case watch.Deleted:
				if !emit(cleared) {
					return nil
				}
			case watch.Added, watch.Modified:
				v, ok := w.extract(event.Object)
				if !ok {
					continue
				}
				if !emit(v) {
					return nil
				}
			}
		}
	}
}

// read returns the key's value and the resource version to watch from.
func (w *Watcher) read(ctx context.Context) ([]byte, string, error) {
	var (
		obj any
		err error
	)
	if w.kind == ConfigMap {
		obj, err = w.client.CoreV1().ConfigMaps(w.namespace).Get(ctx, w.name, metav1.GetOptions{})
	} else {
		obj, err = w.client.CoreV1().Secrets(w.namespace).Get(ctx, w.name, metav1.GetOptions{})
	}
	if apierrors.IsNotFound(err) {
		return cleared, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	value, _ := w.extract(obj)
	return value, obj.(metav1.Object).GetResourceVersion(), nil
}

// extract returns the key's value from a resource of the watched kind and
// name. A missing or empty key is an empty record.
func (w *Watcher) extract(obj any) ([]byte, bool) {
	var data []byte
	switch o := obj.(type) {
	case *corev1.ConfigMap:
		if w.kind != ConfigMap || o.Name != w.name {
			return nil, false
		}
		data = []byte(o.Data[w.key])
	case *corev1.Secret:
		if w.kind != Secret || o.Name != w.name {
			return nil, false
		}
		data = o.Data[w.key]
	default:
		return nil, false
	}
	if len(data) == 0 {
		return cleared, true
	}
	return data, true
}

// Persister stores the selection as a JSON record under a data key. The
// resource is created on first save if it does not exist.
type Persister struct {
	Resource
}

// NewPersister creates a Persister for key in the named resource.
func NewPersister(client kubernetes.Interface, namespace, name, key string, opts ...Option) *Persister {
	return &Persister{Resource: newResource(client, namespace, name, key, opts)}
}

// Load returns the stored selection. A missing resource or key is no selection.
func (p *Persister) Load(ctx context.Context) (beacon.Choice, error) {
	var data []byte
	if p.kind == ConfigMap {
		cm, err := p.client.CoreV1().ConfigMaps(p.namespace).Get(ctx, p.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return beacon.None(), nil
		}
		if err != nil {
			return beacon.None(), fmt.Errorf("failed to read configmap %s/%s: %w", p.namespace, p.name, err)
		}
		data = []byte(cm.Data[p.key])
	} else {
		s, err := p.client.CoreV1().Secrets(p.namespace).Get(ctx, p.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return beacon.None(), nil
		}
		if err != nil {
			return beacon.None(), fmt.Errorf("failed to read secret %s/%s: %w", p.namespace, p.name, err)
		}
		data = s.Data[p.key]
	}
	if len(data) == 0 {
		return beacon.None(), nil
	}
	c, err := beacon.DecodeRecord(data)
	if err != nil {
		return beacon.None(), fmt.Errorf("invalid selection in %s/%s[%s]: %w", p.namespace, p.name, p.key, err)
	}
	return c, nil
}

// Save writes c to the key. Clearing the selection removes the key.
func (p *Persister) Save(ctx context.Context, c beacon.Choice) error {
	var data []byte
	if c.Valid {
		var err error
		if data, err = beacon.EncodeRecord(c); err != nil {
			return err
		}
	}
	if p.kind == ConfigMap {
		return p.saveConfigMap(ctx, data)
	}
	return p.saveSecret(ctx, data)
}

func (p *Persister) saveConfigMap(ctx context.Context, data []byte) error {
	api := p.client.CoreV1().ConfigMaps(p.namespace)
	cm, err := api.Get(ctx, p.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if data == nil {
			return nil
		}
		cm = &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: p.name, Namespace: p.namespace},
			Data:       map[string]string{p.key: string(data)},
		}
		if _, err := api.Create(ctx, cm, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create configmap %s/%s: %w", p.namespace, p.name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read configmap %s/%s: %w", p.namespace, p.name, err)
	}

	if data == nil {
		delete(cm.Data, p.key)
	} else {
		if cm.Data == nil {
			cm.Data = map[string]string{}
		}
		cm.Data[p.key] = string(data)
	}
	if _, err := api.Update(ctx, cm, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update configmap %s/%s: %w", p.namespace, p.name, err)
	}
	return nil
}

func (p *Persister) saveSecret(ctx context.Context, data []byte) error {
	api := p.client.CoreV1().Secrets(p.namespace)
	s, err := api.Get(ctx, p.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if data == nil {
			return nil
		}
		s = &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: p.name, Namespace: p.namespace},
			Data:       map[string][]byte{p.key: data},
		}
		if _, err := api.Create(ctx, s, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create secret %s/%s: %w", p.namespace, p.name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read secret %s/%s: %w", p.namespace, p.name, err)
	}

	if data == nil {
		delete(s.Data, p.key)
	} else {
		if s.Data == nil {
			s.Data = map[string][]byte{}
		}
		s.Data[p.key] = data
	}
	if _, err := api.Update(ctx, s, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update secret %s/%s: %w", p.namespace, p.name, err)
	}
	return nil
}

var (
	_ beacon.Watcher   = (*Watcher)(nil)
	_ beacon.Persister = (*Persister)(nil)
)
