package kubernetes

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/beacon"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func configMap(data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "storefront",
			Namespace: "default",
		},
		Data: data,
	}
}

func next(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return string(data)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for value")
		return ""
	}
}

func TestWatcher_EmitsInitialValue_ConfigMap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(configMap(map[string]string{
		"selection.json": `{"id": "store-1"}`,
	}))

	ch, err := New(client, "default", "storefront", "selection.json").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := next(t, ch); got != `{"id": "store-1"}` {
		t.Errorf("expected store-1 record, got %q", got)
	}
}

func TestWatcher_EmitsInitialValue_Secret(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "storefront",
			Namespace: "default",
		},
		Data: map[string][]byte{
			"selection.json": []byte(`{"id": "store-9"}`),
		},
	})

	ch, err := New(client, "default", "storefront", "selection.json", WithResourceType(Secret)).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := next(t, ch); got != `{"id": "store-9"}` {
		t.Errorf("expected store-9 record, got %q", got)
	}
}

func TestWatcher_MissingResourceIsEmpty(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset()

	ch, err := New(client, "default", "storefront", "selection.json").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := next(t, ch); got != `{}` {
		t.Errorf("expected empty record, got %q", got)
	}

	if _, err := client.CoreV1().ConfigMaps("default").Create(ctx, configMap(map[string]string{
		"selection.json": `{"id": "store-2"}`,
	}), metav1.CreateOptions{}); err != nil {
		t.Fatalf("failed to create configmap: %v", err)
	}
	if got := next(t, ch); got != `{"id": "store-2"}` {
		t.Errorf("expected store-2 record, got %q", got)
	}
}

func TestWatcher_UpdateAndDelete(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(configMap(map[string]string{
		"selection.json": `{"id": "store-1"}`,
	}))
	ch, err := New(client, "default", "storefront", "selection.json").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	next(t, ch)

	updated := configMap(map[string]string{"selection.json": `{"id": "store-2"}`})
	if _, err := client.CoreV1().ConfigMaps("default").Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("failed to update configmap: %v", err)
	}
	if got := next(t, ch); got != `{"id": "store-2"}` {
		t.Errorf("expected store-2 record, got %q", got)
	}

	if err := client.CoreV1().ConfigMaps("default").Delete(ctx, "storefront", metav1.DeleteOptions{}); err != nil {
		t.Fatalf("failed to delete configmap: %v", err)
	}
	if got := next(t, ch); got != `{}` {
		t.Errorf("expected empty record after delete, got %q", got)
	}
}

func TestWatcher_UnrelatedKeyChangeNotReemitted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(configMap(map[string]string{
		"selection.json": `{"id": "store-1"}`,
	}))
	ch, err := New(client, "default", "storefront", "selection.json").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	next(t, ch)

	updated := configMap(map[string]string{
		"selection.json": `{"id": "store-1"}`,
		"other":          "value",
	})
	if _, err := client.CoreV1().ConfigMaps("default").Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("failed to update configmap: %v", err)
	}

	select {
	case data := <-ch:
		t.Errorf("unexpected value %q", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_ClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	client := fake.NewSimpleClientset(configMap(map[string]string{
		"selection.json": `{"id": "store-1"}`,
	}))
	ch, err := New(client, "default", "storefront", "selection.json").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	<-ch

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestExtract_WrongKindOrName(t *testing.T) {
	client := fake.NewSimpleClientset()
	w := New(client, "default", "storefront", "selection.json")

	if _, ok := w.extract(&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "storefront"}}); ok {
		t.Error("expected secret to be ignored by a configmap watcher")
	}
	if _, ok := w.extract(&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "other"}}); ok {
		t.Error("expected other configmap to be ignored")
	}
	if _, ok := w.extract("not a k8s object"); ok {
		t.Error("expected invalid object to be ignored")
	}
	if v, ok := w.extract(configMap(nil)); !ok || string(v) != `{}` {
		t.Errorf("expected empty record for missing key, got %q", v)
	}
}

func TestPersister_ConfigMapRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	p := NewPersister(client, "default", "storefront", "selection.json")

	if got, err := p.Load(ctx); err != nil || got.Valid {
		t.Fatalf("expected no selection, got %v (%v)", got, err)
	}

	if err := p.Save(ctx, beacon.Some("store-3")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got, err := p.Load(ctx); err != nil || got.ID != "store-3" {
		t.Errorf("expected store-3, got %v (%v)", got, err)
	}

	if err := p.Save(ctx, beacon.None()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	cm, err := client.CoreV1().ConfigMaps("default").Get(ctx, "storefront", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, ok := cm.Data["selection.json"]; ok {
		t.Error("expected key removed after clearing")
	}
}

func TestPersister_SecretRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	p := NewPersister(client, "default", "storefront", "selection.json", WithResourceType(Secret))

	if err := p.Save(ctx, beacon.Some("store-4")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got, err := p.Load(ctx); err != nil || got.ID != "store-4" {
		t.Errorf("expected store-4, got %v (%v)", got, err)
	}
}

func TestPersister_InvalidStoredValue(t *testing.T) {
	client := fake.NewSimpleClientset(configMap(map[string]string{
		"selection.json": `{"id": "has space"}`,
	}))
	p := NewPersister(client, "default", "storefront", "selection.json")

	if _, err := p.Load(context.Background()); err == nil {
		t.Error("expected error for invalid stored record")
	}
}

func TestLink_FollowsConfigMap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(configMap(map[string]string{
		"selection.json": `{"id": "store-1"}`,
	}))

	sel := beacon.NewSelection()
	link := beacon.NewLink(New(client, "default", "storefront", "selection.json"), sel).Debounce(10 * time.Millisecond)
	if err := link.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sel.Current().ID != "store-1" {
		t.Fatalf("expected store-1, got %v", sel.Current())
	}

	// Writes through the persister reach the watcher.
	if err := NewPersister(client, "default", "storefront", "selection.json").Save(ctx, beacon.Some("store-5")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for sel.Current().ID != "store-5" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sel.Current().ID != "store-5" {
		t.Errorf("expected store-5, got %v", sel.Current())
	}
}
