package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"
	"github.com/zoobzio/beacon"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func setupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcetcd.Run(ctx, "gcr.io/etcd-development/etcd:v3.5.21")
	if err != nil {
		t.Fatalf("failed to start etcd container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ClientEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client
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

func TestWatcher_EmitsInitialValue(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := "/storefront/selection"
	if _, err := client.Put(ctx, key, `{"id": "store-1"}`); err != nil {
		t.Fatalf("failed to put initial value: %v", err)
	}

	ch, err := New(client, key).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if got := next(t, ch); got != `{"id": "store-1"}` {
		t.Errorf("expected store-1 record, got %q", got)
	}
}

func TestWatcher_MissingKeyThenPutThenDelete(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := "/storefront/selection"
	ch, err := New(client, key).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if got := next(t, ch); got != `{}` {
		t.Errorf("expected empty record for missing key, got %q", got)
	}

	if _, err := client.Put(ctx, key, `{"id": "store-2"}`); err != nil {
		t.Fatalf("failed to put value: %v", err)
	}
	if got := next(t, ch); got != `{"id": "store-2"}` {
		t.Errorf("expected store-2 record, got %q", got)
	}

	if _, err := client.Delete(ctx, key); err != nil {
		t.Fatalf("failed to delete key: %v", err)
	}
	if got := next(t, ch); got != `{}` {
		t.Errorf("expected empty record after delete, got %q", got)
	}
}

func TestWatcher_ClosesOnContextCancel(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	ch, err := New(client, "/storefront/selection").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	next(t, ch)

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

func TestPersister_RoundTrip(t *testing.T) {
	client := setupEtcd(t)
	ctx := context.Background()
	p := NewPersister(client, "/storefront/persisted")

	got, err := p.Load(ctx)
	if err != nil || got.Valid {
		t.Fatalf("expected no selection for missing key, got %v (%v)", got, err)
	}

	if err := p.Save(ctx, beacon.Some("store-3")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err = p.Load(ctx)
	if err != nil || got.ID != "store-3" {
		t.Errorf("expected store-3, got %v (%v)", got, err)
	}

	if err := p.Save(ctx, beacon.None()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	resp, err := client.Get(ctx, "/storefront/persisted")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(resp.Kvs) != 0 {
		t.Error("expected key deleted after clearing")
	}
}

func TestPersister_InvalidStoredValue(t *testing.T) {
	client := setupEtcd(t)
	ctx := context.Background()

	if _, err := client.Put(ctx, "/storefront/persisted", `{"id": "has space"}`); err != nil {
		t.Fatalf("failed to put value: %v", err)
	}
	if _, err := NewPersister(client, "/storefront/persisted").Load(ctx); err == nil {
		t.Error("expected error for invalid stored record")
	}
}

func TestLink_FollowsKey(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := "/storefront/selection"
	if _, err := client.Put(ctx, key, `{"id": "store-1"}`); err != nil {
		t.Fatalf("failed to put value: %v", err)
	}

	sel := beacon.NewSelection()
	link := beacon.NewLink(New(client, key), sel).Debounce(10 * time.Millisecond)
	if err := link.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sel.Current().ID != "store-1" {
		t.Fatalf("expected store-1, got %v", sel.Current())
	}

	if _, err := client.Put(ctx, key, `{"id": "store-2"}`); err != nil {
		t.Fatalf("failed to put value: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for sel.Current().ID != "store-2" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sel.Current().ID != "store-2" {
		t.Errorf("expected store-2, got %v", sel.Current())
	}
}
