package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zoobzio/beacon"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
	})

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS todos (
			id SERIAL PRIMARY KEY,
			title TEXT NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("failed to setup schema: %v", err)
	}

	return pool
}

// startRelay issues LISTEN and runs the loop in the background.
func startRelay(t *testing.T, ctx context.Context, r *Relay) <-chan error {
	t.Helper()
	loop, err := r.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- loop() }()
	return done
}

func waitBump(t *testing.T, ch <-chan beacon.VersionChange) beacon.VersionChange {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for bump")
		return beacon.VersionChange{}
	}
}

func TestRelay_DefaultChannel(t *testing.T) {
	if got := New(nil, beacon.NewVersions()).Channel(); got != DefaultChannel {
		t.Errorf("expected %q, got %q", DefaultChannel, got)
	}
}

func TestRelay_BumpsOnNotify(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	versions := beacon.NewVersions("todos")
	bumps := make(chan beacon.VersionChange, 4)
	versions.Subscribe(func(c beacon.VersionChange) { bumps <- c })

	startRelay(t, ctx, New(pool, versions))

	if _, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", DefaultChannel, "todos"); err != nil {
		t.Fatalf("failed to notify: %v", err)
	}

	c := waitBump(t, bumps)
	if c.Domain != "todos" || c.Version != 2 {
		t.Errorf("unexpected change %+v", c)
	}
}

func TestRelay_TriggerBumpsOnWrite(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := InstallTrigger(ctx, pool, "todos", "todo_changes", "todos"); err != nil {
		t.Fatalf("InstallTrigger() error = %v", err)
	}

	versions := beacon.NewVersions("todos")
	bumps := make(chan beacon.VersionChange, 4)
	versions.Subscribe(func(c beacon.VersionChange) { bumps <- c })

	startRelay(t, ctx, New(pool, versions, WithChannel("todo_changes")))
	key := versions.Key("todos", "all")

	if _, err := pool.Exec(ctx, "INSERT INTO todos (title) VALUES ($1)", "ship it"); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	waitBump(t, bumps)

	if _, err := pool.Exec(ctx, "DELETE FROM todos"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	waitBump(t, bumps)

	if got := versions.Version("todos"); got != 3 {
		t.Errorf("expected version 3, got %d", got)
	}
	if versions.Key("todos", "all") == key {
		t.Error("expected cache key to change after writes")
	}
}

func TestRelay_IgnoresUnknownDomains(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	versions := beacon.NewVersions("todos")
	bumps := make(chan beacon.VersionChange, 4)
	versions.Subscribe(func(c beacon.VersionChange) { bumps <- c })

	startRelay(t, ctx, New(pool, versions, WithDomains("todos")))

	for _, payload := range []string{"users", "", "todos"} {
		if _, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", DefaultChannel, payload); err != nil {
			t.Fatalf("failed to notify: %v", err)
		}
	}

	c := waitBump(t, bumps)
	if c.Domain != "todos" {
		t.Errorf("expected only todos to bump, got %+v", c)
	}
	if got := versions.Version("users"); got != 0 {
		t.Errorf("expected users untouched, got %d", got)
	}
}

func TestRelay_StopsOnContextCancel(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := startRelay(t, ctx, New(pool, beacon.NewVersions()))
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for relay to stop")
	}
}
