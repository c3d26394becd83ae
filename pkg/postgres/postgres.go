// Package postgres relays PostgreSQL LISTEN/NOTIFY events into a
// beacon.Versions table.
//
// Tables whose rows back cached queries get a trigger that notifies the
// relay's channel with the domain name as payload. Each notification bumps
// that domain, so every cache key derived from it changes.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/beacon"
	"github.com/zoobzio/capitan"
)

// DefaultChannel is the notification channel used when none is configured.
const DefaultChannel = "beacon_versions"

var (
	// RelayNotified is emitted for every notification received.
	RelayNotified = capitan.NewSignal(
		"beacon.postgres.notified",
		"Version notification received from PostgreSQL",
	)

	// RelayIgnored is emitted when a notification names a domain the relay
	// does not accept.
	RelayIgnored = capitan.NewSignal(
		"beacon.postgres.ignored",
		"Version notification ignored",
	)

	// KeyChannel is the LISTEN channel.
	KeyChannel = capitan.NewStringKey("channel")
)

// Relay listens on a channel and bumps the domain named by each payload.
type Relay struct {
	pool     *pgxpool.Pool
	versions *beacon.Versions
	channel  string
	allowed  map[string]struct{}
}

// Option configures a Relay.
type Option func(*Relay)

// WithChannel sets the LISTEN channel. Defaults to DefaultChannel.
func WithChannel(channel string) Option {
	return func(r *Relay) {
		r.channel = channel
	}
}

// WithDomains restricts the relay to the given domains. Notifications for
// any other domain are ignored. By default every domain is accepted.
func WithDomains(domains ...string) Option {
	return func(r *Relay) {
		r.allowed = make(map[string]struct{}, len(domains))
		for _, d := range domains {
			r.allowed[d] = struct{}{}
		}
	}
}

// New creates a Relay that bumps versions.
func New(pool *pgxpool.Pool, versions *beacon.Versions, opts ...Option) *Relay {
	r := &Relay{
		pool:     pool,
		versions: versions,
		channel:  DefaultChannel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Channel returns the LISTEN channel.
func (r *Relay) Channel() string {
	return r.channel
}

// Listen acquires a dedicated connection and issues LISTEN. The returned
// function runs the relay loop until ctx is done and releases the
// connection. Splitting the two lets callers know the subscription is in
// place before notifications are sent.
func (r *Relay) Listen(ctx context.Context) (func() error, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{r.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", r.channel, err)
	}

	return func() error {
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed waiting for notification: %w", err)
			}
			r.handle(ctx, n.Payload)
		}
	}, nil
}

// Run listens and relays until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	loop, err := r.Listen(ctx)
	if err != nil {
		return err
	}
	return loop()
}

func (r *Relay) handle(ctx context.Context, payload string) {
	domain := strings.TrimSpace(payload)
	capitan.Emit(ctx, RelayNotified,
		KeyChannel.Field(r.channel),
		beacon.KeyDomain.Field(domain),
	)

	if domain == "" {
		capitan.Emit(ctx, RelayIgnored, KeyChannel.Field(r.channel), beacon.KeyDomain.Field(domain))
		return
	}
	if r.allowed != nil {
		if _, ok := r.allowed[domain]; !ok {
			capitan.Emit(ctx, RelayIgnored, KeyChannel.Field(r.channel), beacon.KeyDomain.Field(domain))
			return
		}
	}
	r.versions.Bump(ctx, domain)
}

// InstallTrigger creates a statement-level trigger on table that notifies
// channel with domain after every INSERT, UPDATE or DELETE.
//
//	CREATE TRIGGER beacon_todos AFTER INSERT OR UPDATE OR DELETE ON todos
//	    FOR EACH STATEMENT EXECUTE FUNCTION beacon_notify('beacon_versions', 'todos');
func InstallTrigger(ctx context.Context, pool *pgxpool.Pool, table, channel, domain string) error {
	const fn = `
		CREATE OR REPLACE FUNCTION beacon_notify() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify(TG_ARGV[0], TG_ARGV[1]);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql;`
	if _, err := pool.Exec(ctx, fn); err != nil {
		return fmt.Errorf("failed to create notify function: %w", err)
	}

	name := pgx.Identifier{"beacon_" + table}.Sanitize()
	tbl := pgx.Identifier{table}.Sanitize()
	stmt := fmt.Sprintf(`
		DROP TRIGGER IF EXISTS %[1]s ON %[2]s;
		CREATE TRIGGER %[1]s AFTER INSERT OR UPDATE OR DELETE ON %[2]s
			FOR EACH STATEMENT EXECUTE FUNCTION beacon_notify(%[3]s, %[4]s);`,
		name, tbl, quote(channel), quote(domain))
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create trigger on %s: %w", table, err)
	}
	return nil
}

// quote renders s as a SQL string literal for trigger arguments, which
// cannot be bound as parameters.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
