package beacon

import (
	"context"
	"maps"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/zoobzio/capitan"
)

// InitialVersion is the counter value of a domain named in NewVersions.
const InitialVersion uint64 = 1

// VersionChange describes a single bump.
type VersionChange struct {
	Domain  string
	Version uint64
}

// Versions holds one monotonically increasing counter per data domain.
//
// A version is a cache-busting token, not a clock: counters only move
// forward within a domain and no ordering is implied across domains.
type Versions struct {
	subs *registry[VersionChange]

	mu    sync.Mutex
	table map[string]uint64
}

// NewVersions creates a table with each named domain set to InitialVersion.
// Domains not named here read as 0 until their first Bump.
func NewVersions(domains ...string) *Versions {
	table := make(map[string]uint64, len(domains))
	for _, d := range domains {
		table[d] = InitialVersion
	}
	return &Versions{
		subs:  newRegistry[VersionChange]("versions"),
		table: table,
	}
}

// Version returns the counter for domain, or 0 if it has never been seen.
func (v *Versions) Version(domain string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.table[domain]
}

// Bump increments the counter for domain and returns the new value.
// Every call is reflected: K bumps from any number of goroutines raise the
// counter by exactly K.
func (v *Versions) Bump(ctx context.Context, domain string) uint64 {
	v.mu.Lock()
	next := v.table[domain] + 1
	v.table[domain] = next
	v.subs.enqueue(VersionChange{Domain: domain, Version: next})
	v.mu.Unlock()

	capitan.Emit(ctx, VersionBumped,
		KeyDomain.Field(domain),
		KeyVersion.Field(int(next)),
	)
	v.subs.drain(ctx)
	return next
}

// Subscribe registers fn to be called after every Bump. Delivery follows the
// same rules as Selection: a Bump that overlaps another goroutine's delivery
// is handed to subscribers by that goroutine.
func (v *Versions) Subscribe(fn func(VersionChange)) Unsubscribe {
	_, unsubscribe := v.subs.add(fn)
	return unsubscribe
}

// Snapshot returns a copy of the table.
func (v *Versions) Snapshot() map[string]uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return maps.Clone(v.table)
}

// Key builds a cache key that embeds the domain's current version:
//
//	v.Key("todos", "page", "2") == "todos@3:page:2"
//
// The key changes if and only if Bump(domain) has been called since it was
// last built.
func (v *Versions) Key(domain string, parts ...string) string {
	return FormatKey(domain, v.Version(domain), parts...)
}

// FormatKey builds the key Versions.Key would produce for version.
//
// The domain and every part are query-escaped, so '@' and ':' only ever
// appear as separators and distinct arguments never share a key:
//
//	FormatKey("todos", 1, "a:b") == "todos@1:a%3Ab"
//	FormatKey("todos", 1, "a", "b") == "todos@1:a:b"
func FormatKey(domain string, version uint64, parts ...string) string {
	var b strings.Builder
	b.WriteString(url.QueryEscape(domain))
	b.WriteByte('@')
	b.WriteString(strconv.FormatUint(version, 10))
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(p))
	}
	return b.String()
}
