package observe

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/beacon"
	"github.com/zoobzio/beacon/pkg/guard"
)

type recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *recorder) sink(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) find(prefix string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if strings.HasPrefix(e.Message, prefix) {
			return e, true
		}
	}
	return Entry{}, false
}

func TestRulesCoverDistinctSignals(t *testing.T) {
	seen := make(map[string]bool)
	for _, r := range rules() {
		name := r.signal.Name()
		assert.False(t, seen[name], "duplicate rule for %s", name)
		seen[name] = true
		assert.NotEmpty(t, r.tag, "rule for %s has no tag", name)
	}
	assert.True(t, seen[beacon.SelectionChanged.Name()])
	assert.True(t, seen[beacon.VersionBumped.Name()])
	assert.True(t, seen[guard.GuardRedirected.Name()])
}

// One test installs the hooks: capitan has no way to remove them.
func TestInstall_FormatsSignals(t *testing.T) {
	rec := &recorder{}
	Install(rec.sink)

	ctx := context.Background()
	sel := beacon.NewSelection()
	sel.Select(ctx, "store-1")
	sel.Select(ctx, "store-2")

	versions := beacon.NewVersions("todos")
	versions.Bump(ctx, "todos")

	guard.New(nil).Resolve(ctx, guard.AuthState{})

	var changed Entry
	require.Eventually(t, func() bool {
		var ok bool
		changed, ok = rec.find("[selection]beacon.selection.changed previous=store-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, SeverityInfo, changed.Severity)
	assert.Contains(t, changed.Message, "selection=store-2")

	var bumped Entry
	require.Eventually(t, func() bool {
		var ok bool
		bumped, ok = rec.find("[version]beacon.version.bumped")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, bumped.Message, "domain=todos")
	assert.Contains(t, bumped.Message, "version=2")
	assert.Equal(t, 1, bumped.Verbosity)

	require.Eventually(t, func() bool {
		_, ok := rec.find("[guard]beacon.guard.resolved status=unauthenticated")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGlog_DoesNotPanic(t *testing.T) {
	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityError} {
		Glog(Entry{Severity: sev, Verbosity: 5, Message: "test"})
	}
}
