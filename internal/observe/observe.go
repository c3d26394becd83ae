// Package observe turns beacon signals into log lines.
//
// Install registers a capitan hook per signal. Each hook formats the event's
// fields into one line and hands it to a Sink; Glog is the production sink.
package observe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/zoobzio/beacon"
	"github.com/zoobzio/beacon/pkg/guard"
	"github.com/zoobzio/beacon/pkg/live"
	"github.com/zoobzio/beacon/pkg/notify"
	"github.com/zoobzio/beacon/pkg/postgres"
	"github.com/zoobzio/beacon/pkg/query"
	"github.com/zoobzio/capitan"
)

// Severity is the log severity of an entry.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Entry is one formatted log line.
type Entry struct {
	Severity Severity
	// Verbosity gates info entries behind -v. Zero always logs.
	Verbosity int
	Message   string
}

// Sink receives entries. It must be safe for concurrent use.
type Sink func(Entry)

// Glog writes entries through glog.
func Glog(e Entry) {
	switch e.Severity {
	case SeverityError:
		glog.ErrorDepth(1, e.Message)
	case SeverityWarning:
		glog.WarningDepth(1, e.Message)
	default:
		glog.V(glog.Level(e.Verbosity)).Info(e.Message)
	}
}

// field renders one key of an event, or "" when the event lacks it.
type field func(*capitan.Event) string

func str(name string, from func(*capitan.Event) (string, bool)) field {
	return func(e *capitan.Event) string {
		v, ok := from(e)
		if !ok {
			return ""
		}
		if v == "" {
			v = "-"
		}
		return name + "=" + v
	}
}

func num(name string, from func(*capitan.Event) (int, bool)) field {
	return func(e *capitan.Event) string {
		v, ok := from(e)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%s=%d", name, v)
	}
}

func dur(name string, from func(*capitan.Event) (time.Duration, bool)) field {
	return func(e *capitan.Event) string {
		v, ok := from(e)
		if !ok {
			return ""
		}
		return name + "=" + v.String()
	}
}

type rule struct {
	signal    capitan.Signal
	tag       string
	severity  Severity
	verbosity int
	fields    []field
}

func rules() []rule {
	var (
		selection = str("selection", beacon.KeySelection.From)
		previous  = str("previous", beacon.KeyPrevious.From)
		domain    = str("domain", beacon.KeyDomain.From)
		version   = num("version", beacon.KeyVersion.From)
		errText   = str("error", beacon.KeyError.From)
		state     = str("state", beacon.KeyState.From)
	)

	return []rule{
		{beacon.SelectionChanged, "selection", SeverityInfo, 0, []field{previous, selection}},
		{beacon.SelectionRestored, "selection", SeverityInfo, 0, []field{selection}},
		{beacon.SelectionPersistFailed, "selection", SeverityWarning, 0, []field{selection, errText}},
		{beacon.SubscriberPanicked, "subscriber", SeverityError, 0, []field{
			str("source", beacon.KeySource.From),
			str("subscriber", beacon.KeySubscriber.From),
			errText,
		}},
		{beacon.VersionBumped, "version", SeverityInfo, 1, []field{domain, version}},

		{beacon.LinkStarted, "link", SeverityInfo, 0, []field{dur("debounce", beacon.KeyDebounce.From)}},
		{beacon.LinkStopped, "link", SeverityInfo, 0, []field{state}},
		{beacon.LinkStateChanged, "link", SeverityInfo, 0, []field{
			str("from", beacon.KeyOldState.From),
			str("to", beacon.KeyNewState.From),
		}},
		{beacon.LinkChangeReceived, "link", SeverityInfo, 2, nil},
		{beacon.LinkDecodeFailed, "link", SeverityWarning, 0, []field{errText}},
		{beacon.LinkValidationFailed, "link", SeverityWarning, 0, []field{errText}},
		{beacon.LinkApplyFailed, "link", SeverityWarning, 0, []field{errText}},
		{beacon.LinkApplySucceeded, "link", SeverityInfo, 1, []field{selection}},

		{guard.GuardResolved, "guard", SeverityInfo, 2, []field{str("status", guard.KeyStatus.From)}},
		{guard.GuardRedirected, "guard", SeverityInfo, 1, []field{str("path", guard.KeyPath.From)}},
		{guard.GuardTokenRejected, "guard", SeverityWarning, 0, []field{str("error", guard.KeyError.From)}},

		{postgres.RelayNotified, "relay", SeverityInfo, 2, []field{str("channel", postgres.KeyChannel.From), domain}},
		{postgres.RelayIgnored, "relay", SeverityInfo, 1, []field{str("channel", postgres.KeyChannel.From), domain}},

		{query.CacheHit, "query", SeverityInfo, 3, []field{str("key", query.KeyKey.From)}},
		{query.CacheMiss, "query", SeverityInfo, 2, []field{str("key", query.KeyKey.From)}},
		{query.CacheEvicted, "query", SeverityInfo, 2, []field{domain, num("count", query.KeyCount.From)}},

		{live.ClientConnected, "live", SeverityInfo, 1, []field{str("client", live.KeyClient.From)}},
		{live.ClientDisconnected, "live", SeverityInfo, 1, []field{str("client", live.KeyClient.From)}},
		{live.ClientDropped, "live", SeverityWarning, 0, []field{str("client", live.KeyClient.From)}},

		{notify.NotifyDispatched, "notify", SeverityInfo, 0, []field{
			str("store", notify.KeyStore.From),
			num("sent", notify.KeySent.From),
		}},
		{notify.NotifyFailed, "notify", SeverityWarning, 0, []field{
			str("store", notify.KeyStore.From),
			str("error", notify.KeyError.From),
		}},
	}
}

// Install hooks every beacon signal into sink. Call it once per process.
func Install(sink Sink) {
	for _, r := range rules() {
		r := r
		capitan.Hook(r.signal, func(_ context.Context, e *capitan.Event) {
			sink(Entry{
				Severity:  r.severity,
				Verbosity: r.verbosity,
				Message:   r.format(e),
			})
		})
	}
}

// format renders "[tag]signal k=v k=v".
func (r rule) format(e *capitan.Event) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(r.tag)
	b.WriteString("]")
	b.WriteString(r.signal.Name())
	for _, f := range r.fields {
		if s := f(e); s != "" {
			b.WriteString(" ")
			b.WriteString(s)
		}
	}
	return b.String()
}
