package beacon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// DefaultDebounce is the default debounce duration for a Link.
const DefaultDebounce = 100 * time.Millisecond

// ErrAlreadyStarted is returned by Start on a Link that was already started.
var ErrAlreadyStarted = errors.New("link already started")

// Link feeds a Selection from an external source.
//
// Each payload from the Watcher is decoded into a Record, validated, passed
// through the pipeline and then applied with Selection.Set. A payload that
// fails any step is dropped: the selection keeps its previous value and the
// Link reports StateDegraded (or StateEmpty if nothing was ever applied)
// while it keeps watching.
//
// Do not pair a Link with a Persister that writes back to the Link's own
// source; every applied change would be written and observed again.
type Link struct {
	watcher        Watcher
	selection      *Selection
	pipeline       pipz.Chainable[*Request]
	debounce       time.Duration
	startupTimeout time.Duration
	syncMode       bool
	clock          clockz.Clock
	codec          Codec
	metrics        MetricsProvider
	onStop         func(State)

	state     atomic.Int32
	applied   atomic.Bool
	lastError atomic.Pointer[error]
	history   *failureRing

	mu      sync.Mutex
	started bool

	stopped chan struct{}

	// Sync mode keeps the watcher channel for Process.
	changes <-chan []byte
}

// NewLink creates a Link that applies records from watcher to sel.
//
//	link := beacon.NewLink(
//	    redis.New(client, "storefront:selection"),
//	    sel,
//	    beacon.WithRetry(3),
//	).Codec(beacon.PlainCodec{})
func NewLink(watcher Watcher, sel *Selection, opts ...Option) *Link {
	terminal := pipz.Transform(passthroughID, func(_ context.Context, req *Request) *Request {
		return req
	})

	l := &Link{
		watcher:   watcher,
		selection: sel,
		pipeline:  buildPipeline(terminal, opts),
		debounce:  DefaultDebounce,
		clock:     clockz.RealClock,
		codec:     JSONCodec{},
		stopped:   make(chan struct{}),
	}
	l.state.Store(int32(StateLoading))
	return l
}

// Debounce sets how long the Link waits for the source to settle. Payloads
// that arrive within d of each other are coalesced and only the last one is
// applied. The initial payload is never debounced. Default: 100ms.
// Must be called before Start.
func (l *Link) Debounce(d time.Duration) *Link {
	l.debounce = d
	return l
}

// SyncMode disables the background goroutine. Start applies only the
// initial payload and Process applies each subsequent one. Intended for
// deterministic tests. Must be called before Start.
func (l *Link) SyncMode() *Link {
	l.syncMode = true
	return l
}

// Clock sets the clock used for debouncing and the startup timeout.
// Must be called before Start.
func (l *Link) Clock(clock clockz.Clock) *Link {
	l.clock = clock
	return l
}

// Codec sets the payload decoder. Default: JSONCodec.
// Must be called before Start.
func (l *Link) Codec(codec Codec) *Link {
	l.codec = codec
	return l
}

// StartupTimeout bounds how long Start waits for the initial payload.
// Default: wait until ctx is done. Must be called before Start.
func (l *Link) StartupTimeout(d time.Duration) *Link {
	l.startupTimeout = d
	return l
}

// Metrics sets a metrics provider. Must be called before Start.
func (l *Link) Metrics(provider MetricsProvider) *Link {
	l.metrics = provider
	return l
}

// OnStop sets a callback run with the final state when the Link stops
// watching. Must be called before Start.
func (l *Link) OnStop(fn func(State)) *Link {
	l.onStop = fn
	return l
}

// FailureHistory keeps the n most recent failures, cleared on every
// successful apply. Default 0 keeps only LastError. Must be called before Start.
func (l *Link) FailureHistory(n int) *Link {
	l.history = newFailureRing(n)
	return l
}

// State returns the Link's current state.
func (l *Link) State() State {
	return State(l.state.Load())
}

// LastError returns the error from the most recent rejected payload, or nil
// if the most recent payload was applied.
func (l *Link) LastError() error {
	ptr := l.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// Failures returns recent failures, oldest first. Nil unless FailureHistory
// was configured.
func (l *Link) Failures() []Failure {
	return l.history.all()
}

// Done is closed once the background watch loop has exited.
// In sync mode it is never closed.
func (l *Link) Done() <-chan struct{} {
	return l.stopped
}

// Start begins watching. It blocks until the initial payload has been
// applied or rejected, then keeps watching in the background until ctx is
// done or the watcher closes its channel.
//
// A rejected initial payload is returned as an error, but the Link keeps
// watching for a valid one. Start may only be called once.
func (l *Link) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	capitan.Emit(ctx, LinkStarted,
		KeyDebounce.Field(l.debounce),
	)

	changes, err := l.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	startupCtx := ctx
	if l.startupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = l.clock.WithTimeout(ctx, l.startupTimeout)
		defer cancel()
	}

	var initialErr error
	select {
	case <-startupCtx.Done():
		if l.startupTimeout > 0 && errors.Is(startupCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("startup timeout: watcher did not emit initial value within %v", l.startupTimeout)
		}
		return startupCtx.Err()
	case raw, ok := <-changes:
		if !ok {
			return errors.New("watcher closed before emitting initial value")
		}
		l.received(ctx)
		initialErr = l.process(ctx, raw)
	}

	if l.syncMode {
		l.changes = changes
		return initialErr
	}

	go l.watch(ctx, changes)
	return initialErr
}

// Process applies the next pending payload. Only available in sync mode.
// It returns false when no payload is waiting or the channel is closed.
func (l *Link) Process(ctx context.Context) bool {
	if !l.syncMode {
		return false
	}
	select {
	case raw, ok := <-l.changes:
		if !ok {
			return false
		}
		l.received(ctx)
		_ = l.process(ctx, raw) //nolint:errcheck // recorded via fail
		return true
	default:
		return false
	}
}

func (l *Link) received(ctx context.Context) {
	capitan.Emit(ctx, LinkChangeReceived)
	if l.metrics != nil {
		l.metrics.OnChangeReceived()
	}
}

// process decodes, validates, runs the pipeline and applies one payload.
func (l *Link) process(ctx context.Context, raw []byte) error {
	start := l.clock.Now()

	var rec Record
	if err := l.codec.Unmarshal(raw, &rec); err != nil {
		l.fail(ctx, "decode", LinkDecodeFailed, err, start)
		return fmt.Errorf("decode failed: %w", err)
	}

	if err := rec.Validate(); err != nil {
		l.fail(ctx, "validate", LinkValidationFailed, err, start)
		return fmt.Errorf("validation failed: %w", err)
	}

	req := &Request{
		Previous: l.selection.Current(),
		Current:  rec.Choice(),
		Raw:      raw,
	}
	processed, err := l.pipeline.Process(ctx, req)
	if err != nil {
		l.fail(ctx, "pipeline", LinkApplyFailed, err, start)
		return fmt.Errorf("pipeline failed: %w", err)
	}

	l.selection.Set(ctx, processed.Current)
	l.applied.Store(true)
	l.lastError.Store(nil)
	l.history.clear()
	l.transition(ctx, StateHealthy)
	capitan.Emit(ctx, LinkApplySucceeded,
		KeySelection.Field(processed.Current.ID),
	)
	if l.metrics != nil {
		l.metrics.OnApplySuccess(l.clock.Since(start))
	}
	return nil
}

// fail records a rejected payload and moves to the matching failure state.
func (l *Link) fail(ctx context.Context, stage string, signal capitan.Signal, err error, start time.Time) {
	e := err
	l.lastError.Store(&e)
	l.history.push(Failure{Stage: stage, Err: err, At: l.clock.Now()})

	next := StateDegraded
	if !l.applied.Load() {
		next = StateEmpty
	}
	l.transition(ctx, next)

	capitan.Emit(ctx, signal,
		KeyError.Field(err.Error()),
	)
	if l.metrics != nil {
		l.metrics.OnApplyFailure(stage, l.clock.Since(start))
	}
}

// transition stores next and announces it if the state changed.
func (l *Link) transition(ctx context.Context, next State) {
	prev := State(l.state.Swap(int32(next)))
	if prev == next {
		return
	}
	capitan.Emit(ctx, LinkStateChanged,
		KeyOldState.Field(prev.String()),
		KeyNewState.Field(next.String()),
	)
	if l.metrics != nil {
		l.metrics.OnStateChange(prev, next)
	}
}

// watch applies payloads with debouncing until ctx is done or the channel
// closes. A payload still pending when the channel closes is applied.
func (l *Link) watch(ctx context.Context, changes <-chan []byte) {
	defer func() {
		final := l.State()
		capitan.Emit(ctx, LinkStopped,
			KeyState.Field(final.String()),
		)
		if l.onStop != nil {
			l.onStop(final)
		}
		close(l.stopped)
	}()

	var (
		timer      clockz.Timer
		pending    []byte
		hasPending bool
	)

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case raw, ok := <-changes:
			if !ok {
				if hasPending {
					_ = l.process(ctx, pending) //nolint:errcheck // recorded via fail
				}
				return
			}

			l.received(ctx)
			pending = raw
			hasPending = true

			if timer == nil {
				timer = l.clock.NewTimer(l.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C():
				default:
				}
			}
			timer.Reset(l.debounce)

		case <-timerC:
			if hasPending {
				_ = l.process(ctx, pending) //nolint:errcheck // recorded via fail
				hasPending = false
			}
		}
	}
}
