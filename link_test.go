package beacon

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func newSyncLink(t *testing.T, opts ...Option) (*Link, *Selection, chan []byte) {
	t.Helper()
	ch := make(chan []byte, 10)
	sel := NewSelection()
	link := NewLink(NewSyncChannelWatcher(ch), sel, opts...).SyncMode()
	return link, sel, ch
}

func TestLink_AppliesInitialRecord(t *testing.T) {
	link, sel, ch := newSyncLink(t)
	ch <- []byte(`{"id": "store-1"}`)

	if err := link.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sel.Current().ID != "store-1" {
		t.Errorf("expected store-1, got %v", sel.Current())
	}
	if link.State() != StateHealthy {
		t.Errorf("expected healthy, got %s", link.State())
	}
}

func TestLink_EmptyRecordClearsSelection(t *testing.T) {
	link, sel, ch := newSyncLink(t)
	sel.Select(context.Background(), "store-1")
	ch <- []byte(`{}`)

	if err := link.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sel.Current().Valid {
		t.Errorf("expected cleared selection, got %v", sel.Current())
	}
}

func TestLink_YAMLCodec(t *testing.T) {
	link, sel, ch := newSyncLink(t)
	link.Codec(YAMLCodec{})
	ch <- []byte("id: store-7\n")

	if err := link.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sel.Current().ID != "store-7" {
		t.Errorf("expected store-7, got %v", sel.Current())
	}
}

func TestLink_PlainCodec(t *testing.T) {
	link, sel, ch := newSyncLink(t)
	link.Codec(PlainCodec{})
	ch <- []byte("  store-3\n")

	if err := link.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sel.Current().ID != "store-3" {
		t.Errorf("expected store-3, got %v", sel.Current())
	}
}

func TestLink_InvalidJSONLeavesEmpty(t *testing.T) {
	link, sel, ch := newSyncLink(t)
	ch <- []byte("not json")

	err := link.Start(context.Background())
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(err.Error(), "decode failed") {
		t.Errorf("expected decode failure, got %v", err)
	}
	if link.State() != StateEmpty {
		t.Errorf("expected empty, got %s", link.State())
	}
	if sel.Current().Valid {
		t.Errorf("expected no selection, got %v", sel.Current())
	}
}

func TestLink_ValidationRejectsSpaces(t *testing.T) {
	link, _, ch := newSyncLink(t)
	ch <- []byte(`{"id": "store 1"}`)

	err := link.Start(context.Background())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("expected validation failure, got %v", err)
	}
}

func TestLink_ValidationRejectsLongID(t *testing.T) {
	link, _, ch := newSyncLink(t)
	ch <- []byte(`{"id": "` + strings.Repeat("x", 129) + `"}`)

	if err := link.Start(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLink_RollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	link, sel, ch := newSyncLink(t)

	ch <- []byte(`{"id": "store-1"}`)
	if err := link.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch <- []byte(`{"id": 42}`)
	if !link.Process(ctx) {
		t.Fatal("expected Process to consume a payload")
	}

	if link.State() != StateDegraded {
		t.Errorf("expected degraded, got %s", link.State())
	}
	if sel.Current().ID != "store-1" {
		t.Errorf("expected previous selection retained, got %v", sel.Current())
	}
	if link.LastError() == nil {
		t.Error("expected LastError to be set")
	}
}

func TestLink_RecoversFromDegraded(t *testing.T) {
	ctx := context.Background()
	link, sel, ch := newSyncLink(t)

	ch <- []byte(`{"id": "store-1"}`)
	_ = link.Start(ctx)
	ch <- []byte(`garbage`)
	link.Process(ctx)
	ch <- []byte(`{"id": "store-2"}`)
	link.Process(ctx)

	if link.State() != StateHealthy {
		t.Errorf("expected healthy, got %s", link.State())
	}
	if sel.Current().ID != "store-2" {
		t.Errorf("expected store-2, got %v", sel.Current())
	}
	if link.LastError() != nil {
		t.Errorf("expected LastError cleared, got %v", link.LastError())
	}
}

func TestLink_CannotStartTwice(t *testing.T) {
	link, _, ch := newSyncLink(t)
	ch <- []byte(`{"id": "a"}`)
	_ = link.Start(context.Background())

	if err := link.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestLink_WatcherClosedBeforeStart(t *testing.T) {
	link, _, ch := newSyncLink(t)
	close(ch)

	if err := link.Start(context.Background()); err == nil {
		t.Fatal("expected error when watcher closes before emitting")
	}
}

type failingWatcher struct{}

func (failingWatcher) Watch(context.Context) (<-chan []byte, error) {
	return nil, errors.New("no source")
}

func TestLink_WatcherError(t *testing.T) {
	link := NewLink(failingWatcher{}, NewSelection())
	if err := link.Start(context.Background()); err == nil {
		t.Fatal("expected watcher error")
	}
}

func TestLink_ProcessNotAvailableWithoutSyncMode(t *testing.T) {
	ch := make(chan []byte, 1)
	ch <- []byte(`{"id": "a"}`)
	link := NewLink(NewChannelWatcher(ch), NewSelection())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if link.Process(ctx) {
		t.Error("expected Process to return false outside sync mode")
	}
}

func TestLink_ProcessEmptyChannel(t *testing.T) {
	link, _, ch := newSyncLink(t)
	ch <- []byte(`{"id": "a"}`)
	_ = link.Start(context.Background())

	if link.Process(context.Background()) {
		t.Error("expected Process to return false with nothing pending")
	}
}

func TestLink_MiddlewareRewritesSelection(t *testing.T) {
	link, sel, ch := newSyncLink(t,
		WithMiddleware(
			UseTransform("prefix", func(_ context.Context, r *Request) *Request {
				if r.Current.Valid {
					r.Current = Some("tenant-a/" + r.Current.ID)
				}
				return r
			}),
		),
	)
	ch <- []byte(`{"id": "store-1"}`)

	if err := link.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sel.Current().ID != "tenant-a/store-1" {
		t.Errorf("expected rewritten id, got %v", sel.Current())
	}
}

func TestLink_MiddlewareRejection(t *testing.T) {
	allowed := map[string]bool{"store-1": true}
	link, sel, ch := newSyncLink(t,
		WithMiddleware(
			UseApply("allowlist", func(_ context.Context, r *Request) (*Request, error) {
				if r.Current.Valid && !allowed[r.Current.ID] {
					return r, errors.New("store not allowed")
				}
				return r, nil
			}),
		),
	)
	ctx := context.Background()

	ch <- []byte(`{"id": "store-1"}`)
	if err := link.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ch <- []byte(`{"id": "store-2"}`)
	link.Process(ctx)

	if sel.Current().ID != "store-1" {
		t.Errorf("expected store-1 retained, got %v", sel.Current())
	}
	if link.State() != StateDegraded {
		t.Errorf("expected degraded, got %s", link.State())
	}
}

func TestLink_EffectSeesPrevious(t *testing.T) {
	var previous []string
	link, sel, ch := newSyncLink(t,
		WithMiddleware(
			UseEffect("audit", func(_ context.Context, r *Request) error {
				previous = append(previous, r.Previous.String())
				return nil
			}),
		),
	)
	ctx := context.Background()
	sel.Select(ctx, "store-0")

	ch <- []byte(`{"id": "store-1"}`)
	_ = link.Start(ctx)
	ch <- []byte(`{"id": "store-2"}`)
	link.Process(ctx)

	if len(previous) != 2 || previous[0] != "store-0" || previous[1] != "store-1" {
		t.Errorf("expected [store-0 store-1], got %v", previous)
	}
}

func TestLink_WithRetry(t *testing.T) {
	var attempts int
	link, sel, ch := newSyncLink(t,
		WithMiddleware(
			UseEffect("flaky", func(context.Context, *Request) error {
				attempts++
				if attempts < 3 {
					return errors.New("transient")
				}
				return nil
			}),
		),
		WithRetry(3),
	)
	ch <- []byte(`{"id": "store-1"}`)

	if err := link.Start(context.Background()); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if sel.Current().ID != "store-1" {
		t.Errorf("expected store-1, got %v", sel.Current())
	}
}

func TestLink_Debounce_CoalescesRapidChanges(t *testing.T) {
	clock := clockz.NewFakeClock()
	ch := make(chan []byte, 10)
	ch <- []byte(`{"id": "s1"}`)

	sel := NewSelection()
	var applies atomic.Int32
	sel.Subscribe(func(Choice) { applies.Add(1) })

	link := NewLink(NewChannelWatcher(ch), sel).
		Debounce(100 * time.Millisecond).
		Clock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := link.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if applies.Load() != 1 {
		t.Errorf("expected 1 apply after start, got %d", applies.Load())
	}

	ch <- []byte(`{"id": "s2"}`)
	ch <- []byte(`{"id": "s3"}`)
	ch <- []byte(`{"id": "s4"}`)

	time.Sleep(10 * time.Millisecond)
	if applies.Load() != 1 {
		t.Errorf("expected still 1 apply while debouncing, got %d", applies.Load())
	}

	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	if applies.Load() != 2 {
		t.Errorf("expected 2 applies after debounce, got %d", applies.Load())
	}
	if sel.Current().ID != "s4" {
		t.Errorf("expected s4, got %v", sel.Current())
	}
}

func TestLink_AppliesPendingOnClose(t *testing.T) {
	clock := clockz.NewFakeClock()
	ch := make(chan []byte, 10)
	ch <- []byte(`{"id": "s1"}`)

	sel := NewSelection()
	var final atomic.Int32
	final.Store(-1)

	link := NewLink(NewChannelWatcher(ch), sel).
		Debounce(time.Hour).
		Clock(clock).
		OnStop(func(s State) { final.Store(int32(s)) })

	if err := link.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch <- []byte(`{"id": "s2"}`)
	time.Sleep(10 * time.Millisecond)
	close(ch)

	select {
	case <-link.Done():
	case <-time.After(time.Second):
		t.Fatal("link did not stop after channel close")
	}

	if sel.Current().ID != "s2" {
		t.Errorf("expected pending s2 applied on close, got %v", sel.Current())
	}
	if State(final.Load()) != StateHealthy {
		t.Errorf("expected OnStop with healthy, got %s", State(final.Load()))
	}
}

func TestLink_OnStopCalledOnContextCancel(t *testing.T) {
	ch := make(chan []byte, 1)
	ch <- []byte(`{"id": "s1"}`)

	called := make(chan State, 1)
	link := NewLink(NewChannelWatcher(ch), NewSelection()).
		OnStop(func(s State) { called <- s })

	ctx, cancel := context.WithCancel(context.Background())
	if err := link.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	select {
	case s := <-called:
		if s != StateHealthy {
			t.Errorf("expected healthy, got %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("OnStop was not called")
	}
}

func TestLink_StartupTimeout(t *testing.T) {
	clock := clockz.NewFakeClock()
	ch := make(chan []byte)

	link := NewLink(NewSyncChannelWatcher(ch), NewSelection()).
		SyncMode().
		StartupTimeout(100 * time.Millisecond).
		Clock(clock)

	errCh := make(chan error, 1)
	go func() {
		errCh <- link.Start(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected timeout error")
		}
		if link.State() != StateLoading {
			t.Errorf("expected loading, got %s", link.State())
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after timeout")
	}
}

func TestLink_NoStartupTimeout_UsesContext(t *testing.T) {
	ch := make(chan []byte)
	link := NewLink(NewSyncChannelWatcher(ch), NewSelection()).SyncMode()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := link.Start(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

type testMetricsProvider struct {
	stateChanges    []struct{ from, to State }
	successes       int
	failureStages   []string
	changesReceived int
}

func (m *testMetricsProvider) OnStateChange(from, to State) {
	m.stateChanges = append(m.stateChanges, struct{ from, to State }{from, to})
}

func (m *testMetricsProvider) OnApplySuccess(time.Duration) {
	m.successes++
}

func (m *testMetricsProvider) OnApplyFailure(stage string, _ time.Duration) {
	m.failureStages = append(m.failureStages, stage)
}

func (m *testMetricsProvider) OnChangeReceived() {
	m.changesReceived++
}

func TestLink_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics := &testMetricsProvider{}
	link, _, ch := newSyncLink(t)
	link.Metrics(metrics)

	ch <- []byte(`{"id": "a"}`)
	_ = link.Start(ctx)
	ch <- []byte(`nope`)
	link.Process(ctx)
	ch <- []byte(`{"id": "b c"}`)
	link.Process(ctx)

	if metrics.changesReceived != 3 {
		t.Errorf("expected 3 changes received, got %d", metrics.changesReceived)
	}
	if metrics.successes != 1 {
		t.Errorf("expected 1 success, got %d", metrics.successes)
	}
	if len(metrics.failureStages) != 2 || metrics.failureStages[0] != "decode" || metrics.failureStages[1] != "validate" {
		t.Errorf("expected [decode validate], got %v", metrics.failureStages)
	}
	if len(metrics.stateChanges) != 2 {
		t.Fatalf("expected 2 state changes, got %d", len(metrics.stateChanges))
	}
	if metrics.stateChanges[0].to != StateHealthy || metrics.stateChanges[1].to != StateDegraded {
		t.Errorf("unexpected transitions %+v", metrics.stateChanges)
	}
}

func TestLink_FailureHistory(t *testing.T) {
	ctx := context.Background()
	link, _, ch := newSyncLink(t)
	link.FailureHistory(2)

	ch <- []byte(`bad-1`)
	_ = link.Start(ctx)
	ch <- []byte(`bad-2`)
	link.Process(ctx)
	ch <- []byte(`{"id": "x y"}`)
	link.Process(ctx)

	failures := link.Failures()
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].Stage != "decode" || failures[1].Stage != "validate" {
		t.Errorf("expected oldest evicted, got stages %s, %s", failures[0].Stage, failures[1].Stage)
	}

	ch <- []byte(`{"id": "ok"}`)
	link.Process(ctx)
	if link.Failures() != nil {
		t.Errorf("expected history cleared after success, got %v", link.Failures())
	}
}

func TestLink_FailureHistoryDisabledByDefault(t *testing.T) {
	link, _, ch := newSyncLink(t)
	ch <- []byte(`bad`)
	_ = link.Start(context.Background())

	if link.Failures() != nil {
		t.Errorf("expected nil failures, got %v", link.Failures())
	}
}
