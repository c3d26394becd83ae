package beacon

import "time"

// MetricsProvider receives callbacks on Link activity so that it can be
// wired to Prometheus, StatsD or similar.
type MetricsProvider interface {
	// OnStateChange is called when the Link moves between states.
	OnStateChange(from, to State)

	// OnApplySuccess is called after a record has been applied. duration
	// covers decode, validation and the pipeline.
	OnApplySuccess(duration time.Duration)

	// OnApplyFailure is called when a record is rejected. stage is one of
	// "decode", "validate" or "pipeline".
	OnApplyFailure(stage string, duration time.Duration)

	// OnChangeReceived is called for every payload read from the watcher.
	OnChangeReceived()
}

// NoOpMetricsProvider implements MetricsProvider with empty methods.
// Embed it to implement only the callbacks you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStateChange(_, _ State)                 {}
func (NoOpMetricsProvider) OnApplySuccess(_ time.Duration)           {}
func (NoOpMetricsProvider) OnApplyFailure(_ string, _ time.Duration) {}
func (NoOpMetricsProvider) OnChangeReceived()                        {}
