package beacon

import "github.com/zoobzio/capitan"

// Selection signals.
var (
	// SelectionChanged is emitted when Set replaces the selection with a
	// different value.
	SelectionChanged = capitan.NewSignal(
		"beacon.selection.changed",
		"Selection replaced",
	)

	// SelectionRestored is emitted when Restore loads a persisted selection.
	SelectionRestored = capitan.NewSignal(
		"beacon.selection.restored",
		"Persisted selection restored",
	)

	// SelectionPersistFailed is emitted when saving the selection fails.
	// The in-memory selection is still updated.
	SelectionPersistFailed = capitan.NewSignal(
		"beacon.selection.persist.failed",
		"Selection could not be persisted",
	)

	// SubscriberPanicked is emitted when a subscriber callback panics.
	SubscriberPanicked = capitan.NewSignal(
		"beacon.subscriber.panicked",
		"Subscriber callback panicked",
	)
)

// Version signals.
var (
	// VersionBumped is emitted after a domain counter is incremented.
	VersionBumped = capitan.NewSignal(
		"beacon.version.bumped",
		"Domain version incremented",
	)
)

// Link lifecycle signals.
var (
	// LinkStarted is emitted when a Link begins watching.
	LinkStarted = capitan.NewSignal(
		"beacon.link.started",
		"Link watching started",
	)

	// LinkStopped is emitted when a Link stops watching.
	LinkStopped = capitan.NewSignal(
		"beacon.link.stopped",
		"Link watching stopped",
	)

	// LinkStateChanged is emitted when a Link transitions between states.
	LinkStateChanged = capitan.NewSignal(
		"beacon.link.state.changed",
		"Link state transition",
	)
)

// Link change processing signals.
var (
	// LinkChangeReceived is emitted when raw data arrives from the watcher.
	LinkChangeReceived = capitan.NewSignal(
		"beacon.link.change.received",
		"Raw change received from watcher",
	)

	// LinkDecodeFailed is emitted when raw data cannot be decoded.
	LinkDecodeFailed = capitan.NewSignal(
		"beacon.link.decode.failed",
		"Record decoding failed",
	)

	// LinkValidationFailed is emitted when a decoded record is rejected.
	LinkValidationFailed = capitan.NewSignal(
		"beacon.link.validation.failed",
		"Record validation failed",
	)

	// LinkApplyFailed is emitted when the pipeline returns an error.
	LinkApplyFailed = capitan.NewSignal(
		"beacon.link.apply.failed",
		"Record pipeline failed",
	)

	// LinkApplySucceeded is emitted when a record is applied to the selection.
	LinkApplySucceeded = capitan.NewSignal(
		"beacon.link.apply.succeeded",
		"Record applied to selection",
	)
)
