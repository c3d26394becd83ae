package beacon

import "github.com/zoobzio/capitan"

// Field keys for beacon events.
var (
	// KeySelection is the selected identifier, or empty when nothing is selected.
	KeySelection = capitan.NewStringKey("selection")

	// KeyPrevious is the identifier that was selected before a change.
	KeyPrevious = capitan.NewStringKey("previous")

	// KeySource names the object that emitted the event ("selection", "versions").
	KeySource = capitan.NewStringKey("source")

	// KeySubscriber is the identity of a subscription.
	KeySubscriber = capitan.NewStringKey("subscriber")

	// KeyDomain is the version domain.
	KeyDomain = capitan.NewStringKey("domain")

	// KeyVersion is a domain counter value.
	KeyVersion = capitan.NewIntKey("version")

	// KeyState is the current state of a Link.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDebounce is the configured debounce duration.
	KeyDebounce = capitan.NewDurationKey("debounce")
)
