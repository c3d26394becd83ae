package guard

import "github.com/zoobzio/capitan"

var (
	// GuardResolved is emitted every time a state is resolved.
	GuardResolved = capitan.NewSignal(
		"beacon.guard.resolved",
		"Authentication state resolved",
	)

	// GuardRedirected is emitted when an unauthenticated state triggers navigation.
	GuardRedirected = capitan.NewSignal(
		"beacon.guard.redirected",
		"Unauthenticated request redirected to login",
	)

	// GuardTokenRejected is emitted when a bearer token fails verification.
	GuardTokenRejected = capitan.NewSignal(
		"beacon.guard.token.rejected",
		"Bearer token rejected",
	)
)

var (
	// KeyStatus is the resolved authentication status.
	KeyStatus = capitan.NewStringKey("status")

	// KeyPath is the navigation destination.
	KeyPath = capitan.NewStringKey("path")

	// KeyError is the verification error message.
	KeyError = capitan.NewStringKey("error")
)
