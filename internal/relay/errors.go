package relay

import "errors"

var (
	// ErrResolutionUnavailable means the chat could not be resolved. It is
	// never treated as unregistered.
	ErrResolutionUnavailable = errors.New("relay: identity resolution unavailable")

	// ErrValidation marks input that does not fit the current registration step.
	ErrValidation = errors.New("relay: invalid input for step")

	// ErrCreateFailure is returned when the CRM rejects a create.
	ErrCreateFailure = errors.New("relay: crm create failed")

	// ErrSessionUnconfirmed is returned when a requested session never shows up.
	ErrSessionUnconfirmed = errors.New("relay: session could not be confirmed")
)
