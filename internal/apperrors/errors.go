package apperrors

import "errors"

var (
	// ErrInvalidState is returned when an operation is not legal in the engine's current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrPersistence marks a failed durable save. The caller may retry.
	ErrPersistence = errors.New("persistence failed")
	// ErrResourceUnavailable covers a denied microphone permission or a busy device.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrRecoveryInconsistency means a snapshot references a segment file that no longer exists.
	ErrRecoveryInconsistency = errors.New("recovery inconsistency")

	ErrInvalidInput         = errors.New("invalid input")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrNoSnapshot           = errors.New("no recoverable session")
)
