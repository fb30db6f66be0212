package common

import "errors"

// Sentinel errors for broker operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Supervisor errors.
	ErrAlreadyRunning = errors.New("a supervised session is already active")
	ErrLaunchFailure  = errors.New("failed to launch the VPN client")
	ErrNotRunning     = errors.New("no supervised session")
	ErrTimeout        = errors.New("operation timed out")
	ErrCancelled      = errors.New("operation cancelled")

	// Session errors.
	ErrNoProfileSelected = errors.New("no profile selected")
	ErrAuthFailure       = errors.New("authentication failed")
	ErrInvalidTransition = errors.New("invalid state transition")

	// Profile errors.
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidConfig   = errors.New("invalid configuration file")
	ErrDuplicateName   = errors.New("profile name already exists")

	// Credential errors.
	ErrNotFound           = errors.New("credential not found")
	ErrBackendUnavailable = errors.New("secret backend unavailable")
	ErrEncryption         = errors.New("encryption error")
	ErrDecryption         = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
