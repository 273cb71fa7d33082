package types

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed is returned when the MyGas service rejects the configured
	// credentials. It is never retried automatically and requires new
	// credentials.
	ErrAuthFailed = errors.New("incorrect login or password")

	// ErrDeviceNotFound is returned when a device id is unknown to the registry.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceNotResolved is returned when a device cannot be resolved to a
	// full account, sub-account and counter path.
	ErrDeviceNotResolved = errors.New("device does not resolve to a counter")

	// ErrNoSnapshot is returned when no poll has succeeded yet.
	ErrNoSnapshot = errors.New("no data retrieved yet")
)

// UpdateError is a non-authentication failure talking to the MyGas service.
// These are eligible for the scheduler's normal retry behavior.
type UpdateError struct {
	Op  string
	Err error
}

func (e *UpdateError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("error communicating with api (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("error communicating with api: %v", e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// IsAuthFailure returns true if the error requires re-authentication.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
