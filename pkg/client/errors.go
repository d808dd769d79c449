package client

import (
	"errors"

	"github.com/charlie0129/dualbatt/internal/client"
)

var (
	// ErrDaemonNotRunning is returned when the daemon is not running
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the user does not have permission to perform the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")
)

// mapError replaces transport errors with the errors of this package.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, client.ErrNotRunning):
		return ErrDaemonNotRunning
	case errors.Is(err, client.ErrPermissionDenied):
		return ErrPermissionDenied
	case errors.Is(err, client.ErrNotFound):
		return ErrNotFound
	}
	return err
}
