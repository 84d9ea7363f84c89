package catalog

import "errors"

var (
	// ErrRemoteUnavailable wraps every failed catalog call.
	ErrRemoteUnavailable = errors.New("catalog: remote unavailable")

	// ErrInvalidResponse is returned when a 2xx body cannot be decoded.
	ErrInvalidResponse = errors.New("catalog: invalid response")

	ErrMissingAppID = errors.New("catalog: app id is required")
	ErrMissingURL   = errors.New("catalog: base url is required")
)
