package control

import "errors"

var (
	// ErrDecodePayload is returned when a control payload is not valid JSON.
	ErrDecodePayload = errors.New("control: payload is not valid JSON")

	// ErrWriteFailed wraps a writer error.
	ErrWriteFailed = errors.New("control: write failed")

	// ErrEchoFailed wraps an echo publish error.
	ErrEchoFailed = errors.New("control: echo publish failed")
)
