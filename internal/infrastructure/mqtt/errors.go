package mqtt

import "errors"

var (
	// ErrNotConnected is returned by Publish and Subscribe while the broker
	// connection is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrMissingAppID is returned by Connect without an application id;
	// every app-scoped topic and the will message depend on it.
	ErrMissingAppID = errors.New("mqtt: application id is required")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for QoS levels outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout wraps broker acknowledgements that did not arrive in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
