package devicetype

import "errors"

var (
	// ErrUnknownDeviceType is returned by Lookup for an unsupported type.
	ErrUnknownDeviceType = errors.New("devicetype: unknown device type")

	// ErrInvalidAddressSource is returned when a config field is neither a
	// group address string nor a list of them.
	ErrInvalidAddressSource = errors.New("devicetype: invalid address source")

	// ErrInvalidConfig is returned when a device config fails schema validation.
	ErrInvalidConfig = errors.New("devicetype: invalid device config")
)
