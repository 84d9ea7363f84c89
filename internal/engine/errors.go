package engine

import "errors"

var (
	// ErrNoGateway is returned when the app config has no gateway host.
	ErrNoGateway = errors.New("engine: app config has no gatewayHost")

	// ErrClosed is returned by Reload after Close.
	ErrClosed = errors.New("engine: closed")

	// ErrCatalogFetch wraps a failure to read config or devices at the
	// start of a pass. The previous pass stays active.
	ErrCatalogFetch = errors.New("engine: catalog fetch failed")
)
