package knx

import "errors"

var (
	// ErrNotConnected is returned when the gateway session is not established.
	ErrNotConnected = errors.New("knx: not connected to gateway")

	// ErrConnectionFailed is returned when dialling or the group socket
	// handshake fails.
	ErrConnectionFailed = errors.New("knx: connection to gateway failed")

	// ErrProtocolDesync is returned when the knxd framing can no longer be
	// trusted and the socket must be reopened.
	ErrProtocolDesync = errors.New("knx: protocol desync")

	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrUnknownTag is returned for an encoding tag outside the supported set.
	ErrUnknownTag = errors.New("knx: unknown encoding tag")

	// ErrEncodingFailed is returned when a value does not fit a binding's tag.
	ErrEncodingFailed = errors.New("knx: encoding failed")

	ErrDecodingFailed = errors.New("knx: decoding failed")

	ErrTelegramFailed = errors.New("knx: telegram send failed")

	ErrInvalidTelegram = errors.New("knx: invalid telegram")

	// ErrBindingClosed is returned by Write on a binding that was unbound.
	ErrBindingClosed = errors.New("knx: binding closed")
)
