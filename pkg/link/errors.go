package link

import "errors"

var (
	// ErrNotReady indicates the handshake has not completed.
	ErrNotReady = errors.New("link not ready")
	// ErrNotConnected indicates no stream is attached to the endpoint.
	ErrNotConnected = errors.New("not connected")
	// ErrPayloadTooLarge indicates a payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrUnsupportedScheme indicates a URL the dialer can't handle.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)
