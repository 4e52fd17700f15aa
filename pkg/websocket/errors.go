package websocket

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, one per failure category named in this package's
// design notes. Wrap one of these with [fmt.Errorf] and "%w" so that callers
// can classify a failure with [errors.Is] without parsing message text.
var (
	// ErrHandshakeFailed means the opening HTTP handshake did not complete:
	// a non-101 response, a missing or wrong header, or a transport failure
	// before any frame was exchanged.
	ErrHandshakeFailed = errors.New("WebSocket handshake failed")

	// ErrProtocolViolation means the peer sent bytes that violate RFC 6455
	// framing rules (bad RSV bits, bad opcode, masked server frame, a
	// fragmented control frame, invalid UTF-8 in a text message, and so on).
	ErrProtocolViolation = errors.New("WebSocket protocol violation")

	// ErrPolicyViolation means a local policy limit was exceeded (an inbound
	// message larger than the configured maximum size).
	ErrPolicyViolation = errors.New("WebSocket policy violation")

	// ErrEncodingError means application data handed to a Send method
	// failed a local encoding precondition (e.g. a control-frame payload
	// over 125 bytes).
	ErrEncodingError = errors.New("WebSocket encoding error")

	// ErrTransportError means the underlying network connection failed
	// outside of the WebSocket protocol itself (read/write error, or an
	// unexpected EOF before a close handshake completed).
	ErrTransportError = errors.New("WebSocket transport error")

	// ErrUsageError means the caller misused the API itself: sending data on
	// a connection that isn't open.
	ErrUsageError = errors.New("WebSocket usage error")
)

// CloseError describes the closure of a connection: the [StatusCode] and
// reason that accompanied it, and whether it was clean. This package's own
// close and failure paths do not construct it; they report closures through
// [EventSink.OnClosed] and [EventSink.OnFailed].
type CloseError struct {
	Code   StatusCode
	Reason string
	// Clean is true only if both endpoints completed the closing handshake
	// per https://datatracker.ietf.org/doc/html/rfc6455#section-7.1.4.
	Clean bool
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("WebSocket closed: %s (%d)", e.Code, uint16(e.Code))
	}
	return fmt.Sprintf("WebSocket closed: %s (%d): %s", e.Code, uint16(e.Code), e.Reason)
}
