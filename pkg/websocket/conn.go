package websocket

import (
	"bufio"
	"crypto/x509"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Conn represents the configuration and state of an open client connection
// to a WebSocket server. A Conn is created exclusively by [Dial]; there is
// no exported constructor that returns one before its handshake succeeds.
type Conn struct {
	// Initialized before the handshake.
	logger           *zerolog.Logger
	client           *http.Client
	headers          http.Header
	cookies          []*http.Cookie
	subprotocols     []string
	insecureTLS      bool
	pinnedCerts      *x509.CertPool
	copyOnEnqueue    bool
	maxMessageSize   int
	handshakeTimeout time.Duration
	closeTimeout     time.Duration
	idlePingInterval time.Duration
	eventSink        EventSink
	dispatcher       Dispatcher

	// Populated by the handshake.
	negotiatedProtocol string
	responseHeaders    http.Header

	// Initialized after the handshake.
	bufio  *bufio.ReadWriter
	closer io.ReadWriteCloser

	queue  *sendQueue
	events *eventHub
	state  closeState

	pingTimer  *time.Timer
	closeTimer *time.Timer

	closeOnce sync.Once

	// Only for the purpose of minimizing memory allocations (safely),
	// not for state management or memory sharing of any kind.
	readBuf  [8]byte
	writeBuf [8]byte
	closeBuf [maxControlPayload]byte

	// For unit-testing only.
	nonceGen io.Reader
}

// ReadyState returns the connection's current position in its lifecycle.
func (c *Conn) ReadyState() ReadyState {
	return c.state.current()
}

// NegotiatedProtocol returns the subprotocol the server selected, and
// whether one was selected at all, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-1.9.
func (c *Conn) NegotiatedProtocol() (string, bool) {
	return c.negotiatedProtocol, c.negotiatedProtocol != ""
}

// ResponseHeaders returns the HTTP headers the server sent with its
// handshake response (the "101 Switching Protocols" response), for
// inspecting anything beyond the mandatory WebSocket headers.
func (c *Conn) ResponseHeaders() http.Header {
	return c.responseHeaders
}

// SetEventSink atomically replaces the connection's [EventSink]. Passing nil
// disables event delivery. The reference is held weakly in the sense that
// the connection never assumes it outlives the sink; it is simply an atomic
// pointer swap.
func (c *Conn) SetEventSink(sink EventSink) {
	c.events.setSink(sink)
}

// start launches the connection's goroutines and fires the opening event.
// Called once, by [Dial], after the handshake succeeds.
func (c *Conn) start() {
	c.state.opened()

	go c.readPump()
	go c.writePump()

	if c.idlePingInterval > 0 {
		c.armIdlePing()
	}

	c.events.onOpen(c.negotiatedProtocol, c.responseHeaders)
}

// armIdlePing (re)schedules an unsolicited Ping frame after the configured
// idle interval, to detect a dead peer that never sends or receives data.
func (c *Conn) armIdlePing() {
	c.pingTimer = time.AfterFunc(c.idlePingInterval, func() {
		if c.state.isClosing() {
			return
		}
		c.queue.enqueueControl(sendItem{op: opcodePing})
		c.armIdlePing()
	})
}

// fail tears the connection down immediately outside of a clean closing
// handshake: a transport error or a close-timeout expiry. It is safe to call
// more than once or concurrently; only the first call has any effect.
func (c *Conn) fail(err error) {
	c.failFrom(err, c.state.current() == StateClosing)
}

// failFrom implements [Conn.fail], taking the caller's own determination of
// whether a closing handshake was already legitimately in progress before
// this failure, since some callers (see [Conn.initiateClose]) mutate the
// connection's state on the way to calling this and can no longer have it
// inferred correctly from the state alone.
//
// Exactly one of [EventSink.OnFailed] or [EventSink.OnClosed] fires, never
// both: a closing handshake already in progress (CLOSING) finishes as an
// unclean close, since the peer already knows the connection is ending;
// anything else (still CONNECTING or OPEN) is reported as an outright
// failure, with no closed event to follow.
func (c *Conn) failFrom(err error, wasClosing bool) {
	c.closeOnce.Do(func() {
		c.state.forceClosed()
		_ = c.closer.Close()

		if c.pingTimer != nil {
			c.pingTimer.Stop()
		}
		if c.closeTimer != nil {
			c.closeTimer.Stop()
		}

		c.logger.Error().Err(err).Msg("WebSocket connection failed")

		if wasClosing {
			c.events.onClosed(StatusClosedAbnormally, err.Error(), false)
		} else {
			c.events.onFailed(err)
		}
		c.events.close()
	})
}

// finishClean tears the connection down after both halves of the closing
// handshake completed normally.
func (c *Conn) finishClean(code StatusCode, reason string) {
	c.closeOnce.Do(func() {
		_ = c.closer.Close()

		if c.pingTimer != nil {
			c.pingTimer.Stop()
		}
		if c.closeTimer != nil {
			c.closeTimer.Stop()
		}

		c.events.onClosed(code, reason, true)
		c.events.close()
	})
}
