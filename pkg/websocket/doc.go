// Package websocket is a client-only implementation of the WebSocket
// protocol (RFC 6455): the opening HTTP handshake, the frame codec,
// message assembly with streaming UTF-8 validation, the connection state
// machine, and an ordered, priority-aware send queue.
//
// [Dial] performs the handshake and returns an open [Conn]. Incoming
// messages, pongs, and lifecycle transitions are reported through an
// [EventSink], delivered asynchronously via a [Dispatcher], off the
// connection's own goroutines. [Client] layers a
// reconnecting, channel-based convenience API on top of [Conn], for callers
// that would rather manage a long-lived logical connection (with automatic,
// preemptive reconnection) than a single handshake.
//
// Design goals: correctness against RFC 6455 (including Autobahn Testsuite
// conformance, see autobahn/wstest), availability during reconnects, and
// idiomatic, minimal code.
//
// Note: WebSocket [extensions] are not supported. [Subprotocols] are
// negotiated (offered via [WithSubprotocols], read back via
// [Conn.NegotiatedProtocol]) but this package has no built-in knowledge of
// any subprotocol's own message semantics.
//
// [extensions]: https://www.iana.org/assignments/websocket/websocket.xhtml#extension-name
// [Subprotocols]: https://www.iana.org/assignments/websocket/websocket.xhtml#subprotocol-name
package websocket
