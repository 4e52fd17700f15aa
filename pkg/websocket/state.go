package websocket

import (
	"sync"
)

// ReadyState is the connection's position in its lifecycle, mirroring the
// browser/WHATWG "readyState" property that this package's design is
// modeled after: a connection moves through these states exactly once,
// in order, and never moves backward.
type ReadyState int32

const (
	// StateConnecting is set from construction until the opening handshake
	// completes successfully.
	StateConnecting ReadyState = iota
	// StateOpen is set once the handshake succeeds; sends and receives are
	// both possible.
	StateOpen
	// StateClosing is set once either side has sent or received a Close
	// frame; only the closing handshake's own frames may still be sent.
	StateClosing
	// StateClosed is set once the closing handshake finished, the transport
	// failed, or the close timeout elapsed.
	StateClosed
)

// String returns the state's name.
func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// closeState tracks the closing handshake's progress and guards it with a
// mutex, generalizing the closeSent/closeReceived bookkeeping that this
// package's core used to track with two plain booleans.
type closeState struct {
	mu sync.Mutex

	ready ReadyState

	sent, received bool
	localCode      StatusCode
	localReason    string
	remoteCode     StatusCode
	remoteReason   string
}

// opened transitions CONNECTING to OPEN. It is a no-op if called more than
// once (callers should never do this, but the transition stays monotonic).
func (s *closeState) opened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready == StateConnecting {
		s.ready = StateOpen
	}
}

func (s *closeState) current() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// beginClose records the intent to send a Close frame with the given code
// and reason. It returns false if a Close frame was already sent, in which
// case the caller must not send another one (the closing handshake is
// idempotent on the local side).
func (s *closeState) beginClose(code StatusCode, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sent {
		return false
	}

	s.sent = true
	s.localCode, s.localReason = code, reason
	if s.ready == StateOpen {
		s.ready = StateClosing
	}
	return true
}

// noteReceived records an inbound Close frame's code and reason. It returns
// true the first time it's called for this connection.
func (s *closeState) noteReceived(code StatusCode, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.received {
		return false
	}

	s.received = true
	s.remoteCode, s.remoteReason = code, reason
	if s.ready == StateOpen {
		s.ready = StateClosing
	}
	return true
}

// canFinish reports whether both halves of the closing handshake have
// completed, and if so, the code/reason to report (the remote one, if the
// peer sent one, matching RFC 6455's guidance to surface what the peer said).
func (s *closeState) canFinish() (code StatusCode, reason string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sent || !s.received || s.ready == StateClosed {
		return 0, "", false
	}

	s.ready = StateClosed
	if s.remoteCode != 0 || s.remoteReason != "" {
		return s.remoteCode, s.remoteReason, true
	}
	return s.localCode, s.localReason, true
}

// forceClosed transitions directly to CLOSED, for transport failures and
// close-timeout expiry, where no clean handshake exchange is possible. It
// returns false if the connection was already closed.
func (s *closeState) forceClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready == StateClosed {
		return false
	}
	s.ready = StateClosed
	return true
}

func (s *closeState) isClosed() bool {
	return s.current() == StateClosed
}

func (s *closeState) isClosing() bool {
	st := s.current()
	return st == StateClosing || st == StateClosed
}
