package websocket

import (
	"net/http"
	"sync/atomic"
)

// EventSink receives notifications about a [Conn]'s lifecycle and incoming
// data, the way a delegate object does in event-driven WebSocket clients.
// Every method has a no-op default via [BaseEventSink], so implementers only
// need to override the events they care about.
//
// Every method is invoked through the connection's [Dispatcher], never
// inline on the goroutine that read the frame or flushed the write. The
// default dispatcher buffers up to 64 pending events; once that buffer is
// full, a slow sink stalls the goroutine that posts the next event.
type EventSink interface {
	// OnOpen fires once, right after the opening handshake succeeds.
	OnOpen(protocol string, headers http.Header)
	// OnTextMessage fires for each fully assembled, UTF-8-validated text message.
	OnTextMessage(data []byte)
	// OnBinaryMessage fires for each fully assembled binary message.
	OnBinaryMessage(data []byte)
	// OnPong fires for every Pong control frame that arrives, whether it is
	// unsolicited or a reply to a Ping this connection sent.
	OnPong(data []byte)
	// OnWriteComplete fires once a [Conn.SendText] or [Conn.SendBinary] item
	// has been fully written to the transport, identified by the id that
	// call returned.
	OnWriteComplete(id string)
	// OnClosing fires once the closing handshake has started, before the
	// connection finishes closing. code/reason describe whichever side
	// initiated it.
	OnClosing(code StatusCode, reason string)
	// OnClosed fires exactly once, after the connection has fully closed.
	// clean is true only if both sides completed the closing handshake.
	OnClosed(code StatusCode, reason string, clean bool)
	// OnFailed fires when the connection fails outside of a closing
	// handshake already in progress (a transport error or a protocol
	// violation while still CONNECTING or OPEN). It is terminal: no
	// OnClosed follows. A failure that happens once the closing handshake
	// has already started (e.g. a close timeout) is reported through
	// OnClosed with clean=false instead, since the peer already knows the
	// connection is ending.
	OnFailed(err error)
}

// BaseEventSink is a no-op [EventSink] meant to be embedded by callers who
// only want to override a handful of its methods.
type BaseEventSink struct{}

func (BaseEventSink) OnOpen(string, http.Header)       {}
func (BaseEventSink) OnTextMessage([]byte)              {}
func (BaseEventSink) OnBinaryMessage([]byte)            {}
func (BaseEventSink) OnPong([]byte)                     {}
func (BaseEventSink) OnWriteComplete(string)            {}
func (BaseEventSink) OnClosing(StatusCode, string)      {}
func (BaseEventSink) OnClosed(StatusCode, string, bool) {}
func (BaseEventSink) OnFailed(error)                    {}

var _ EventSink = BaseEventSink{}

// Dispatcher posts a callback onto whatever execution context the caller
// wants events delivered on (a UI run loop, a worker pool, a single
// dedicated goroutine). Implementations must preserve the order in which
// they're called, since [Conn] relies on that to guarantee event ordering.
type Dispatcher func(func())

// newOrderedDispatcher returns a [Dispatcher] backed by a single goroutine
// draining a buffered channel in FIFO order. This is the default used by
// [Dial] when no [WithDispatcher] option is given: events are still
// delivered asynchronously (never inline on the reader/writer goroutines),
// but strictly in generation order, with no run-loop integration required
// from the caller.
func newOrderedDispatcher() (Dispatcher, func()) {
	q := make(chan func(), 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for f := range q {
			f()
		}
	}()

	dispatch := func(f func()) {
		q <- f
	}
	stop := func() {
		close(q)
		<-done
	}

	return dispatch, stop
}

// eventHub owns a [Conn]'s weak reference to its [EventSink] and the
// [Dispatcher] used to deliver events to it.
type eventHub struct {
	sink       atomic.Pointer[EventSink]
	dispatch   Dispatcher
	stopDefault func()
}

func newEventHub(sink EventSink, dispatch Dispatcher) *eventHub {
	h := &eventHub{}
	if sink != nil {
		h.sink.Store(&sink)
	}

	if dispatch == nil {
		d, stop := newOrderedDispatcher()
		dispatch = d
		h.stopDefault = stop
	}
	h.dispatch = dispatch

	return h
}

// setSink atomically replaces the connection's event sink. A nil sink
// disables event delivery without requiring a no-op [BaseEventSink].
func (h *eventHub) setSink(sink EventSink) {
	if sink == nil {
		h.sink.Store(nil)
		return
	}
	h.sink.Store(&sink)
}

func (h *eventHub) post(f func()) {
	sink := h.sink.Load()
	if sink == nil {
		return
	}
	h.dispatch(f)
}

func (h *eventHub) onOpen(protocol string, headers http.Header) {
	h.post(func() {
		if s := h.sink.Load(); s != nil {
			(*s).OnOpen(protocol, headers)
		}
	})
}

func (h *eventHub) onTextMessage(data []byte) {
	h.post(func() {
		if s := h.sink.Load(); s != nil {
			(*s).OnTextMessage(data)
		}
	})
}

func (h *eventHub) onBinaryMessage(data []byte) {
	h.post(func() {
		if s := h.sink.Load(); s != nil {
			(*s).OnBinaryMessage(data)
		}
	})
}

func (h *eventHub) onPong(data []byte) {
	h.post(func() {
		if s := h.sink.Load(); s != nil {
			(*s).OnPong(data)
		}
	})
}

func (h *eventHub) onWriteComplete(id string) {
	if id == "" {
		return
	}
	h.post(func() {
		if s := h.sink.Load(); s != nil {
			(*s).OnWriteComplete(id)
		}
	})
}

func (h *eventHub) onClosing(code StatusCode, reason string) {
	h.post(func() {
		if s := h.sink.Load(); s != nil {
			(*s).OnClosing(code, reason)
		}
	})
}

func (h *eventHub) onClosed(code StatusCode, reason string, clean bool) {
	h.post(func() {
		if s := h.sink.Load(); s != nil {
			(*s).OnClosed(code, reason, clean)
		}
	})
}

func (h *eventHub) onFailed(err error) {
	h.post(func() {
		if s := h.sink.Load(); s != nil {
			(*s).OnFailed(err)
		}
	})
}

// close stops the default dispatcher's goroutine, if one was created. It is
// a no-op when the caller supplied its own [Dispatcher].
func (h *eventHub) close() {
	if h.stopDefault != nil {
		h.stopDefault()
	}
}
