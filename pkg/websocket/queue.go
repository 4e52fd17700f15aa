package websocket

import (
	"fmt"

	"github.com/lithammer/shortuuid/v4"
)

// sendItem is a single item of outbound data, queued for the write pump.
type sendItem struct {
	op   Opcode
	data []byte

	// id, if non-empty, is reported via [EventSink.OnWriteComplete] once
	// this item has been fully written.
	id string

	// done, if non-nil, receives the write's result. It is set for items
	// queued by [Conn.SendText], [Conn.SendBinary] and [Conn.Ping]; control
	// frames queued internally (close and pong replies, idle pings) leave it nil.
	done chan<- error
}

// sendQueue is the connection's ordered, priority-aware outbound queue. Data
// frames (text/binary) are queued on a lower-priority channel; control
// frames (ping/pong/close) are queued on a higher-priority one. The write
// pump always prefers a pending control item over a pending data item, but
// once it has started writing a frame, nothing interrupts it until that
// frame (or in the case of a fragmented message, that whole frame sequence)
// has been flushed: a queued control item only jumps ahead of data items
// that haven't started being written yet, as required by
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.1.
type sendQueue struct {
	control chan sendItem
	data    chan sendItem
}

func newSendQueue() *sendQueue {
	return &sendQueue{
		control: make(chan sendItem, 16),
		data:    make(chan sendItem, 16),
	}
}

func (q *sendQueue) enqueueControl(item sendItem) {
	q.control <- item
}

func (q *sendQueue) enqueueData(item sendItem) {
	q.data <- item
}

func (q *sendQueue) closeChannels() {
	close(q.control)
	close(q.data)
}

// next blocks until an item is available, preferring control items over data
// items. It returns ok=false once both channels are closed and drained.
func (q *sendQueue) next() (item sendItem, ok bool) {
	// Prefer a control item that's already waiting, without blocking.
	select {
	case item, ok = <-q.control:
		if ok {
			return item, true
		}
	default:
	}

	select {
	case item, ok = <-q.control:
		return item, ok
	case item, ok = <-q.data:
		return item, ok
	}
}

// prepareSendItem builds a [sendItem], copying the payload when the
// connection is configured for copy-on-enqueue and generating a completion
// identifier when wantID is set. The caller queues the returned item.
func (c *Conn) prepareSendItem(op Opcode, data []byte, wantID bool) sendItem {
	payload := data
	if c.copyOnEnqueue && len(data) > 0 {
		payload = make([]byte, len(data))
		copy(payload, data)
	}

	item := sendItem{op: op, data: payload}
	if wantID {
		item.id = shortuuid.New()
	}
	return item
}

// writePump runs as a [Conn] goroutine, draining the send queue in priority
// order and writing each item to the transport. It replaces the plain FIFO
// channel this package used to rely on for outbound synchronization.
func (c *Conn) writePump() {
	for {
		item, ok := c.queue.next()
		if !ok {
			return
		}

		err := c.writeMessageFrames(item.op, item.data)
		if err != nil {
			c.logger.Error().Err(err).Str("opcode", item.op.String()).Msg("failed to write WebSocket frame")
		}

		if item.done != nil {
			item.done <- err
			close(item.done)
		}
		if err == nil && item.id != "" {
			c.events.onWriteComplete(item.id)
		}

		if err != nil {
			c.fail(fmt.Errorf("%w: %w", ErrTransportError, err))
			return
		}
	}
}
