package websocket

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// readPump runs as a [Conn] goroutine, continuously calling [Conn.readMessage]
// to process control and data frames and publish assembled messages through
// the connection's [EventSink], until the transport closes or a protocol
// violation forces the connection closed.
func (c *Conn) readPump() {
	for {
		msg, closed := c.readMessage()
		if closed {
			return
		}
		if msg == nil {
			continue
		}

		switch msg.Opcode {
		case OpcodeText:
			c.events.onTextMessage(msg.Data)
		case OpcodeBinary:
			c.events.onBinaryMessage(msg.Data)
		}
	}
}

// internalMessage is a fully assembled data message, ready to be delivered
// through the event sink.
type internalMessage struct {
	Opcode Opcode
	Data   []byte
}

// readMessage reads incoming frames from the server, responds to
// control frames (whether or not they're interleaved with data frames),
// and defragments data frames if needed. It returns closed=true once the
// connection has ended (cleanly or not), at which point the caller must
// stop calling it again.
//
// It is based on:
//   - Base framing protocol: https://datatracker.ietf.org/doc/html/rfc6455#section-5.2
//   - Fragmentation: https://datatracker.ietf.org/doc/html/rfc6455#section-5.4
//   - Control frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5
//   - Data frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
//   - Receiving data: https://datatracker.ietf.org/doc/html/rfc6455#section-6.2
//   - Closing the connection: https://datatracker.ietf.org/doc/html/rfc6455#section-7
//   - Handling Errors in UTF-8-Encoded Data: https://datatracker.ietf.org/doc/html/rfc6455#section-8.1
func (c *Conn) readMessage() (msg *internalMessage, closed bool) {
	var buf bytes.Buffer
	var op Opcode
	var validator utf8Validator

	for {
		h, err := c.readFrameHeader()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.noteRemoteClosedAbruptly()
				return nil, true
			}
			c.fail(fmt.Errorf("%w: failed to read frame header: %w", ErrTransportError, err))
			return nil, true
		}

		c.logger.Debug().Bool("fin", h.fin).Str("opcode", h.opcode.String()).
			Uint64("length", h.payloadLength).Msg("received WebSocket frame")

		if status, reason, err := c.checkMessageSize(h, buf.Len()); err != nil {
			c.logger.Error().Err(err).Msg("protocol error due to oversized frame")
			c.initiateClose(status, reason, err)
			return nil, true
		}

		var data []byte
		if h.payloadLength > 0 {
			data = make([]byte, h.payloadLength)
			if _, err := io.ReadFull(c.bufio, data); err != nil {
				c.fail(fmt.Errorf("%w: failed to read frame payload: %w", ErrTransportError, err))
				return nil, true
			}
		}

		if status, reason, err := c.checkFrameHeader(h, op); err != nil {
			c.logger.Error().Err(err).Msg("protocol error due to invalid frame")
			c.initiateClose(status, reason, err)
			return nil, true
		}

		switch h.opcode {
		// "A fragmented message consists of a single frame with the FIN bit
		// clear and an opcode other than 0, followed by zero or more frames
		// with the FIN bit clear and the opcode set to 0, and terminated by
		// a single frame with the FIN bit set and an opcode of 0".
		case opcodeContinuation, OpcodeText, OpcodeBinary:
			if h.opcode != opcodeContinuation {
				op = h.opcode
				validator = utf8Validator{}
			}
			if op == OpcodeText && len(data) > 0 && !validator.step(data) {
				c.logger.Error().Msg("protocol error due to invalid UTF-8 text")
				c.initiateClose(StatusInvalidData, "invalid UTF-8 text",
					fmt.Errorf("%w: invalid UTF-8 text", ErrProtocolViolation))
				return nil, true
			}
			if len(data) > 0 {
				buf.Write(data)
			}

		// "If an endpoint receives a Close frame and did not previously send
		// a Close frame, the endpoint MUST send a Close frame in response".
		case opcodeClose:
			status, reason := c.parseClosePayload(data)
			c.handlePeerClose(status, reason)
			return nil, true // Not an error, but we no longer need to receive new frames.

		// "An endpoint MUST be capable of handling control
		// frames in the middle of a fragmented message".
		case opcodePing:
			c.queue.enqueueControl(sendItem{op: opcodePong, data: data})

		case opcodePong:
			c.events.onPong(data)
		}

		if h.fin && h.opcode <= OpcodeBinary {
			return c.finalizeMessage(op, buf.Bytes(), &validator)
		}
	}
}

func (c *Conn) finalizeMessage(op Opcode, data []byte, validator *utf8Validator) (*internalMessage, bool) {
	if data == nil {
		data = []byte{}
	}

	c.logger.Debug().Str("opcode", op.String()).Int("length", len(data)).
		Msg("finished receiving WebSocket data message")

	// "When an endpoint is to interpret a byte stream as UTF-8 but finds
	// that the byte stream is not, in fact, a valid UTF-8 stream, that
	// endpoint MUST _Fail the WebSocket Connection_. This rule applies both
	// during the opening handshake and during subsequent data exchange".
	if op == OpcodeText && !validator.complete() {
		c.logger.Error().Msg("protocol error due to truncated UTF-8 text")
		c.initiateClose(StatusInvalidData, "invalid UTF-8 text",
			fmt.Errorf("%w: truncated UTF-8 text", ErrProtocolViolation))
		return nil, true
	}

	return &internalMessage{Opcode: op, Data: data}, false
}

// SendText sends a [UTF-8 text] message to the server. It returns a
// completion identifier and a channel that receives the write's outcome
// once it has been handed to the transport (or the attempt failed).
//
// Sending is asynchronous: queued items are serialized against other
// concurrent senders and interleaved control frames by the connection's
// write pump.
//
// [UTF-8 text]: https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
func (c *Conn) SendText(data []byte) (id string, done <-chan error) {
	return c.send(OpcodeText, data)
}

// SendBinary sends a [binary] message to the server, with the same
// semantics as [Conn.SendText].
//
// [binary]: https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
func (c *Conn) SendBinary(data []byte) (id string, done <-chan error) {
	return c.send(OpcodeBinary, data)
}

func (c *Conn) send(op Opcode, data []byte) (string, <-chan error) {
	errCh := make(chan error, 1)

	if c.state.current() != StateOpen {
		errCh <- fmt.Errorf("%w: cannot send on a connection that isn't open", ErrUsageError)
		close(errCh)
		return "", errCh
	}

	item := c.prepareSendItem(op, data, true)
	item.done = errCh
	c.queue.enqueueData(item)

	return item.id, errCh
}

// Ping sends an unsolicited [Ping] control frame with an optional payload of
// up to 125 bytes.
//
// [Ping]: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.2
func (c *Conn) Ping(data []byte) <-chan error {
	errCh := make(chan error, 1)

	if len(data) > maxControlPayload {
		errCh <- fmt.Errorf("%w: ping payload exceeds %d bytes", ErrEncodingError, maxControlPayload)
		close(errCh)
		return errCh
	}

	item := c.prepareSendItem(opcodePing, data, false)
	item.done = errCh
	c.queue.enqueueControl(item)

	return errCh
}
