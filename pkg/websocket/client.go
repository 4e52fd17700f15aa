package websocket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tzrikka/wsclient/internal/logger"
)

var clients = sync.Map{}

// Client is a long-running wrapper around connections to the same WebSocket
// endpoint and credentials. It usually manages a single [Conn], except when
// it gets disconnected, or is about to be, in which case the client
// automatically opens another [Conn] and switches to it seamlessly, to
// prevent or at least minimize downtime during reconnections.
//
// Unlike [Conn], which exposes events through an [EventSink], Client
// re-exposes incoming data [Message]s as a plain Go channel, for callers
// that would rather range over a channel than implement a sink.
type Client struct {
	logger *zerolog.Logger
	url    urlFunc
	opts   []Option

	conns   [2]*Conn
	inMsgs  <-chan Message
	outMsgs chan Message

	refresh *time.Timer
}

// Message is a data message forwarded by [Client.IncomingMessages].
type Message struct {
	Opcode Opcode
	Data   []byte
}

type urlFunc func(ctx context.Context) (string, error)

// NewOrCachedClient returns the cached [Client] for the given ID, or
// creates and caches a new one via [Dial] if none exists yet.
func NewOrCachedClient(ctx context.Context, url urlFunc, id string, opts ...Option) (*Client, error) {
	hashedID := hash(id)
	if client, ok := clients.Load(hashedID); ok {
		return client.(*Client), nil //nolint:errcheck
	}

	c, err := newClient(ctx, url, opts...)
	if err != nil {
		return nil, err
	}

	actual, loaded := clients.LoadOrStore(hashedID, c)
	if loaded { // Stored by a different goroutine since clients.Load() above.
		deleteClient(c)
	} else { // Newly-stored by this goroutine, so activate its message relay.
		go c.relayMessages(ctx)
	}

	return actual.(*Client), nil //nolint:errcheck
}

// hash generates a stable-but-irreversible SHA-256 hash of a [Client] ID.
func hash(id string) string {
	h := sha256.New()
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

func newClient(ctx context.Context, f urlFunc, opts ...Option) (*Client, error) {
	conn, err := newConn(ctx, f, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		logger:  logger.FromContext(ctx),
		url:     f,
		opts:    opts,
		conns:   [2]*Conn{conn},
		inMsgs:  channelSinkOf(conn),
		outMsgs: make(chan Message),
	}, nil
}

func newConn(ctx context.Context, f urlFunc, opts ...Option) (*Conn, error) {
	url, err := f(ctx)
	if err != nil {
		return nil, err
	}

	return Dial(ctx, url, opts...)
}

func (c *Client) newConn(ctx context.Context, f urlFunc, opts ...Option) (*Conn, error) {
	return newConn(logger.InContext(ctx, c.logger), f, opts...)
}

// deleteClient deletes a newly-created [Client] which is not needed anymore,
// because a different one was already activated with the same ID.
func deleteClient(c *Client) {
	c.conns[0].Close(StatusGoingAway, "")

	c.logger = nil
	c.url = nil
	c.opts = nil

	c.conns = [2]*Conn{}
	c.inMsgs = nil
	c.outMsgs = nil
}

// relayMessages runs as a [Client] goroutine, to route data [Message]s
// from the client's underlying [Conn] to the client's subscribers.
func (c *Client) relayMessages(ctx context.Context) {
	for {
		if msg, ok := <-c.inMsgs; ok {
			c.outMsgs <- msg
			continue
		}

		c.replaceConn(ctx)
	}
}

// replaceConn either creates a new [Conn] (if the existing one is
// closing/closed), or switches seamlessly to a secondary one which
// was created by the timer-based goroutine in [Client.RefreshConnectionIn].
func (c *Client) replaceConn(ctx context.Context) {
	defer func() {
		c.inMsgs = channelSinkOf(c.conns[0])
	}()

	// Switch to a fresh secondary connection.
	if c.conns[1] != nil {
		c.conns[0] = c.conns[1]
		c.conns[1] = nil
		return
	}

	// Create a new connection, with endless retries.
	i := 0
	for {
		conn, err := c.newConn(ctx, c.url, c.opts...)
		if err == nil {
			c.conns[0] = conn
			break
		}

		c.logger.Error().Err(err).Int("retry", i).Msg("failed to replace WebSocket connection")
		i++
	}
}

// IncomingMessages returns the client's channel that publishes
// data [Message]s as they are received from the server.
func (c *Client) IncomingMessages() <-chan Message {
	return c.outMsgs
}

// RefreshConnectionIn instructs the client to replace its underlying [Conn]
// seamlessly after the given duration of time. This prevents unnecessary
// downtime during normal reconnections, which is useful in connections
// where the disconnection time is known or coordinated in advance.
func (c *Client) RefreshConnectionIn(ctx context.Context, d time.Duration) {
	m := "starting timer to refresh WebSocket connection"
	if c.refresh != nil {
		c.refresh.Stop()
		m = "re" + m
	}
	c.logger.Debug().Msg(m)

	c.refresh = time.AfterFunc(d, func() {
		c.logger.Debug().Msg("refreshing WebSocket connection")
		c.refresh = nil

		conn, err := c.newConn(ctx, c.url, c.opts...)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to refresh WebSocket connection")
			return
		}

		c.conns[1] = conn
		c.conns[0].Close(StatusGoingAway, "")
	})
}

// SendJSONMessage sends a JSON text message to the server.
func (c *Client) SendJSONMessage(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, done := c.conns[0].SendText(b)
	return <-done
}

// channelBridge is an [EventSink] that forwards text/binary messages to a
// channel and closes that channel once the connection ends, letting [Client]
// present its underlying [Conn]s as a single continuous channel of
// [Message]s the way this package's earliest, event-sink-less version did.
type channelBridge struct {
	BaseEventSink
	ch chan Message
}

func (b *channelBridge) OnTextMessage(data []byte) {
	b.ch <- Message{Opcode: OpcodeText, Data: data}
}

func (b *channelBridge) OnBinaryMessage(data []byte) {
	b.ch <- Message{Opcode: OpcodeBinary, Data: data}
}

func (b *channelBridge) OnClosed(StatusCode, string, bool) {
	close(b.ch)
}

func (b *channelBridge) OnFailed(error) {
	close(b.ch)
}

func channelSinkOf(conn *Conn) <-chan Message {
	ch := make(chan Message)
	conn.SetEventSink(&channelBridge{ch: ch})
	return ch
}
