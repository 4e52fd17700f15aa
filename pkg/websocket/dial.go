package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1" //gosec:disable G505 // Required by the WebSocket protocol.
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tzrikka/wsclient/internal/logger"
)

// Option configures a [Conn] before [Dial] performs its handshake.
type Option func(*Conn)

var defaultClient = adjustHTTPClient(*http.DefaultClient)

// WithHTTPClient lets callers of [Dial] specify a custom [http.Client]
// to use for the WebSocket handshake, instead of [http.DefaultClient].
//
// Do not specify a custom timeout in the HTTP client! This will interfere with
// the long-lived WebSocket connection beyond the scope of its initial handshake.
// Instead, use [context.WithTimeout] with the [context.Context] passed to [Dial].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Conn) {
		c.client = hc
	}
}

// WithHTTPHeader lets callers of [Dial] add a single HTTP header to the WebSocket
// handshake's HTTP request. Use [WithHTTPHeaders] to specify multiple ones.
func WithHTTPHeader(key, value string) Option {
	return func(c *Conn) {
		c.headers.Add(key, value)
	}
}

// WithHTTPHeaders lets callers of [Dial] add multiple HTTP headers to the WebSocket
// handshake's HTTP request, instead of calling [WithHTTPHeader] multiple times.
func WithHTTPHeaders(hs http.Header) Option {
	return func(c *Conn) {
		c.headers = hs.Clone()
	}
}

// WithCookies attaches the given cookies to the handshake's HTTP request.
func WithCookies(cookies ...*http.Cookie) Option {
	return func(c *Conn) {
		c.cookies = append(c.cookies, cookies...)
	}
}

// WithSubprotocols offers the given subprotocol names to the server, in
// preference order, via "Sec-WebSocket-Protocol". Call [Conn.NegotiatedProtocol]
// after [Dial] returns to see which one (if any) the server selected.
func WithSubprotocols(protocols ...string) Option {
	return func(c *Conn) {
		c.subprotocols = append(c.subprotocols, protocols...)
	}
}

// WithInsecureTLS disables server certificate verification entirely. This
// is meant for local development and testing against self-signed
// certificates; never enable it against a production endpoint.
func WithInsecureTLS() Option {
	return func(c *Conn) {
		c.insecureTLS = true
	}
}

// WithPinnedCertificates restricts the TLS transport to accept only server
// certificate chains rooted in the given certificates, instead of the
// system trust store.
func WithPinnedCertificates(certs ...*x509.Certificate) Option {
	return func(c *Conn) {
		if c.pinnedCerts == nil {
			c.pinnedCerts = x509.NewCertPool()
		}
		for _, cert := range certs {
			c.pinnedCerts.AddCert(cert)
		}
	}
}

// WithCopyOnEnqueue controls whether [Conn.SendText]/[Conn.SendBinary] copy
// the caller's payload before queueing it for the write pump (the default),
// or keep a reference to the caller's slice. Disabling this avoids an
// allocation per send, but requires the caller not to mutate the slice
// until the item's completion is reported.
func WithCopyOnEnqueue(copy bool) Option {
	return func(c *Conn) {
		c.copyOnEnqueue = copy
	}
}

// WithMaxMessageSize caps the size of a single (defragmented) inbound
// message; exceeding it fails the connection with [StatusMessageTooBig]. A
// value of 0 disables the limit. The default is 32 MiB.
func WithMaxMessageSize(n int) Option {
	return func(c *Conn) {
		c.maxMessageSize = n
	}
}

// WithHandshakeTimeout bounds how long the opening HTTP handshake may take.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.handshakeTimeout = d
	}
}

// WithCloseTimeout bounds how long [Conn.Close] waits for the peer to
// complete its half of the closing handshake before the connection is
// forced closed. The default is 60 seconds.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.closeTimeout = d
	}
}

// WithIdlePingInterval arms an unsolicited Ping frame on this interval, to
// detect a dead peer that never sends data on its own.
func WithIdlePingInterval(d time.Duration) Option {
	return func(c *Conn) {
		c.idlePingInterval = d
	}
}

// WithEventSink sets the [EventSink] that receives this connection's
// lifecycle and message events. If omitted, [Dial] starts with no sink;
// use [Conn.SetEventSink] to attach one at any time, including after Dial.
func WithEventSink(sink EventSink) Option {
	return func(c *Conn) {
		c.eventSink = sink
	}
}

// WithDispatcher overrides how events are posted to the [EventSink]. If
// omitted, events are delivered via an internal ordered goroutine.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Conn) {
		c.dispatcher = d
	}
}

// Dial performs a [WebSocket handshake] to establish
// a connection to the given URL ("ws://..." or "wss://").
//
// [WebSocket handshake]: https://datatracker.ietf.org/doc/html/rfc6455#section-4.1
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Conn, error) {
	// Initialize optional configuration details and internal helpers.
	c := &Conn{
		logger:         logger.FromContext(ctx),
		headers:        http.Header{},
		nonceGen:       rand.Reader,
		copyOnEnqueue:  true,
		maxMessageSize: defaultMaxMessageSize,
		queue:          newSendQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = newEventHub(c.eventSink, c.dispatcher)

	if c.client == nil {
		c.client = defaultClient
	} else {
		c.client = adjustHTTPClient(*c.client)
	}
	if c.insecureTLS || c.pinnedCerts != nil {
		c.client = withTLSConfig(c.client, c.insecureTLS, c.pinnedCerts)
	}

	if c.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handshakeTimeout)
		defer cancel()
	}

	// Send handshake request & check response.
	nonce, err := generateNonce(c.nonceGen)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %w", ErrHandshakeFailed, err)
	}
	req, err := c.handshakeRequest(ctx, wsURL, nonce)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send handshake request: %w", ErrHandshakeFailed, err)
	}
	if err = c.checkHandshakeResponse(resp, nonce); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	// Post-handshake connection state initializations.
	rwc, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		return nil, fmt.Errorf("%w: handshake response body type: got %T, want io.ReadWriteCloser",
			ErrHandshakeFailed, resp.Body)
	}

	c.negotiatedProtocol = resp.Header.Get("Sec-WebSocket-Protocol")
	c.responseHeaders = resp.Header.Clone()
	c.bufio = bufio.NewReadWriter(bufio.NewReader(rwc), bufio.NewWriter(rwc))
	c.closer = rwc

	c.start()

	c.logger.Debug().Msg("WebSocket connection initialized")
	return c, nil
}

// withTLSConfig returns a shallow copy of hc whose transport applies the
// given insecure-skip-verify and/or pinned-certificate settings, grounded
// in SocketRocket's allowsInsecureConnection/SR_SSLPinnedCertificates.
func withTLSConfig(hc *http.Client, insecure bool, pinned *x509.CertPool) *http.Client {
	c := *hc

	transport, _ := c.Transport.(*http.Transport)
	if transport != nil {
		transport = transport.Clone()
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone() //nolint:errcheck
	}

	tlsConfig := transport.TLSClientConfig
	if tlsConfig != nil {
		tlsConfig = tlsConfig.Clone()
	} else {
		tlsConfig = &tls.Config{} //nolint:gosec // Narrowed below, per caller's explicit opt-in.
	}

	if insecure {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // Opt-in via WithInsecureTLS.
	}
	if pinned != nil {
		tlsConfig.RootCAs = pinned
	}

	transport.TLSClientConfig = tlsConfig
	c.Transport = transport
	return &c
}

// adjustHTTPClient returns a modified shallow copy of the given [http.Client].
func adjustHTTPClient(c http.Client) *http.Client {
	// Wrap the HTTP client's CheckRedirect function, to convert
	// ws/wss URL schemes to http/https, respectively.
	origCheckRedirect := c.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		switch req.URL.Scheme {
		case "ws":
			req.URL.Scheme = "http"
		case "wss":
			req.URL.Scheme = "https"
		}

		if origCheckRedirect != nil {
			return origCheckRedirect(req, via)
		}
		return nil
	}

	return &c
}

// generateNonce generates a nonce consisting of a randomly
// selected 16-byte value that has been Base64-encoded. The
// nonce MUST be selected randomly for each connection.
func generateNonce(r io.Reader) (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// handshakeRequest implements the client request details
// in https://datatracker.ietf.org/doc/html/rfc6455#section-4.1.
func (c *Conn) handshakeRequest(ctx context.Context, wsURL, nonce string) (*http.Request, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse URL: %w", ErrHandshakeFailed, err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
		// Do nothing.
	default:
		return nil, fmt.Errorf("%w: unexpected URL scheme: %q", ErrHandshakeFailed, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create handshake request: %w", ErrHandshakeFailed, err)
	}

	req.Header = c.headers.Clone()
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", nonce)
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Origin", u.Scheme+"://"+u.Host)
	if len(c.subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(c.subprotocols, ", "))
	}
	// Sec-WebSocket-Extensions is intentionally not offered; see doc.go.

	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	return req, nil
}

// checkHandshakeResponse checks the server response details in
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2.
func (c *Conn) checkHandshakeResponse(resp *http.Response, nonce string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		msg := fmt.Sprintf("response status: got %d, want %d", resp.StatusCode, http.StatusSwitchingProtocols)

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if len(body) > 0 {
			msg = fmt.Sprintf("%s (%s)", msg, string(body))
		}

		return fmt.Errorf("%w: %s", ErrHandshakeFailed, msg)
	}

	if err := checkHTTPHeader(resp.Header, "Upgrade", "websocket"); err != nil {
		return err
	}

	if err := checkHTTPHeader(resp.Header, "Connection", "Upgrade"); err != nil {
		return err
	}

	want := expectedServerAcceptValue(nonce)
	if err := checkHTTPHeader(resp.Header, "Sec-WebSocket-Accept", want); err != nil {
		return err
	}

	// "If the response includes a |Sec-WebSocket-Protocol| header field and
	// this header field indicates the use of a subprotocol that was not
	// present in the client's handshake (the server has indicated a
	// subprotocol not requested by the client), the client MUST _Fail the
	// WebSocket Connection_".
	if proto := resp.Header.Get("Sec-WebSocket-Protocol"); proto != "" && !slices.Contains(c.subprotocols, proto) {
		return fmt.Errorf("%w: server selected subprotocol %q, which wasn't offered", ErrHandshakeFailed, proto)
	}

	return nil
}

func checkHTTPHeader(headers http.Header, key, want string) error {
	if got := headers.Get(key); !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: response header %q: got %q, want %q", ErrHandshakeFailed, key, got, want)
	}
	return nil
}

var acceptGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// expectedServerAcceptValue constructs the expected value of the "Sec-WebSocket-Accept"
// header, as defined in https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2.
func expectedServerAcceptValue(key string) string {
	h := sha1.New() //gosec:disable G401 // Required by the WebSocket protocol.
	h.Write([]byte(key))
	h.Write(acceptGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
