// Wstest exercises this module's WebSocket client against the fuzzing
// server of the [Autobahn Testsuite].
//
// [Autobahn Testsuite]: https://github.com/crossbario/autobahn-testsuite
package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tzrikka/wsclient/internal/logger"
	"github.com/tzrikka/wsclient/pkg/websocket"
)

const (
	baseURL = "ws://127.0.0.1:9001"
	agent   = "wsclient"
)

func main() {
	ctx := context.Background()
	l := logger.FromContext(ctx)

	n := getCaseCount(ctx)
	l.Info().Int("n", n).Msg("case count")

	// Not implemented by this client (so excluded in "config/fuzzingserver.json"):
	//   - 12.* and 13.*: WebSocket compression.
	for i := range n {
		runCase(ctx, i+1)
	}

	updateReports(ctx)
}

func dial(ctx context.Context, url string, sink websocket.EventSink) (*websocket.Conn, error) {
	return websocket.Dial(ctx, url, websocket.WithEventSink(sink))
}

// echoSink relays every data message received on a [websocket.Conn] onto a
// channel, and closes that channel once the connection ends, so wstest's
// single-goroutine request/reply loops can range over it like the fuzzing
// server's own test driver expects.
type echoSink struct {
	websocket.BaseEventSink
	messages chan websocket.Message
}

func newEchoSink() *echoSink {
	return &echoSink{messages: make(chan websocket.Message, 1)}
}

func (s *echoSink) OnTextMessage(data []byte) {
	s.messages <- websocket.Message{Opcode: websocket.OpcodeText, Data: data}
}

func (s *echoSink) OnBinaryMessage(data []byte) {
	s.messages <- websocket.Message{Opcode: websocket.OpcodeBinary, Data: data}
}

func (s *echoSink) OnClosed(websocket.StatusCode, string, bool) {
	close(s.messages)
}

func (s *echoSink) OnFailed(error) {
	close(s.messages)
}

// getCaseCount retrieves the number of enabled test cases from
// the Autobahn fuzzing server, using a WebSocket request.
func getCaseCount(ctx context.Context) int {
	l := logger.FromContext(ctx)
	sink := newEchoSink()

	if _, err := dial(ctx, baseURL+"/getCaseCount", sink); err != nil {
		logger.Fatal(ctx, "dial error", err)
	}

	msg, ok := <-sink.messages
	if !ok {
		l.Debug().Msg("connection closed")
		return 0
	}

	n, err := strconv.Atoi(string(msg.Data))
	if err != nil {
		logger.Fatal(ctx, "invalid test case count", err)
	}

	return n
}

// updateReports instructs the Autobahn fuzzing server to generate/update
// all the HTML and JSON files for all the test-case results.
func updateReports(ctx context.Context) {
	logger.FromContext(ctx).Info().Msg("updating reports")

	url := fmt.Sprintf("%s/updateReports?agent=%s", baseURL, agent)
	if _, err := dial(ctx, url, websocket.BaseEventSink{}); err != nil {
		logger.Fatal(ctx, "dial error", err)
	}
}

func runCase(ctx context.Context, i int) {
	l := logger.FromContext(ctx).With().Int("case", i).Logger()
	l.Info().Msg("starting test")

	sink := newEchoSink()
	conn, err := dial(ctx, fmt.Sprintf("%s/runCase?case=%d&agent=%s", baseURL, i, agent), sink)
	if err != nil {
		logger.Fatal(ctx, "dial error", err)
	}

	// Echo loop: the fuzzing server expects every message it sends to be
	// sent straight back, unmodified, on the same opcode.
	for msg := range sink.messages {
		l.Info().Str("opcode", msg.Opcode.String()).Int("length", len(msg.Data)).Msg("received message")

		var done <-chan error
		switch msg.Opcode {
		case websocket.OpcodeText:
			_, done = conn.SendText(msg.Data)
		case websocket.OpcodeBinary:
			_, done = conn.SendBinary(msg.Data)
		default:
			l.Error().Msg("unexpected opcode in data message")
			continue
		}

		if err := <-done; err != nil {
			l.Error().Err(err).Msg("echo error")
			conn.Close(websocket.StatusNormalClosure, "")
		}
	}

	l.Debug().Msg("connection closed")
}
