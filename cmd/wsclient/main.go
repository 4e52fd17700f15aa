// Command wsclient is a small interactive WebSocket client: it dials a
// server, prints every incoming text/binary message to stdout, and sends
// each line read from stdin as a text message.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/rs/zerolog"

	"github.com/tzrikka/wsclient/internal/logger"
	"github.com/tzrikka/wsclient/pkg/websocket"
	"github.com/tzrikka/xdg"
)

const (
	configDirName  = "wsclient"
	configFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "wsclient",
		Usage:   "connect to a WebSocket server and exchange text messages over stdio",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	path := configFile()

	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "human-readable console logging, instead of JSON",
		},
		&cli.StringFlag{
			Name:     "url",
			Usage:    "WebSocket server URL (ws:// or wss://)",
			Required: true,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSCLIENT_URL"),
				toml.TOML("url", path),
			),
		},
		&cli.StringSliceFlag{
			Name:  "subprotocol",
			Usage: "subprotocol to offer the server, in preference order",
			Sources: cli.NewValueSourceChain(
				toml.TOML("subprotocol", path),
			),
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "skip TLS certificate verification (wss:// only)",
			Sources: cli.NewValueSourceChain(
				toml.TOML("insecure", path),
			),
		},
	}
}

// configFile returns the path to the app's configuration file. It also
// creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, configDirName, configFileName)
	if err != nil {
		logger.Fatal(context.Background(), "failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

func run(ctx context.Context, cmd *cli.Command) error {
	l := newLogger(cmd.Bool("dev"))
	ctx = logger.InContext(ctx, l)

	opts := []websocket.Option{
		websocket.WithEventSink(&stdoutSink{logger: l}),
		websocket.WithIdlePingInterval(0),
	}
	if protos := cmd.StringSlice("subprotocol"); len(protos) > 0 {
		opts = append(opts, websocket.WithSubprotocols(protos...))
	}
	if cmd.Bool("insecure") {
		opts = append(opts, websocket.WithInsecureTLS())
	}

	conn, err := websocket.Dial(ctx, cmd.String("url"), opts...)
	if err != nil {
		return fmt.Errorf("failed to dial WebSocket server: %w", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if conn.ReadyState() != websocket.StateOpen {
			break
		}
		_, done := conn.SendText(scanner.Bytes())
		if err := <-done; err != nil {
			l.Error().Err(err).Msg("failed to send message")
		}
	}

	conn.Close(websocket.StatusNormalClosure, "client exiting")
	return scanner.Err()
}

// stdoutSink prints every incoming message to stdout and logs lifecycle
// transitions, so a user running this command interactively can see both.
type stdoutSink struct {
	websocket.BaseEventSink
	logger *zerolog.Logger
}

func (s *stdoutSink) OnOpen(protocol string, _ http.Header) {
	s.logger.Info().Str("protocol", protocol).Msg("connected")
}

func (s *stdoutSink) OnTextMessage(data []byte) {
	fmt.Println(string(data))
}

func (s *stdoutSink) OnBinaryMessage(data []byte) {
	fmt.Printf("<binary message, %d bytes>\n", len(data))
}

func (s *stdoutSink) OnClosed(code websocket.StatusCode, reason string, clean bool) {
	s.logger.Info().Str("code", code.String()).Str("reason", reason).Bool("clean", clean).Msg("connection closed")
}

// newLogger builds the CLI's logger, matching the dev/production split the
// rest of this module's packages use.
func newLogger(devMode bool) *zerolog.Logger {
	var l zerolog.Logger
	if devMode {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Caller().Logger()
	} else {
		l = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	}
	return &l
}
