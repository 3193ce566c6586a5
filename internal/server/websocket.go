package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/groutine"
	"github.com/srg/deskctl/pkg/command"
)

// DefaultCloseGrace is how long a WebSocket stays open after the command finished.
const DefaultCloseGrace = time.Second

// WebSocketServer runs one command per WebSocket connection and streams its output
// back as text frames.
type WebSocketServer struct {
	runner   *Runner
	logger   *logrus.Logger
	out      io.Writer
	upgrader websocket.Upgrader

	CloseGrace time.Duration
}

// NewWebSocketServer creates a WebSocket command server. Output is also copied to out when non-nil.
func NewWebSocketServer(runner *Runner, out io.Writer, logger *logrus.Logger) *WebSocketServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebSocketServer{
		runner: runner,
		logger: logger,
		out:    out,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local control tool, callers are CLIs
			},
		},
		CloseGrace: DefaultCloseGrace,
	}
}

// ListenAndServe serves WebSocket commands on addr until ctx is done.
func (s *WebSocketServer) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves WebSocket commands on ln until ctx is done.
func (s *WebSocketServer) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/", s)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.WithField("address", ln.Addr().String()).Info("WebSocket command server listening")
	groutine.Go(ctx, "websocket-server-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.logger.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"remote":     r.RemoteAddr,
	})

	_, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.WithError(err).Warn("Failed to read command")
		}
		return
	}

	relay := newLineRelay(defaultRelayBuffer, func(line string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	})
	pumpCtx, stopPump := context.WithCancel(context.Background())
	pumped := make(chan struct{})
	groutine.Go(pumpCtx, "websocket-relay", func(ctx context.Context) {
		defer close(pumped)
		relay.Pump(ctx)
	})

	var out io.Writer = relay
	if s.out != nil {
		out = io.MultiWriter(relay, s.out)
	}

	cmd, err := command.Decode(data)
	if err == nil {
		log = log.WithField("command", cmd.String())
		log.Info("Running forwarded command")
		err = s.runner.RunRemote(r.Context(), cmd, out)
	}
	if err != nil {
		var ve *command.ValidationError
		if !errors.As(err, &ve) || cmd.Kind != command.MoveTo {
			fmt.Fprintf(relay, "ERROR: %s\n", err)
		}
		log.WithError(err).Warn("Command failed")
	}

	relay.Flush()
	stopPump()
	<-pumped
	if n := relay.Overwritten(); n > 0 {
		log.WithField("dropped_lines", n).Warn("Slow WebSocket peer lost output")
	}

	if s.CloseGrace > 0 {
		time.Sleep(s.CloseGrace)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
