package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/groutine"
	"github.com/srg/deskctl/pkg/command"
)

// maxRequestSize bounds a single command payload.
const maxRequestSize = 64 * 1024

// TCPServer accepts one JSON command per connection. The peer writes the command and
// closes its write side; nothing is sent back.
//
// Connections are handled inline in the accept loop, so a second connection is not
// read until the first command has finished.
type TCPServer struct {
	runner      *Runner
	logger      *logrus.Logger
	out         io.Writer
	ReadTimeout time.Duration
}

// NewTCPServer creates a TCP command server. Command output goes to out.
func NewTCPServer(runner *Runner, out io.Writer, logger *logrus.Logger) *TCPServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TCPServer{runner: runner, logger: logger, out: out, ReadTimeout: 10 * time.Second}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *TCPServer) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It closes ln on return.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.WithField("address", ln.Addr().String()).Info("TCP command server listening")

	groutine.Go(ctx, "tcp-server-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		_ = ln.Close()
	})
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.handle(ctx, conn)
	}
}

func (s *TCPServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := s.logger.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"remote":     conn.RemoteAddr().String(),
	})

	if s.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	}
	data, err := io.ReadAll(io.LimitReader(conn, maxRequestSize))
	if err != nil {
		log.WithError(err).Warn("Failed to read command")
		return
	}

	cmd, err := command.Decode(data)
	if err != nil {
		log.WithError(err).Warn("Rejected command")
		return
	}

	log = log.WithField("command", cmd.String())
	log.Info("Running forwarded command")
	if err := s.runner.RunRemote(ctx, cmd, s.out); err != nil {
		log.WithError(err).Error("Command failed")
		return
	}
	log.Debug("Command finished")
}
