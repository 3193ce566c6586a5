package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/srg/deskctl/pkg/command"
)

// ErrNotForwardable is returned when a command may not be sent to a server.
var ErrNotForwardable = errors.New("command cannot be forwarded")

func checkForwardable(cmd command.Command) error {
	if !cmd.Kind.Forwardable() {
		return fmt.Errorf("%w: %s", ErrNotForwardable, cmd.Kind)
	}
	return nil
}

// Forward sends cmd to the WebSocket server at addr (host:port) and copies every
// line the server sends to out until it closes the connection.
func Forward(ctx context.Context, addr string, cmd command.Command, out io.Writer) error {
	if err := checkForwardable(cmd); err != nil {
		return err
	}
	payload, err := command.Encode(cmd)
	if err != nil {
		return err
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server %s: %w", addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connection to server lost: %w", err)
		}
		fmt.Fprintln(out, string(msg))
	}
}

// ForwardTCP writes cmd to the TCP server at addr and closes the connection. The TCP
// server sends nothing back.
func ForwardTCP(ctx context.Context, addr string, cmd command.Command) error {
	if err := checkForwardable(cmd); err != nil {
		return err
	}
	payload, err := command.Encode(cmd)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to server %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}
