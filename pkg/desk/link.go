package desk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/groutine"
)

// DefaultReconnectDelay is the pause between reconnect attempts.
const DefaultReconnectDelay = 2 * time.Second

// Supervisor owns the link to the desk: it connects, initialises the session and
// reconnects after an unexpected drop until Close is called.
type Supervisor struct {
	link           device.Link
	connOpts       device.ConnectOptions
	logger         *logrus.Logger
	desk           *Desk
	ReconnectDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor binds a session to link.
func NewSupervisor(link device.Link, connOpts device.ConnectOptions, opts Options, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Supervisor{
		link:           link,
		connOpts:       connOpts,
		logger:         logger,
		desk:           New(link, opts, logger),
		ReconnectDelay: DefaultReconnectDelay,
	}
}

// Desk returns the supervised session.
func (s *Supervisor) Desk() *Desk {
	return s.desk
}

// Start connects, initialises the session and starts watching for drops.
func (s *Supervisor) Start(ctx context.Context) (*Desk, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	groutine.GoSafe(watchCtx, "desk-link-supervisor", s.logger, func(ctx context.Context) {
		defer close(done)
		s.supervise(ctx)
	})
	return s.desk, nil
}

func (s *Supervisor) connect(ctx context.Context) error {
	if err := s.link.Connect(ctx, &s.connOpts); err != nil {
		return err
	}
	if err := s.desk.Initialise(ctx); err != nil {
		if derr := s.link.Disconnect(); derr != nil {
			s.logger.WithError(derr).Warn("Failed to disconnect after initialisation failure")
		}
		return fmt.Errorf("failed to initialise desk: %w", err)
	}
	s.logger.WithField("address", s.connOpts.Address).Info("Desk connected")
	return nil
}

func (s *Supervisor) supervise(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.link.Disconnected():
		}

		if s.desk.Disconnecting() || ctx.Err() != nil {
			return
		}
		s.logger.WithField("address", s.connOpts.Address).Warn("Lost connection to desk, reconnecting")

		for {
			err := s.connect(ctx)
			if err == nil {
				break
			}
			if s.desk.Disconnecting() || ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Warn("Reconnect failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.ReconnectDelay):
			}
		}
	}
}

// Close stops the desk, marks the session as disconnecting and tears the link down.
func (s *Supervisor) Close(ctx context.Context) error {
	if s.link.IsConnected() {
		if err := s.desk.Stop(ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to stop desk on shutdown")
		}
	}
	s.desk.SetDisconnecting(true)

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return s.link.Disconnect()
}
