package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/groutine"
	"github.com/srg/deskctl/pkg/command"
)

// RESTServer exposes the desk over a small HTTP API under /rest/desk.
//
// Moves are accepted with 202 and run in the background through the shared Runner,
// so they queue behind any command already running.
type RESTServer struct {
	runner     *Runner
	desk       Desk
	favourites command.Favourites
	logger     *logrus.Logger
	out        io.Writer

	// bg carries moves started by requests; it outlives the request but not Serve.
	bg context.Context
}

// NewRESTServer creates a REST server. Move output is written to out when non-nil.
func NewRESTServer(runner *Runner, d Desk, favourites command.Favourites, out io.Writer, logger *logrus.Logger) *RESTServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if out == nil {
		out = io.Discard
	}
	return &RESTServer{
		runner:     runner,
		desk:       d,
		favourites: favourites,
		logger:     logger,
		out:        out,
		bg:         context.Background(),
	}
}

// Router builds the gin engine.
func (s *RESTServer) Router() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.loggingMiddleware())

	rest := router.Group("/rest/desk")
	{
		rest.GET("", s.getDesk)
		rest.POST("", s.postDesk)
		rest.GET("/height", s.getHeight)
		rest.POST("/height", s.postHeight)
		rest.GET("/speed", s.getSpeed)
		rest.POST("/favourite", s.postFavourite)
	}
	return router
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *RESTServer) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is done.
func (s *RESTServer) Serve(ctx context.Context, ln net.Listener) error {
	s.bg = ctx
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithField("address", ln.Addr().String()).Info("REST server listening")
	groutine.Go(ctx, "rest-server-shutdown", func(ctx context.Context) {
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

func (s *RESTServer) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("Request completed")
	}
}

func (s *RESTServer) errorResponse(c *gin.Context, err error, status int, message string) {
	s.logger.WithError(err).WithField("status", status).Warn(message)
	c.AbortWithStatusJSON(status, gin.H{
		"status": "error",
		"error": gin.H{
			"code":    status,
			"message": message,
		},
	})
}

func (s *RESTServer) getDesk(c *gin.Context) {
	h, sp, err := s.desk.HeightSpeed(c.Request.Context())
	if err != nil {
		s.errorResponse(c, err, http.StatusServiceUnavailable, "Failed to read desk")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"height": roundMM(h.MM(s.desk.BaseHeight())),
		"speed":  roundMM(sp.MMPerSec()),
	})
}

type heightRequest struct {
	Height *float64 `json:"height"`
}

func (s *RESTServer) postDesk(c *gin.Context) {
	var req heightRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Height == nil {
		s.errorResponse(c, err, http.StatusBadRequest, "Invalid request payload")
		return
	}
	s.acceptMove(c, *req.Height, "")
}

func (s *RESTServer) getHeight(c *gin.Context) {
	h, _, err := s.desk.HeightSpeed(c.Request.Context())
	if err != nil {
		s.errorResponse(c, err, http.StatusServiceUnavailable, "Failed to read desk")
		return
	}
	c.String(http.StatusOK, "%.0f", h.MM(s.desk.BaseHeight()))
}

func (s *RESTServer) postHeight(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.errorResponse(c, err, http.StatusBadRequest, "Invalid request payload")
		return
	}
	mm, err := strconv.ParseFloat(body, 64)
	if err != nil {
		s.errorResponse(c, err, http.StatusBadRequest, "Height must be a number")
		return
	}
	s.acceptMove(c, mm, "")
}

func (s *RESTServer) getSpeed(c *gin.Context) {
	_, sp, err := s.desk.HeightSpeed(c.Request.Context())
	if err != nil {
		s.errorResponse(c, err, http.StatusServiceUnavailable, "Failed to read desk")
		return
	}
	c.String(http.StatusOK, "%.0f", sp.MMPerSec())
}

func (s *RESTServer) postFavourite(c *gin.Context) {
	name, err := readBody(c)
	if err != nil || !command.ValidFavouriteName(name) {
		s.errorResponse(c, err, http.StatusBadRequest, "Invalid favourite name")
		return
	}
	var (
		mm float64
		ok bool
	)
	if s.favourites != nil {
		mm, ok = s.favourites.Get(name)
	}
	if !ok {
		s.errorResponse(c, nil, http.StatusUnprocessableEntity, fmt.Sprintf("Unknown favourite %q", name))
		return
	}
	s.acceptMove(c, mm, name)
}

func (s *RESTServer) acceptMove(c *gin.Context, mm float64, favourite string) {
	mm = float64(int(mm))
	value := favourite
	if value == "" {
		value = strconv.FormatFloat(mm, 'f', -1, 64)
	}
	if _, _, err := s.runner.Resolve(value); err != nil {
		var verr *command.ValidationError
		if errors.As(err, &verr) {
			s.errorResponse(c, err, http.StatusUnprocessableEntity,
				fmt.Sprintf("Height %.0fmm is %s", mm, verr.Reason))
			return
		}
		s.errorResponse(c, err, http.StatusUnprocessableEntity, "Not a valid height or favourite position")
		return
	}

	cmd := command.Command{Kind: command.MoveTo, Value: value}
	log := s.logger.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"command":    cmd.String(),
	})

	groutine.GoSafe(s.bg, "rest-move", s.logger, func(ctx context.Context) {
		if err := s.runner.Run(ctx, cmd, s.out); err != nil {
			log.WithError(err).Error("Move failed")
			return
		}
		log.Debug("Move finished")
	})

	log.Info("Move accepted")
	c.Status(http.StatusAccepted)
}

func readBody(c *gin.Context) (string, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestSize))
	if err != nil {
		return "", err
	}
	body := strings.TrimSpace(string(data))
	if body == "" {
		return "", errors.New("empty body")
	}
	return body, nil
}

func roundMM(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}
