// Package server provides the HTTP surface of the support line: the Twilio
// webhook and media stream, plus a small admin API over live calls and the
// ticket fallback queue.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/invopop/jsonschema"
	orchestration "github.com/koscakluka/ema-support/core"
	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/koscakluka/ema-support/core/telephony/twilio"
	"github.com/koscakluka/ema-support/core/ticketing"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const mediaStreamPath = "/media-stream"

// Server serves the webhook, the media stream websocket and the admin API.
type Server struct {
	echo         *echo.Echo
	orchestrator *orchestration.Orchestrator
	mediaStream  http.Handler
	fallback     ticketing.FallbackStore
	replayer     *ticketing.Replayer
	indexer      *knowledgebase.Indexer
	ticketSchema *jsonschema.Schema
	publicHost   string
	logger       *slog.Logger
}

type Option func(*Server)

// WithPublicHost sets the host Twilio is told to connect the media stream
// to. The host of the webhook request is used when it is empty.
func WithPublicHost(host string) Option {
	return func(s *Server) { s.publicHost = host }
}

func WithFallbackStore(store ticketing.FallbackStore) Option {
	return func(s *Server) { s.fallback = store }
}

func WithReplayer(replayer *ticketing.Replayer) Option {
	return func(s *Server) { s.replayer = replayer }
}

// WithArticleIndexer enables rebuilding the knowledge base from the help
// center through the admin API.
func WithArticleIndexer(indexer *knowledgebase.Indexer) Option {
	return func(s *Server) { s.indexer = indexer }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server for the calls handled by orchestrator.
func New(orchestrator *orchestration.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orchestrator: orchestrator,
		ticketSchema: jsonschema.Reflect(&ticketing.Payload{}),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mediaStream = twilio.NewMediaStreamHandler(orchestrator, twilio.WithLogger(s.logger))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				s.logger.ErrorContext(c.Request().Context(), "request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.InfoContext(c.Request().Context(), "request", attrs...)
			return nil
		},
	}))
	s.echo = e
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes registers routes with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	// Twilio
	e.POST("/incoming-call", s.IncomingCall)
	e.GET(mediaStreamPath, echo.WrapHandler(s.mediaStream))

	// Admin API
	e.GET("/v1/calls", s.ListCalls)
	e.GET("/v1/calls/:call_id", s.GetCall)
	e.POST("/v1/calls/:call_id/hangup", s.HangupCall)
	e.GET("/v1/tickets/pending", s.PendingTickets)
	e.POST("/v1/tickets/replay", s.ReplayTickets)
	e.POST("/v1/kb/index", s.IndexArticles)
	e.GET("/v1/schema/ticket", s.TicketSchema)

	e.GET("/health", s.Health)
}

// ServeHTTP lets the server be mounted or tested as a plain handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Media
// stream connections are hijacked and are ended by closing their calls.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
