package api

import (
	"context"
	"net/http"
	"time"

	"github.com/keagan/reelforge/internal/compiler"
	"github.com/keagan/reelforge/internal/hwaccel"
	"github.com/keagan/reelforge/internal/pipeline"
	"github.com/keagan/reelforge/internal/timeline"
	"github.com/rs/zerolog"
)

// Renderer is the submission API the handlers drive
type Renderer interface {
	Submit(ctx context.Context, comp *timeline.Composition, opts timeline.CompilerOptions) (string, error)
	Compile(ctx context.Context, comp *timeline.Composition, opts timeline.CompilerOptions) (*compiler.Invocation, error)
	Status(id string) (pipeline.Job, bool)
	Jobs() []pipeline.Job
	Cancel(id string) bool
	SubscribeProgress(id string, fn func(pipeline.Job)) (func(), error)
	HWAccel() (hwaccel.Vendor, bool)
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

type ServerConfig struct {
	Addr      string
	Renderer  Renderer
	Logger    zerolog.Logger
	StartTime time.Time
	Version   string
}

func NewServer(cfg ServerConfig) *Server {
	cfg.Logger = cfg.Logger.With().Str("component", "api").Logger()
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:        cfg.Addr,
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			// event streams stay open for the whole render
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
