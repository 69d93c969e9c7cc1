package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/internal/service/agent"
	"github.com/mnemo-agent/mnemo/internal/service/conversation"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// Server exposes an OpenAI-compatible chat completion endpoint backed by the
// memory-augmented agent. External clients keep their own transcript; the
// divergence tracker reconciles it with the stored window on every request.
type Server struct {
	cfg     *config.AppConfig
	agent   *agent.Agent
	tracker *conversation.Tracker
	httpSrv *http.Server
}

func NewServer(ctx context.Context, cfg *config.AppConfig, a *agent.Agent, tracker *conversation.Tracker) *Server {
	s := &Server{cfg: cfg, agent: a, tracker: tracker}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/chat/completions", s.handleChatCompletions(ctx))

	s.httpSrv = &http.Server{
		Addr:    cfg.APIListenAddr,
		Handler: r,
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	log.FromCtx(ctx).Info().Str("addr", s.httpSrv.Addr).Msg("api server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
