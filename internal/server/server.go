package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-lingua/internal/action"
	"github.com/tjfontaine/polyglot-lingua/internal/auth"
	"github.com/tjfontaine/polyglot-lingua/internal/bridge"
	"github.com/tjfontaine/polyglot-lingua/internal/flow"
	"github.com/tjfontaine/polyglot-lingua/internal/pkg/config"
	"github.com/tjfontaine/polyglot-lingua/internal/records"
	"github.com/tjfontaine/polyglot-lingua/internal/telemetry"
)

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Auth          *auth.Authenticator
	Flows         *flow.Executor
	Actions       *action.Service
	Records       *records.Service
	Bridge        *bridge.Bridge
	Notifications *Notifications
	Metrics       *telemetry.Metrics

	RateLimit      config.RateLimit
	RequestTimeout time.Duration
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger

	deps       Deps
	limiter    *limiterPool
	httpServer *http.Server
	sweepCtx   context.Context
	stopSweep  context.CancelFunc

	// closing ends open event streams, which never go idle on their own
	closing   chan struct{}
	closeOnce sync.Once
}

func New(port int, logger *slog.Logger, deps Deps) *Server {
	if deps.Notifications == nil {
		deps.Notifications = NewNotifications(logger)
	}

	r := chi.NewRouter()
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	s := &Server{
		Router:  r,
		Port:    port,
		logger:  logger,
		deps:    deps,
		limiter: newLimiterPool(deps.RateLimit.RPS, deps.RateLimit.Burst),
		closing: make(chan struct{}),

		sweepCtx:  sweepCtx,
		stopSweep: stopSweep,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "lingua")
	})

	r.Get("/healthz", s.handleHealth)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.Auth))
		r.Use(s.limiter.middleware)
		r.Use(RateLimitNormalizingMiddleware)

		// long-lived streams carry no request deadline
		r.Get("/notifications", s.handleNotifications)
		r.Get("/translations/stream", s.handleTranslationStream)

		r.Group(func(r chi.Router) {
			r.Use(TimeoutMiddleware(deps.RequestTimeout))

			r.Get("/flows", s.handleListFlows)
			r.Get("/speech/locales", s.handleSpeechLocales)
			r.Post("/flows/{name}", s.handleFlow)

			r.Post("/actions/translate", s.handleTranslate)
			r.Post("/actions/chat", s.handleChat)
			r.Post("/actions/scripture", s.handleScripture)
			r.Post("/actions/live-call", s.handleLiveCall)

			r.Get("/translations", s.handleListTranslations)
			r.Delete("/translations/{id}", s.handleDeleteTranslation)

			r.Post("/memos", s.handleCreateMemo)
			r.Get("/memos", s.handleListMemos)
			r.Delete("/memos/{id}", s.handleDeleteMemo)

			r.Post("/feedback", s.handleFeedback)

			r.Get("/profile", s.handleGetProfile)
			r.Patch("/profile", s.handlePatchProfile)
		})
	})

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	go s.limiter.run(s.sweepCtx)

	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopSweep()
	s.closeOnce.Do(func() { close(s.closing) })
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
