package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/philocinemas/clipbot/internal/retention"
	"github.com/philocinemas/clipbot/internal/status"
)

// StatusReader is the read side of the status store.
type StatusReader interface {
	Get(requester int64) (status.Status, bool)
}

// PendingLister reports scheduled deletions.
type PendingLister interface {
	Pending() []retention.Pending
}

type ServerCtx struct {
	logger zerolog.Logger
	router *chi.Mux
	http   *http.Server
}

func New(bind string, statuses StatusReader, pending PendingLister) *ServerCtx {
	logger := log.With().Str("module", "http").Logger()

	router := chi.NewRouter()
	router.Use(middleware.RequestID) // Create a request ID for each request
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer) // Recover from panics without crashing server

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Get("/status/{requester}", func(w http.ResponseWriter, r *http.Request) {
		requester, err := strconv.ParseInt(chi.URLParam(r, "requester"), 10, 64)
		if err != nil {
			http.Error(w, "invalid requester", http.StatusBadRequest)
			return
		}

		st, ok := statuses.Get(requester)
		if !ok {
			http.Error(w, "no status", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	router.Get("/retention", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, pending.Pending())
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "404", http.StatusNotFound)
	})

	return &ServerCtx{
		logger: logger,
		router: router,
		http: &http.Server{
			Addr:              bind,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the router, mostly for tests.
func (s *ServerCtx) Handler() http.Handler {
	return s.router
}

func (s *ServerCtx) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Panic().Err(err).Msg("unable to start http server")
		}
	}()
	s.logger.Info().Msgf("http listening on %s", s.http.Addr)
}

func (s *ServerCtx) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.http.Shutdown(ctx)
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("req_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Msg("request complete")
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
