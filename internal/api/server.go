package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"polysignal/internal/store"
)

// SignalSource is the read side of the store the API serves from.
type SignalSource interface {
	LatestSignals(ctx context.Context, strategy string, limit int) ([]store.StoredSignal, error)
	TrackedWallets(ctx context.Context) ([]store.TrackedWallet, error)
}

// Server is the read-only HTTP surface.
type Server struct {
	router     *mux.Router
	server     *http.Server
	source     SignalSource
	strategies map[string]bool
	metrics    http.Handler
	started    time.Time
}

func NewServer(addr string, source SignalSource, strategies []string, metrics http.Handler) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		source:     source,
		strategies: make(map[string]bool, len(strategies)),
		metrics:    metrics,
		started:    time.Now(),
	}
	for _, name := range strategies {
		s.strategies[name] = true
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentType)
	api.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	api.HandleFunc("/signals/{strategy}", s.signals).Methods(http.MethodGet)
	api.HandleFunc("/wallets", s.wallets).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

type signalResponse struct {
	Strategy  string    `json:"strategy"`
	MarketID  string    `json:"market_id"`
	Slug      string    `json:"slug"`
	Question  string    `json:"question"`
	Score     float64   `json:"score"`
	Grade     string    `json:"grade"`
	Direction string    `json:"direction,omitempty"`
	Reason    string    `json:"reason"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) signals(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["strategy"]
	if !s.strategies[name] {
		writeError(w, http.StatusNotFound, "unknown strategy "+name)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	stored, err := s.source.LatestSignals(r.Context(), name, limit)
	if err != nil {
		slog.Error("loading signals failed", "strategy", name, "error", err)
		writeError(w, http.StatusInternalServerError, "loading signals failed")
		return
	}

	out := make([]signalResponse, 0, len(stored))
	for _, sig := range stored {
		out = append(out, signalResponse{
			Strategy:  sig.Strategy,
			MarketID:  sig.MarketID,
			Slug:      sig.Slug,
			Question:  sig.Question,
			Score:     sig.Score,
			Grade:     sig.Grade,
			Direction: sig.Direction,
			Reason:    sig.Reason,
			RunID:     sig.RunID,
			CreatedAt: sig.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategy": name, "count": len(out), "signals": out})
}

func (s *Server) wallets(w http.ResponseWriter, r *http.Request) {
	tracked, err := s.source.TrackedWallets(r.Context())
	if err != nil {
		slog.Error("loading wallets failed", "error", err)
		writeError(w, http.StatusInternalServerError, "loading wallets failed")
		return
	}
	type wallet struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	}
	out := make([]wallet, 0, len(tracked))
	for _, t := range tracked {
		out = append(out, wallet{Address: t.Address, Name: t.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "wallets": out})
}

type ctxKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Debug("http request",
			"request_id", RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", time.Since(start),
		)
	})
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
