// Package api exposes the coach over HTTP with JSON bodies.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/verte-zerg/sotaque/internal/coach"
	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/observe"
	"github.com/verte-zerg/sotaque/internal/stats"
	"github.com/verte-zerg/sotaque/internal/tts"
)

const defaultMaxUpload = 10 << 20

// Store is the read and delete side of persistence used by handlers.
type Store interface {
	stats.Source
	DeleteUser(ctx context.Context, username string) error
}

// Server holds handler dependencies.
type Server struct {
	coach     *coach.Coach
	store     Store
	modules   []model.Module
	audio     *tts.Cache
	ttsLang   string
	exams     *examRegistry
	metrics   *observe.Metrics
	logger    *slog.Logger
	maxUpload int64
	metricsH  http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithAudio serves reference audio from cache in lang.
func WithAudio(cache *tts.Cache, lang string) Option {
	return func(s *Server) {
		s.audio = cache
		s.ttsLang = lang
	}
}

// WithMetrics records HTTP metrics and serves h at /metrics.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsH = h
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithExamTTL drops exams idle for longer than ttl.
func WithExamTTL(ttl time.Duration) Option {
	return func(s *Server) { s.exams.ttl = ttl }
}

// WithMaxUpload caps request bodies.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithClock overrides the time source used for exam expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.exams.now = now }
}

// NewServer returns a Server answering for modules.
func NewServer(c *coach.Coach, st Store, modules []model.Module, opts ...Option) *Server {
	s := &Server{
		coach:     c,
		store:     st,
		modules:   modules,
		exams:     newExamRegistry(2*time.Hour, time.Now),
		logger:    slog.Default(),
		maxUpload: defaultMaxUpload,
		ttsLang:   "en-US",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(observe.Middleware(s.metrics, s.logger))

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.metricsH != nil {
		r.Handle("/metrics", s.metricsH).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/modules", s.listModules).Methods(http.MethodGet)
	v1.HandleFunc("/modules/{name}", s.getModule).Methods(http.MethodGet)
	v1.HandleFunc("/score", s.score).Methods(http.MethodPost)
	v1.HandleFunc("/tts", s.speak).Methods(http.MethodGet)

	v1.HandleFunc("/users/{username}/weak-words", s.weakWords).Methods(http.MethodGet)
	v1.HandleFunc("/users/{username}/report", s.report).Methods(http.MethodGet)
	v1.HandleFunc("/users/{username}/skip", s.skip).Methods(http.MethodPost)
	v1.HandleFunc("/users/{username}", s.deleteUser).Methods(http.MethodDelete)

	v1.HandleFunc("/exams", s.startExam).Methods(http.MethodPost)
	v1.HandleFunc("/exams/{id}", s.getExam).Methods(http.MethodGet)
	v1.HandleFunc("/exams/{id}", s.abandonExam).Methods(http.MethodDelete)
	v1.HandleFunc("/exams/{id}/answers", s.answerExam).Methods(http.MethodPost)
	return r
}
