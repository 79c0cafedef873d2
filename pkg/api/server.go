// Package api exposes the game over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/phenomenon0/gameweek/pkg/feed"
	"github.com/phenomenon0/gameweek/pkg/game"
	"github.com/phenomenon0/gameweek/pkg/heartbeat"
	"github.com/phenomenon0/gameweek/pkg/league"
	"github.com/phenomenon0/gameweek/pkg/metrics"
	"github.com/phenomenon0/gameweek/pkg/pricing"
	"github.com/phenomenon0/gameweek/pkg/streaming"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config controls the HTTP surface.
type Config struct {
	// AdminToken guards /admin routes. Empty disables them.
	AdminToken     string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Server holds the handler dependencies.
type Server struct {
	config    Config
	engine    *game.Engine
	leagues   *league.Service
	heartbeat *heartbeat.Heartbeat
	source    feed.Source
	pricer    *pricing.Pricer
	hub       *streaming.Hub
	metrics   *metrics.GameMetrics
	health    func(ctx context.Context) error
	logger    *zap.Logger
	now       func() time.Time
	started   time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithHeartbeat enables /keep-alive.
func WithHeartbeat(hb *heartbeat.Heartbeat) Option {
	return func(s *Server) {
		s.heartbeat = hb
	}
}

// WithFeed lets admin generate and settle fetch from source.
func WithFeed(source feed.Source, pricer *pricing.Pricer) Option {
	return func(s *Server) {
		s.source = source
		s.pricer = pricer
	}
}

// WithHub enables /ws.
func WithHub(hub *streaming.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithMetrics enables /metrics.
func WithMetrics(m *metrics.GameMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithHealthCheck adds a dependency check to /healthz.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// WithClock sets the time source used to find the feed's current gameweek.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates the API server.
func NewServer(config Config, engine *game.Engine, leagues *league.Service, opts ...Option) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = []string{"*"}
	}

	s := &Server{
		config:  config,
		engine:  engine,
		leagues: leagues,
		logger:  zap.NewNop(),
		now:     time.Now,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pricer == nil {
		s.pricer = pricing.NewPricer(nil)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	// Streaming and scraping are long-lived or cheap; keep them outside the timeout.
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(s.config.RequestTimeout))

		if s.heartbeat != nil {
			r.Get("/keep-alive", s.handleKeepAlive)
			r.Post("/keep-alive", s.handleKeepAlive)
		}

		r.Get("/round", s.handleGetRound)
		r.Get("/standings", s.handleOverallStandings)

		r.Route("/players", func(r chi.Router) {
			r.Post("/", s.handleRegister)
			r.Get("/{id}", s.handleGetPlayer)
			r.Get("/{id}/history", s.handleGetHistory)
			r.Post("/{id}/pick", s.handlePick)
			r.Post("/{id}/bonus", s.handleBonus)
		})

		r.Route("/leagues", func(r chi.Router) {
			r.Post("/", s.handleCreateLeague)
			r.Post("/join", s.handleJoinLeague)
			r.Get("/{id}/standings", s.handleLeagueStandings)
		})

		if s.config.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/generate", s.handleAdminGenerate)
				r.Post("/lock", s.handleAdminLock)
				r.Post("/settle", s.handleAdminSettle)
			})
		}
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AdminToken)) != 1 {
			respondError(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
