package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/FeelPulse/claudechat/internal/agent"
	"github.com/FeelPulse/claudechat/internal/config"
	"github.com/FeelPulse/claudechat/internal/logger"
	"github.com/FeelPulse/claudechat/internal/metrics"
	"github.com/FeelPulse/claudechat/internal/models"
	"github.com/FeelPulse/claudechat/internal/ratelimit"
)

const (
	// ErrNoAPIKey is returned when neither the request nor the server carries a key
	ErrNoAPIKey = "No API key provided and no default key configured in .env"

	shutdownTimeout = 30 * time.Second
)

// Server is the proxy backend: it holds the server-side credential and
// forwards chat turns to the Messages API.
type Server struct {
	cfg       *config.Config
	upstream  *agent.AnthropicClient
	limiter   *ratelimit.Limiter
	metrics   *metrics.Collector
	log       *logger.Logger
	router    chi.Router
	server    *http.Server
	startTime time.Time

	activeRequests sync.WaitGroup // tracks in-flight upstream calls
}

// Option configures a Server
type Option func(*Server)

// WithUpstream replaces the Messages API client
func WithUpstream(c *agent.AnthropicClient) Option {
	return func(s *Server) { s.upstream = c }
}

// WithLogger sets the server logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLimiter replaces the per-client rate limiter
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// New builds a Server from cfg
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		limiter:   ratelimit.New(cfg.Server.RateLimit),
		metrics:   metrics.NewCollector(),
		log:       logger.GetDefaultLogger().WithComponent("gateway"),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.upstream == nil {
		s.upstream = agent.NewAnthropicClient(agent.AnthropicOptions{
			APIURL:    cfg.Client.APIURL,
			MaxTokens: cfg.Client.MaxTokens,
		})
	}
	if s.limiter.Enabled() {
		s.log.Info("⏱️  Rate limiting enabled: %d messages/minute", cfg.Server.RateLimit)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.cfg.Server.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.Server.CORSOrigins))

	r.Get("/", s.handleRoot)
	r.Get("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/models", s.handleModels)
		r.With(s.rateLimit).Post("/chat/message", s.handleMessage)
	})

	s.router = r
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Metrics returns the server's collector
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

// Start serves until ctx is canceled or SIGINT/SIGTERM arrives, then shuts down
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	if s.limiter.Enabled() {
		go s.pruneClients(ctx)
	}

	s.log.Info("🫀 Backend listening on %s (server key configured: %t)", addr, s.cfg.Server.APIKey != "")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.gracefulShutdown()
	}
}

// gracefulShutdown stops accepting connections and waits for upstream calls to finish
func (s *Server) gracefulShutdown() error {
	s.log.Info("👋 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.activeRequests.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("✅ All active requests completed")
	case <-ctx.Done():
		s.log.Warn("⚠️  Timeout waiting for requests, forcing shutdown")
		s.server.Close()
	}

	s.log.Info("👋 Shutdown complete (uptime %s)", time.Since(s.startTime).Round(time.Second))
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Claude Chat API",
		"docs":    "/docs",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, agent.HealthResponse{
		Status:              "healthy",
		AnthropicConfigured: s.cfg.Server.APIKey != "",
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	catalog := models.List()
	out := make([]agent.ModelInfo, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, agent.ModelInfo{ID: m.ID, Name: m.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequestID(middleware.GetReqID(r.Context()))

	var req agent.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}
	if req.Model == "" {
		req.Model = models.DefaultID
	}

	key := req.APIKey
	if key == "" {
		key = s.cfg.Server.APIKey
	}
	if key == "" {
		s.writeError(w, http.StatusInternalServerError, ErrNoAPIKey)
		return
	}

	messages := make([]agent.Message, 0, len(req.ConversationHistory)+1)
	messages = append(messages, req.ConversationHistory...)
	messages = append(messages, agent.Message{Role: "user", Content: req.Message})

	s.metrics.IncrementRequests(req.Model)
	done := s.metrics.TrackInFlight()
	defer done()
	s.activeRequests.Add(1)
	defer s.activeRequests.Done()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Client.Timeout())
	defer cancel()

	log.Debug("→ %s (%d turns, %s)", req.Model, len(messages), agent.AuthModeName(key))

	resp, err := s.upstream.Create(ctx, agent.MessagesRequest{
		Model:    req.Model,
		Messages: messages,
	}, key)
	if err != nil {
		status, detail := upstreamStatus(err)
		log.Warn("upstream call failed: %v", err)
		s.writeError(w, status, detail)
		return
	}

	s.metrics.AddTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	log.Info("← %s (%d in / %d out)", resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	s.metrics.ObserveStatus(http.StatusOK)
	writeJSON(w, http.StatusOK, agent.ChatResponse{
		Content: resp.AllText(),
		Model:   resp.Model,
		Usage:   resp.Usage,
	})
}

// upstreamStatus maps an upstream failure to the status and detail sent to the client
func upstreamStatus(err error) (int, string) {
	var apiErr *agent.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError, err.Error()
	}
	switch apiErr.Kind {
	case agent.KindStatus:
		return apiErr.StatusCode, apiErr.Message
	case agent.KindTimeout:
		return http.StatusGatewayTimeout, apiErr.Message
	case agent.KindUnreachable:
		return http.StatusBadGateway, apiErr.Message
	default:
		return http.StatusInternalServerError, apiErr.Message
	}
}

// rateLimit rejects chat requests over the per-client budget
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		client := clientID(r)
		if !s.limiter.Allow(client) {
			s.metrics.IncrementRateLimited()
			wait := s.limiter.RetryAfter(client)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			s.writeError(w, http.StatusTooManyRequests,
				fmt.Sprintf("Rate limit exceeded. Try again in %s.", wait.Round(time.Second)))
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(s.limiter.Remaining(client)))
		next.ServeHTTP(w, r)
	})
}

// pruneClients forgets rate limit state for clients idle a full window
func (s *Server) pruneClients(ctx context.Context) {
	ticker := time.NewTicker(ratelimit.WindowDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Prune(ratelimit.WindowDuration); n > 0 {
				s.log.Debug("Pruned %d idle rate limit clients, %d tracked", n, s.limiter.Clients())
			}
		}
	}
}

// clientID is the caller's address without the port
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cors answers preflights and tags responses for the configured browser origins
func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !(allowed[origin] || allowed["*"]) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.metrics.ObserveStatus(status)
	writeJSON(w, status, agent.ErrorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
