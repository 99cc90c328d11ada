package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	pluginreg "github.com/HerbHall/netreach/internal/plugin"
	"github.com/HerbHall/netreach/internal/version"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// RouteRegistrar mounts routes that do not belong to a plugin.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server is the NetReach HTTP API.
type Server struct {
	httpServer *http.Server
	registry   *pluginreg.Registry
	logger     *zap.Logger
	mux        *http.ServeMux

	gatherer   prometheus.Gatherer
	bus        plugin.EventBus
	registrars []RouteRegistrar
	hub        *statusHub
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithBus enables the status websocket, fed from bus.
func WithBus(bus plugin.EventBus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithRoutes mounts additional non-plugin routes.
func WithRoutes(r ...RouteRegistrar) Option {
	return func(s *Server) { s.registrars = append(s.registrars, r...) }
}

// New creates a Server. Plugin routes are mounted from the registry, so
// plugins must be initialized first.
func New(addr string, reg *pluginreg.Registry, logger *zap.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		registry: reg,
		logger:   logger,
		mux:      mux,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus != nil {
		s.hub = newStatusHub(s.bus, logger.Named("ws"))
	}

	s.registerCoreRoutes()
	for _, r := range s.registrars {
		r.RegisterRoutes(mux)
	}
	s.mountPluginRoutes()

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.hub != nil {
		s.mux.HandleFunc("GET /api/v1/ws/status", s.hub.serveWS)
	}
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	for pluginName, routes := range s.registry.AllRoutes() {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server and closes status streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.hub != nil {
		s.hub.close()
	}
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Plugins map[string]plugin.HealthStatus `json:"plugins"`
}

// handleHealth aggregates plugin health. Any unhealthy plugin turns the
// response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Service: "netreach",
		Version: version.Map(),
		Plugins: s.registry.Health(r.Context()),
	}
	code := http.StatusOK
	for _, h := range resp.Plugins {
		switch h.Status {
		case "unhealthy":
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		case "degraded":
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}
	w.Header().Set("X-NetReach-Version", version.Short())
	writeJSON(w, code, resp)
}

type pluginResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Enabled bool   `json:"enabled"`
}

// handlePlugins returns the list of registered plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.registry.All()
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		info = append(info, pluginResponse{
			Name:    p.Name(),
			Version: p.Version(),
			Enabled: s.registry.Enabled(p.Name()),
		})
	}
	sort.Slice(info, func(i, j int) bool { return info[i].Name < info[j].Name })
	w.Header().Set("X-NetReach-Version", version.Short())
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
