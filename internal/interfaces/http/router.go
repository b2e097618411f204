package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreschagin/rollout-controller/internal/interfaces/http/handler"
	"github.com/dreschagin/rollout-controller/internal/interfaces/http/middleware"
	"github.com/dreschagin/rollout-controller/pkg/config"
	"github.com/dreschagin/rollout-controller/pkg/logger"
)

// Router настраивает маршруты приложения
type Router struct {
	mux               *http.ServeMux
	rolloutAPIHandler *handler.RolloutAPIHandler
	websocketHandler  *handler.WebSocketHandler
	registry          *prometheus.Registry
	security          config.SecurityConfig
	rateLimiter       *middleware.IPRateLimiter
	logger            *logger.Logger
}

// NewRouter создает новый router
func NewRouter(
	rolloutAPIHandler *handler.RolloutAPIHandler,
	websocketHandler *handler.WebSocketHandler,
	registry *prometheus.Registry,
	security config.SecurityConfig,
	rateLimiter *middleware.IPRateLimiter,
	logger *logger.Logger,
) *Router {
	return &Router{
		mux:               http.NewServeMux(),
		rolloutAPIHandler: rolloutAPIHandler,
		websocketHandler:  websocketHandler,
		registry:          registry,
		security:          security,
		rateLimiter:       rateLimiter,
		logger:            logger,
	}
}

// Setup настраивает все маршруты
func (rt *Router) Setup() http.Handler {
	// Health endpoints без авторизации, их опрашивает оркестратор
	rt.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	rt.mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Prometheus exposition
	if rt.registry != nil {
		rt.mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	}

	authMiddleware := middleware.Auth(middleware.AuthConfig{
		Enabled:     rt.security.AuthEnabled,
		BearerToken: rt.security.AuthToken,
	}, rt.logger)

	// WebSocket
	if rt.websocketHandler != nil {
		rt.mux.HandleFunc("/ws", rt.websocketHandler.HandleConnection)
	}

	// API endpoints
	rt.mux.Handle("/api/v1/rollout/start", authMiddleware(http.HandlerFunc(rt.rolloutAPIHandler.Start)))
	rt.mux.Handle("/api/v1/rollout/pause", authMiddleware(http.HandlerFunc(rt.rolloutAPIHandler.Pause)))
	rt.mux.Handle("/api/v1/rollout/progress", authMiddleware(http.HandlerFunc(rt.rolloutAPIHandler.Progress)))
	rt.mux.Handle("/api/v1/rollout/rollback", authMiddleware(http.HandlerFunc(rt.rolloutAPIHandler.Rollback)))
	rt.mux.Handle("/api/v1/rollout/health-check", authMiddleware(http.HandlerFunc(rt.rolloutAPIHandler.HealthCheck)))
	rt.mux.Handle("/api/v1/rollout/state", authMiddleware(http.HandlerFunc(rt.rolloutAPIHandler.GetState)))
	rt.mux.Handle("/api/v1/rollout/metrics", authMiddleware(http.HandlerFunc(rt.rolloutAPIHandler.GetMetrics)))
	rt.mux.Handle("/api/v1/rollout/transitions", authMiddleware(http.HandlerFunc(rt.rolloutAPIHandler.GetTransitions)))

	// Применяем middleware
	var h http.Handler = rt.mux
	if rt.rateLimiter != nil {
		h = middleware.RateLimit(rt.rateLimiter)(h)
	}
	h = middleware.Logger(rt.logger)(h)
	h = middleware.Recovery(rt.logger)(h)

	return h
}
