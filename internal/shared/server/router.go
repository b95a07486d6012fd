package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"rca-backend/internal/incidents"
	"rca-backend/internal/services/health"
	"rca-backend/internal/shared/config"
	"rca-backend/internal/shared/metrics"
	"rca-backend/internal/shared/server/middleware"
	"rca-backend/internal/shared/server/respond"
)

const (
	serviceName       = "rca-backend"
	rateGroupDefault  = "DEFAULT"
	rateGroupPolling  = "POLLING"
	rateGroupAnalysis = "ANALYSIS"
)

// RouterDeps holds the handlers mounted on the API.
type RouterDeps struct {
	Config    config.Config
	Health    *health.Service
	Incidents *incidents.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(rateLimitConfig(deps.Config)),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.JSON(c, http.StatusOK, gin.H{"ok": true})
			return
		}
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	if deps.Incidents != nil {
		deps.Incidents.RegisterRoutes(api)
	}

	return r
}

// rateLimitConfig disables limiting when HTTP_RATE_LIMIT_RPS is 0. Polling a run
// gets ten times the default budget; starting an analysis gets the default.
func rateLimitConfig(cfg config.Config) middleware.RateLimitConfig {
	rules := map[string]middleware.RateLimitRule{}
	if cfg.HTTPRateLimitRPS > 0 {
		rules[rateGroupAnalysis] = middleware.RateLimitRule{Rate: cfg.HTTPRateLimitRPS, Burst: cfg.HTTPRateLimitBurst}
		rules[rateGroupPolling] = middleware.RateLimitRule{Rate: cfg.HTTPRateLimitRPS * 10, Burst: cfg.HTTPRateLimitBurst * 10}
	}
	return middleware.RateLimitConfig{
		Rules:        rules,
		DefaultGroup: rateGroupDefault,
		GroupFor: func(c *gin.Context) string {
			switch c.FullPath() {
			case "/api/analyze/stream":
				return rateGroupAnalysis
			case "/api/incidents":
				if c.Request.Method == http.MethodPost {
					return rateGroupAnalysis
				}
				return rateGroupPolling
			case "/api/incidents/:id":
				return rateGroupPolling
			}
			return rateGroupDefault
		},
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
