package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clinicware/ledger-import/internal/handler"
	"github.com/clinicware/ledger-import/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine  *gin.Engine
	importH Handler
	h       *handler.Handler
	metrics *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type RouterConfig struct {
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
	MaxBodySize    int64
	MaxUploadSize  int64
	CORSConfig     middleware.CORSConfig
	MetricsPrefix  string
}

func NewRouter(importH Handler, h *handler.Handler, config RouterConfig) *Router {
	// Set production mode
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New() // Use New() instead of Default() for more control

	metrics := initRouterMetrics(config.MetricsPrefix)

	r := &Router{
		engine:  engine,
		importH: importH,
		h:       h,
		metrics: metrics,
	}

	// Add core middlewares
	engine.Use(
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.RequestID(),
	)

	// Add CORS with config
	engine.Use(middleware.CORS(config.CORSConfig))

	engine.Use(middleware.Compress(middleware.DefaultCompressConfig()))

	// Configure rate limiter
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RPS:   config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	// The import endpoints carry whole workbook uploads, everything else
	// stays small.
	engine.Use(middleware.SizeLimit(middleware.SizeLimitConfig{
		MaxBodySize:   config.MaxBodySize,
		MaxUploadSize: config.MaxUploadSize,
		UploadPaths: []string{
			"/api/v1/imports/preview",
			"/api/v1/imports/preflight",
			"/api/v1/imports/commit",
		},
	}))

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	// Add version header
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Health check endpoints
	r.setupHealthCheck(api)

	r.importH.RegisterRoutes(api)

	// Bare aliases for probes and scrapers that don't speak /api/v1
	r.engine.GET("/healthz", r.h.LivenessCheck)
	r.engine.GET("/metrics", r.h.MetricsHandler)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
		health.GET("/metrics", r.h.MetricsHandler)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Metrics initialization and middleware
func initRouterMetrics(prefix string) *routerMetrics {
	m := &routerMetrics{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
	prometheus.MustRegister(m.requestDuration, m.requestTotal, m.errorTotal)
	return m
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		status := fmt.Sprintf("%d", c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "http").Inc()
		}
	}
}

func (r *Router) Use(middleware ...gin.HandlerFunc) {
	r.engine.Use(middleware...)
}
