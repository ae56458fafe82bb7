package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"payment-settlement/internal/metrics"
	"payment-settlement/internal/service"
	"payment-settlement/internal/webhook"
)

// Deps is everything the HTTP layer calls into.
type Deps struct {
	Orders   service.OrderService
	Payments service.PaymentService
	Verifier *webhook.Verifier

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Health reports storage health; nil when running on in-memory stores.
	Health func(ctx context.Context) map[string]string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	Logger             *slog.Logger
}

// Server is the settlement HTTP API.
type Server struct {
	deps   Deps
	router *gin.Engine
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		deps:   deps,
		router: router,
		logger: deps.Logger.With("component", "http"),
	}

	if len(deps.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: deps.CORSAllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	router.Use(s.observe())

	router.GET("/health", s.handleHealth)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}

	router.POST("/orders", s.handleCreateOrder)

	pay := router.Group("/payment")
	{
		pay.POST("/initialize", s.handleInitialize)
		pay.POST("/verify", s.handleVerify)
		pay.GET("/callback", s.handleCallback)
		pay.POST("/webhook", s.handleWebhook)
	}

	if deps.AdminJWTSecret == "" {
		s.logger.Warn("ADMIN_JWT_SECRET not set, admin routes disabled")
		return s
	}
	admin := router.Group("/admin", adminOnly(deps.AdminJWTSecret))
	{
		admin.GET("/orders/:id", s.handleGetOrder)
		admin.POST("/orders/:id/process", s.handleProcess)
		admin.POST("/orders/:id/ship", s.handleShip)
		admin.POST("/orders/:id/deliver", s.handleDeliver)
		admin.POST("/orders/:id/cancel", s.handleCancel)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up", "storage": "memory"})
		return
	}
	stats := s.deps.Health(c.Request.Context())
	if stats["status"] != "up" {
		c.JSON(http.StatusServiceUnavailable, stats)
		return
	}
	c.JSON(http.StatusOK, stats)
}
