package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/eventhive/pkg/logger"
	"github.com/prohmpiriya/eventhive/pkg/middleware"
	"github.com/prohmpiriya/eventhive/pkg/telemetry"
)

// RouterConfig wires handlers and middleware into the HTTP API
type RouterConfig struct {
	Booking *BookingHandler
	Event   *EventHandler
	Health  *HealthHandler

	JWT *middleware.JWTConfig
	// Idempotency is nil when Redis is not configured
	Idempotency *middleware.IdempotencyConfig

	Log         *logger.Logger
	ServiceName string
	Tracing     bool
}

// NewRouter builds the gin engine with probes at the root and the API under /api/v1
func NewRouter(cfg *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if cfg.Tracing {
		router.Use(telemetry.TracingMiddleware(cfg.ServiceName))
	}
	if cfg.Log != nil {
		router.Use(middleware.Logger(cfg.Log))
	}

	router.GET("/health", cfg.Health.Health)
	router.GET("/ready", cfg.Health.Ready)

	jwtCfg := cfg.JWT
	if jwtCfg == nil {
		jwtCfg = &middleware.JWTConfig{}
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTMiddleware(jwtCfg))
	organizer := middleware.RequireRole(middleware.RoleOrganizer)

	bookings := v1.Group("/bookings")
	{
		reserve := []gin.HandlerFunc{cfg.Booking.Reserve}
		if cfg.Idempotency != nil {
			reserve = append([]gin.HandlerFunc{middleware.Idempotency(cfg.Idempotency)}, reserve...)
		}
		bookings.POST("", reserve...)
		bookings.GET("", cfg.Booking.ListMine)
		bookings.GET("/:id", cfg.Booking.Get)
		bookings.POST("/:id/cancel", cfg.Booking.Cancel)
		bookings.POST("/:id/cancel-by-organizer", organizer, cfg.Booking.CancelAsOrganizer)
		bookings.POST("/:id/check-in", organizer, cfg.Booking.CheckIn)
	}

	events := v1.Group("/events")
	{
		events.POST("", organizer, cfg.Event.Create)
		events.GET("/:id/availability", cfg.Event.Availability)
		events.GET("/:id/bookings", organizer, cfg.Event.Bookings)
	}

	return router
}
