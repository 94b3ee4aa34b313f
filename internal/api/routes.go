package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"rydar/internal/api/handlers"
	"rydar/internal/api/middleware"
)

type Router struct {
	locationHandler *handlers.LocationHandler
	routeHandler    *handlers.RouteHandler
	healthHandler   *handlers.HealthHandler
	verifier        middleware.TokenVerifier
	limiter         *middleware.RateLimiter // nil disables ingest rate limiting
	logger          *slog.Logger
	requestTimeout  time.Duration
	allowedOrigins  []string
}

// RouterOptions carries the cross-cutting settings of the HTTP surface.
type RouterOptions struct {
	Logger         *slog.Logger
	RequestTimeout time.Duration
	AllowedOrigins []string
	IngestLimiter  *middleware.RateLimiter
}

func NewRouter(
	locationHandler *handlers.LocationHandler,
	routeHandler *handlers.RouteHandler,
	healthHandler *handlers.HealthHandler,
	verifier middleware.TokenVerifier,
	opts RouterOptions,
) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		locationHandler: locationHandler,
		routeHandler:    routeHandler,
		healthHandler:   healthHandler,
		verifier:        verifier,
		limiter:         opts.IngestLimiter,
		logger:          logger,
		requestTimeout:  opts.RequestTimeout,
		allowedOrigins:  opts.AllowedOrigins,
	}
}

func (r *Router) corsConfig() cors.Config {
	config := cors.DefaultConfig()
	if len(r.allowedOrigins) == 0 || (len(r.allowedOrigins) == 1 && r.allowedOrigins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = r.allowedOrigins
	}
	config.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader}
	config.ExposeHeaders = []string{middleware.RequestIDHeader}
	return config
}

func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(r.logger),
		middleware.Recovery(r.logger),
		cors.New(r.corsConfig()),
	)

	engine.GET("/health", r.healthHandler.Health)

	// Authenticated API
	api := engine.Group("/api/v1/drivers")
	api.Use(middleware.Auth(r.verifier), middleware.Timeout(r.requestTimeout))
	{
		// Riders and drivers may both look around.
		api.GET("/nearby", r.locationHandler.Nearby)

		me := api.Group("/me")
		me.Use(middleware.RequireDriver())
		{
			me.POST("/location", middleware.RateLimit(r.limiter), r.locationHandler.UpdateLocation)
			me.DELETE("/location", r.locationHandler.StopBroadcast)
			me.GET("/location", r.locationHandler.GetMyLocation)

			me.GET("/routes", r.routeHandler.ListRoutes)
			me.POST("/routes", r.routeHandler.AddRoute)
			me.GET("/routes/:routeName", r.routeHandler.GetRoute)
			me.PUT("/routes/:routeName", r.routeHandler.UpdateRoute)
			me.DELETE("/routes/:routeName", r.routeHandler.RemoveRoute)
		}
	}
}
