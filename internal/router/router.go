package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/token-queue/internal/handler"
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness, readiness against the given dependency checks, and the
// Prometheus scrape endpoint for gatherer.
func RegisterRoutes(e *echo.Echo, checks map[string]handler.Check, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(checks))
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
