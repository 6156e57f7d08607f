package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http"
    "sort"
    "time"

    "github.com/labstack/echo/v4"
)

// Health is a simple liveness endpoint used by load balancers.  It returns
// a plain text "ok" with 200 as long as the process serves HTTP.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Check probes one dependency.
type Check func(ctx context.Context) error

// Ready returns a readiness endpoint that runs every check with a short
// timeout.  It answers 503 listing the failing dependencies when any
// check fails.
func Ready(checks map[string]Check) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()

        var failed []string
        for name, check := range checks {
            if err := check(ctx); err != nil {
                failed = append(failed, name)
            }
        }
        if len(failed) > 0 {
            sort.Strings(failed)
            return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "failed": failed})
        }
        return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
    }
}
