package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/token-queue/internal/scheduling"
)

// writeError maps an engine error onto its HTTP response.  Business
// outcomes get a stable machine-readable code; anything unrecognised is
// logged and reported as a 500 without leaking details.
func writeError(c echo.Context, logger *zap.Logger, err error) error {
    var ite *scheduling.InvalidTransitionError
    switch {
    case errors.As(err, &ite):
        return c.JSON(http.StatusConflict, echo.Map{
            "error":  "invalid_transition",
            "from":   ite.From,
            "to":     ite.To,
            "reason": ite.Reason,
        })
    case errors.Is(err, scheduling.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
    case errors.Is(err, scheduling.ErrCapacityExceeded):
        return c.JSON(http.StatusConflict, echo.Map{"error": "fully_booked"})
    case errors.Is(err, scheduling.ErrClosed):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "closed", "message": err.Error()})
    case errors.Is(err, scheduling.ErrInvalidSlot):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_slot", "message": err.Error()})
    case errors.Is(err, scheduling.ErrInvalidRequest):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": err.Error()})
    case errors.Is(err, scheduling.ErrUnavailable):
        c.Response().Header().Set("Retry-After", "1")
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "unavailable"})
    }
    logger.Error("request failed", zap.String("route", c.Path()), zap.Error(err))
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
