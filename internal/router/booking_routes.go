package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/token-queue/internal/handler"
	"github.com/iliyamo/token-queue/internal/middleware"
)

// RegisterBookings mounts the booking API under /v1.  Customers may call
// the public routes anonymously; a bearer token, when sent, is still
// verified so business staff can use the same routes.  limit wraps the
// write endpoints customers can hammer (create and cancel).  Lifecycle
// advancement requires a business role.
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	if limit == nil {
		limit = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	pub := e.Group("/v1", middleware.JWTAuth(jwtSecret, true))
	pub.POST("/businesses/:business/departments/:department/bookings", h.CreateBooking, limit)
	pub.GET("/businesses/:business/departments/:department/slots", h.ListSlots)
	pub.GET("/bookings/:id", h.GetBooking)
	pub.POST("/bookings/:id/cancel", h.CancelBooking, limit)
	pub.GET("/queues/:unit/snapshot", h.QueueSnapshot)
	pub.GET("/queues/:unit/ws", h.Watch)

	biz := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret, false),
		middleware.RequireRole(middleware.RoleBusiness, middleware.RoleOwner),
	)
	biz.POST("/bookings/:id/advance", h.AdvanceBooking)
}
