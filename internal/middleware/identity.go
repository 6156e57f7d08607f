package middleware

// identity.go turns what JWTAuth stored in the context into the values
// handlers and the rate limiter need.

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/token-queue/internal/model"
)

// SubjectFrom returns the authenticated subject, or "anon".
func SubjectFrom(c echo.Context) string {
    if s, ok := c.Get(ctxSubject).(string); ok && s != "" {
        return s
    }
    return "anon"
}

// ActorFrom maps the token role onto the engine's actor.  Business staff
// and owners act for the business; everyone else, including anonymous
// callers, acts as a customer.
func ActorFrom(c echo.Context) model.Actor {
    switch c.Get(ctxRole) {
    case RoleBusiness, RoleOwner:
        return model.ActorBusiness
    }
    return model.ActorCustomer
}
