package middleware // middleware holds the echo middleware shared by all booking routes

import (
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
    ctxSubject = "user_id"
    ctxRole    = "role"
)

// Claims is the access token payload issued by the auth service.  Only
// the subject and role are read here.
type Claims struct {
    Role string `json:"role"`
    jwt.RegisteredClaims
}

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores its subject and role in the request context.  With optional
// set, requests without an Authorization header pass through anonymously;
// a header carrying a bad token is still rejected.
func JWTAuth(secret string, optional bool) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if auth == "" && optional {
                return next(c)
            }
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            var claims Claims
            tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
                return []byte(secret), nil
            }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
            if err != nil || !tok.Valid {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            c.Set(ctxSubject, claims.Subject)
            c.Set(ctxRole, strings.ToUpper(claims.Role))
            return next(c)
        }
    }
}
