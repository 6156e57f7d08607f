package utils

import (
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/token-queue/internal/middleware"
)

func TestIssuedTokenPassesBusinessGate(t *testing.T) {
    tok, err := NewAccessToken("s", "staff-1", "business", time.Hour)
    require.NoError(t, err)
    assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, time.Minute)

    e := echo.New()
    e.POST("/advance", func(c echo.Context) error {
        return c.String(http.StatusOK, middleware.SubjectFrom(c))
    }, middleware.JWTAuth("s", false), middleware.RequireRole(middleware.RoleBusiness))

    req := httptest.NewRequest(http.MethodPost, "/advance", nil)
    req.Header.Set("Authorization", "Bearer "+tok.Token)
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "staff-1", rec.Body.String())

    _, err = NewAccessToken("", "x", "business", time.Hour)
    assert.Error(t, err)
}

func TestParseGrant(t *testing.T) {
    role, subject, err := ParseGrant("owner:alice")
    require.NoError(t, err)
    assert.Equal(t, "owner", role)
    assert.Equal(t, "alice", subject)

    for _, bad := range []string{"", "owner", ":alice", "admin:alice"} {
        _, _, err := ParseGrant(bad)
        assert.Error(t, err, bad)
    }
}
