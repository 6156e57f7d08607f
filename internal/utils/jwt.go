package utils // package utils provides helpers for issuing access tokens outside the auth service

import (
    "fmt"
    "strings"
    "time"

    "github.com/golang-jwt/jwt/v5"

    "github.com/iliyamo/token-queue/internal/middleware"
)

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// NewAccessToken signs an HS256 token carrying the claims JWTAuth reads.
// Tokens are normally issued by the auth service; this exists so operators
// can call business-only routes against a local deployment.
func NewAccessToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
    if secret == "" {
        return AccessToken{}, fmt.Errorf("empty signing secret")
    }
    if subject == "" {
        return AccessToken{}, fmt.Errorf("empty subject")
    }
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := middleware.Claims{
        Role: strings.ToUpper(role),
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   subject,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseGrant splits a "role:subject" pair such as "business:staff-1".
func ParseGrant(grant string) (role, subject string, err error) {
    role, subject, ok := strings.Cut(grant, ":")
    role, subject = strings.TrimSpace(role), strings.TrimSpace(subject)
    if !ok || role == "" || subject == "" {
        return "", "", fmt.Errorf("grant %q: want role:subject", grant)
    }
    switch strings.ToUpper(role) {
    case middleware.RoleCustomer, middleware.RoleBusiness, middleware.RoleOwner:
    default:
        return "", "", fmt.Errorf("grant %q: unknown role %q", grant, role)
    }
    return role, subject, nil
}
