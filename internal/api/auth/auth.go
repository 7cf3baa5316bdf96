// Package auth verifies the bearer credential attached to API and push
// requests. Token issuance happens elsewhere; this side only validates and
// extracts the caller's identity.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/notification"
)

// ContextKeyIdentity is the echo context key the middleware stores the
// verified identity under.
const ContextKeyIdentity = "auth.identity"

// Identity is the verified caller extracted from a credential.
type Identity struct {
	UserID  string
	Role    notification.Role
	AdminID string
}

// Verifier validates a raw credential and returns the caller's identity.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// claims is the expected JWT payload shape.
type claims struct {
	Role    string `json:"role"`
	AdminID string `json:"admin_id"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed tokens. A non-zero maxAge caps token
// lifetime from its issued-at claim, on top of the token's own exp claim.
type JWTVerifier struct {
	secret []byte
	maxAge time.Duration
}

// NewJWTVerifier creates a verifier for the shared signing secret.
func NewJWTVerifier(secret string, maxAge time.Duration) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), maxAge: maxAge}
}

// Verify parses and validates the token, rejecting unexpected signing
// methods and expired or malformed claims.
func (v *JWTVerifier) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, errors.Newf("missing credential").
			Component("auth").
			Category(errors.CategoryUnauthorized).
			Build()
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method %v", t.Header["alg"]).
				Component("auth").
				Category(errors.CategoryUnauthorized).
				Build()
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryUnauthorized).
			Build()
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, errors.Newf("invalid token claims").
			Component("auth").
			Category(errors.CategoryUnauthorized).
			Build()
	}
	if c.Subject == "" {
		return nil, errors.Newf("token has no subject").
			Component("auth").
			Category(errors.CategoryUnauthorized).
			Build()
	}
	if v.maxAge > 0 {
		if c.IssuedAt == nil {
			return nil, errors.Newf("token has no issued-at claim").
				Component("auth").
				Category(errors.CategoryUnauthorized).
				Build()
		}
		if time.Since(c.IssuedAt.Time) > v.maxAge {
			return nil, errors.Newf("token exceeds the configured maximum age").
				Component("auth").
				Category(errors.CategoryUnauthorized).
				Build()
		}
	}

	identity := &Identity{
		UserID:  c.Subject,
		AdminID: c.AdminID,
	}
	switch c.Role {
	case string(notification.RoleAdmin):
		identity.Role = notification.RoleAdmin
		if identity.AdminID == "" {
			identity.AdminID = c.Subject
		}
	case string(notification.RoleTeacher):
		identity.Role = notification.RoleTeacher
		if identity.AdminID == "" {
			return nil, errors.Newf("teacher token has no admin_id").
				Component("auth").
				Category(errors.CategoryUnauthorized).
				Build()
		}
	default:
		return nil, errors.Newf("unknown role %q", c.Role).
			Component("auth").
			Category(errors.CategoryUnauthorized).
			Build()
	}
	return identity, nil
}

// Middleware returns echo middleware that authenticates every request with
// the verifier and stores the identity on the context. The credential comes
// from the Authorization header, or from the token query parameter for
// EventSource clients that cannot set headers.
func Middleware(verifier Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			identity, err := verifier.Verify(token)
			if err != nil {
				return err
			}
			c.Set(ContextKeyIdentity, identity)
			return next(c)
		}
	}
}

// IdentityFrom extracts the verified identity placed by Middleware. The
// second return is false when the request never passed authentication.
func IdentityFrom(c echo.Context) (*Identity, bool) {
	identity, ok := c.Get(ContextKeyIdentity).(*Identity)
	return identity, ok
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.QueryParam("token")
}
