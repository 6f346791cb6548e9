package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/veris/pkg/identity"
)

// Claims are the JWT claims expected by the Veris API. The subject is the
// caller's principal; roles gate the admin surface.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// HasRole reports whether the token carries the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTVerifier validates HMAC-signed bearer tokens.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier. An empty secret returns nil, which makes
// the auth middleware fail closed.
func NewJWTVerifier(secret string) *JWTVerifier {
	if secret == "" {
		return nil
	}
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates a JWT token string.
func (v *JWTVerifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

type callerKey struct{}

// CallerFrom extracts the authenticated caller's claims from the context.
func CallerFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(callerKey{}).(*Claims)
	return c, ok
}

// PrincipalFrom returns the authenticated caller as a principal.
func PrincipalFrom(ctx context.Context) (identity.Principal, bool) {
	c, ok := CallerFrom(ctx)
	if !ok || c.Subject == "" {
		return "", false
	}
	return identity.Principal(c.Subject), true
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/v1/healthz",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// AuthMiddleware creates JWT auth middleware.
// If verifier is nil, all non-public requests are rejected (fail closed).
func AuthMiddleware(verifier *JWTVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if verifier == nil {
				WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := verifier.Verify(parts[1])
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				WriteUnauthorized(w, "Token subject is required")
				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole guards a handler behind a role carried in the JWT.
func RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := CallerFrom(r.Context())
		if !ok {
			WriteUnauthorized(w, "")
			return
		}
		if !claims.HasRole(role) {
			WriteForbidden(w, fmt.Sprintf("Role %q required", role))
			return
		}
		next(w, r)
	}
}
