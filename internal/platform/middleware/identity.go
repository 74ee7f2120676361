package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Caller is the identity attached to every request. Session management lives
// in the web front end; the gateway only verifies the hand-off token and
// derives tier attributes from its claims.
type Caller struct {
	Email         string
	Authenticated bool
	Pro           bool
}

type callerKey struct{}
type clientIPKey struct{}

// sessionClaims is the claim set minted by the front end for its sessions.
type sessionClaims struct {
	Email string `json:"email"`
	Pro   bool   `json:"pro"`
	jwt.RegisteredClaims
}

// Identity resolves the caller from an optional Authorization bearer token.
// An absent, malformed, or expired token downgrades the caller to anonymous
// rather than rejecting the request: anonymous uploads are a supported tier.
// It also records the client IP so the rate limiter can key anonymous traffic.
func Identity(verifyKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey{}, clientIP(r))

			caller := Caller{}
			if token := bearerToken(r); token != "" && verifyKey != "" {
				if c, ok := verifySession(token, verifyKey); ok {
					caller = c
				} else {
					logger.WarnContext(ctx, "invalid session token, treating caller as anonymous",
						"request_id", GetRequestID(ctx))
				}
			}
			ctx = context.WithValue(ctx, callerKey{}, caller)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCaller retrieves the caller identity from the context.
// The zero value is an anonymous caller.
func GetCaller(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok {
		return c
	}
	return Caller{}
}

// GetClientIP retrieves the client IP recorded by the Identity middleware.
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// WithCaller returns a context carrying the given caller. Test helper.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// WithClientIP returns a context carrying the given client IP. Test helper.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func verifySession(token, verifyKey string) (Caller, bool) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(verifyKey), nil
	})
	if err != nil || !parsed.Valid || claims.Email == "" {
		return Caller{}, false
	}
	return Caller{
		Email:         claims.Email,
		Authenticated: true,
		Pro:           claims.Pro,
	}, true
}

// clientIP prefers the first hop of X-Forwarded-For, matching the original
// deployment behind a trusted proxy, and falls back to the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
