package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
)

// Verifier checks a session token and returns its claims.
type Verifier interface {
	Verify(token string, now time.Time) (*jwt.SessionClaims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims a guard attached to ctx.
func ClaimsFromContext(ctx context.Context) (*jwt.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.SessionClaims)
	return claims, ok
}

// Guard rejects requests without a valid bearer session token and attaches
// the verified claims to the request context.
func Guard(v Verifier) func(http.Handler) http.Handler {
	return guard(v, "")
}

func guard(v Verifier, template string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.Verify(token, time.Now())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if template != "" && claims.Template != template {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
