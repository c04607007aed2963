package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/paycore/tokend/internal/model"
	"github.com/paycore/tokend/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal is the token that authenticated the request.
type Principal struct {
	Token model.Token
}

// Tenant returns the scope the principal may act on.
func (p *Principal) Tenant() model.Tenant {
	return p.Token.Tenant()
}

// Authenticator resolves an API key to its token.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (model.Token, error)
}

// Authenticate returns an HTTP middleware that requires an
// "Authorization: Bearer <api key>" header. On success the Principal is
// attached to the request context; otherwise a 401 JSON error is written.
// Store failures yield 500 and are logged.
func Authenticate(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tokend"`)
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			tok, err := auth.Authenticate(r.Context(), apiKey)
			switch {
			case err == nil:
			case errors.Is(err, service.ErrInvalidToken):
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			case errors.Is(err, service.ErrTokenRevoked):
				writeAuthError(w, http.StatusUnauthorized, "token revoked")
				return
			case errors.Is(err, service.ErrUnknownToken):
				writeAuthError(w, http.StatusUnauthorized, "unauthorized")
				return
			default:
				logger.Error("authenticate", "error", err, "request_id", GetRequestID(r.Context()))
				writeAuthError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{Token: tok})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
