package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
)

// AuthenticationMiddleware guards the sync API with a static bearer token
type AuthenticationMiddleware struct {
	logger *logger.Logger
	token  string
}

// NewAuthenticationMiddleware creates a new authentication middleware
func NewAuthenticationMiddleware(cfg *config.Config, logger *logger.Logger) *AuthenticationMiddleware {
	if cfg.Server.APIToken == "" {
		logger.Warn("server.api_token is not set; the sync API is unauthenticated")
	}
	return &AuthenticationMiddleware{
		logger: logger,
		token:  cfg.Server.APIToken,
	}
}

// RequireToken rejects requests without the configured token. The token is
// accepted as "Authorization: Bearer <token>" or "X-API-Key: <token>".
func (m *AuthenticationMiddleware) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !m.validToken(extractToken(r)) {
			m.logger.WithField("path", r.URL.Path).
				WithField("remote_addr", r.RemoteAddr).
				Warn("Authentication failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthenticationMiddleware) validToken(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) == 1
}

func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	return r.Header.Get("X-API-Key")
}
