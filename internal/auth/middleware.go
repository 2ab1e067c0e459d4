package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Middleware validates session cookies.
type Middleware struct {
	Secret []byte
	Policy Policy
	Logger *zap.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{Secret: secret, Policy: policy, Logger: logger}
}

// Wrap requires a valid session on every non-exempt route. API routes answer
// 401 JSON, pages redirect to /login.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := ParseSession(sessionFromRequest(r), m.Secret)
		if err == nil {
			r = r.WithContext(WithIdentity(r.Context(), claims.Subject, claims.EaseeToken))
		}

		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			if !errors.Is(err, ErrEmptyToken) {
				m.Logger.Debug("session rejected", zap.String("path", r.URL.Path), zap.Error(err))
				ClearSessionCookie(w)
			}
			if m.Policy.IsAPI(r) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Not authenticated"})
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
