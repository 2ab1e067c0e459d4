package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"easee-invoicing/internal/observability/metrics"
)

const requestIDHeader = "X-Request-ID"

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)

		elapsed := time.Since(start)
		route := routeLabel(r.URL.Path)
		metrics.ObserveHTTPRequest(route, r.Method, resp.status, elapsed)
		logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", resp.status),
			zap.Duration("duration", elapsed))
	})
}

// recoverMiddleware must sit inside loggingMiddleware so a panic is logged and counted as a 500.
func recoverMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("http handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

var invoiceActions = map[string]struct{}{
	"freeze":      {},
	"void":        {},
	"export.pdf":  {},
	"export.xlsx": {},
}

// routeLabel collapses path parameters so metric labels stay bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/chargers/"):
		return "/api/chargers/{site_id}"
	case strings.HasPrefix(path, "/api/consumption/"):
		return "/api/consumption/{charger_id}"
	case path == "/api/invoices/generate":
		return path
	case strings.HasPrefix(path, "/api/invoices/"):
		rest := strings.TrimPrefix(path, "/api/invoices/")
		_, action, nested := strings.Cut(rest, "/")
		if !nested {
			return "/api/invoices/{id}"
		}
		if _, ok := invoiceActions[action]; ok {
			return "/api/invoices/{id}/" + action
		}
		return "other"
	case strings.HasPrefix(path, "/invoices/"):
		return "/invoices/{id}"
	case strings.HasPrefix(path, "/static/"):
		return "/static/"
	}
	switch path {
	case "/", "/login", "/logout", "/dashboard", "/healthz", "/metrics", "/api/sites", "/api/invoices":
		return path
	}
	return "other"
}
