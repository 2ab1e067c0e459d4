package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"easee-invoicing/internal/auth"
	consumption "easee-invoicing/internal/consumption/domain"
	invoiceapp "easee-invoicing/internal/invoicing/application"
)

const errYearMonthRequired = "Year and month are required"

// SiteSource lists sites and chargers from the Easee API.
type SiteSource interface {
	Sites(ctx context.Context, accessToken string) (json.RawMessage, error)
	Chargers(ctx context.Context, accessToken, siteID string) (json.RawMessage, error)
}

// Quoter prices a charger month.
type Quoter interface {
	Quote(ctx context.Context, accessToken, chargerID string, period consumption.Period) (*invoiceapp.ConsumptionReport, error)
}

// SitesHandler serves GET /api/sites.
type SitesHandler struct {
	source SiteSource
	logger *zap.Logger
}

// NewSitesHandler constructs a SitesHandler.
func NewSitesHandler(source SiteSource, logger *zap.Logger) *SitesHandler {
	return &SitesHandler{source: source, logger: nopIfNil(logger)}
}

// ServeHTTP handles GET /api/sites.
func (h *SitesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "server not ready"})
		return
	}
	sites, err := h.source.Sites(r.Context(), auth.AccessTokenFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("list sites failed", zap.Error(err))
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sites": sites})
}

// ChargersHandler serves GET /api/chargers/{site_id}.
type ChargersHandler struct {
	source SiteSource
	logger *zap.Logger
}

// NewChargersHandler constructs a ChargersHandler.
func NewChargersHandler(source SiteSource, logger *zap.Logger) *ChargersHandler {
	return &ChargersHandler{source: source, logger: nopIfNil(logger)}
}

// ServeHTTP handles GET /api/chargers/{site_id}.
func (h *ChargersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "server not ready"})
		return
	}
	siteID, ok := pathParam(r.URL.Path, "/api/chargers/")
	if !ok {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	chargers, err := h.source.Chargers(r.Context(), auth.AccessTokenFromContext(r.Context()), siteID)
	if err != nil {
		h.logger.Warn("list chargers failed", zap.String("site_id", siteID), zap.Error(err))
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chargers": chargers})
}

// ConsumptionHandler serves GET /api/consumption/{charger_id}?year=&month=.
type ConsumptionHandler struct {
	quoter Quoter
	logger *zap.Logger
}

// NewConsumptionHandler constructs a ConsumptionHandler.
func NewConsumptionHandler(quoter Quoter, logger *zap.Logger) *ConsumptionHandler {
	return &ConsumptionHandler{quoter: quoter, logger: nopIfNil(logger)}
}

// ServeHTTP handles GET /api/consumption/{charger_id}.
func (h *ConsumptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.quoter == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "server not ready"})
		return
	}
	chargerID, ok := pathParam(r.URL.Path, "/api/consumption/")
	if !ok {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	period, err := parsePeriodQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errYearMonthRequired})
		return
	}

	report, err := h.quoter.Quote(r.Context(), auth.AccessTokenFromContext(r.Context()), chargerID, period)
	if err != nil {
		h.logger.Warn("consumption quote failed",
			zap.String("charger_id", chargerID),
			zap.String("period", period.String()),
			zap.Error(err))
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	if report.HourlyData == nil {
		report.HourlyData = []invoiceapp.HourlyPoint{}
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*invoiceapp.ConsumptionReport
	}{Success: true, ConsumptionReport: report})
}

func parsePeriodQuery(r *http.Request) (consumption.Period, error) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		return consumption.Period{}, err
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil {
		return consumption.Period{}, err
	}
	return consumption.NewPeriod(year, month)
}

func pathParam(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	value := strings.TrimPrefix(path, prefix)
	if value == "" || strings.Contains(value, "/") {
		return "", false
	}
	return value, true
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
