package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"easee-invoicing/internal/audit"
	"easee-invoicing/internal/auth"
	"easee-invoicing/internal/easee"
	invoiceapp "easee-invoicing/internal/invoicing/application"
	invoicing "easee-invoicing/internal/invoicing/domain"
	"easee-invoicing/internal/observability/metrics"
)

const invoicesPath = "/api/invoices"

// InvoiceHandler handles invoice APIs under /api/invoices.
type InvoiceHandler struct {
	service     *invoiceapp.InvoiceService
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewInvoiceHandler constructs a handler.
func NewInvoiceHandler(service *invoiceapp.InvoiceService, auditLogger audit.Logger, logger *zap.Logger) (*InvoiceHandler, error) {
	if service == nil {
		return nil, errors.New("invoice handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceHandler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the handler on mux.
func (h *InvoiceHandler) Register(mux *http.ServeMux) {
	mux.Handle(invoicesPath, h)
	mux.Handle(invoicesPath+"/", h)
}

// ServeHTTP dispatches invoice routes.
func (h *InvoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == invoicesPath+"/generate" && r.Method == http.MethodPost {
		h.handleGenerate(w, r)
		return
	}
	if path == invoicesPath && r.Method == http.MethodGet {
		h.handleList(w, r)
		return
	}
	if strings.HasPrefix(path, invoicesPath+"/") {
		rest := strings.TrimPrefix(path, invoicesPath+"/")
		h.handleByID(w, r, rest)
		return
	}
	writeError(w, http.StatusNotFound, "not found")
}

type generateRequest struct {
	SiteID     string `json:"site_id"`
	ChargerID  string `json:"charger_id"`
	Month      string `json:"month"`
	Regenerate bool   `json:"regenerate"`
}

func (h *InvoiceHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	token := auth.AccessTokenFromContext(r.Context())
	action := audit.ActionInvoiceGenerate
	if req.Regenerate {
		action = audit.ActionInvoiceRegenerate
	}
	meta := map[string]any{"month": req.Month, "regenerate": req.Regenerate, "site_id": req.SiteID}

	if req.ChargerID == "" && req.SiteID != "" {
		invoices, err := h.service.GenerateForSite(r.Context(), token, req.SiteID, req.Month, req.Regenerate)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		ids := make([]string, 0, len(invoices))
		for _, inv := range invoices {
			ids = append(ids, inv.ID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "invoices": invoices})
		meta["invoice_ids"] = ids
		h.logAudit(r, "", req.SiteID, audit.ResourceSite, action, meta)
		return
	}

	inv, err := h.service.Generate(r.Context(), token, req.SiteID, req.ChargerID, req.Month, req.Regenerate)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"invoice_id": inv.ID,
		"status":     inv.Status,
		"version":    inv.Version,
		"invoice":    inv,
	})
	h.logAudit(r, inv.ChargerID, inv.ID, audit.ResourceInvoice, action, meta)
}

func (h *InvoiceHandler) handleList(w http.ResponseWriter, r *http.Request) {
	chargerID := r.URL.Query().Get("charger_id")
	month := r.URL.Query().Get("month")
	list, err := h.service.List(r.Context(), chargerID, month)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []invoicing.InvoiceAggregate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "invoices": list})
}

func (h *InvoiceHandler) handleByID(w http.ResponseWriter, r *http.Request, rest string) {
	if rest == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) == 1 && r.Method == http.MethodGet {
		h.handleGet(w, r, id)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "freeze":
			if r.Method == http.MethodPost {
				h.handleFreeze(w, r, id)
				return
			}
		case "void":
			if r.Method == http.MethodPost {
				h.handleVoid(w, r, id)
				return
			}
		case "export.pdf":
			if r.Method == http.MethodGet {
				h.handleExport(w, r, id, "pdf")
				return
			}
		case "export.xlsx":
			if r.Method == http.MethodGet {
				h.handleExport(w, r, id, "xlsx")
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "not found")
}

func (h *InvoiceHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	inv, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if lines == nil {
		lines = []invoicing.InvoiceLine{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "invoice": inv, "lines": lines})
}

func (h *InvoiceHandler) handleFreeze(w http.ResponseWriter, r *http.Request, id string) {
	inv, err := h.service.Freeze(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"invoice_id":    inv.ID,
		"status":        inv.Status,
		"version":       inv.Version,
		"snapshot_hash": inv.SnapshotHash,
	})
	h.logAudit(r, inv.ChargerID, inv.ID, audit.ResourceInvoice, audit.ActionInvoiceFreeze, map[string]any{"status": inv.Status})
}

func (h *InvoiceHandler) handleVoid(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	inv, err := h.service.Void(r.Context(), id, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"invoice_id": inv.ID,
		"status":     inv.Status,
		"version":    inv.Version,
	})
	h.logAudit(r, inv.ChargerID, inv.ID, audit.ResourceInvoice, audit.ActionInvoiceVoid, map[string]any{"reason": req.Reason})
}

func (h *InvoiceHandler) handleExport(w http.ResponseWriter, r *http.Request, id, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveInvoiceExport(format, result, time.Since(start))
	}()

	inv, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}

	var data []byte
	contentType := contentTypePDF
	if format == "pdf" {
		data, err = BuildInvoicePDF(inv, lines)
	} else {
		contentType = contentTypeXLSX
		data, err = BuildInvoiceXLSX(inv, lines)
	}
	if err != nil {
		result = metrics.ResultError
		h.logger.Error("invoice export failed", zap.String("invoice_id", id), zap.String("format", format), zap.Error(err))
		h.service.RecordExport(r.Context(), inv.ID, format, metrics.ResultError)
		writeError(w, http.StatusInternalServerError, "export "+format+" error")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+inv.ID+"."+format+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.service.RecordExport(r.Context(), inv.ID, format, metrics.ResultSuccess)
	h.logAudit(r, inv.ChargerID, inv.ID, audit.ResourceInvoice, audit.ActionInvoiceExport, map[string]any{"format": format})
}

func (h *InvoiceHandler) logAudit(r *http.Request, chargerID, resourceID, resourceType, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	actor := auth.UsernameFromContext(r.Context())
	if actor == "" {
		return
	}
	entry := audit.FromRequest(r, actor, action, resourceType, resourceID).WithMetadata(meta)
	entry.ChargerID = chargerID
	if err := h.auditLogger.Log(r.Context(), entry); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

// StatusForError maps service errors to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, invoicing.ErrOwnerMismatch):
		return http.StatusForbidden
	case errors.Is(err, invoicing.ErrInvoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, invoicing.ErrOwnerRequired), easee.IsUnauthorized(err):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status := StatusForError(err)
	message := err.Error()
	switch status {
	case http.StatusForbidden:
		message = "forbidden"
	case http.StatusNotFound:
		message = "not found"
	}
	writeError(w, status, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
