package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	invoicing "easee-invoicing/internal/invoicing/domain"
)

// ExportRecord is one recorded export.
type ExportRecord struct {
	InvoiceID string
	Format    string
	Status    string
	At        time.Time
}

// InvoiceRepository is an in-memory invoice repository.
type InvoiceRepository struct {
	mu       sync.RWMutex
	invoices map[string]invoicing.InvoiceAggregate
	lines    map[string][]invoicing.InvoiceLine
	exports  []ExportRecord
}

// NewInvoiceRepository constructs a repository.
func NewInvoiceRepository() *InvoiceRepository {
	return &InvoiceRepository{
		invoices: make(map[string]invoicing.InvoiceAggregate),
		lines:    make(map[string][]invoicing.InvoiceLine),
	}
}

// FindLatestActive returns the latest draft/frozen invoice.
func (r *InvoiceRepository) FindLatestActive(ctx context.Context, owner, chargerID string, month time.Time) (*invoicing.InvoiceAggregate, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *invoicing.InvoiceAggregate
	for _, inv := range r.invoices {
		if !matches(inv, owner, chargerID, month) || !inv.Active() {
			continue
		}
		if latest == nil || inv.Version > latest.Version {
			copied := inv
			latest = &copied
		}
	}
	return latest, nil
}

// NextVersion returns the next version for owner+charger+month.
func (r *InvoiceRepository) NextVersion(ctx context.Context, owner, chargerID string, month time.Time) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	maxVersion := 0
	for _, inv := range r.invoices {
		if matches(inv, owner, chargerID, month) && inv.Version > maxVersion {
			maxVersion = inv.Version
		}
	}
	return maxVersion + 1, nil
}

// CreateWithLines stores an invoice and its lines.
func (r *InvoiceRepository) CreateWithLines(ctx context.Context, invoice *invoicing.InvoiceAggregate, lines []invoicing.InvoiceLine) error {
	_ = ctx
	if invoice == nil {
		return invoicing.ErrNilAggregate
	}
	stored := make([]invoicing.InvoiceLine, len(lines))
	for i, line := range lines {
		line.InvoiceID = invoice.ID
		stored[i] = line
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[invoice.ID] = *invoice
	r.lines[invoice.ID] = stored
	return nil
}

// GetByID fetches an invoice.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*invoicing.InvoiceAggregate, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

// ListByChargerMonth lists all versions for a month, ascending.
func (r *InvoiceRepository) ListByChargerMonth(ctx context.Context, owner, chargerID string, month time.Time) ([]invoicing.InvoiceAggregate, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []invoicing.InvoiceAggregate
	for _, inv := range r.invoices {
		if matches(inv, owner, chargerID, month) {
			result = append(result, inv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

// ListLines returns lines ordered by day.
func (r *InvoiceRepository) ListLines(ctx context.Context, invoiceID string) ([]invoicing.InvoiceLine, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := append([]invoicing.InvoiceLine(nil), r.lines[invoiceID]...)
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].DayStart.Before(lines[j].DayStart)
	})
	return lines, nil
}

// MarkFrozen marks an invoice as frozen.
func (r *InvoiceRepository) MarkFrozen(ctx context.Context, id, hash string, frozenAt time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return invoicing.ErrInvoiceNotFound
	}
	inv.Status = invoicing.InvoiceStatusFrozen
	inv.SnapshotHash = hash
	inv.FrozenAt = frozenAt
	inv.UpdatedAt = frozenAt
	r.invoices[id] = inv
	return nil
}

// MarkVoided marks an invoice as voided.
func (r *InvoiceRepository) MarkVoided(ctx context.Context, id, reason string, voidedAt time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return invoicing.ErrInvoiceNotFound
	}
	inv.Status = invoicing.InvoiceStatusVoided
	inv.VoidReason = reason
	inv.VoidedAt = voidedAt
	inv.UpdatedAt = voidedAt
	r.invoices[id] = inv
	return nil
}

// RecordExport keeps an export record.
func (r *InvoiceRepository) RecordExport(ctx context.Context, invoiceID, format, status string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exports = append(r.exports, ExportRecord{InvoiceID: invoiceID, Format: format, Status: status, At: time.Now().UTC()})
	return nil
}

// Exports returns recorded exports.
func (r *InvoiceRepository) Exports() []ExportRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ExportRecord(nil), r.exports...)
}

func matches(inv invoicing.InvoiceAggregate, owner, chargerID string, month time.Time) bool {
	return inv.Owner == owner && inv.ChargerID == chargerID && inv.InvoiceMonth.Equal(month)
}
