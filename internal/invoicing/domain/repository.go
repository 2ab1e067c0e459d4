package invoicing

import (
	"context"
	"time"
)

// Repository persists invoices and their lines.
// Lookups return (nil, nil) when nothing matches.
type Repository interface {
	FindLatestActive(ctx context.Context, owner, chargerID string, month time.Time) (*InvoiceAggregate, error)
	NextVersion(ctx context.Context, owner, chargerID string, month time.Time) (int, error)
	CreateWithLines(ctx context.Context, invoice *InvoiceAggregate, lines []InvoiceLine) error
	GetByID(ctx context.Context, id string) (*InvoiceAggregate, error)
	ListByChargerMonth(ctx context.Context, owner, chargerID string, month time.Time) ([]InvoiceAggregate, error)
	ListLines(ctx context.Context, invoiceID string) ([]InvoiceLine, error)
	MarkFrozen(ctx context.Context, id, hash string, frozenAt time.Time) error
	MarkVoided(ctx context.Context, id, reason string, voidedAt time.Time) error
}

// ExportRecorder is implemented by repositories that keep an export history.
type ExportRecorder interface {
	RecordExport(ctx context.Context, invoiceID, format, status string) error
}
