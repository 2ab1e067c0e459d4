package application

import (
	"context"
	"time"

	invoicing "easee-invoicing/internal/invoicing/domain"
)

const (
	EventInvoiceGenerated = "invoice.generated"
	EventInvoiceFrozen    = "invoice.frozen"
	EventInvoiceVoided    = "invoice.voided"
)

// InvoiceEvent describes a lifecycle change of an invoice.
type InvoiceEvent struct {
	Type           string    `json:"type"`
	InvoiceID      string    `json:"invoice_id"`
	Owner          string    `json:"owner"`
	SiteID         string    `json:"site_id,omitempty"`
	ChargerID      string    `json:"charger_id"`
	Month          string    `json:"month"`
	Version        int       `json:"version"`
	Status         string    `json:"status"`
	TotalEnergyKWh float64   `json:"total_energy_kwh"`
	TotalAmount    float64   `json:"total_amount"`
	Currency       string    `json:"currency"`
	SnapshotHash   string    `json:"snapshot_hash,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// InvoicePublisher publishes invoice events.
type InvoicePublisher interface {
	PublishInvoiceEvent(ctx context.Context, event InvoiceEvent) error
}

func newInvoiceEvent(eventType string, inv *invoicing.InvoiceAggregate, at time.Time) InvoiceEvent {
	return InvoiceEvent{
		Type:           eventType,
		InvoiceID:      inv.ID,
		Owner:          inv.Owner,
		SiteID:         inv.SiteID,
		ChargerID:      inv.ChargerID,
		Month:          inv.Month(),
		Version:        inv.Version,
		Status:         inv.Status,
		TotalEnergyKWh: inv.TotalEnergyKWh,
		TotalAmount:    inv.TotalAmount,
		Currency:       inv.Currency,
		SnapshotHash:   inv.SnapshotHash,
		OccurredAt:     at,
	}
}
