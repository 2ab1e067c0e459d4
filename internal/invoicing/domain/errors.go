package invoicing

import "errors"

var (
	// ErrInvoiceNotFound is returned when an invoice does not exist.
	ErrInvoiceNotFound = errors.New("invoicing: invoice not found")
	// ErrOwnerMismatch is returned when an invoice belongs to another account.
	ErrOwnerMismatch = errors.New("invoicing: owner mismatch")
	// ErrOwnerRequired is returned when no authenticated owner is present.
	ErrOwnerRequired = errors.New("invoicing: owner required")
	// ErrInvoiceVoided is returned when freezing a voided invoice.
	ErrInvoiceVoided = errors.New("invoicing: invoice is voided")
	// ErrEmptyChargerID is returned when charger id is empty.
	ErrEmptyChargerID = errors.New("invoicing: empty charger id")
	// ErrEmptySiteID is returned when site id is empty.
	ErrEmptySiteID = errors.New("invoicing: empty site id")
	// ErrInvalidMonth is returned when the month is not YYYY-MM.
	ErrInvalidMonth = errors.New("invoicing: month must be YYYY-MM")
	// ErrNegativeValue is returned when a negative value is provided.
	ErrNegativeValue = errors.New("invoicing: negative value")
	// ErrNilAggregate is returned when saving a nil aggregate.
	ErrNilAggregate = errors.New("invoicing: nil aggregate")
)
