package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	invoicing "easee-invoicing/internal/invoicing/domain"
)

const invoiceColumns = `id, owner, site_id, charger_id, invoice_month, status, version,
	total_energy_kwh, total_amount, price_per_kwh, currency, snapshot_hash, void_reason,
	created_at, updated_at, frozen_at, voided_at`

// InvoiceRepository persists invoices.
type InvoiceRepository struct {
	db *sql.DB
}

// NewInvoiceRepository constructs a repository.
func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// FindLatestActive returns latest draft/frozen invoice.
func (r *InvoiceRepository) FindLatestActive(ctx context.Context, owner, chargerID string, month time.Time) (*invoicing.InvoiceAggregate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("invoice repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE owner = $1 AND charger_id = $2 AND invoice_month = $3
	AND status IN ('draft','frozen')
ORDER BY version DESC
LIMIT 1`, owner, chargerID, month)
	return scanInvoice(row)
}

// NextVersion returns next version for owner+charger+month.
func (r *InvoiceRepository) NextVersion(ctx context.Context, owner, chargerID string, month time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("invoice repo: nil db")
	}
	var maxVersion sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
SELECT MAX(version)
FROM invoices
WHERE owner = $1 AND charger_id = $2 AND invoice_month = $3`, owner, chargerID, month).Scan(&maxVersion)
	if err != nil {
		return 0, err
	}
	if !maxVersion.Valid {
		return 1, nil
	}
	return int(maxVersion.Int64) + 1, nil
}

// CreateWithLines inserts an invoice and its lines in one transaction.
func (r *InvoiceRepository) CreateWithLines(ctx context.Context, inv *invoicing.InvoiceAggregate, lines []invoicing.InvoiceLine) error {
	if r == nil || r.db == nil {
		return errors.New("invoice repo: nil db")
	}
	if inv == nil {
		return invoicing.ErrNilAggregate
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO invoices (
	id, owner, site_id, charger_id, invoice_month, status, version,
	total_energy_kwh, total_amount, price_per_kwh, currency, snapshot_hash, void_reason,
	created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`,
		inv.ID, inv.Owner, inv.SiteID, inv.ChargerID, inv.InvoiceMonth, inv.Status, inv.Version,
		inv.TotalEnergyKWh, inv.TotalAmount, inv.PricePerKWh, inv.Currency, nullString(inv.SnapshotHash), nullString(inv.VoidReason),
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, line := range lines {
		_, err := tx.ExecContext(ctx, `
INSERT INTO invoice_lines (
	invoice_id, day_start, energy_kwh, price_per_kwh, amount, currency, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			inv.ID, line.DayStart, line.EnergyKWh, line.PricePerKWh, line.Amount, line.Currency, line.CreatedAt)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetByID fetches an invoice.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*invoicing.InvoiceAggregate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("invoice repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE id = $1
LIMIT 1`, id)
	return scanInvoice(row)
}

// ListByChargerMonth lists all versions for a month.
func (r *InvoiceRepository) ListByChargerMonth(ctx context.Context, owner, chargerID string, month time.Time) ([]invoicing.InvoiceAggregate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("invoice repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE owner = $1 AND charger_id = $2 AND invoice_month = $3
ORDER BY version ASC`, owner, chargerID, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []invoicing.InvoiceAggregate
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		if inv != nil {
			result = append(result, *inv)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListLines returns lines for an invoice.
func (r *InvoiceRepository) ListLines(ctx context.Context, invoiceID string) ([]invoicing.InvoiceLine, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("invoice repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT invoice_id, day_start, energy_kwh, price_per_kwh, amount, currency, created_at
FROM invoice_lines
WHERE invoice_id = $1
ORDER BY day_start ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []invoicing.InvoiceLine
	for rows.Next() {
		var line invoicing.InvoiceLine
		if err := rows.Scan(&line.InvoiceID, &line.DayStart, &line.EnergyKWh, &line.PricePerKWh, &line.Amount, &line.Currency, &line.CreatedAt); err != nil {
			return nil, err
		}
		line.DayStart = line.DayStart.UTC()
		line.CreatedAt = line.CreatedAt.UTC()
		result = append(result, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkFrozen marks invoice as frozen.
func (r *InvoiceRepository) MarkFrozen(ctx context.Context, id, hash string, frozenAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("invoice repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE invoices
SET status = $1, snapshot_hash = $2, frozen_at = $3, updated_at = $3
WHERE id = $4`, invoicing.InvoiceStatusFrozen, hash, frozenAt, id)
	return err
}

// MarkVoided marks invoice as voided.
func (r *InvoiceRepository) MarkVoided(ctx context.Context, id, reason string, voidedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("invoice repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE invoices
SET status = $1, void_reason = $2, voided_at = $3, updated_at = $3
WHERE id = $4`, invoicing.InvoiceStatusVoided, reason, voidedAt, id)
	return err
}

// RecordExport stores an export record.
func (r *InvoiceRepository) RecordExport(ctx context.Context, invoiceID, format, status string) error {
	if r == nil || r.db == nil {
		return errors.New("invoice repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO invoice_exports (id, invoice_id, format, status)
VALUES ($1,$2,$3,$4)`, "exp-"+uuid.NewString(), invoiceID, format, status)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*invoicing.InvoiceAggregate, error) {
	var inv invoicing.InvoiceAggregate
	var snapshot sql.NullString
	var voidReason sql.NullString
	var frozenAt sql.NullTime
	var voidedAt sql.NullTime
	err := row.Scan(
		&inv.ID,
		&inv.Owner,
		&inv.SiteID,
		&inv.ChargerID,
		&inv.InvoiceMonth,
		&inv.Status,
		&inv.Version,
		&inv.TotalEnergyKWh,
		&inv.TotalAmount,
		&inv.PricePerKWh,
		&inv.Currency,
		&snapshot,
		&voidReason,
		&inv.CreatedAt,
		&inv.UpdatedAt,
		&frozenAt,
		&voidedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if snapshot.Valid {
		inv.SnapshotHash = snapshot.String
	}
	if voidReason.Valid {
		inv.VoidReason = voidReason.String
	}
	if frozenAt.Valid {
		inv.FrozenAt = frozenAt.Time.UTC()
	}
	if voidedAt.Valid {
		inv.VoidedAt = voidedAt.Time.UTC()
	}
	inv.InvoiceMonth = inv.InvoiceMonth.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return &inv, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
