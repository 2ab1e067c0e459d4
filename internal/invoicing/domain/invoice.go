package invoicing

import (
	"math"
	"time"
)

const (
	InvoiceStatusDraft  = "draft"
	InvoiceStatusFrozen = "frozen"
	InvoiceStatusVoided = "voided"
)

// InvoiceAggregate is a monthly invoice for one charger.
type InvoiceAggregate struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	SiteID         string    `json:"site_id,omitempty"`
	ChargerID      string    `json:"charger_id"`
	InvoiceMonth   time.Time `json:"invoice_month"`
	Status         string    `json:"status"`
	Version        int       `json:"version"`
	TotalEnergyKWh float64   `json:"total_energy_kwh"`
	TotalAmount    float64   `json:"total_amount"`
	PricePerKWh    float64   `json:"price_per_kwh"`
	Currency       string    `json:"currency"`
	SnapshotHash   string    `json:"snapshot_hash,omitempty"`
	VoidReason     string    `json:"void_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	FrozenAt       time.Time `json:"frozen_at"`
	VoidedAt       time.Time `json:"voided_at"`
}

// Active reports whether the invoice is draft or frozen.
func (i *InvoiceAggregate) Active() bool {
	return i != nil && (i.Status == InvoiceStatusDraft || i.Status == InvoiceStatusFrozen)
}

// Month formats the invoice month as YYYY-MM.
func (i *InvoiceAggregate) Month() string {
	return i.InvoiceMonth.Format("2006-01")
}

// InvoiceLine is one day of an invoice. A zero DayStart collects readings
// without a usable timestamp.
type InvoiceLine struct {
	InvoiceID   string    `json:"invoice_id"`
	DayStart    time.Time `json:"day_start"`
	EnergyKWh   float64   `json:"energy_kwh"`
	PricePerKWh float64   `json:"price_per_kwh"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

// DayLabel formats DayStart, or "unknown" for undated lines.
func (l InvoiceLine) DayLabel() string {
	if l.DayStart.IsZero() {
		return "unknown"
	}
	return l.DayStart.Format("2006-01-02")
}

// Totals summarizes invoice lines.
type Totals struct {
	EnergyKWh float64
	Amount    float64
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Round3 rounds half away from zero to 3 decimals.
func Round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// Price returns the billed amount for kwh at a linear rate.
func Price(kwh, pricePerKWh float64) float64 {
	return Round2(kwh * pricePerKWh)
}

// NewLine builds a priced line.
func NewLine(dayStart time.Time, kwh, pricePerKWh float64, currency string, now time.Time) (InvoiceLine, error) {
	if kwh < 0 || pricePerKWh < 0 {
		return InvoiceLine{}, ErrNegativeValue
	}
	if !dayStart.IsZero() {
		dayStart = dayStart.UTC()
	}
	return InvoiceLine{
		DayStart:    dayStart,
		EnergyKWh:   Round3(kwh),
		PricePerKWh: pricePerKWh,
		Amount:      Price(kwh, pricePerKWh),
		Currency:    currency,
		CreatedAt:   now.UTC(),
	}, nil
}

// SumLines totals lines. The amount is the sum of the rounded line amounts,
// so printed lines always add up to the total.
func SumLines(lines []InvoiceLine) Totals {
	var energy, amount float64
	for _, line := range lines {
		energy += line.EnergyKWh
		amount += line.Amount
	}
	return Totals{EnergyKWh: Round3(energy), Amount: Round2(amount)}
}

// MonthStart normalizes t to the first instant of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonth parses a YYYY-MM month.
func ParseMonth(month string) (time.Time, error) {
	if month == "" {
		return time.Time{}, ErrInvalidMonth
	}
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, ErrInvalidMonth
	}
	return MonthStart(t), nil
}
