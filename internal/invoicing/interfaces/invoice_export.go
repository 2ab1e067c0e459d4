package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	invoicing "easee-invoicing/internal/invoicing/domain"
)

const (
	contentTypePDF  = "application/pdf"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// FormatAmount renders a money amount with thousands separators and 2 decimals.
func FormatAmount(value float64) string {
	return humanize.FormatFloat("#,###.##", value)
}

// FormatEnergy renders kWh with thousands separators and 3 decimals.
func FormatEnergy(value float64) string {
	return humanize.FormatFloat("#,###.###", value)
}

// BuildInvoicePDF renders a PDF invoice.
func BuildInvoicePDF(inv *invoicing.InvoiceAggregate, lines []invoicing.InvoiceLine) ([]byte, error) {
	if inv == nil {
		return nil, invoicing.ErrNilAggregate
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "EV Charging Invoice")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Invoice: %s", inv.ID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s", inv.Owner))
	pdf.Ln(5)
	if inv.SiteID != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Site: %s", inv.SiteID))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Charger: %s", inv.ChargerID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Month: %s", inv.Month()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Version: %d", inv.Version))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", inv.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", inv.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if !inv.FrozenAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Frozen: %s", inv.FrozenAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	if inv.SnapshotHash != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Snapshot: %s", inv.SnapshotHash))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Price per kWh (%s): %s", inv.Currency, FormatAmount(inv.PricePerKWh)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Energy (kWh): %s", FormatEnergy(inv.TotalEnergyKWh)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Amount (%s): %s", inv.Currency, FormatAmount(inv.TotalAmount)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Day", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Energy (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Price", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range lines {
		pdf.CellFormat(40, 6, line.DayLabel(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, FormatEnergy(line.EnergyKWh), "1", 0, "R", false, 0, "")
		pdf.CellFormat(45, 6, FormatAmount(line.PricePerKWh), "1", 0, "R", false, 0, "")
		pdf.CellFormat(45, 6, FormatAmount(line.Amount), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildInvoiceXLSX renders an XLSX invoice with summary and lines sheets.
func BuildInvoiceXLSX(inv *invoicing.InvoiceAggregate, lines []invoicing.InvoiceLine) ([]byte, error) {
	if inv == nil {
		return nil, invoicing.ErrNilAggregate
	}
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	linesSheet := "lines"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"EV Charging Invoice", nil},
		{nil, nil},
		{"Invoice", inv.ID},
		{"Account", inv.Owner},
		{"Site", inv.SiteID},
		{"Charger", inv.ChargerID},
		{"Month", inv.Month()},
		{"Version", inv.Version},
		{"Status", inv.Status},
		{"Price per kWh", inv.PricePerKWh},
		{"Total Energy (kWh)", inv.TotalEnergyKWh},
		{"Total Amount", inv.TotalAmount},
		{"Currency", inv.Currency},
		{"Snapshot", inv.SnapshotHash},
	}
	for i, row := range summary {
		if row[0] == nil {
			continue
		}
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		if row[1] != nil {
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
		}
	}

	_ = f.SetCellValue(linesSheet, "A1", "Day")
	_ = f.SetCellValue(linesSheet, "B1", "Energy (kWh)")
	_ = f.SetCellValue(linesSheet, "C1", "Price per kWh")
	_ = f.SetCellValue(linesSheet, "D1", "Amount")
	for i, line := range lines {
		row := i + 2
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("A%d", row), line.DayLabel())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("B%d", row), line.EnergyKWh)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("C%d", row), line.PricePerKWh)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("D%d", row), line.Amount)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
