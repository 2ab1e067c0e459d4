package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"easee-invoicing/internal/auth"
	invoicing "easee-invoicing/internal/invoicing/domain"
	"easee-invoicing/internal/invoicing/interfaces"
)

var (
	invoiceUsername   string
	invoicePassword   string
	invoiceSite       string
	invoiceCharger    string
	invoiceMonth      string
	invoiceRegenerate bool
	invoiceFreeze     bool
	invoicePDF        string
	invoiceXLSX       string
)

var invoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "Generate an invoice for one charger month",
	Long: `Signs in to Easee, generates (or returns the existing) invoice for a
charger and month, prints it and optionally writes PDF and XLSX exports.

When --charger is omitted and --site is given, every charger of the site is
invoiced.

The password may also be passed through EASEE_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: runInvoice,
}

func init() {
	invoiceCmd.Flags().StringVar(&invoiceUsername, "username", os.Getenv("EASEE_USERNAME"), "Easee account username")
	invoiceCmd.Flags().StringVar(&invoicePassword, "password", "", "Easee account password")
	invoiceCmd.Flags().StringVar(&invoiceSite, "site", "", "site id")
	invoiceCmd.Flags().StringVar(&invoiceCharger, "charger", "", "charger id")
	invoiceCmd.Flags().StringVar(&invoiceMonth, "month", "", "invoice month (YYYY-MM)")
	invoiceCmd.Flags().BoolVar(&invoiceRegenerate, "regenerate", false, "create a new version and void older draft versions")
	invoiceCmd.Flags().BoolVar(&invoiceFreeze, "freeze", false, "freeze the invoice after generating it")
	invoiceCmd.Flags().StringVar(&invoicePDF, "pdf", "", "write a PDF export to this path")
	invoiceCmd.Flags().StringVar(&invoiceXLSX, "xlsx", "", "write an XLSX export to this path")
	_ = invoiceCmd.MarkFlagRequired("month")
	rootCmd.AddCommand(invoiceCmd)
}

func runInvoice(cmd *cobra.Command, _ []string) error {
	if invoicePassword == "" {
		invoicePassword = os.Getenv("EASEE_PASSWORD")
	}
	if invoiceUsername == "" || invoicePassword == "" {
		return errors.New("--username and --password (or EASEE_USERNAME and EASEE_PASSWORD) are required")
	}
	if invoiceCharger == "" && invoiceSite == "" {
		return errors.New("either --charger or --site is required")
	}
	if invoiceCharger == "" && (invoicePDF != "" || invoiceXLSX != "") {
		return errors.New("--pdf and --xlsx need a single --charger")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.client.Authenticate(ctx, invoiceUsername, invoicePassword)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	ctx = auth.WithIdentity(ctx, invoiceUsername, token.AccessToken)

	out := cmd.OutOrStdout()
	if invoiceCharger == "" {
		list, err := a.invoices.GenerateForSite(ctx, token.AccessToken, invoiceSite, invoiceMonth, invoiceRegenerate)
		if err != nil {
			return err
		}
		for _, inv := range list {
			if invoiceFreeze {
				if inv, err = a.invoices.Freeze(ctx, inv.ID); err != nil {
					return err
				}
			}
			printInvoiceSummary(out, inv)
		}
		return nil
	}

	inv, err := a.invoices.Generate(ctx, token.AccessToken, invoiceSite, invoiceCharger, invoiceMonth, invoiceRegenerate)
	if err != nil {
		return err
	}
	if invoiceFreeze {
		if inv, err = a.invoices.Freeze(ctx, inv.ID); err != nil {
			return err
		}
	}
	inv, lines, err := a.invoices.Get(ctx, inv.ID)
	if err != nil {
		return err
	}
	printInvoice(out, inv, lines)
	return writeExports(ctx, a, out, inv, lines)
}

func writeExports(ctx context.Context, a *app, out io.Writer, inv *invoicing.InvoiceAggregate, lines []invoicing.InvoiceLine) error {
	exports := []struct {
		path   string
		format string
		build  func(*invoicing.InvoiceAggregate, []invoicing.InvoiceLine) ([]byte, error)
	}{
		{invoicePDF, "pdf", interfaces.BuildInvoicePDF},
		{invoiceXLSX, "xlsx", interfaces.BuildInvoiceXLSX},
	}
	for _, export := range exports {
		if export.path == "" {
			continue
		}
		data, err := export.build(inv, lines)
		if err != nil {
			a.invoices.RecordExport(ctx, inv.ID, export.format, "error")
			return fmt.Errorf("export %s: %w", export.format, err)
		}
		if err := os.WriteFile(export.path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", export.path, err)
		}
		a.invoices.RecordExport(ctx, inv.ID, export.format, "success")
		fmt.Fprintf(out, "wrote %s\n", export.path)
	}
	return nil
}

func printInvoiceSummary(out io.Writer, inv *invoicing.InvoiceAggregate) {
	fmt.Fprintf(out, "%s  %s  %s  v%d  %s kWh  %s %s\n",
		inv.ID, inv.ChargerID, inv.Status, inv.Version,
		interfaces.FormatEnergy(inv.TotalEnergyKWh), interfaces.FormatAmount(inv.TotalAmount), inv.Currency)
}

func printInvoice(out io.Writer, inv *invoicing.InvoiceAggregate, lines []invoicing.InvoiceLine) {
	fmt.Fprintf(out, "Invoice   %s\n", inv.ID)
	fmt.Fprintf(out, "Charger   %s\n", inv.ChargerID)
	fmt.Fprintf(out, "Month     %s\n", inv.Month())
	fmt.Fprintf(out, "Status    %s (version %d)\n", inv.Status, inv.Version)
	fmt.Fprintf(out, "Price     %s %s/kWh\n\n", interfaces.FormatAmount(inv.PricePerKWh), inv.Currency)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Day\tEnergy (kWh)\tAmount\t")
	for _, line := range lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", line.DayLabel(), interfaces.FormatEnergy(line.EnergyKWh), interfaces.FormatAmount(line.Amount))
	}
	fmt.Fprintf(tw, "Total\t%s\t%s\t\n", interfaces.FormatEnergy(inv.TotalEnergyKWh), interfaces.FormatAmount(inv.TotalAmount))
	_ = tw.Flush()
}
