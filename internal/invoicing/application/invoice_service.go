package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"easee-invoicing/internal/auth"
	consumption "easee-invoicing/internal/consumption/domain"
	"easee-invoicing/internal/easee"
	invoicing "easee-invoicing/internal/invoicing/domain"
	"easee-invoicing/internal/observability/metrics"
)

const defaultSiteConcurrency = 4

// ConsumptionReader loads normalized monthly consumption.
type ConsumptionReader interface {
	Monthly(ctx context.Context, accessToken, chargerID string, period consumption.Period) (consumption.Summary, error)
}

// ConsumptionRefresher is implemented by readers that can skip their cache.
// Regeneration uses it so backfilled upstream data is picked up.
type ConsumptionRefresher interface {
	Refresh(ctx context.Context, accessToken, chargerID string, period consumption.Period) (consumption.Summary, error)
}

// ChargerLister lists the chargers of a site.
type ChargerLister interface {
	Chargers(ctx context.Context, accessToken, siteID string) (json.RawMessage, error)
}

// PriceProvider resolves the price per kWh.
type PriceProvider interface {
	PriceAt(ctx context.Context, chargerID string, at time.Time) (float64, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// HourlyPoint is one reading in a consumption report.
type HourlyPoint struct {
	Timestamp   any     `json:"timestamp"`
	Consumption float64 `json:"consumption"`
}

// ConsumptionReport is an unpersisted priced view of one charger month.
type ConsumptionReport struct {
	Consumption json.RawMessage `json:"consumption"`
	TotalKWh    float64         `json:"total_kwh"`
	TotalPrice  float64         `json:"total_price"`
	HourlyData  []HourlyPoint   `json:"hourly_data"`
	PricePerKWh float64         `json:"price_per_kwh"`
	Currency    string          `json:"currency"`
}

// InvoiceService handles quotes and the invoice lifecycle.
type InvoiceService struct {
	repo            invoicing.Repository
	consumption     ConsumptionReader
	prices          PriceProvider
	chargers        ChargerLister
	publisher       InvoicePublisher
	clock           Clock
	logger          *zap.Logger
	currency        string
	siteConcurrency int
}

// Option configures the service.
type Option func(*InvoiceService)

// WithChargerLister enables site-wide generation.
func WithChargerLister(lister ChargerLister) Option {
	return func(s *InvoiceService) {
		s.chargers = lister
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(publisher InvoicePublisher) Option {
	return func(s *InvoiceService) {
		s.publisher = publisher
	}
}

// WithCurrency sets the invoice currency.
func WithCurrency(currency string) Option {
	return func(s *InvoiceService) {
		if currency != "" {
			s.currency = currency
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *InvoiceService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *InvoiceService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSiteConcurrency bounds concurrent charger generation per site.
func WithSiteConcurrency(n int) Option {
	return func(s *InvoiceService) {
		if n > 0 {
			s.siteConcurrency = n
		}
	}
}

// NewInvoiceService constructs a service.
func NewInvoiceService(repo invoicing.Repository, reader ConsumptionReader, prices PriceProvider, opts ...Option) (*InvoiceService, error) {
	if repo == nil {
		return nil, errors.New("invoice service: nil repo")
	}
	if reader == nil {
		return nil, errors.New("invoice service: nil consumption reader")
	}
	if prices == nil {
		return nil, errors.New("invoice service: nil price provider")
	}
	s := &InvoiceService{
		repo:            repo,
		consumption:     reader,
		prices:          prices,
		clock:           SystemClock{},
		logger:          zap.NewNop(),
		currency:        "NOK",
		siteConcurrency: defaultSiteConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Currency returns the invoice currency.
func (s *InvoiceService) Currency() string {
	return s.currency
}

// Quote prices one charger month without persisting anything.
func (s *InvoiceService) Quote(ctx context.Context, accessToken, chargerID string, period consumption.Period) (*ConsumptionReport, error) {
	summary, err := s.consumption.Monthly(ctx, accessToken, chargerID, period)
	if err != nil {
		return nil, err
	}
	price, err := s.prices.PriceAt(ctx, chargerID, period.Start())
	if err != nil {
		return nil, err
	}

	hourly := make([]HourlyPoint, 0, len(summary.Readings))
	for _, reading := range summary.Readings {
		hourly = append(hourly, HourlyPoint{Timestamp: reading.Timestamp, Consumption: reading.KWh})
	}
	return &ConsumptionReport{
		Consumption: summary.Raw,
		TotalKWh:    invoicing.Round2(summary.TotalKWh),
		TotalPrice:  invoicing.Price(summary.TotalKWh, price),
		HourlyData:  hourly,
		PricePerKWh: price,
		Currency:    s.currency,
	}, nil
}

// Generate creates or returns an invoice draft for one charger month.
func (s *InvoiceService) Generate(ctx context.Context, accessToken, siteID, chargerID, month string, regenerate bool) (*invoicing.InvoiceAggregate, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveInvoiceGenerate(result, time.Since(start))
	}()

	inv, err := s.generate(ctx, accessToken, siteID, chargerID, month, regenerate)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return inv, nil
}

func (s *InvoiceService) generate(ctx context.Context, accessToken, siteID, chargerID, month string, regenerate bool) (*invoicing.InvoiceAggregate, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if chargerID == "" {
		return nil, invoicing.ErrEmptyChargerID
	}
	monthStart, err := invoicing.ParseMonth(month)
	if err != nil {
		return nil, err
	}

	if !regenerate {
		existing, err := s.repo.FindLatestActive(ctx, owner, chargerID, monthStart)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	period := consumption.Period{Year: monthStart.Year(), Month: monthStart.Month()}
	summary, err := s.readConsumption(ctx, accessToken, chargerID, period, regenerate)
	if err != nil {
		return nil, err
	}
	monthPrice, err := s.prices.PriceAt(ctx, chargerID, monthStart)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	days := consumption.DailyTotals(summary.Readings)
	lines := make([]invoicing.InvoiceLine, 0, len(days))
	for _, day := range days {
		price := monthPrice
		if !day.DayStart.IsZero() {
			if price, err = s.prices.PriceAt(ctx, chargerID, day.DayStart); err != nil {
				return nil, err
			}
		}
		line, err := invoicing.NewLine(day.DayStart, day.KWh, price, s.currency, now)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	totals := invoicing.SumLines(lines)

	version, err := s.repo.NextVersion(ctx, owner, chargerID, monthStart)
	if err != nil {
		return nil, err
	}
	inv := &invoicing.InvoiceAggregate{
		ID:             buildInvoiceID(owner, chargerID, monthStart, version),
		Owner:          owner,
		SiteID:         siteID,
		ChargerID:      chargerID,
		InvoiceMonth:   monthStart,
		Status:         invoicing.InvoiceStatusDraft,
		Version:        version,
		TotalEnergyKWh: totals.EnergyKWh,
		TotalAmount:    totals.Amount,
		PricePerKWh:    monthPrice,
		Currency:       s.currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i := range lines {
		lines[i].InvoiceID = inv.ID
	}
	if err := s.repo.CreateWithLines(ctx, inv, lines); err != nil {
		return nil, err
	}
	s.logger.Info("invoice generated",
		zap.String("invoice_id", inv.ID),
		zap.String("charger_id", chargerID),
		zap.String("month", inv.Month()),
		zap.Int("version", version),
		zap.Float64("total_energy_kwh", inv.TotalEnergyKWh),
		zap.Float64("total_amount", inv.TotalAmount))
	s.publish(ctx, newInvoiceEvent(EventInvoiceGenerated, inv, now))
	if regenerate {
		if err := s.supersede(ctx, inv, now); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

func (s *InvoiceService) readConsumption(ctx context.Context, accessToken, chargerID string, period consumption.Period, fresh bool) (consumption.Summary, error) {
	if refresher, ok := s.consumption.(ConsumptionRefresher); ok && fresh {
		return refresher.Refresh(ctx, accessToken, chargerID, period)
	}
	return s.consumption.Monthly(ctx, accessToken, chargerID, period)
}

// supersede voids the drafts that replacement replaces. Frozen versions are kept.
func (s *InvoiceService) supersede(ctx context.Context, replacement *invoicing.InvoiceAggregate, now time.Time) error {
	versions, err := s.repo.ListByChargerMonth(ctx, replacement.Owner, replacement.ChargerID, replacement.InvoiceMonth)
	if err != nil {
		return err
	}
	reason := "superseded by " + replacement.ID
	for i := range versions {
		prev := &versions[i]
		if prev.ID == replacement.ID || prev.Status != invoicing.InvoiceStatusDraft {
			continue
		}
		if err := s.repo.MarkVoided(ctx, prev.ID, reason, now); err != nil {
			return err
		}
		prev.Status = invoicing.InvoiceStatusVoided
		prev.VoidReason = reason
		prev.VoidedAt = now
		prev.UpdatedAt = now
		s.logger.Info("invoice superseded", zap.String("invoice_id", prev.ID), zap.String("replacement_id", replacement.ID))
		s.publish(ctx, newInvoiceEvent(EventInvoiceVoided, prev, now))
	}
	return nil
}

// GenerateForSite generates invoices for every charger of a site. Results keep
// the charger order of the site listing.
func (s *InvoiceService) GenerateForSite(ctx context.Context, accessToken, siteID, month string, regenerate bool) ([]*invoicing.InvoiceAggregate, error) {
	if siteID == "" {
		return nil, invoicing.ErrEmptySiteID
	}
	if s.chargers == nil {
		return nil, errors.New("invoice service: charger lister not configured")
	}
	if _, err := ownerFromContext(ctx); err != nil {
		return nil, err
	}
	if _, err := invoicing.ParseMonth(month); err != nil {
		return nil, err
	}

	raw, err := s.chargers.Chargers(ctx, accessToken, siteID)
	if err != nil {
		return nil, err
	}
	chargers, err := easee.DecodeChargers(raw)
	if err != nil {
		return nil, err
	}

	results := make([]*invoicing.InvoiceAggregate, len(chargers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.siteConcurrency)
	for i, charger := range chargers {
		i, charger := i, charger
		g.Go(func() error {
			inv, err := s.Generate(gctx, accessToken, siteID, charger.ID, month, regenerate)
			if err != nil {
				return err
			}
			results[i] = inv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Freeze freezes an invoice and computes its snapshot hash.
func (s *InvoiceService) Freeze(ctx context.Context, id string) (*invoicing.InvoiceAggregate, error) {
	result := metrics.ResultSuccess
	defer func() {
		metrics.IncInvoiceFreeze(result)
	}()

	inv, err := s.load(ctx, id)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if inv.Status == invoicing.InvoiceStatusFrozen {
		return inv, nil
	}
	if inv.Status == invoicing.InvoiceStatusVoided {
		result = metrics.ResultError
		return nil, invoicing.ErrInvoiceVoided
	}

	lines, err := s.repo.ListLines(ctx, id)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	hash, err := computeSnapshotHash(inv, lines)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	now := s.clock.Now().UTC()
	if err := s.repo.MarkFrozen(ctx, id, hash, now); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	inv.Status = invoicing.InvoiceStatusFrozen
	inv.SnapshotHash = hash
	inv.FrozenAt = now
	inv.UpdatedAt = now
	s.publish(ctx, newInvoiceEvent(EventInvoiceFrozen, inv, now))
	return inv, nil
}

// Void voids an invoice.
func (s *InvoiceService) Void(ctx context.Context, id, reason string) (*invoicing.InvoiceAggregate, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == invoicing.InvoiceStatusVoided {
		return inv, nil
	}
	now := s.clock.Now().UTC()
	if err := s.repo.MarkVoided(ctx, id, reason, now); err != nil {
		return nil, err
	}
	inv.Status = invoicing.InvoiceStatusVoided
	inv.VoidReason = reason
	inv.VoidedAt = now
	inv.UpdatedAt = now
	s.publish(ctx, newInvoiceEvent(EventInvoiceVoided, inv, now))
	return inv, nil
}

// Get returns an invoice with lines.
func (s *InvoiceService) Get(ctx context.Context, id string) (*invoicing.InvoiceAggregate, []invoicing.InvoiceLine, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	lines, err := s.repo.ListLines(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return inv, lines, nil
}

// List returns every version for a charger month.
func (s *InvoiceService) List(ctx context.Context, chargerID, month string) ([]invoicing.InvoiceAggregate, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if chargerID == "" {
		return nil, invoicing.ErrEmptyChargerID
	}
	monthStart, err := invoicing.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByChargerMonth(ctx, owner, chargerID, monthStart)
}

// RecordExport stores an export record when the repository keeps export history.
func (s *InvoiceService) RecordExport(ctx context.Context, id, format, status string) {
	recorder, ok := s.repo.(invoicing.ExportRecorder)
	if !ok {
		return
	}
	if err := recorder.RecordExport(ctx, id, format, status); err != nil {
		s.logger.Warn("record export failed", zap.String("invoice_id", id), zap.String("format", format), zap.Error(err))
	}
}

func (s *InvoiceService) load(ctx context.Context, id string) (*invoicing.InvoiceAggregate, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoicing.ErrInvoiceNotFound
	}
	if inv.Owner != owner {
		return nil, invoicing.ErrOwnerMismatch
	}
	return inv, nil
}

func (s *InvoiceService) publish(ctx context.Context, event InvoiceEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishInvoiceEvent(ctx, event); err != nil {
		s.logger.Warn("publish invoice event failed",
			zap.String("type", event.Type),
			zap.String("invoice_id", event.InvoiceID),
			zap.Error(err))
	}
}

func ownerFromContext(ctx context.Context) (string, error) {
	owner := auth.UsernameFromContext(ctx)
	if owner == "" {
		return "", invoicing.ErrOwnerRequired
	}
	return owner, nil
}

func computeSnapshotHash(inv *invoicing.InvoiceAggregate, lines []invoicing.InvoiceLine) (string, error) {
	if inv == nil {
		return "", invoicing.ErrNilAggregate
	}
	sorted := append([]invoicing.InvoiceLine(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DayStart.Before(sorted[j].DayStart)
	})
	payload := struct {
		Invoice *invoicing.InvoiceAggregate `json:"invoice"`
		Lines   []invoicing.InvoiceLine     `json:"lines"`
	}{
		Invoice: inv,
		Lines:   sorted,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func buildInvoiceID(owner, chargerID string, month time.Time, version int) string {
	base := owner + "|" + chargerID + "|" + month.Format("2006-01") + "|" + strconv.Itoa(version)
	hash := sha256.Sum256([]byte(base))
	return "inv-" + hex.EncodeToString(hash[:8])
}
