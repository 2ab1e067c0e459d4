package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easee-invoicing/internal/auth"
	consumption "easee-invoicing/internal/consumption/domain"
	invoicing "easee-invoicing/internal/invoicing/domain"
	"easee-invoicing/internal/invoicing/infrastructure/memory"
	"easee-invoicing/internal/invoicing/infrastructure/pricing"
)

type fakeReader struct {
	mu       sync.Mutex
	payloads map[string]string
	err      error
	calls    int
}

func (f *fakeReader) Monthly(_ context.Context, _ string, chargerID string, _ consumption.Period) (consumption.Summary, error) {
	f.mu.Lock()
	f.calls++
	payload, ok := f.payloads[chargerID]
	f.mu.Unlock()
	if f.err != nil {
		return consumption.Summary{}, f.err
	}
	if !ok {
		payload = `[]`
	}
	return consumption.Normalize(json.RawMessage(payload))
}

type fakeLister struct {
	raw string
}

func (f fakeLister) Chargers(_ context.Context, _ string, _ string) (json.RawMessage, error) {
	return json.RawMessage(f.raw), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []InvoiceEvent
}

func (p *recordingPublisher) PublishInvoiceEvent(_ context.Context, event InvoiceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

const januaryPayload = `[
	{"timestamp":"2024-01-01T00:00:00Z","consumption":5000},
	{"timestamp":"2024-01-01T01:00:00Z","consumption":3000},
	{"timestamp":"2024-01-02T10:00:00Z","consumption":2500}
]`

func newTestService(t *testing.T, reader *fakeReader, price float64, opts ...Option) (*InvoiceService, *memory.InvoiceRepository) {
	t.Helper()
	repo := memory.NewInvoiceRepository()
	prices, err := pricing.NewFixedPriceProvider(price)
	require.NoError(t, err)
	opts = append([]Option{WithClock(fixedClock{now: time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)})}, opts...)
	svc, err := NewInvoiceService(repo, reader, prices, opts...)
	require.NoError(t, err)
	return svc, repo
}

func userContext() context.Context {
	return auth.WithIdentity(context.Background(), "user@example.com", "easee-token")
}

func TestQuote_OneKWhIsOneUnit(t *testing.T) {
	reader := &fakeReader{payloads: map[string]string{"CH1": `[
		{"timestamp":"2024-01-01T00:00:00Z","consumption":1234},
		{"timestamp":"2024-01-01T01:00:00Z","consumption":5678}
	]`}}
	svc, _ := newTestService(t, reader, 1.0)

	report, err := svc.Quote(context.Background(), "token", "CH1", consumption.Period{Year: 2024, Month: time.January})
	require.NoError(t, err)
	assert.Equal(t, 6.91, report.TotalKWh)
	assert.Equal(t, 6.91, report.TotalPrice)
	assert.Equal(t, report.TotalKWh, report.TotalPrice)
	require.Len(t, report.HourlyData, 2)
	assert.Equal(t, "2024-01-01T00:00:00Z", report.HourlyData[0].Timestamp)
	assert.InDelta(t, 1.234, report.HourlyData[0].Consumption, 1e-9)
	assert.Equal(t, "NOK", report.Currency)
}

func TestQuote_PropagatesReaderError(t *testing.T) {
	svc, _ := newTestService(t, &fakeReader{err: consumption.ErrNoData}, 1.0)
	_, err := svc.Quote(context.Background(), "token", "CH1", consumption.Period{Year: 2024, Month: time.January})
	require.ErrorIs(t, err, consumption.ErrNoData)
}

func TestGenerate_BuildsDailyLines(t *testing.T) {
	reader := &fakeReader{payloads: map[string]string{"CH1": januaryPayload}}
	publisher := &recordingPublisher{}
	svc, repo := newTestService(t, reader, 1.0, WithPublisher(publisher))
	ctx := userContext()

	inv, err := svc.Generate(ctx, "token", "SITE1", "CH1", "2024-01", false)
	require.NoError(t, err)
	assert.Equal(t, invoicing.InvoiceStatusDraft, inv.Status)
	assert.Equal(t, 1, inv.Version)
	assert.Equal(t, "user@example.com", inv.Owner)
	assert.Equal(t, "SITE1", inv.SiteID)
	assert.Equal(t, 10.5, inv.TotalEnergyKWh)
	assert.Equal(t, 10.5, inv.TotalAmount)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), inv.InvoiceMonth)

	lines, err := repo.ListLines(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-01-01", lines[0].DayLabel())
	assert.Equal(t, 8.0, lines[0].Amount)
	assert.Equal(t, 2.5, lines[1].Amount)
	assert.Equal(t, []string{EventInvoiceGenerated}, publisher.types())
}

func TestGenerate_ReturnsExistingUnlessRegenerate(t *testing.T) {
	reader := &fakeReader{payloads: map[string]string{"CH1": januaryPayload}}
	svc, _ := newTestService(t, reader, 1.0)
	ctx := userContext()

	first, err := svc.Generate(ctx, "token", "", "CH1", "2024-01", false)
	require.NoError(t, err)
	again, err := svc.Generate(ctx, "token", "", "CH1", "2024-01", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, reader.calls)

	regenerated, err := svc.Generate(ctx, "token", "", "CH1", "2024-01", true)
	require.NoError(t, err)
	assert.Equal(t, 2, regenerated.Version)
	assert.NotEqual(t, first.ID, regenerated.ID)

	list, err := svc.List(ctx, "CH1", "2024-01")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Version)
	assert.Equal(t, invoicing.InvoiceStatusVoided, list[0].Status)
	assert.Equal(t, "superseded by "+regenerated.ID, list[0].VoidReason)
	assert.Equal(t, 2, list[1].Version)
	assert.Equal(t, invoicing.InvoiceStatusDraft, list[1].Status)

	again, err = svc.Generate(ctx, "token", "", "CH1", "2024-01", false)
	require.NoError(t, err)
	assert.Equal(t, regenerated.ID, again.ID)
}

func TestGenerate_RegenerateKeepsFrozenVersion(t *testing.T) {
	reader := &fakeReader{payloads: map[string]string{"CH1": januaryPayload}}
	publisher := &recordingPublisher{}
	svc, _ := newTestService(t, reader, 1.0, WithPublisher(publisher))
	ctx := userContext()

	first, err := svc.Generate(ctx, "token", "", "CH1", "2024-01", false)
	require.NoError(t, err)
	_, err = svc.Freeze(ctx, first.ID)
	require.NoError(t, err)

	_, err = svc.Generate(ctx, "token", "", "CH1", "2024-01", true)
	require.NoError(t, err)

	frozen, _, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.InvoiceStatusFrozen, frozen.Status)
	assert.Equal(t, []string{EventInvoiceGenerated, EventInvoiceFrozen, EventInvoiceGenerated}, publisher.types())
}

type refreshingReader struct {
	fakeReader
	refreshed int
}

func (r *refreshingReader) Refresh(ctx context.Context, token, chargerID string, period consumption.Period) (consumption.Summary, error) {
	r.mu.Lock()
	r.refreshed++
	r.mu.Unlock()
	return r.fakeReader.Monthly(ctx, token, chargerID, period)
}

func TestGenerate_RegenerateRefreshesConsumption(t *testing.T) {
	reader := &refreshingReader{fakeReader: fakeReader{payloads: map[string]string{"CH1": januaryPayload}}}
	repo := memory.NewInvoiceRepository()
	prices, err := pricing.NewFixedPriceProvider(1.0)
	require.NoError(t, err)
	svc, err := NewInvoiceService(repo, reader, prices)
	require.NoError(t, err)
	ctx := userContext()

	_, err = svc.Generate(ctx, "token", "", "CH1", "2024-01", false)
	require.NoError(t, err)
	assert.Zero(t, reader.refreshed)

	_, err = svc.Generate(ctx, "token", "", "CH1", "2024-01", true)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.refreshed)
}

func TestGenerate_DeterministicID(t *testing.T) {
	month := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := buildInvoiceID("user@example.com", "CH1", month, 1)
	b := buildInvoiceID("user@example.com", "CH1", month, 1)
	c := buildInvoiceID("other@example.com", "CH1", month, 1)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, len("inv-")+16)
}

func TestGenerate_Validation(t *testing.T) {
	svc, _ := newTestService(t, &fakeReader{}, 1.0)

	_, err := svc.Generate(context.Background(), "token", "", "CH1", "2024-01", false)
	require.ErrorIs(t, err, invoicing.ErrOwnerRequired)
	_, err = svc.Generate(userContext(), "token", "", "", "2024-01", false)
	require.ErrorIs(t, err, invoicing.ErrEmptyChargerID)
	_, err = svc.Generate(userContext(), "token", "", "CH1", "January", false)
	require.ErrorIs(t, err, invoicing.ErrInvalidMonth)
}

func TestGenerate_TariffRate(t *testing.T) {
	reader := &fakeReader{payloads: map[string]string{"CH2": januaryPayload}}
	repo := memory.NewInvoiceRepository()
	fixed, _ := pricing.NewFixedPriceProvider(1.0)
	tariffs, err := pricing.NewTariffProvider(map[string]float64{"CH2": 2.0}, fixed)
	require.NoError(t, err)
	svc, err := NewInvoiceService(repo, reader, tariffs)
	require.NoError(t, err)

	inv, err := svc.Generate(userContext(), "token", "", "CH2", "2024-01", false)
	require.NoError(t, err)
	assert.Equal(t, 2.0, inv.PricePerKWh)
	assert.Equal(t, 21.0, inv.TotalAmount)
}

func TestFreezeAndVoid(t *testing.T) {
	reader := &fakeReader{payloads: map[string]string{"CH1": januaryPayload}}
	publisher := &recordingPublisher{}
	svc, _ := newTestService(t, reader, 1.0, WithPublisher(publisher))
	ctx := userContext()

	inv, err := svc.Generate(ctx, "token", "", "CH1", "2024-01", false)
	require.NoError(t, err)

	frozen, err := svc.Freeze(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.InvoiceStatusFrozen, frozen.Status)
	assert.Len(t, frozen.SnapshotHash, 64)

	again, err := svc.Freeze(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, frozen.SnapshotHash, again.SnapshotHash)

	voided, err := svc.Void(ctx, inv.ID, "wrong meter")
	require.NoError(t, err)
	assert.Equal(t, invoicing.InvoiceStatusVoided, voided.Status)
	assert.Equal(t, "wrong meter", voided.VoidReason)

	_, err = svc.Freeze(ctx, inv.ID)
	require.ErrorIs(t, err, invoicing.ErrInvoiceVoided)

	assert.Equal(t, []string{EventInvoiceGenerated, EventInvoiceFrozen, EventInvoiceVoided}, publisher.types())
}

func TestOwnerScoping(t *testing.T) {
	reader := &fakeReader{payloads: map[string]string{"CH1": januaryPayload}}
	svc, _ := newTestService(t, reader, 1.0)

	inv, err := svc.Generate(userContext(), "token", "", "CH1", "2024-01", false)
	require.NoError(t, err)

	other := auth.WithIdentity(context.Background(), "other@example.com", "other-token")
	_, _, err = svc.Get(other, inv.ID)
	require.ErrorIs(t, err, invoicing.ErrOwnerMismatch)
	_, err = svc.Freeze(other, inv.ID)
	require.ErrorIs(t, err, invoicing.ErrOwnerMismatch)
	_, _, err = svc.Get(userContext(), "inv-missing")
	require.ErrorIs(t, err, invoicing.ErrInvoiceNotFound)
}

func TestGenerateForSite(t *testing.T) {
	reader := &fakeReader{payloads: map[string]string{
		"CH1": januaryPayload,
		"CH2": `[{"timestamp":"2024-01-05T00:00:00Z","kwh":4}]`,
	}}
	lister := fakeLister{raw: `[{"id":"CH1","name":"Garage"},{"id":"CH2","name":"Driveway"},{"name":"no id"}]`}
	svc, _ := newTestService(t, reader, 1.0, WithChargerLister(lister), WithSiteConcurrency(2))

	invoices, err := svc.GenerateForSite(userContext(), "token", "SITE1", "2024-01", false)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "CH1", invoices[0].ChargerID)
	assert.Equal(t, "CH2", invoices[1].ChargerID)
	assert.Equal(t, 4.0, invoices[1].TotalAmount)
	assert.Equal(t, "SITE1", invoices[1].SiteID)
}

func TestGenerateForSite_StopsOnError(t *testing.T) {
	reader := &fakeReader{err: errors.New("Status 500: boom")}
	lister := fakeLister{raw: `[{"id":"CH1"},{"id":"CH2"}]`}
	svc, _ := newTestService(t, reader, 1.0, WithChargerLister(lister))

	_, err := svc.GenerateForSite(userContext(), "token", "SITE1", "2024-01", false)
	require.EqualError(t, err, "Status 500: boom")

	_, err = svc.GenerateForSite(userContext(), "token", "", "2024-01", false)
	require.ErrorIs(t, err, invoicing.ErrEmptySiteID)
}

func TestRecordExport_UsesRecorder(t *testing.T) {
	reader := &fakeReader{payloads: map[string]string{"CH1": januaryPayload}}
	svc, repo := newTestService(t, reader, 1.0)
	ctx := userContext()

	inv, err := svc.Generate(ctx, "token", "", "CH1", "2024-01", false)
	require.NoError(t, err)
	svc.RecordExport(ctx, inv.ID, "pdf", "success")

	exports := repo.Exports()
	require.Len(t, exports, 1)
	assert.Equal(t, "pdf", exports[0].Format)
}
