package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easee-invoicing/internal/auth"
	consumption "easee-invoicing/internal/consumption/domain"
)

type fakeSource struct {
	payload json.RawMessage
	err     error
	calls   int
	// allowedToken, when set, rejects every other token.
	allowedToken string
}

var errUnauthorized = errors.New("Unauthorized")

func (f *fakeSource) HourlyConsumption(_ context.Context, token string, _ string, _ int, _ time.Month) (json.RawMessage, error) {
	f.calls++
	if f.allowedToken != "" && token != f.allowedToken {
		return nil, errUnauthorized
	}
	return f.payload, f.err
}

type memoryCache struct {
	entries map[string]json.RawMessage
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]json.RawMessage{}}
}

func (m *memoryCache) key(owner, chargerID string, period consumption.Period) string {
	return owner + "|" + chargerID + "|" + period.String()
}

func (m *memoryCache) Get(_ context.Context, owner, chargerID string, period consumption.Period) (json.RawMessage, bool, error) {
	payload, ok := m.entries[m.key(owner, chargerID, period)]
	return payload, ok, nil
}

func (m *memoryCache) Put(_ context.Context, owner, chargerID string, period consumption.Period, payload json.RawMessage, _ time.Time) error {
	m.puts++
	m.entries[m.key(owner, chargerID, period)] = payload
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestMonthly_NormalizesUpstream(t *testing.T) {
	source := &fakeSource{payload: json.RawMessage(`[{"timestamp":"2024-01-01T00:00:00Z","consumption":1234},{"timestamp":"2024-01-01T01:00:00Z","consumption":5678}]`)}
	svc, err := NewService(source)
	require.NoError(t, err)

	summary, err := svc.Monthly(context.Background(), "token", "CH1", consumption.Period{Year: 2024, Month: time.January})
	require.NoError(t, err)
	assert.InDelta(t, 6.912, summary.TotalKWh, 1e-9)
}

func TestMonthly_CachesClosedMonths(t *testing.T) {
	source := &fakeSource{payload: json.RawMessage(`[{"consumption":5000}]`)}
	cache := newMemoryCache()
	clock := fixedClock{now: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
	svc, err := NewService(source, WithCache(cache), WithClock(clock))
	require.NoError(t, err)
	ctx := auth.WithIdentity(context.Background(), "owner@example.com", "token")

	closed := consumption.Period{Year: 2024, Month: time.February}
	for i := 0; i < 2; i++ {
		summary, err := svc.Monthly(ctx, "token", "CH1", closed)
		require.NoError(t, err)
		assert.InDelta(t, 5.0, summary.TotalKWh, 1e-9)
	}
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 1, cache.puts)

	open := consumption.Period{Year: 2024, Month: time.March}
	_, err = svc.Monthly(ctx, "token", "CH1", open)
	require.NoError(t, err)
	_, err = svc.Monthly(ctx, "token", "CH1", open)
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls)
	assert.Equal(t, 1, cache.puts)
}

func TestMonthly_CacheIsScopedToOwner(t *testing.T) {
	source := &fakeSource{payload: json.RawMessage(`[{"consumption":5000}]`), allowedToken: "owner-token"}
	cache := newMemoryCache()
	clock := fixedClock{now: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
	svc, err := NewService(source, WithCache(cache), WithClock(clock))
	require.NoError(t, err)
	closed := consumption.Period{Year: 2024, Month: time.January}

	ownerCtx := auth.WithIdentity(context.Background(), "owner@example.com", "owner-token")
	summary, err := svc.Monthly(ownerCtx, "owner-token", "CH1", closed)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, summary.TotalKWh, 1e-9)
	assert.Equal(t, 1, cache.puts)

	strangerCtx := auth.WithIdentity(context.Background(), "stranger@example.com", "stranger-token")
	_, err = svc.Monthly(strangerCtx, "stranger-token", "CH1", closed)
	require.ErrorIs(t, err, errUnauthorized)
	assert.Equal(t, 2, source.calls)
}

func TestMonthly_SkipsCacheWithoutOwner(t *testing.T) {
	source := &fakeSource{payload: json.RawMessage(`[{"consumption":5000}]`)}
	cache := newMemoryCache()
	clock := fixedClock{now: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
	svc, err := NewService(source, WithCache(cache), WithClock(clock))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := svc.Monthly(context.Background(), "token", "CH1", consumption.Period{Year: 2024, Month: time.January})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, source.calls)
	assert.Zero(t, cache.puts)
}

func TestMonthly_DoesNotCacheEmptyMonths(t *testing.T) {
	source := &fakeSource{payload: json.RawMessage(`[]`)}
	cache := newMemoryCache()
	clock := fixedClock{now: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
	svc, err := NewService(source, WithCache(cache), WithClock(clock))
	require.NoError(t, err)
	ctx := auth.WithIdentity(context.Background(), "owner@example.com", "token")
	closed := consumption.Period{Year: 2024, Month: time.January}

	summary, err := svc.Monthly(ctx, "token", "CH1", closed)
	require.NoError(t, err)
	assert.Empty(t, summary.Readings)

	source.payload = json.RawMessage(`null`)
	_, err = svc.Monthly(ctx, "token", "CH1", closed)
	require.ErrorIs(t, err, consumption.ErrNoData)
	assert.Zero(t, cache.puts)

	source.payload = json.RawMessage(`[{"consumption":2000}]`)
	summary, err = svc.Monthly(ctx, "token", "CH1", closed)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, summary.TotalKWh, 1e-9)
	assert.Equal(t, 3, source.calls)
	assert.Equal(t, 1, cache.puts)
}

func TestRefresh_BypassesCacheRead(t *testing.T) {
	source := &fakeSource{payload: json.RawMessage(`[{"consumption":5000}]`)}
	cache := newMemoryCache()
	clock := fixedClock{now: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
	svc, err := NewService(source, WithCache(cache), WithClock(clock))
	require.NoError(t, err)
	ctx := auth.WithIdentity(context.Background(), "owner@example.com", "token")
	closed := consumption.Period{Year: 2024, Month: time.January}

	_, err = svc.Monthly(ctx, "token", "CH1", closed)
	require.NoError(t, err)

	source.payload = json.RawMessage(`[{"consumption":5000},{"consumption":3000}]`)
	summary, err := svc.Refresh(ctx, "token", "CH1", closed)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, summary.TotalKWh, 1e-9)

	summary, err = svc.Monthly(ctx, "token", "CH1", closed)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, summary.TotalKWh, 1e-9)
	assert.Equal(t, 2, source.calls)
	assert.Equal(t, 2, cache.puts)
}

func TestMonthly_PropagatesSourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("Invalid date range")}
	svc, err := NewService(source)
	require.NoError(t, err)

	_, err = svc.Monthly(context.Background(), "token", "CH1", consumption.Period{Year: 2024, Month: time.January})
	require.EqualError(t, err, "Invalid date range")
}

func TestMonthly_ValidatesInput(t *testing.T) {
	svc, err := NewService(&fakeSource{})
	require.NoError(t, err)

	_, err = svc.Monthly(context.Background(), "token", "", consumption.Period{Year: 2024, Month: time.January})
	require.ErrorIs(t, err, consumption.ErrEmptyChargerID)
	_, err = svc.Monthly(context.Background(), "token", "CH1", consumption.Period{Year: 2024, Month: 0})
	require.ErrorIs(t, err, consumption.ErrInvalidPeriod)
}

func TestNewService_NilSource(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
}
