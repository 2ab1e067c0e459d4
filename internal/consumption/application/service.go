package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"easee-invoicing/internal/auth"
	consumption "easee-invoicing/internal/consumption/domain"
	"easee-invoicing/internal/observability/metrics"
)

// Source fetches raw hourly consumption for a charger month.
type Source interface {
	HourlyConsumption(ctx context.Context, accessToken, chargerID string, year int, month time.Month) (json.RawMessage, error)
}

// Cache stores raw payloads of closed months per signed-in owner.
type Cache interface {
	Get(ctx context.Context, owner, chargerID string, period consumption.Period) (json.RawMessage, bool, error)
	Put(ctx context.Context, owner, chargerID string, period consumption.Period, payload json.RawMessage, fetchedAt time.Time) error
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service loads and normalizes monthly consumption.
type Service struct {
	source Source
	cache  Cache
	clock  Clock
	logger *zap.Logger
}

// Option configures the service.
type Option func(*Service)

// WithCache enables caching of closed months.
func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a consumption service.
func NewService(source Source, opts ...Option) (*Service, error) {
	if source == nil {
		return nil, errors.New("consumption service: nil source")
	}
	s := &Service{source: source, clock: systemClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Monthly returns normalized consumption of one charger for one month.
// Closed months are served from the cache of the owner in ctx when present.
func (s *Service) Monthly(ctx context.Context, accessToken, chargerID string, period consumption.Period) (consumption.Summary, error) {
	return s.monthly(ctx, accessToken, chargerID, period, true)
}

// Refresh is Monthly without the cache read. A non-empty answer replaces the cached payload.
func (s *Service) Refresh(ctx context.Context, accessToken, chargerID string, period consumption.Period) (consumption.Summary, error) {
	return s.monthly(ctx, accessToken, chargerID, period, false)
}

func (s *Service) monthly(ctx context.Context, accessToken, chargerID string, period consumption.Period, readCache bool) (consumption.Summary, error) {
	if chargerID == "" {
		return consumption.Summary{}, consumption.ErrEmptyChargerID
	}
	if _, err := consumption.NewPeriod(period.Year, int(period.Month)); err != nil {
		return consumption.Summary{}, err
	}

	owner := auth.UsernameFromContext(ctx)
	cacheable := s.cache != nil && owner != "" && period.Closed(s.clock.Now())
	if cacheable && readCache {
		if summary, ok := s.cached(ctx, owner, chargerID, period); ok {
			metrics.IncConsumptionFetch(metrics.SourceCache)
			return summary, nil
		}
	}

	payload, err := s.source.HourlyConsumption(ctx, accessToken, chargerID, period.Year, period.Month)
	if err != nil {
		return consumption.Summary{}, err
	}
	metrics.IncConsumptionFetch(metrics.SourceUpstream)

	summary, err := consumption.Normalize(payload)
	if err != nil {
		return consumption.Summary{}, err
	}
	// Empty months are never cached so that backfilled data shows up later.
	if cacheable && len(summary.Readings) > 0 {
		if err := s.cache.Put(ctx, owner, chargerID, period, payload, s.clock.Now()); err != nil {
			s.logger.Warn("consumption cache write failed",
				zap.String("charger_id", chargerID),
				zap.String("period", period.String()),
				zap.Error(err))
		}
	}
	return summary, nil
}

func (s *Service) cached(ctx context.Context, owner, chargerID string, period consumption.Period) (consumption.Summary, bool) {
	payload, ok, err := s.cache.Get(ctx, owner, chargerID, period)
	if err != nil {
		s.logger.Warn("consumption cache read failed",
			zap.String("charger_id", chargerID),
			zap.String("period", period.String()),
			zap.Error(err))
		return consumption.Summary{}, false
	}
	if !ok {
		return consumption.Summary{}, false
	}
	summary, err := consumption.Normalize(payload)
	if err != nil || len(summary.Readings) == 0 {
		return consumption.Summary{}, false
	}
	return summary, true
}
