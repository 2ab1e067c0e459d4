package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PriceProvider resolves the price per kWh for a charger at a point in time.
type PriceProvider interface {
	PriceAt(ctx context.Context, chargerID string, at time.Time) (float64, error)
}

// TariffProvider applies per-charger prices and falls back to another provider.
type TariffProvider struct {
	tariffs  map[string]float64
	fallback PriceProvider
}

// NewTariffProvider constructs a provider from a charger id to price map.
func NewTariffProvider(tariffs map[string]float64, fallback PriceProvider) (*TariffProvider, error) {
	if fallback == nil {
		return nil, errors.New("tariff provider: nil fallback")
	}
	copied := make(map[string]float64, len(tariffs))
	for chargerID, price := range tariffs {
		if price < 0 {
			return nil, fmt.Errorf("tariff provider: negative price for charger %s", chargerID)
		}
		copied[chargerID] = price
	}
	return &TariffProvider{tariffs: copied, fallback: fallback}, nil
}

// PriceAt returns the charger tariff, or the fallback price.
func (p *TariffProvider) PriceAt(ctx context.Context, chargerID string, at time.Time) (float64, error) {
	if p == nil {
		return 0, errors.New("tariff provider: nil provider")
	}
	if price, ok := p.tariffs[chargerID]; ok {
		return price, nil
	}
	return p.fallback.PriceAt(ctx, chargerID, at)
}
