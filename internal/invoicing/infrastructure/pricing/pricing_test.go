package pricing

import (
	"context"
	"testing"
	"time"
)

func TestFixedPriceProvider(t *testing.T) {
	if _, err := NewFixedPriceProvider(-1); err == nil {
		t.Fatalf("expected error for negative price")
	}
	provider, err := NewFixedPriceProvider(1)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	price, err := provider.PriceAt(context.Background(), "CH1", time.Now())
	if err != nil || price != 1 {
		t.Fatalf("expected 1, got %v (%v)", price, err)
	}
}

func TestTariffProvider(t *testing.T) {
	fixed, _ := NewFixedPriceProvider(1)
	provider, err := NewTariffProvider(map[string]float64{"CH2": 2.5}, fixed)
	if err != nil {
		t.Fatalf("new tariff provider: %v", err)
	}
	ctx := context.Background()
	if price, _ := provider.PriceAt(ctx, "CH2", time.Now()); price != 2.5 {
		t.Fatalf("expected tariff 2.5, got %v", price)
	}
	if price, _ := provider.PriceAt(ctx, "CH1", time.Now()); price != 1 {
		t.Fatalf("expected fallback 1, got %v", price)
	}

	if _, err := NewTariffProvider(map[string]float64{"CH3": -1}, fixed); err == nil {
		t.Fatalf("expected error for negative tariff")
	}
	if _, err := NewTariffProvider(nil, nil); err == nil {
		t.Fatalf("expected error for nil fallback")
	}
}
