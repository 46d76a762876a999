package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

func testInstrument() types.Instrument {
	return types.Instrument{
		Symbol:              "EUR_USD",
		PipSize:             decimal.NewFromFloat(0.0001),
		DecimalPlacesFactor: decimal.NewFromInt(100000),
	}
}

func TestFetchWarnsOnInsufficientCandles(t *testing.T) {
	h := hub.New(zap.NewNop(), config.DefaultHubConfig(), nil)
	f := New(zap.NewNop(), h, nil, map[string]types.Instrument{"EUR_USD": testInstrument()})

	view := f.Fetch(context.Background(), "EUR_USD")

	found := false
	for _, w := range view.Warnings {
		if w == "insufficient_candles" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected insufficient_candles warning, got %v", view.Warnings)
	}
	if found2 := contains(view.Warnings, "spread_unavailable"); !found2 {
		t.Fatalf("expected spread_unavailable warning, got %v", view.Warnings)
	}
}

func TestFetchComputesSpreadFromTick(t *testing.T) {
	h := hub.New(zap.NewNop(), config.DefaultHubConfig(), nil)
	h.UpdateTick(types.Tick{
		Instrument: "EUR_USD",
		EventTime:  time.Now(),
		Bid:        decimal.NewFromFloat(1.08341),
		Ask:        decimal.NewFromFloat(1.08350),
	})

	f := New(zap.NewNop(), h, nil, map[string]types.Instrument{"EUR_USD": testInstrument()})
	view := f.Fetch(context.Background(), "EUR_USD")

	if !view.HasSpread {
		t.Fatalf("expected spread computed from hub tick")
	}
	got, _ := view.SpreadPips.Float64()
	if got < 0.85 || got > 0.95 {
		t.Fatalf("expected ~0.9 pips spread, got %v", got)
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
