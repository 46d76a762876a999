package orderflow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fx-scalper/internal/drivers"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestComputeVolumeDeltaAndVWAP(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	events := []drivers.OrderFlowEvent{
		{EventTime: now.Add(-5 * time.Second), Price: d(1.0850), Size: d(10), IsBuyAggressor: true, IsTrade: true},
		{EventTime: now.Add(-4 * time.Second), Price: d(1.0851), Size: d(4), IsBuyAggressor: false, IsTrade: true},
		{EventTime: now.Add(-3 * time.Second), Price: d(1.0852), Size: d(6), IsBuyAggressor: true, IsTrade: true},
	}

	m := Compute("EUR_USD", events, now, 3)

	if !m.BuyVolume.Equal(d(16)) {
		t.Fatalf("expected buy volume 16, got %s", m.BuyVolume)
	}
	if !m.SellVolume.Equal(d(4)) {
		t.Fatalf("expected sell volume 4, got %s", m.SellVolume)
	}
	if !m.VolumeDelta.Equal(d(12)) {
		t.Fatalf("expected volume delta 12, got %s", m.VolumeDelta)
	}
	expectedVWAP := d(1.0850).Mul(d(10)).Add(d(1.0851).Mul(d(4))).Add(d(1.0852).Mul(d(6))).Div(d(20))
	if !m.VWAP.Equal(expectedVWAP) {
		t.Fatalf("expected VWAP %s, got %s", expectedVWAP, m.VWAP)
	}
}

func TestComputeSweepFlagRequiresRecentDeepConsumption(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	events := []drivers.OrderFlowEvent{
		// old sweep, outside the 1s recency window -> should not flag
		{EventTime: now.Add(-10 * time.Second), Price: d(1.0850), Size: d(5), IsBuyAggressor: true, IsTrade: true, LevelsConsumed: 5},
		// recent but shallow -> should not flag
		{EventTime: now.Add(-500 * time.Millisecond), Price: d(1.0850), Size: d(2), IsBuyAggressor: true, IsTrade: true, LevelsConsumed: 1},
	}
	m := Compute("EUR_USD", events, now, 3)
	if m.SweepFlag {
		t.Fatalf("expected no sweep flag")
	}

	events = append(events, drivers.OrderFlowEvent{
		EventTime: now.Add(-200 * time.Millisecond), Price: d(1.0851), Size: d(8), IsBuyAggressor: true, IsTrade: true, LevelsConsumed: 4,
	})
	m = Compute("EUR_USD", events, now, 3)
	if !m.SweepFlag {
		t.Fatalf("expected sweep flag once a recent deep-consuming trade is present")
	}
}

func TestVPINReturnsZeroWithNoTrades(t *testing.T) {
	v := vpin(nil)
	if !v.IsZero() {
		t.Fatalf("expected zero VPIN with no events, got %s", v)
	}
}

func TestVPINReflectsOneSidedFlow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var events []drivers.OrderFlowEvent
	for i := 0; i < 20; i++ {
		events = append(events, drivers.OrderFlowEvent{
			EventTime: now.Add(time.Duration(i) * time.Millisecond), Price: d(1.085), Size: d(1),
			IsBuyAggressor: true, IsTrade: true,
		})
	}
	v := vpin(events)
	if !v.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected VPIN of 1 for entirely one-sided flow, got %s", v)
	}
}
