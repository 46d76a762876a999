package gates

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

func testInstrument() types.Instrument {
	return types.Instrument{
		Symbol:              "EUR_USD",
		PipSize:             decimal.NewFromFloat(0.0001),
		DecimalPlacesFactor: decimal.NewFromInt(100000),
	}
}

// TestSpreadGateNumericExample reproduces the seed scenario: bid=1.08341,
// ask=1.08350 should compute to roughly 0.9 pips and pass a 1.5 pip max.
func TestSpreadGateNumericExample(t *testing.T) {
	cfg := config.DefaultGatesConfig()
	g := New(cfg, nil, nil)

	tick := types.Tick{
		Instrument: "EUR_USD",
		EventTime:  time.Now(),
		Bid:        decimal.NewFromFloat(1.08341),
		Ask:        decimal.NewFromFloat(1.08350),
	}
	inst := testInstrument()
	view := types.MarketView{
		Instrument: "EUR_USD",
		HasSpread:  true,
		SpreadPips: tick.SpreadPips(inst),
	}

	result := g.spreadGate(inst, view)
	if !result.Passed {
		t.Fatalf("expected spread gate to pass, got %+v", result)
	}
	got, _ := result.Metric.Float64()
	if got < 0.85 || got > 0.95 {
		t.Fatalf("expected ~0.9 pips, got %v", got)
	}
}

// TestSpreadGateRawFallbackFails reproduces the raw-scaled-spread fallback:
// a raw value of 60 scaled ticks should convert to 6.0 pips and fail the
// 1.5 pip max.
func TestSpreadGateRawFallbackFails(t *testing.T) {
	cfg := config.DefaultGatesConfig()
	inst := testInstrument()

	pips, warn := SpreadFromRaw(inst, decimal.NewFromInt(60), cfg)
	got, _ := pips.Float64()
	if got < 5.9 || got > 6.1 {
		t.Fatalf("expected 6.0 pips from raw fallback, got %v", got)
	}
	if warn {
		t.Fatalf("6.0 pips should not trip the 50 pip sanity warning")
	}

	g := New(cfg, nil, nil)
	view := types.MarketView{HasSpread: true, SpreadPips: pips}
	result := g.spreadGate(inst, view)
	if result.Passed {
		t.Fatalf("expected spread gate to fail at 6.0 pips")
	}
}

// TestEvaluateRunsAllGatesWithoutShortCircuit asserts that a failing
// spread gate does not prevent the other four gates from also running
// and recording a result — the gate-composition invariant from spec §8.
func TestEvaluateRunsAllGatesWithoutShortCircuit(t *testing.T) {
	cfg := config.DefaultGatesConfig()
	g := New(cfg, nil, nil)
	inst := testInstrument()

	view := types.MarketView{
		Instrument: "EUR_USD",
		HasSpread:  false, // forces spread gate to fail
		Candles:    nil,   // forces volatility gate to fail (insufficient data)
	}

	result := g.Evaluate(inst, view, time.Now())
	if len(result.Gates) != 5 {
		t.Fatalf("expected all 5 gates to run, got %d", len(result.Gates))
	}
	if result.AllPassed {
		t.Fatalf("expected AllPassed=false given failing spread/volatility gates")
	}

	names := map[string]bool{}
	for _, r := range result.Gates {
		names[r.Name] = true
	}
	for _, want := range []string{"spread", "volatility", "session", "htf_distance", "news"} {
		if !names[want] {
			t.Fatalf("expected gate %q to have run, got %v", want, result.Gates)
		}
	}
}

func TestATRInsufficientDataReturnsZero(t *testing.T) {
	if got := ATR(nil, 7); !got.IsZero() {
		t.Fatalf("expected zero ATR with no candles, got %v", got)
	}
}
