package spot

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

type fakeTickStore struct {
	ticks   []types.Tick
	candles []types.Candle
}

func (f *fakeTickStore) AppendTick(t types.Tick)     { f.ticks = append(f.ticks, t) }
func (f *fakeTickStore) AppendCandle(c types.Candle) { f.candles = append(f.candles, c) }

func tick(instrument string, at time.Time, bid, ask float64) types.Tick {
	return types.Tick{Instrument: instrument, EventTime: at, Bid: decimal.NewFromFloat(bid), Ask: decimal.NewFromFloat(ask)}
}

// TestOnTickAggregatesExactOHLCFromSpecScenario reproduces the exact
// tick sequence from the aggregation worked example: mids
// 1.0850/1.0853/1.0851/1.0852/1.0849 within one minute finalize to
// o=1.0850 h=1.0853 l=1.0849 c=1.0852 v=5.
func TestOnTickAggregatesExactOHLCFromSpecScenario(t *testing.T) {
	logger := zap.NewNop()
	h := hub.New(logger, config.DefaultHubConfig(), nil)
	s := &fakeTickStore{}
	ing := New(logger, config.DefaultIngestConfig(), nil, h, s, nil, []string{"EUR_USD"})

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	mids := []float64{1.0850, 1.0853, 1.0851, 1.0852, 1.0849}
	for i, mid := range mids {
		at := base.Add(time.Duration(i) * 10 * time.Second)
		ing.onTick(tick("EUR_USD", at, mid, mid))
	}

	// trigger finalization by crossing into the next minute
	ing.onTick(tick("EUR_USD", base.Add(time.Minute), 1.0852, 1.0852))

	if len(s.candles) != 1 {
		t.Fatalf("expected exactly 1 finalized candle, got %d", len(s.candles))
	}
	c := s.candles[0]
	if !c.Open.Equal(decimal.NewFromFloat(1.0850)) {
		t.Fatalf("expected open 1.0850, got %s", c.Open)
	}
	if !c.High.Equal(decimal.NewFromFloat(1.0853)) {
		t.Fatalf("expected high 1.0853, got %s", c.High)
	}
	if !c.Low.Equal(decimal.NewFromFloat(1.0849)) {
		t.Fatalf("expected low 1.0849, got %s", c.Low)
	}
	if !c.Close.Equal(decimal.NewFromFloat(1.0852)) {
		t.Fatalf("expected close 1.0852, got %s", c.Close)
	}
	if !c.Volume.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected volume 5, got %s", c.Volume)
	}
	if !c.Finalized {
		t.Fatalf("expected finalized candle")
	}
}

// TestOnTickDropsLateArrival verifies a tick timestamped before the
// current bucket's open time is dropped without mutating the bucket.
func TestOnTickDropsLateArrival(t *testing.T) {
	logger := zap.NewNop()
	h := hub.New(logger, config.DefaultHubConfig(), nil)
	s := &fakeTickStore{}
	ing := New(logger, config.DefaultIngestConfig(), nil, h, s, nil, []string{"EUR_USD"})

	base := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
	ing.onTick(tick("EUR_USD", base, 1.0850, 1.0851))
	ing.onTick(tick("EUR_USD", base.Add(-30*time.Second), 1.0900, 1.0901))

	ing.mu.Lock()
	b := ing.buckets["EUR_USD"]
	ing.mu.Unlock()
	if !b.close.Equal(decimal.NewFromFloat(1.0850).Add(decimal.NewFromFloat(1.0851)).Div(decimal.NewFromInt(2))) {
		t.Fatalf("expected late tick to be dropped without updating close, got %s", b.close)
	}
}
