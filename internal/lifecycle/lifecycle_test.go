package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/news"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

func testInstrument() types.Instrument {
	return types.Instrument{
		Symbol:              "EUR_USD",
		PipSize:             decimal.NewFromFloat(0.0001),
		DecimalPlacesFactor: decimal.NewFromInt(100000),
	}
}

type fakeTicks struct {
	tick types.Tick
	ok   bool
}

func (f *fakeTicks) GetLatestTick(instrument string) (types.Tick, bool) {
	return f.tick, f.ok
}

func baseSignal(inst types.Instrument) types.Signal {
	return types.Signal{
		Instrument: inst.Symbol,
		CycleID:    "c1",
		Direction:  types.DirectionLong,
		EntryPrice: decimal.NewFromFloat(1.0850),
		TP:         decimal.NewFromFloat(1.0870),
		SL:         decimal.NewFromFloat(1.0840),
		SizeLots:   decimal.NewFromFloat(0.1),
		Tier:       types.TierAutoApprove,
		Reason:     "ok",
	}
}

// TestOpenRecordsActiveTradeAndEnforcesDuplicateInstrument verifies the
// no-duplicate-open-per-instrument pre-open check.
func TestOpenRecordsActiveTradeAndEnforcesDuplicateInstrument(t *testing.T) {
	logger := zap.NewNop()
	inst := testInstrument()
	cfg := config.DefaultLifecycleConfig()
	instruments := map[string]types.Instrument{inst.Symbol: inst}

	lc := New(logger, cfg, instruments, nil, &fakeTicks{}, nil, nil, nil)

	sig := baseSignal(inst)
	trade, err := lc.Open(context.Background(), sig)
	if err != nil {
		t.Fatalf("expected first open to succeed, got %v", err)
	}
	if trade.Instrument != inst.Symbol {
		t.Fatalf("expected trade instrument %s, got %s", inst.Symbol, trade.Instrument)
	}
	if lc.OpenCount() != 1 {
		t.Fatalf("expected 1 open trade, got %d", lc.OpenCount())
	}

	if _, err := lc.Open(context.Background(), sig); err == nil {
		t.Fatalf("expected second open on same instrument to fail")
	}
}

// TestOpenRejectsWhenNewsGated verifies the news-gate pre-open check
// blocks a signal for an instrument currently inside a blackout window.
func TestOpenRejectsWhenNewsGated(t *testing.T) {
	logger := zap.NewNop()
	inst := testInstrument()
	cfg := config.DefaultLifecycleConfig()
	instruments := map[string]types.Instrument{inst.Symbol: inst}

	gater := news.New(logger, config.DefaultNewsConfig())
	now := time.Now().UTC()
	gater.LoadEvents([]types.EconomicEvent{
		{EventID: "nfp1", EventName: "NFP", Currency: "USD", Importance: types.ImportanceHigh, ScheduledTime: now},
	}, map[string][]string{"USD": {inst.Symbol}})
	gater.Transition(now)

	lc := New(logger, cfg, instruments, nil, &fakeTicks{}, gater, nil, nil)

	_, err := lc.Open(context.Background(), baseSignal(inst))
	if err == nil {
		t.Fatalf("expected open to fail while instrument is news-gated")
	}
}

// TestMonitorClosesOnTakeProfitHit exercises the monitor loop's TP exit
// condition directly via evaluateExit (the ticker itself is not awaited
// in-test).
func TestMonitorClosesOnTakeProfitHit(t *testing.T) {
	logger := zap.NewNop()
	inst := testInstrument()
	cfg := config.DefaultLifecycleConfig()
	instruments := map[string]types.Instrument{inst.Symbol: inst}

	lc := New(logger, cfg, instruments, nil, &fakeTicks{}, nil, nil, nil)

	trade := types.ActiveTrade{
		TradeID:     "t1",
		Instrument:  inst.Symbol,
		Direction:   types.DirectionLong,
		EntryTime:   time.Now().UTC(),
		EntryPrice:  decimal.NewFromFloat(1.0850),
		TP:          decimal.NewFromFloat(1.0870),
		SL:          decimal.NewFromFloat(1.0840),
		DurationCap: cfg.DurationCap,
	}

	tick := types.Tick{Instrument: inst.Symbol, Bid: decimal.NewFromFloat(1.0871), Ask: decimal.NewFromFloat(1.0872)}
	reason, shouldClose := lc.evaluateExit(trade, tick, time.Now().UTC())
	if !shouldClose {
		t.Fatalf("expected TP hit to trigger a close")
	}
	if reason != types.CloseReasonTPHit {
		t.Fatalf("expected TP_HIT reason, got %v", reason)
	}
}

// TestMonitorClosesOnDurationCap verifies a trade open longer than its
// DurationCap closes even with price inside the TP/SL band.
func TestMonitorClosesOnDurationCap(t *testing.T) {
	logger := zap.NewNop()
	inst := testInstrument()
	cfg := config.DefaultLifecycleConfig()
	cfg.DurationCap = time.Minute
	instruments := map[string]types.Instrument{inst.Symbol: inst}

	lc := New(logger, cfg, instruments, nil, &fakeTicks{}, nil, nil, nil)

	trade := types.ActiveTrade{
		TradeID:     "t1",
		Instrument:  inst.Symbol,
		Direction:   types.DirectionLong,
		EntryTime:   time.Now().UTC().Add(-2 * time.Minute),
		EntryPrice:  decimal.NewFromFloat(1.0850),
		TP:          decimal.NewFromFloat(1.0900),
		SL:          decimal.NewFromFloat(1.0800),
		DurationCap: cfg.DurationCap,
	}
	tick := types.Tick{Instrument: inst.Symbol, Bid: decimal.NewFromFloat(1.0855), Ask: decimal.NewFromFloat(1.0856)}

	reason, shouldClose := lc.evaluateExit(trade, tick, time.Now().UTC())
	if !shouldClose || reason != types.CloseReasonMaxDuration {
		t.Fatalf("expected MAX_DURATION close, got reason=%v shouldClose=%v", reason, shouldClose)
	}
}
