// Package gates implements PreTradeGates: five hard filters evaluated in
// order, none of which short-circuits an earlier failure's recording —
// every gate always runs and every result is produced, per spec §8's
// gate-composition invariant. Grounded in the teacher's RiskManager.
// CheckOrder idiom (internal/execution/risk_manager.go), which likewise
// runs a fixed sequence of checks appending violations without
// short-circuiting.
package gates

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/news"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

// HTFLevelFunc returns the distance in pips from the current price to the
// nearest higher-timeframe support/resistance level. This is computed
// outside this package (it depends on HTF candle data this package does
// not own) and injected as a function so gates stays a pure decision point.
type HTFLevelFunc func(instrument string, price decimal.Decimal) decimal.Decimal

// Gates evaluates the five pre-trade filters.
type Gates struct {
	cfg       config.GatesConfig
	htfLevel  HTFLevelFunc
	newsGater *news.Gater
}

// New constructs a Gates evaluator.
func New(cfg config.GatesConfig, htfLevel HTFLevelFunc, newsGater *news.Gater) *Gates {
	return &Gates{cfg: cfg, htfLevel: htfLevel, newsGater: newsGater}
}

// Result is the aggregate outcome of all five gates for one cycle.
type Result struct {
	Gates    []types.GateResult
	AllPassed bool
}

// FirstFailure returns the reason string of the first failing gate, or
// "" if all passed — used to build the cycle's rejection detail.
func (r Result) FirstFailure() string {
	for _, g := range r.Gates {
		if !g.Passed {
			return g.Reason
		}
	}
	return ""
}

// Evaluate runs all five gates for an instrument given the current
// market view and a set of 1-minute candles (at least 29 needed for the
// slow ATR window; fewer candles degrade gracefully by failing the
// volatility gate rather than panicking).
func (g *Gates) Evaluate(inst types.Instrument, view types.MarketView, now time.Time) Result {
	var results []types.GateResult

	results = append(results, g.spreadGate(inst, view))
	results = append(results, g.volatilityGate(inst, view.Candles))
	results = append(results, g.sessionGate(inst, now))
	results = append(results, g.htfDistanceGate(inst, view))
	results = append(results, g.newsGate(inst, now))

	all := true
	for _, r := range results {
		if !r.Passed {
			all = false
		}
	}
	return Result{Gates: results, AllPassed: all}
}

func (g *Gates) spreadGate(inst types.Instrument, view types.MarketView) types.GateResult {
	if !view.HasSpread {
		return types.GateResult{Name: "spread", Passed: false, Reason: "spread_unavailable", Metric: decimal.Zero}
	}
	pips := view.SpreadPips
	passed := pips.LessThanOrEqual(g.cfg.MaxSpreadPips)
	reason := "ok"
	if !passed {
		reason = "spread_too_wide"
	}
	return types.GateResult{Name: "spread", Passed: passed, Reason: reason, Metric: pips}
}

// ATR computes a simple-average true range over the last `period` candles.
func ATR(candles []types.Candle, period int) decimal.Decimal {
	if len(candles) < period+1 {
		return decimal.Zero
	}
	start := len(candles) - period
	sum := decimal.Zero
	for i := start; i < len(candles); i++ {
		tr := candles[i].TrueRange(candles[i-1].Close)
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

func (g *Gates) volatilityGate(inst types.Instrument, candles []types.Candle) types.GateResult {
	fast := ATR(candles, 7)
	slow := ATR(candles, 28)
	if slow.IsZero() {
		return types.GateResult{Name: "volatility", Passed: false, Reason: "insufficient_data", Metric: decimal.Zero}
	}
	ratio := fast.Div(slow)
	fastPips := inst.ToPips(fast)
	passed := ratio.GreaterThanOrEqual(g.cfg.ATRRatioMin) && fastPips.GreaterThanOrEqual(g.cfg.MinATRPips)
	reason := "ok"
	if !passed {
		reason = "volatility_regime_failed"
	}
	return types.GateResult{Name: "volatility", Passed: passed, Reason: reason, Metric: ratio}
}

func (g *Gates) sessionGate(inst types.Instrument, now time.Time) types.GateResult {
	if len(inst.Sessions) == 0 {
		return types.GateResult{Name: "session", Passed: true, Reason: "ok", Metric: decimal.Zero}
	}
	tod := time.Duration(now.UTC().Hour())*time.Hour +
		time.Duration(now.UTC().Minute())*time.Minute
	for _, s := range inst.Sessions {
		if tod >= s.Start && tod <= s.End {
			return types.GateResult{Name: "session", Passed: true, Reason: "ok", Metric: decimal.Zero}
		}
	}
	return types.GateResult{Name: "session", Passed: false, Reason: "outside_session_window", Metric: decimal.Zero}
}

func (g *Gates) htfDistanceGate(inst types.Instrument, view types.MarketView) types.GateResult {
	if g.htfLevel == nil || !view.HasTick {
		return types.GateResult{Name: "htf_distance", Passed: true, Reason: "ok", Metric: decimal.Zero}
	}
	mid := view.Bid.Add(view.Ask).Div(decimal.NewFromInt(2))
	distancePips := g.htfLevel(inst.Symbol, mid).Abs()
	passed := distancePips.GreaterThanOrEqual(g.cfg.HTFDistanceMin)
	reason := "ok"
	if !passed {
		reason = "too_close_to_htf_level"
	}
	return types.GateResult{Name: "htf_distance", Passed: passed, Reason: reason, Metric: distancePips}
}

func (g *Gates) newsGate(inst types.Instrument, now time.Time) types.GateResult {
	if g.newsGater == nil {
		return types.GateResult{Name: "news", Passed: true, Reason: "ok", Metric: decimal.Zero}
	}
	if w, gated := g.newsGater.IsGated(inst.Symbol, now); gated {
		return types.GateResult{Name: "news", Passed: false, Reason: "news_blackout:" + w.Reason, Metric: decimal.Zero}
	}
	return types.GateResult{Name: "news", Passed: true, Reason: "ok", Metric: decimal.Zero}
}

// SpreadFromRaw implements the fallback conversion used when only a raw
// scaled-ticks spread integer is available (spec §4.G / §8 scenario 3),
// with a sanity-warn above the configured threshold.
func SpreadFromRaw(inst types.Instrument, raw decimal.Decimal, cfg config.GatesConfig) (pips decimal.Decimal, warn bool) {
	pips = inst.PipsFromRawSpread(raw)
	warn = pips.GreaterThan(cfg.SpreadSanityWarn)
	return pips, warn
}
