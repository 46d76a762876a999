// Package patterns implements PatternDetectors: three independent scoring
// functions over a 1-minute candle window (opening-range breakout, sweep/
// failed-pattern, impulse-pullback) that each return an ATR-normalized
// score, blended by taking the maximum. Grounded in spec §4.H; the
// ATR-normalization idiom follows internal/gates.ATR, itself grounded in
// the teacher's volatility-gate math.
package patterns

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fx-scalper/internal/gates"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

const atrPeriod = 14

// Opening-range breakout parameters.
const (
	orbRangeBars     = 10 // first N one-minute bars of the opening range
	orbRetestBars    = 3  // bars following the breakout that must retest the OR boundary
	orbVolumeBars    = 60 // trailing bars the breakout-bar volume z-score is computed against
	orbWidthMinATR   = "1.2"
	orbWidthMaxATR   = "4.0"
	orbBreakoutATR   = "0.5"
	orbBreakoutPips  = "0.8"
	orbRetestTolATR  = "0.1" // how close a retest bar must come to the OR boundary
)

// Sweep/failed-pattern parameters.
const (
	sfpPivotLookback = 30 // bars searched for a confirmed pivot, excluding the sweep bar
	sfpPivotWing     = 3  // bars required on each side to confirm a pivot
	sfpReclaimMaxBar = 3  // the sweep must reclaim the pivot within this many subsequent bars
	sfpPierceATR     = "0.3"
	sfpPiercePips    = "0.6"
)

// Impulse-pullback parameters.
const (
	impulseBars        = 3
	pullbackBars        = 3
	impulseTRSumATR     = "1.6"
	impulseSingleBarATR = "1.2"
	pullbackRetraceMin  = "0.15"
	pullbackRetraceMax  = "0.38"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func maxDec(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func minDec(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func clampScore(s decimal.Decimal) decimal.Decimal {
	if s.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if s.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return s
}

// Detect runs all three detectors over the given candle window and
// returns the best-scoring pattern, per the spec's "final_score =
// max(scores)" blending rule. Candles must be ordered oldest-to-newest.
func Detect(inst types.Instrument, candles []types.Candle) types.PatternResult {
	results := []types.PatternResult{
		detectORB(inst, candles),
		detectSFP(inst, candles),
		detectImpulsePullback(inst, candles),
	}

	best := types.PatternResult{Pattern: "none", Detected: false, Score: decimal.Zero}
	for _, r := range results {
		if r.Detected && r.Score.GreaterThan(best.Score) {
			best = r
		}
	}
	return best
}

// detectORB looks for an opening-range breakout: the window's tail is read,
// from oldest to newest, as a 60-bar volatility/volume baseline, a 10-bar
// opening range, a breakout bar, and up to 3 subsequent retest bars. Candle
// windows are not session-anchored here (the hub serves a rolling window,
// not a session-boundary-aware one); the opening range is therefore the
// oldest 10 bars of that tail rather than literally the first 10 bars of
// the trading session — see DESIGN.md.
func detectORB(inst types.Instrument, candles []types.Candle) types.PatternResult {
	required := orbVolumeBars + orbRangeBars + 1 + orbRetestBars
	if len(candles) < required {
		return types.PatternResult{Pattern: "orb", Detected: false}
	}
	n := len(candles)

	volBaseline := candles[n-required : n-orbRangeBars-1-orbRetestBars]
	openingRange := candles[n-orbRangeBars-1-orbRetestBars : n-1-orbRetestBars]
	breakoutBar := candles[n-1-orbRetestBars]
	retestWindow := candles[n-orbRetestBars:]

	atr := gates.ATR(candles[:n-orbRetestBars], atrPeriod)
	if atr.IsZero() {
		return types.PatternResult{Pattern: "orb", Detected: false}
	}

	rangeHigh, rangeLow := openingRange[0].High, openingRange[0].Low
	for _, c := range openingRange[1:] {
		rangeHigh = maxDec(rangeHigh, c.High)
		rangeLow = minDec(rangeLow, c.Low)
	}
	orWidth := rangeHigh.Sub(rangeLow)
	if orWidth.LessThan(atr.Mul(dec(orbWidthMinATR))) || orWidth.GreaterThan(atr.Mul(dec(orbWidthMaxATR))) {
		return types.PatternResult{Pattern: "orb", Detected: false}
	}

	requiredBreakout := maxDec(atr.Mul(dec(orbBreakoutATR)), inst.FromPips(dec(orbBreakoutPips)))
	var breakoutDist, direction decimal.Decimal
	switch {
	case breakoutBar.Close.GreaterThan(rangeHigh):
		breakoutDist = breakoutBar.Close.Sub(rangeHigh)
		direction = decimal.NewFromInt(1)
	case breakoutBar.Close.LessThan(rangeLow):
		breakoutDist = rangeLow.Sub(breakoutBar.Close)
		direction = decimal.NewFromInt(-1)
	default:
		return types.PatternResult{Pattern: "orb", Detected: false}
	}
	if breakoutDist.LessThan(requiredBreakout) {
		return types.PatternResult{Pattern: "orb", Detected: false}
	}

	tolerance := atr.Mul(dec(orbRetestTolATR))
	retested := false
	for _, c := range retestWindow {
		if direction.IsPositive() {
			if c.Low.LessThanOrEqual(rangeHigh.Add(tolerance)) && c.Close.GreaterThanOrEqual(rangeHigh) {
				retested = true
				break
			}
		} else {
			if c.High.GreaterThanOrEqual(rangeLow.Sub(tolerance)) && c.Close.LessThanOrEqual(rangeLow) {
				retested = true
				break
			}
		}
	}
	if !retested {
		return types.PatternResult{Pattern: "orb", Detected: false}
	}

	volZ := volumeZScore(breakoutBar.Volume, volBaseline)
	if volZ.LessThan(decimal.NewFromInt(1)) {
		return types.PatternResult{Pattern: "orb", Detected: false}
	}

	// Score components: pattern quality (40), structure/location (35),
	// volatility/activity (25), per spec §4.H.
	qualityRatio := minDec(breakoutDist.Div(requiredBreakout), decimal.NewFromInt(2)).Div(decimal.NewFromInt(2))
	quality := qualityRatio.Mul(decimal.NewFromInt(40))

	mid := atr.Mul(dec("2.6")) // midpoint of the [1.2, 4.0]*ATR band
	spread := atr.Mul(dec("1.4"))
	structureRatio := decimal.NewFromInt(1).Sub(minDec(orWidth.Sub(mid).Abs().Div(spread), decimal.NewFromInt(1)))
	structure := structureRatio.Mul(decimal.NewFromInt(35))

	activityRatio := minDec(volZ.Div(decimal.NewFromInt(3)), decimal.NewFromInt(1))
	activity := activityRatio.Mul(decimal.NewFromInt(25))

	score := clampScore(quality.Add(structure).Add(activity))
	return types.PatternResult{
		Pattern:  "orb",
		Detected: true,
		Score:    score,
		Metadata: map[string]decimal.Decimal{
			"range_high":  rangeHigh,
			"range_low":   rangeLow,
			"direction":   direction,
			"volume_z":    volZ,
			"or_width":    orWidth,
		},
	}
}

// volumeZScore computes (value - mean) / stddev over baseline, returning
// zero if the baseline has no variance.
func volumeZScore(value decimal.Decimal, baseline []types.Candle) decimal.Decimal {
	if len(baseline) == 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(len(baseline)))
	sum := decimal.Zero
	for _, c := range baseline {
		sum = sum.Add(c.Volume)
	}
	mean := sum.Div(n)

	variance := decimal.Zero
	for _, c := range baseline {
		diff := c.Volume.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(n)
	stddev := variance.InexactFloat64()
	if stddev <= 0 {
		return decimal.Zero
	}
	stddevDec := decimal.NewFromFloat(sqrt(stddev))
	if stddevDec.IsZero() {
		return decimal.Zero
	}
	return value.Sub(mean).Div(stddevDec)
}

// sqrt avoids importing math just for one call site's clarity; Newton's
// method converges in a handful of iterations for the magnitudes here.
func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// isPivotHigh reports whether candles[idx].High is strictly the highest
// among the pivotWing bars on each side.
func isPivotHigh(candles []types.Candle, idx, wing int) bool {
	if idx-wing < 0 || idx+wing >= len(candles) {
		return false
	}
	for j := idx - wing; j <= idx+wing; j++ {
		if j == idx {
			continue
		}
		if candles[j].High.GreaterThanOrEqual(candles[idx].High) {
			return false
		}
	}
	return true
}

func isPivotLow(candles []types.Candle, idx, wing int) bool {
	if idx-wing < 0 || idx+wing >= len(candles) {
		return false
	}
	for j := idx - wing; j <= idx+wing; j++ {
		if j == idx {
			continue
		}
		if candles[j].Low.LessThanOrEqual(candles[idx].Low) {
			return false
		}
	}
	return true
}

// findRecentPivotHigh scans backward from searchEnd (exclusive) for the
// most recent confirmed pivot high within lookback bars.
func findRecentPivotHigh(candles []types.Candle, searchEnd, lookback, wing int) (decimal.Decimal, bool) {
	start := searchEnd - lookback
	if start < 0 {
		start = 0
	}
	for idx := searchEnd - wing - 1; idx >= start+wing; idx-- {
		if isPivotHigh(candles, idx, wing) {
			return candles[idx].High, true
		}
	}
	return decimal.Zero, false
}

func findRecentPivotLow(candles []types.Candle, searchEnd, lookback, wing int) (decimal.Decimal, bool) {
	start := searchEnd - lookback
	if start < 0 {
		start = 0
	}
	for idx := searchEnd - wing - 1; idx >= start+wing; idx-- {
		if isPivotLow(candles, idx, wing) {
			return candles[idx].Low, true
		}
	}
	return decimal.Zero, false
}

// detectSFP scans, for each possible 1-3 bar reclaim delay, whether the
// bar at that offset pierced a previously-confirmed pivot high/low by
// enough margin and the current (most recent) bar has reclaimed it.
func detectSFP(inst types.Instrument, candles []types.Candle) types.PatternResult {
	n := len(candles)
	atr := gates.ATR(candles, atrPeriod)
	if atr.IsZero() {
		return types.PatternResult{Pattern: "sfp", Detected: false}
	}
	requiredPierce := maxDec(atr.Mul(dec(sfpPierceATR)), inst.FromPips(dec(sfpPiercePips)))

	for offset := 1; offset <= sfpReclaimMaxBar; offset++ {
		sweepIdx := n - 1 - offset
		if sweepIdx-sfpPivotWing < 0 {
			continue
		}
		sweepBar := candles[sweepIdx]
		reclaimBar := candles[n-1]

		if pivot, ok := findRecentPivotHigh(candles, sweepIdx, sfpPivotLookback, sfpPivotWing); ok {
			pierce := sweepBar.High.Sub(pivot)
			if pierce.GreaterThanOrEqual(requiredPierce) && sweepBar.Close.LessThan(pivot) && reclaimBar.Close.LessThan(pivot) {
				return sfpResult(sweepBar, reclaimBar, pivot, pierce, atr, decimal.NewFromInt(-1))
			}
		}
		if pivot, ok := findRecentPivotLow(candles, sweepIdx, sfpPivotLookback, sfpPivotWing); ok {
			pierce := pivot.Sub(sweepBar.Low)
			if pierce.GreaterThanOrEqual(requiredPierce) && sweepBar.Close.GreaterThan(pivot) && reclaimBar.Close.GreaterThan(pivot) {
				return sfpResult(sweepBar, reclaimBar, pivot, pierce, atr, decimal.NewFromInt(1))
			}
		}
	}
	return types.PatternResult{Pattern: "sfp", Detected: false}
}

func sfpResult(sweepBar, reclaimBar types.Candle, pivot, pierce, atr, direction decimal.Decimal) types.PatternResult {
	body := sweepBar.Close.Sub(sweepBar.Open).Abs()
	bodyFloor := atr.Mul(dec("0.05"))
	wickRatio := pierce.Div(maxDec(body, bodyFloor))

	cleanness := minDec(pivot.Sub(reclaimBar.Close).Abs().Div(atr), decimal.NewFromInt(1))
	score := clampScore(minDec(wickRatio, decimal.NewFromInt(2)).Div(decimal.NewFromInt(2)).Mul(decimal.NewFromInt(60)).
		Add(cleanness.Mul(decimal.NewFromInt(40))))

	return types.PatternResult{
		Pattern:  "sfp",
		Detected: true,
		Score:    score,
		Metadata: map[string]decimal.Decimal{
			"pivot":     pivot,
			"pierce":    pierce,
			"direction": direction,
		},
	}
}

// detectImpulsePullback requires a strong directional impulse (by true
// range, not just net close-to-close move), a pullback retracing 15-38%
// of it, and a rejection wick at the pullback's most recent bar.
func detectImpulsePullback(inst types.Instrument, candles []types.Candle) types.PatternResult {
	n := len(candles)
	required := atrPeriod + 1 + impulseBars + pullbackBars
	if n < required {
		return types.PatternResult{Pattern: "impulse_pullback", Detected: false}
	}

	atr := gates.ATR(candles[:n-pullbackBars], atrPeriod)
	if atr.IsZero() {
		return types.PatternResult{Pattern: "impulse_pullback", Detected: false}
	}

	impulse := candles[n-impulseBars-pullbackBars : n-pullbackBars]
	pullback := candles[n-pullbackBars:]
	last := pullback[len(pullback)-1]

	trSum := decimal.Zero
	maxRange := decimal.Zero
	prevClose := candles[n-impulseBars-pullbackBars-1].Close
	for _, c := range impulse {
		tr := c.TrueRange(prevClose)
		trSum = trSum.Add(tr)
		maxRange = maxDec(maxRange, c.High.Sub(c.Low))
		prevClose = c.Close
	}
	impulseDetected := trSum.GreaterThanOrEqual(atr.Mul(dec(impulseTRSumATR))) ||
		maxRange.GreaterThanOrEqual(atr.Mul(dec(impulseSingleBarATR)))
	if !impulseDetected {
		return types.PatternResult{Pattern: "impulse_pullback", Detected: false}
	}

	impulseStart := impulse[0].Open
	impulseEnd := impulse[len(impulse)-1].Close
	move := impulseEnd.Sub(impulseStart)
	if move.IsZero() {
		return types.PatternResult{Pattern: "impulse_pullback", Detected: false}
	}
	absMove := move.Abs()
	direction := decimal.NewFromInt(1)
	if move.IsNegative() {
		direction = decimal.NewFromInt(-1)
	}

	var retrace decimal.Decimal
	if direction.IsPositive() {
		retrace = impulseEnd.Sub(last.Close)
	} else {
		retrace = last.Close.Sub(impulseEnd)
	}
	retracePct := retrace.Div(absMove)
	if retracePct.LessThan(dec(pullbackRetraceMin)) || retracePct.GreaterThan(dec(pullbackRetraceMax)) {
		return types.PatternResult{Pattern: "impulse_pullback", Detected: false}
	}

	body := last.Close.Sub(last.Open).Abs()
	var rejectionWick decimal.Decimal
	if direction.IsPositive() {
		rejectionWick = minDec(last.Open, last.Close).Sub(last.Low)
	} else {
		rejectionWick = last.High.Sub(maxDec(last.Open, last.Close))
	}
	if rejectionWick.LessThanOrEqual(decimal.Zero) || rejectionWick.LessThan(body) {
		return types.PatternResult{Pattern: "impulse_pullback", Detected: false}
	}

	impulseStrength := minDec(absMove.Div(atr).Div(decimal.NewFromInt(3)), decimal.NewFromInt(1))
	idealRetrace := dec("0.265") // midpoint of [0.15, 0.38]
	retraceQuality := decimal.NewFromInt(1).Sub(minDec(retracePct.Sub(idealRetrace).Abs().Div(dec("0.115")), decimal.NewFromInt(1)))
	rejectionStrength := minDec(rejectionWick.Div(maxDec(body, atr.Mul(dec("0.05")))).Div(decimal.NewFromInt(2)), decimal.NewFromInt(1))

	score := clampScore(impulseStrength.Mul(decimal.NewFromInt(40)).
		Add(retraceQuality.Mul(decimal.NewFromInt(30))).
		Add(rejectionStrength.Mul(decimal.NewFromInt(30))))

	return types.PatternResult{
		Pattern:  "impulse_pullback",
		Detected: true,
		Score:    score,
		Metadata: map[string]decimal.Decimal{
			"impulse_move": move,
			"retrace_pct":  retracePct,
			"direction":    direction,
		},
	}
}
