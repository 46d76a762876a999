package patterns

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testInstrument() types.Instrument {
	return types.Instrument{Symbol: "EUR_USD", PipSize: d(0.0001), DecimalPlacesFactor: d(100000)}
}

func flatCandles(n int, base float64, step time.Duration, start time.Time) []types.Candle {
	out := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = types.Candle{
			Instrument: "EUR_USD",
			Timeframe:  "1m",
			OpenTime:   start.Add(time.Duration(i) * step),
			Open:       d(base),
			High:       d(base + 0.0003),
			Low:        d(base - 0.0003),
			Close:      d(base),
			Volume:     d(100),
			Finalized:  true,
		}
	}
	return out
}

func TestDetectReturnsNoneOnInsufficientData(t *testing.T) {
	result := Detect(testInstrument(), flatCandles(5, 1.0850, time.Minute, time.Unix(0, 0).UTC()))
	if result.Detected {
		t.Fatalf("expected no pattern detected with too few candles, got %+v", result)
	}
}

// buildORBCandles assembles a 60-bar baseline (tight range, alternating
// volume so the breakout bar has a nonzero volume z-score), a 10-bar
// opening range, a breakout bar, and a 3-bar retest that touches the OR
// boundary and holds, matching detectORB's exact window layout and the
// numeric bounds in §4.H.
func buildORBCandles(start time.Time) []types.Candle {
	candles := make([]types.Candle, 0, 74)
	for i := 0; i < 60; i++ {
		vol := 90.0
		if i%2 == 0 {
			vol = 110.0
		}
		candles = append(candles, types.Candle{
			Instrument: "EUR_USD", Timeframe: "1m",
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     d(1.0850), High: d(1.08502), Low: d(1.08498), Close: d(1.0850),
			Volume: d(vol), Finalized: true,
		})
	}

	orStart := start.Add(60 * time.Minute)
	for i := 0; i < 10; i++ {
		candles = append(candles, types.Candle{
			Instrument: "EUR_USD", Timeframe: "1m",
			OpenTime: orStart.Add(time.Duration(i) * time.Minute),
			Open:     d(1.0850), High: d(1.0854), Low: d(1.0846), Close: d(1.0850),
			Volume: d(100), Finalized: true,
		})
	}
	rangeHigh := 1.0854

	breakoutTime := orStart.Add(10 * time.Minute)
	candles = append(candles, types.Candle{
		Instrument: "EUR_USD", Timeframe: "1m", OpenTime: breakoutTime,
		Open: d(1.0850), High: d(1.0858), Low: d(1.0850), Close: d(1.0858),
		Volume: d(150), Finalized: true,
	})

	for i := 0; i < 3; i++ {
		candles = append(candles, types.Candle{
			Instrument: "EUR_USD", Timeframe: "1m",
			OpenTime: breakoutTime.Add(time.Duration(i+1) * time.Minute),
			Open:     d(1.0855), High: d(1.0856), Low: d(rangeHigh + 0.00005), Close: d(1.0855),
			Volume: d(100), Finalized: true,
		})
	}
	return candles
}

func TestDetectORBBreakout(t *testing.T) {
	candles := buildORBCandles(time.Unix(0, 0).UTC())
	result := Detect(testInstrument(), candles)
	if !result.Detected {
		t.Fatalf("expected an ORB pattern to be detected")
	}
	if result.Pattern != "orb" {
		t.Fatalf("expected the ORB detector to win, got %q", result.Pattern)
	}
	if result.Score.LessThanOrEqual(decimal.Zero) || result.Score.GreaterThan(decimal.NewFromInt(100)) {
		t.Fatalf("expected score in (0,100], got %s", result.Score)
	}
}

func TestDetectORBFailsWithoutRetest(t *testing.T) {
	candles := buildORBCandles(time.Unix(0, 0).UTC())
	// Push the retest bars' lows far below the OR boundary so none qualifies.
	for i := len(candles) - 3; i < len(candles); i++ {
		candles[i].Low = d(1.0840)
		candles[i].Close = d(1.0841)
	}
	result := Detect(testInstrument(), candles)
	if result.Detected && result.Pattern == "orb" {
		t.Fatalf("expected no ORB detection when the retest never touches the OR boundary")
	}
}

// buildSFPCandles assembles a confirmed pivot high followed (after enough
// bars to clear the pivot's wing) by a sweep bar that pierces it and a
// reclaim bar that closes back below it.
func buildSFPCandles(start time.Time) []types.Candle {
	candles := flatCandles(15, 1.0850, time.Minute, start)

	pivotIdx := len(candles)
	candles = append(candles, types.Candle{
		Instrument: "EUR_USD", Timeframe: "1m", OpenTime: start.Add(time.Duration(pivotIdx) * time.Minute),
		Open: d(1.0850), High: d(1.0870), Low: d(1.0848), Close: d(1.0855),
		Volume: d(100), Finalized: true,
	})

	candles = append(candles, flatCandles(6, 1.0855, time.Minute, start.Add(time.Duration(pivotIdx+1)*time.Minute))...)

	sweepTime := start.Add(time.Duration(len(candles)) * time.Minute)
	candles = append(candles, types.Candle{
		Instrument: "EUR_USD", Timeframe: "1m", OpenTime: sweepTime,
		Open: d(1.0856), High: d(1.0880), Low: d(1.0854), Close: d(1.0860),
		Volume: d(150), Finalized: true,
	})

	candles = append(candles, types.Candle{
		Instrument: "EUR_USD", Timeframe: "1m", OpenTime: sweepTime.Add(time.Minute),
		Open: d(1.0860), High: d(1.0862), Low: d(1.0855), Close: d(1.0858),
		Volume: d(120), Finalized: true,
	})
	return candles
}

func TestDetectSFPSweepAndReclaim(t *testing.T) {
	candles := buildSFPCandles(time.Unix(0, 0).UTC())
	result := Detect(testInstrument(), candles)
	if !result.Detected || result.Pattern != "sfp" {
		t.Fatalf("expected an SFP pattern to be detected, got %+v", result)
	}
}

// buildImpulsePullbackCandles assembles an ATR baseline, a 3-bar upward
// impulse with large true range, and a 3-bar pullback retracing ~29% with
// a lower-wick rejection candle at the terminus.
func buildImpulsePullbackCandles(start time.Time) []types.Candle {
	candles := flatCandles(15, 1.0850, time.Minute, start)

	impulseStart := start.Add(15 * time.Minute)
	impulseCandles := []types.Candle{
		{Open: d(1.0850), High: d(1.0862), Low: d(1.0849), Close: d(1.0860)},
		{Open: d(1.0860), High: d(1.0874), Low: d(1.0859), Close: d(1.0872)},
		{Open: d(1.0872), High: d(1.0886), Low: d(1.0871), Close: d(1.0884)},
	}
	for i, c := range impulseCandles {
		c.Instrument, c.Timeframe, c.Finalized, c.Volume = "EUR_USD", "1m", true, d(100)
		c.OpenTime = impulseStart.Add(time.Duration(i) * time.Minute)
		candles = append(candles, c)
	}

	pullbackStart := impulseStart.Add(3 * time.Minute)
	pullback := []types.Candle{
		{Open: d(1.0884), High: d(1.0885), Low: d(1.0878), Close: d(1.0879)},
		{Open: d(1.0879), High: d(1.0880), Low: d(1.0875), Close: d(1.0876)},
		{Open: d(1.0875), High: d(1.0876), Low: d(1.0865), Close: d(1.0874)}, // rejection: long lower wick
	}
	for i, c := range pullback {
		c.Instrument, c.Timeframe, c.Finalized, c.Volume = "EUR_USD", "1m", true, d(100)
		c.OpenTime = pullbackStart.Add(time.Duration(i) * time.Minute)
		candles = append(candles, c)
	}
	return candles
}

func TestDetectImpulsePullback(t *testing.T) {
	candles := buildImpulsePullbackCandles(time.Unix(0, 0).UTC())
	result := Detect(testInstrument(), candles)
	if !result.Detected || result.Pattern != "impulse_pullback" {
		t.Fatalf("expected an impulse-pullback pattern to be detected, got %+v", result)
	}
}

func TestDetectImpulsePullbackRejectsOverRetrace(t *testing.T) {
	candles := buildImpulsePullbackCandles(time.Unix(0, 0).UTC())
	last := len(candles) - 1
	// Retrace well past 38% of the impulse range.
	candles[last].Close = d(1.0862)
	candles[last].Low = d(1.0860)
	result := detectImpulsePullback(testInstrument(), candles)
	if result.Detected {
		t.Fatalf("expected no impulse-pullback detection once the retrace exceeds 38%%")
	}
}
