// Package types holds the core domain entities shared across every
// component of the platform: instruments, ticks, candles, order-flow
// metrics, indicator snapshots, signals and trades. All price, size and
// P&L fields use decimal.Decimal — float64 is never used for money.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is a trade or signal direction.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = "none"
)

// Consensus is the TA aggregator's bucketed verdict.
type Consensus string

const (
	ConsensusBullish Consensus = "bullish"
	ConsensusBearish Consensus = "bearish"
	ConsensusNeutral Consensus = "neutral"
)

// Tier is the decision engine's routing bucket for a cycle.
type Tier string

const (
	TierAutoApprove Tier = "auto_approve"
	TierLLMValidate Tier = "llm_validate"
	TierReject      Tier = "reject"
)

// CloseReason identifies why an ActiveTrade was closed.
type CloseReason string

const (
	CloseReasonTPHit        CloseReason = "TP_HIT"
	CloseReasonSLHit        CloseReason = "SL_HIT"
	CloseReasonMaxDuration  CloseReason = "MAX_DURATION"
	CloseReasonNewsGate     CloseReason = "NEWS_GATE"
	CloseReasonManualClose  CloseReason = "MANUAL_CLOSE"
)

// SessionWindow is a UTC time-of-day trading window, e.g. London 07:00-10:30.
type SessionWindow struct {
	Name  string
	Start time.Duration // offset from UTC midnight
	End   time.Duration
}

// Instrument is the immutable identity of a tradable spot FX pair.
type Instrument struct {
	Symbol               string // canonical id, e.g. "EUR_USD"
	BaseCurrency         string
	QuoteCurrency        string
	PipSize              decimal.Decimal // e.g. 0.0001, or 0.01 for JPY pairs
	DecimalPlacesFactor  decimal.Decimal // scaling factor for raw integer spreads, e.g. 100000
	FuturesSymbol        string          // static mapping used by OrderFlowIngestor
	Sessions             []SessionWindow
}

// ToPips converts a raw price delta into pips for this instrument.
func (i Instrument) ToPips(priceDelta decimal.Decimal) decimal.Decimal {
	if i.PipSize.IsZero() {
		return decimal.Zero
	}
	return priceDelta.Div(i.PipSize)
}

// FromPips converts a pip count back into a raw price delta.
func (i Instrument) FromPips(pips decimal.Decimal) decimal.Decimal {
	return pips.Mul(i.PipSize)
}

// PipsFromRawSpread implements the fallback conversion used when only a
// raw scaled-ticks spread integer is available from the feed (no bid/ask).
func (i Instrument) PipsFromRawSpread(raw decimal.Decimal) decimal.Decimal {
	denom := i.DecimalPlacesFactor.Mul(i.PipSize)
	if denom.IsZero() {
		return decimal.Zero
	}
	return raw.Div(denom)
}

// Tick is a single bid/ask quote update for an instrument.
type Tick struct {
	Instrument string
	EventTime  time.Time
	Bid        decimal.Decimal
	Ask        decimal.Decimal
}

// Mid returns (bid+ask)/2.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// SpreadPips computes the spread in pips given the owning instrument.
func (t Tick) SpreadPips(inst Instrument) decimal.Decimal {
	return inst.ToPips(t.Ask.Sub(t.Bid))
}

// Candle is an OHLCV bar for one (instrument, timeframe, open_time).
type Candle struct {
	Instrument string
	Timeframe  string
	OpenTime   time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	Finalized  bool
}

// Valid reports whether the candle satisfies the OHLC invariants required
// of every persisted candle: open<=high, low<=close<=high, low<=open,
// volume>=0.
func (c Candle) Valid() bool {
	if c.Volume.IsNegative() {
		return false
	}
	if c.Open.GreaterThan(c.High) || c.Low.GreaterThan(c.Close) ||
		c.Close.GreaterThan(c.High) || c.Low.GreaterThan(c.Open) {
		return false
	}
	return true
}

// TrueRange is the standard ATR building block against a previous close.
func (c Candle) TrueRange(prevClose decimal.Decimal) decimal.Decimal {
	hl := c.High.Sub(c.Low)
	hc := c.High.Sub(prevClose).Abs()
	lc := c.Low.Sub(prevClose).Abs()
	tr := hl
	if hc.GreaterThan(tr) {
		tr = hc
	}
	if lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// OrderFlowMetrics is a rolling-window snapshot computed by OrderFlowIngestor.
type OrderFlowMetrics struct {
	Instrument  string
	ComputeTime time.Time
	OFI60s      decimal.Decimal
	VolumeDelta decimal.Decimal
	BuyVolume   decimal.Decimal
	SellVolume  decimal.Decimal
	VWAP        decimal.Decimal
	SweepFlag   bool
	VPIN        decimal.Decimal
}

// TAIndicatorSnapshot is the aggregate technical-indicator consensus.
type TAIndicatorSnapshot struct {
	Instrument    string
	ComputeTime   time.Time
	BuyCount      int
	SellCount     int
	NeutralCount  int
	Consensus     Consensus
	Confidence    decimal.Decimal
}

// MarketView is the ephemeral struct assembled by UnifiedDataFetcher.
// It is never persisted — built fresh on every fetch() call.
type MarketView struct {
	Instrument  string
	Candles     []Candle
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	HasTick     bool
	SpreadPips  decimal.Decimal
	HasSpread   bool
	TA          *TAIndicatorSnapshot
	OrderFlow   *OrderFlowMetrics
	Warnings    []string
}

// Importance is the severity bucket of an EconomicEvent.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "med"
	ImportanceHigh   Importance = "high"
)

// EconomicEvent is a scheduled news release.
type EconomicEvent struct {
	EventID       string
	ScheduledTime time.Time
	Country       string
	Currency      string
	Importance    Importance
	EventName     string
}

// GatingState is the lifecycle state of a GatingWindow.
type GatingState string

const (
	GatingScheduled GatingState = "scheduled"
	GatingActive    GatingState = "active"
	GatingCleared   GatingState = "cleared"
)

// GatingWindow suspends trading for an instrument around a high-impact event.
type GatingWindow struct {
	Instrument    string
	State         GatingState
	WindowStart   time.Time
	WindowEnd     time.Time
	Reason        string
	LinkedEventID string
}

// CloseAt is when open positions in this instrument must be force-closed:
// the window's start, the same moment the window turns active (spec:
// "close_positions_at").
func (g GatingWindow) CloseAt() time.Time {
	return g.WindowStart
}

// AgentOutput is the tagged-variant record of one agent's raw output,
// recorded verbatim in a Signal's AgentTrace for audit.
type AgentOutput struct {
	AgentName  string
	Summary    string
	Confidence decimal.Decimal
	Approved   bool
	Reasoning  string
}

// AgentTrace is the full tagged record of the tiered agent debate for one
// decision cycle (spec §9: dynamic typing replaced by explicit variants).
type AgentTrace struct {
	FastMomentum   *AgentOutput
	Technical      *AgentOutput
	ValidatorJudge *AgentOutput
	AggressiveRisk *AgentOutput
	ConservativeRisk *AgentOutput
	RiskJudge      *AgentOutput
}

// Signal is the outcome of a DecisionEngine cycle that produced a trade
// proposal.
type Signal struct {
	Instrument   string
	CycleID      string
	GeneratedAt  time.Time
	Direction    Direction
	EntryPrice   decimal.Decimal
	TP           decimal.Decimal
	SL           decimal.Decimal
	Confidence   decimal.Decimal
	Pattern      string
	PatternScore decimal.Decimal
	Tier         Tier
	SizeLots     decimal.Decimal
	Trace        AgentTrace
	Reason       string
}

// RejectedCycle is the explicit sum-type sibling of Signal for a cycle
// that did not produce a trade (spec §7: "every cycle emits either a
// Signal or a RejectedCycle record").
type RejectedCycle struct {
	Instrument  string
	CycleID     string
	GeneratedAt time.Time
	Reason      string
	Detail      string
}

// ActiveTrade is a currently-open position, owned exclusively by
// TradeLifecycle. At most one ActiveTrade exists per instrument.
type ActiveTrade struct {
	TradeID     string
	Instrument  string
	Direction   Direction
	Size        decimal.Decimal
	EntryTime   time.Time
	EntryPrice  decimal.Decimal
	TP          decimal.Decimal
	SL          decimal.Decimal
	DurationCap time.Duration
}

// ClosedTrade is the terminal record of an ActiveTrade.
type ClosedTrade struct {
	TradeID    string
	Instrument string
	Direction  Direction
	Size       decimal.Decimal
	EntryTime  time.Time
	EntryPrice decimal.Decimal
	ExitTime   time.Time
	ExitPrice  decimal.Decimal
	PnLPips    decimal.Decimal
	PnLCash    decimal.Decimal
	ExitReason CloseReason
}

// TaskState is the lifecycle state of a supervised long-lived task.
type TaskState string

const (
	TaskStarting TaskState = "starting"
	TaskRunning  TaskState = "running"
	TaskDegraded TaskState = "degraded"
	TaskStopped  TaskState = "stopped"
	TaskFatal    TaskState = "fatal"
)

// TaskStatus is the shape of a long-lived task's structured status. No
// component in this module produces or serves a TaskStatus.
type TaskStatus struct {
	Name          string
	State         TaskState
	LastEventTime time.Time
	ErrorRate     float64
	Backlog       int
}

// GateResult is the outcome of one pre-trade gate check.
type GateResult struct {
	Name    string
	Passed  bool
	Reason  string
	Metric  decimal.Decimal
}

// PatternResult is the outcome of one pattern detector.
type PatternResult struct {
	Pattern  string
	Detected bool
	Score    decimal.Decimal
	Metadata map[string]decimal.Decimal
}
