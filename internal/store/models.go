package store

import "time"

// InstrumentRow is the persisted identity row for an instrument.
type InstrumentRow struct {
	Symbol              string `gorm:"primaryKey"`
	BaseCurrency        string
	QuoteCurrency       string
	PipSize             string
	DecimalPlacesFactor string
	FuturesSymbol       string
}

func (InstrumentRow) TableName() string { return "instruments" }

// SpotTickRow is a persisted tick.
type SpotTickRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Instrument string `gorm:"index:idx_spot_ticks_inst_time,priority:1"`
	EventTime  time.Time `gorm:"index:idx_spot_ticks_inst_time,priority:2,sort:desc"`
	Bid        string
	Ask        string
}

func (SpotTickRow) TableName() string { return "spot_ticks" }

// CandleRow is a persisted OHLCV bar, unique per (instrument, timeframe, open_time).
type CandleRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Instrument string `gorm:"uniqueIndex:idx_candles_key,priority:1"`
	Timeframe  string `gorm:"uniqueIndex:idx_candles_key,priority:2"`
	OpenTime   time.Time `gorm:"uniqueIndex:idx_candles_key,priority:3"`
	O, H, L, C string
	V          string
	Finalized  bool
}

func (CandleRow) TableName() string { return "candles" }

// OrderFlowEventRow is a raw persisted order-flow event.
type OrderFlowEventRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	FuturesSymbol string `gorm:"index:idx_of_events,priority:1"`
	EventTime     time.Time `gorm:"index:idx_of_events,priority:2,sort:desc"`
	Price         string
	Size          string
	IsBuyAggressor bool
}

func (OrderFlowEventRow) TableName() string { return "order_flow_events" }

// OrderFlowTradeRow is a raw persisted trade print.
type OrderFlowTradeRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	FuturesSymbol string `gorm:"index:idx_of_trades,priority:1"`
	EventTime     time.Time `gorm:"index:idx_of_trades,priority:2,sort:desc"`
	Price         string
	Size          string
}

func (OrderFlowTradeRow) TableName() string { return "order_flow_trades" }

// OrderFlowSnapshotRow is a computed order-flow metrics snapshot.
type OrderFlowSnapshotRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Instrument  string `gorm:"index:idx_of_snap,priority:1"`
	ComputeTime time.Time `gorm:"index:idx_of_snap,priority:2,sort:desc"`
	OFI60s      string
	VolumeDelta string
	BuyVolume   string
	SellVolume  string
	VWAP        string
	SweepFlag   bool
	VPIN        string
}

func (OrderFlowSnapshotRow) TableName() string { return "order_flow_snapshots" }

// TASnapshotRow is a persisted TA indicator consensus snapshot.
type TASnapshotRow struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Instrument   string `gorm:"index:idx_ta_snap,priority:1"`
	ComputeTime  time.Time `gorm:"index:idx_ta_snap,priority:2,sort:desc"`
	BuyCount     int
	SellCount    int
	NeutralCount int
	Consensus    string
	Confidence   string
}

func (TASnapshotRow) TableName() string { return "ta_snapshots" }

// EconomicEventRow is a persisted scheduled news event.
type EconomicEventRow struct {
	EventID       string `gorm:"primaryKey"`
	ScheduledTime time.Time `gorm:"index"`
	Country       string
	Currency      string
	Importance    string
	EventName     string
}

func (EconomicEventRow) TableName() string { return "economic_events" }

// GatingStateRow is a persisted gating-window transition.
type GatingStateRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Instrument    string `gorm:"index:idx_gating,priority:1"`
	State         string
	WindowStart   time.Time
	WindowEnd     time.Time
	Reason        string
	LinkedEventID string
	RecordedAt    time.Time `gorm:"index:idx_gating,priority:2,sort:desc"`
}

func (GatingStateRow) TableName() string { return "gating_states" }

// SignalRow is a persisted decision-engine signal; its agent trace is
// stored as AgentDecisionRow rows sharing the same CycleID.
type SignalRow struct {
	CycleID      string `gorm:"primaryKey"`
	Instrument   string `gorm:"index"`
	GeneratedAt  time.Time
	Direction    string
	EntryPrice   string
	TP           string
	SL           string
	Confidence   string
	Pattern      string
	PatternScore string
	Tier         string
	SizeLots     string
	Reason       string
}

func (SignalRow) TableName() string { return "signals" }

// AgentDecisionRow is a persisted agent output within a signal's trace.
type AgentDecisionRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	CycleID    string `gorm:"index"`
	AgentName  string
	Summary    string
	Confidence string
	Approved   bool
	Reasoning  string
}

func (AgentDecisionRow) TableName() string { return "agent_decisions" }

// ClosedTradeRow is a persisted closed trade.
type ClosedTradeRow struct {
	TradeID    string `gorm:"primaryKey"`
	Instrument string `gorm:"index"`
	Direction  string
	Size       string
	EntryTime  time.Time
	EntryPrice string
	ExitTime   time.Time
	ExitPrice  string
	PnLPips    string
	PnLCash    string
	ExitReason string
}

func (ClosedTradeRow) TableName() string { return "closed_trades" }

// RejectedCycleRow is a persisted DecisionEngine cycle that did not
// produce a signal, kept for audit and shadow-candidate review.
type RejectedCycleRow struct {
	CycleID     string `gorm:"primaryKey"`
	Instrument  string `gorm:"index"`
	GeneratedAt time.Time
	Reason      string
	Detail      string
}

func (RejectedCycleRow) TableName() string { return "rejected_cycles" }
