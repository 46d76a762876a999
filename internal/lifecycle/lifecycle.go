// Package lifecycle implements TradeLifecycle: the creation path (pre-open
// limit checks + broker submission) and a 30s monitor loop that closes
// trades on TP/SL/duration/news triggers, with circuit breakers for
// consecutive losses and daily drawdown. Grounded in the teacher's
// internal/execution/risk_manager.go (consecutiveLosses/dailyPnL/
// isDisabled state, mutex-guarded) generalized from a generic risk gate
// into the FX-specific open/monitor/close state machine spec §4.J names.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/drivers"
	"github.com/atlas-desktop/fx-scalper/internal/events"
	"github.com/atlas-desktop/fx-scalper/internal/metrics"
	"github.com/atlas-desktop/fx-scalper/internal/news"
	"github.com/atlas-desktop/fx-scalper/internal/store"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

// TickSource supplies the latest tick for an instrument, satisfied by
// internal/hub.Hub.
type TickSource interface {
	GetLatestTick(instrument string) (types.Tick, bool)
}

// Lifecycle owns the set of ActiveTrades and enforces open-limit and
// circuit-breaker rules around them.
type Lifecycle struct {
	logger      *zap.Logger
	cfg         config.LifecycleConfig
	instruments map[string]types.Instrument
	broker      drivers.Broker
	ticks       TickSource
	gater       *news.Gater
	store       *store.Store
	metrics     *metrics.Registry
	bus         *events.Bus

	mu                sync.Mutex
	open              map[string]types.ActiveTrade // keyed by instrument
	dealRefs          map[string]string             // tradeID -> broker dealRef
	dailyTradeCount   int
	dailyPnLPips      decimal.Decimal
	consecutiveLosses int
	cooldownUntil     time.Time
	dailyResetAt      time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Lifecycle. store, m and gater may be nil.
func New(logger *zap.Logger, cfg config.LifecycleConfig, instruments map[string]types.Instrument,
	broker drivers.Broker, ticks TickSource, gater *news.Gater, s *store.Store, m *metrics.Registry) *Lifecycle {
	return &Lifecycle{
		logger:       logger,
		cfg:          cfg,
		instruments:  instruments,
		broker:       broker,
		ticks:        ticks,
		gater:        gater,
		store:        s,
		metrics:      m,
		open:         make(map[string]types.ActiveTrade),
		dealRefs:     make(map[string]string),
		dailyResetAt: time.Now().UTC(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the 30s monitor loop.
func (l *Lifecycle) Start(ctx context.Context) {
	go l.monitorLoop(ctx)
}

// SetBus attaches an event bus that open/close transitions are published
// to. Optional: without one, the lifecycle behaves identically.
func (l *Lifecycle) SetBus(b *events.Bus) {
	l.bus = b
}

// Stop halts the monitor loop.
func (l *Lifecycle) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

// Open enforces the five pre-open checks from spec §4.J and, if all
// pass, submits the order through the broker driver and records the
// ActiveTrade. The trade ID is generated here and threaded through the
// broker call so that a retried submission is idempotent.
func (l *Lifecycle) Open(ctx context.Context, sig types.Signal) (types.ActiveTrade, error) {
	l.mu.Lock()
	l.maybeResetDaily()

	if reason, blocked := l.circuitBreakerReasonLocked(); blocked {
		l.mu.Unlock()
		return types.ActiveTrade{}, fmt.Errorf("lifecycle: circuit breaker active: %s", reason)
	}
	if len(l.open) >= l.cfg.MaxOpenPositions {
		l.mu.Unlock()
		return types.ActiveTrade{}, fmt.Errorf("lifecycle: max open positions reached (%d)", l.cfg.MaxOpenPositions)
	}
	if l.dailyTradeCount >= l.cfg.MaxDailyTrades {
		l.mu.Unlock()
		return types.ActiveTrade{}, fmt.Errorf("lifecycle: max daily trades reached (%d)", l.cfg.MaxDailyTrades)
	}
	if _, exists := l.open[sig.Instrument]; exists {
		l.mu.Unlock()
		return types.ActiveTrade{}, fmt.Errorf("lifecycle: instrument %s already has an open trade", sig.Instrument)
	}
	l.mu.Unlock()

	if l.gater != nil {
		if _, gated := l.gater.IsGated(sig.Instrument, time.Now()); gated {
			return types.ActiveTrade{}, fmt.Errorf("lifecycle: instrument %s is news-gated", sig.Instrument)
		}
	}

	tradeID := uuid.NewString()

	inst := l.instruments[sig.Instrument]
	slDistancePips := inst.ToPips(sig.EntryPrice.Sub(sig.SL).Abs())
	tpDistancePips := inst.ToPips(sig.TP.Sub(sig.EntryPrice).Abs())

	var dealRef string
	if l.broker != nil {
		if _, err := l.broker.AccountSnapshot(ctx); err != nil {
			return types.ActiveTrade{}, fmt.Errorf("lifecycle: account snapshot check failed: %w", err)
		}
		result, err := l.broker.PlaceMarketOrder(ctx, tradeID, sig.Instrument, sig.Direction, sig.SizeLots, slDistancePips, tpDistancePips)
		if err != nil {
			return types.ActiveTrade{}, fmt.Errorf("lifecycle: broker order submission failed: %w", err)
		}
		if result.Rejected {
			return types.ActiveTrade{}, fmt.Errorf("lifecycle: broker rejected order: %s", result.Message)
		}
		if result.AuthInvalid {
			return types.ActiveTrade{}, fmt.Errorf("lifecycle: broker auth invalid: %s", result.Message)
		}
		dealRef = result.DealRef
	}

	trade := types.ActiveTrade{
		TradeID:     tradeID,
		Instrument:  sig.Instrument,
		Direction:   sig.Direction,
		Size:        sig.SizeLots,
		EntryTime:   time.Now().UTC(),
		EntryPrice:  sig.EntryPrice,
		TP:          sig.TP,
		SL:          sig.SL,
		DurationCap: l.cfg.DurationCap,
	}

	l.mu.Lock()
	l.open[sig.Instrument] = trade
	if dealRef != "" {
		l.dealRefs[trade.TradeID] = dealRef
	}
	l.dailyTradeCount++
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.LifecycleOpenTrades.Set(float64(len(l.open)))
	}
	if l.bus != nil {
		l.bus.Publish(events.NewTradeOpenedEvent(trade))
	}
	l.logger.Info("trade opened", zap.String("trade_id", tradeID), zap.String("instrument", sig.Instrument),
		zap.String("direction", string(sig.Direction)), zap.String("deal_ref", dealRef))

	return trade, nil
}

func (l *Lifecycle) monitorLoop(ctx context.Context) {
	defer close(l.doneCh)
	interval := l.cfg.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.checkOpenTrades()
		}
	}
}

func (l *Lifecycle) checkOpenTrades() {
	l.mu.Lock()
	trades := make([]types.ActiveTrade, 0, len(l.open))
	for _, t := range l.open {
		trades = append(trades, t)
	}
	l.mu.Unlock()

	now := time.Now().UTC()
	for _, trade := range trades {
		tick, ok := l.ticks.GetLatestTick(trade.Instrument)
		if !ok {
			continue
		}

		reason, shouldClose := l.evaluateExit(trade, tick, now)
		if !shouldClose {
			continue
		}
		l.close(trade, tick, reason, now)
	}
}

// evaluateExit implements the monitor loop's five exit conditions.
func (l *Lifecycle) evaluateExit(trade types.ActiveTrade, tick types.Tick, now time.Time) (types.CloseReason, bool) {
	if trade.Direction == types.DirectionLong {
		if tick.Bid.GreaterThanOrEqual(trade.TP) {
			return types.CloseReasonTPHit, true
		}
		if tick.Bid.LessThanOrEqual(trade.SL) {
			return types.CloseReasonSLHit, true
		}
	} else {
		if tick.Ask.LessThanOrEqual(trade.TP) {
			return types.CloseReasonTPHit, true
		}
		if tick.Ask.GreaterThanOrEqual(trade.SL) {
			return types.CloseReasonSLHit, true
		}
	}

	if now.Sub(trade.EntryTime) >= trade.DurationCap {
		return types.CloseReasonMaxDuration, true
	}

	if l.gater != nil {
		if w, gated := l.gater.IsGated(trade.Instrument, now); gated && !now.Before(w.CloseAt()) {
			return types.CloseReasonNewsGate, true
		}
	}

	return "", false
}

func (l *Lifecycle) close(trade types.ActiveTrade, tick types.Tick, reason types.CloseReason, now time.Time) {
	var exitPrice decimal.Decimal
	if trade.Direction == types.DirectionLong {
		exitPrice = tick.Bid
	} else {
		exitPrice = tick.Ask
	}

	if l.broker != nil {
		l.mu.Lock()
		dealRef := l.dealRefs[trade.TradeID]
		l.mu.Unlock()
		if dealRef != "" {
			if err := l.broker.ClosePosition(context.Background(), dealRef); err != nil {
				l.logger.Error("broker close failed", zap.String("trade_id", trade.TradeID), zap.Error(err))
			}
		}
	}

	var priceDelta decimal.Decimal
	if trade.Direction == types.DirectionLong {
		priceDelta = exitPrice.Sub(trade.EntryPrice)
	} else {
		priceDelta = trade.EntryPrice.Sub(exitPrice)
	}
	pnlPips := l.instruments[trade.Instrument].ToPips(priceDelta)

	closed := types.ClosedTrade{
		TradeID:    trade.TradeID,
		Instrument: trade.Instrument,
		Direction:  trade.Direction,
		Size:       trade.Size,
		EntryTime:  trade.EntryTime,
		EntryPrice: trade.EntryPrice,
		ExitTime:   now,
		ExitPrice:  exitPrice,
		PnLPips:    pnlPips,
		PnLCash:    priceDelta.Mul(trade.Size),
		ExitReason: reason,
	}

	l.mu.Lock()
	delete(l.open, trade.Instrument)
	delete(l.dealRefs, trade.TradeID)
	l.dailyPnLPips = l.dailyPnLPips.Add(pnlPips)
	if pnlPips.IsNegative() {
		l.consecutiveLosses++
		if l.consecutiveLosses >= l.cfg.MaxConsecutiveLosses {
			l.cooldownUntil = now.Add(l.cfg.ConsecutiveLossCooldown)
			l.logger.Warn("consecutive loss circuit breaker tripped", zap.Int("losses", l.consecutiveLosses))
		}
	} else {
		l.consecutiveLosses = 0
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.LifecycleOpenTrades.Set(float64(len(l.open)))
		pnlFloat, _ := pnlPips.Float64()
		l.metrics.LifecycleRealizedPnL.Add(pnlFloat)
	}
	if l.store != nil {
		l.store.AppendClosedTrade(closed)
	}
	if l.bus != nil {
		l.bus.Publish(events.NewTradeClosedEvent(closed))
	}
	l.logger.Info("trade closed", zap.String("trade_id", trade.TradeID), zap.String("reason", string(reason)),
		zap.Stringer("pnl_pips", pnlPips))
}

// circuitBreakerReasonLocked must be called with l.mu held.
func (l *Lifecycle) circuitBreakerReasonLocked() (string, bool) {
	now := time.Now().UTC()
	if now.Before(l.cooldownUntil) {
		return "consecutive_loss_cooldown", true
	}
	// MaxDailyLossPct is evaluated against equity in production; absent a
	// live account snapshot here, a negative daily PnL beyond the pip
	// threshold derived from MaxDailyLossPct acts as the local proxy.
	if l.dailyPnLPips.IsNegative() && l.dailyPnLPips.Abs().GreaterThanOrEqual(l.cfg.MaxDailyLossPct.Mul(decimal.NewFromInt(1000))) {
		return "max_daily_loss", true
	}
	return "", false
}

func (l *Lifecycle) maybeResetDaily() {
	now := time.Now().UTC()
	if now.Sub(l.dailyResetAt) < 24*time.Hour {
		return
	}
	l.dailyResetAt = now
	l.dailyTradeCount = 0
	l.dailyPnLPips = decimal.Zero
}

// OpenCount reports the current number of open trades, for status/metrics.
func (l *Lifecycle) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open)
}
