// Package spot implements SpotTickIngestor: it subscribes to the broker
// streaming feed and aggregates ticks into 1-minute OHLC candles, one
// bucket per instrument, publishing both raw ticks and finalized candles
// into the hub and the store. Grounded in the teacher's
// internal/data/market_data.go connect/readLoop/reconnectMonitor shape,
// generalized from Binance's WebSocket stream onto the Broker driver
// contract and from tick-level price caching onto minute-bucket
// aggregation.
package spot

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/drivers"
	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/internal/metrics"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

// bucket is the in-progress 1-minute candle being built for an instrument.
type bucket struct {
	openTime time.Time
	open     decimal.Decimal
	high     decimal.Decimal
	low      decimal.Decimal
	close    decimal.Decimal
	volume   decimal.Decimal
}

// Ingestor runs the connect/subscribe/aggregate/reconnect loop for the
// configured instrument set.
type Ingestor struct {
	logger      *zap.Logger
	cfg         config.IngestConfig
	broker      drivers.Broker
	hub         *hub.Hub
	store       tickStore
	metrics     *metrics.Registry
	instruments []string

	mu          sync.Mutex
	buckets     map[string]*bucket
	lastTickAt  map[string]time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// tickStore is the subset of store.Store this ingestor writes through.
type tickStore interface {
	AppendTick(types.Tick)
	AppendCandle(types.Candle)
}

// New constructs a SpotTickIngestor. store may be nil.
func New(logger *zap.Logger, cfg config.IngestConfig, broker drivers.Broker, h *hub.Hub, s tickStore, m *metrics.Registry, instruments []string) *Ingestor {
	return &Ingestor{
		logger:      logger,
		cfg:         cfg,
		broker:      broker,
		hub:         h,
		store:       s,
		metrics:     m,
		instruments: instruments,
		buckets:     make(map[string]*bucket),
		lastTickAt:  make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the connect/readLoop/reconnect supervisor and the gap
// detector.
func (ing *Ingestor) Start(ctx context.Context) {
	go ing.runLoop(ctx)
	go ing.gapDetector(ctx)
}

// Stop halts the ingestor and waits for the run loop to exit.
func (ing *Ingestor) Stop() {
	close(ing.stopCh)
	<-ing.doneCh
}

func (ing *Ingestor) runLoop(ctx context.Context) {
	defer close(ing.doneCh)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ing.stopCh:
			return
		default:
		}

		if err := ing.broker.OpenSession(ctx); err != nil {
			ing.logger.Error("spot ingestor session open failed", zap.Error(err))
			if !ing.sleepBackoff(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		err := ing.broker.SubscribeTicks(ctx, ing.instruments, ing.onTick)
		if err == nil {
			return
		}

		ing.logger.Warn("spot ingestor stream ended, reconnecting", zap.Error(err))
		if ing.metrics != nil {
			ing.metrics.IngestorReconnects.WithLabelValues("spot").Inc()
		}
		if refreshErr := ing.broker.RefreshSessionIfExpired(ctx); refreshErr != nil {
			ing.logger.Error("spot ingestor session refresh failed", zap.Error(refreshErr))
		}
		if !ing.sleepBackoff(ctx, attempt) {
			return
		}
		attempt++
	}
}

// sleepBackoff waits min(initial * 2^attempt, cap) with jitter, returning
// false if the context/stop channel fired during the wait.
func (ing *Ingestor) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := ing.cfg.BackoffInitial * time.Duration(1<<uint(attempt))
	if delay > ing.cfg.BackoffCap || delay <= 0 {
		delay = ing.cfg.BackoffCap
	}
	jitter := time.Duration(float64(delay) * 0.2 * jitterFraction())
	select {
	case <-time.After(delay + jitter):
		return true
	case <-ctx.Done():
		return false
	case <-ing.stopCh:
		return false
	}
}

// jitterFraction returns a pseudo-random value in [-1, 1) without relying
// on math/rand's global seed state, derived from the low digits of the
// current wall-clock time in nanoseconds.
func jitterFraction() float64 {
	ns := time.Now().UnixNano()
	return float64(ns%1000)/500.0 - 1.0
}

// onTick implements the per-instrument aggregation algorithm: late ticks
// are dropped, same-minute ticks update the in-progress bucket, and a
// minute rollover finalizes the old bucket before opening a new one.
func (ing *Ingestor) onTick(t types.Tick) {
	mid := t.Mid()
	minuteStart := t.EventTime.UTC().Truncate(time.Minute)

	if ing.store != nil {
		ing.store.AppendTick(t)
	}
	ing.hub.UpdateTick(t)
	if ing.metrics != nil {
		ing.metrics.IngestorTicksTotal.WithLabelValues(t.Instrument).Inc()
	}

	ing.mu.Lock()
	ing.lastTickAt[t.Instrument] = t.EventTime
	b, exists := ing.buckets[t.Instrument]

	switch {
	case !exists:
		ing.buckets[t.Instrument] = &bucket{openTime: minuteStart, open: mid, high: mid, low: mid, close: mid, volume: decimal.NewFromInt(1)}
		ing.mu.Unlock()
		ing.publishForming(t.Instrument, *ing.buckets[t.Instrument])
		return

	case minuteStart.Equal(b.openTime):
		if mid.GreaterThan(b.high) {
			b.high = mid
		}
		if mid.LessThan(b.low) {
			b.low = mid
		}
		b.close = mid
		b.volume = b.volume.Add(decimal.NewFromInt(1))
		snapshot := *b
		ing.mu.Unlock()
		ing.publishForming(t.Instrument, snapshot)
		return

	case minuteStart.Before(b.openTime):
		ing.mu.Unlock()
		ing.logger.Warn("dropping late tick", zap.String("instrument", t.Instrument), zap.Time("event_time", t.EventTime))
		return

	default:
		finalized := *b
		ing.buckets[t.Instrument] = &bucket{openTime: minuteStart, open: mid, high: mid, low: mid, close: mid, volume: decimal.NewFromInt(1)}
		ing.mu.Unlock()
		ing.finalize(t.Instrument, finalized)
		ing.publishForming(t.Instrument, *ing.buckets[t.Instrument])
	}
}

func (ing *Ingestor) publishForming(instrument string, b bucket) {
	ing.hub.UpdateCandle(types.Candle{
		Instrument: instrument,
		Timeframe:  "1m",
		OpenTime:   b.openTime,
		Open:       b.open,
		High:       b.high,
		Low:        b.low,
		Close:      b.close,
		Volume:     b.volume,
		Finalized:  false,
	})
}

func (ing *Ingestor) finalize(instrument string, b bucket) {
	c := types.Candle{
		Instrument: instrument,
		Timeframe:  "1m",
		OpenTime:   b.openTime,
		Open:       b.open,
		High:       b.high,
		Low:        b.low,
		Close:      b.close,
		Volume:     b.volume,
		Finalized:  true,
	}
	ing.hub.UpdateCandle(c)
	if ing.store != nil {
		ing.store.AppendCandle(c)
	}
}

// gapDetector logs a "feed stale" warning when an instrument has produced
// no ticks for longer than GapWarnThreshold.
func (ing *Ingestor) gapDetector(ctx context.Context) {
	interval := ing.cfg.GapWarnThreshold / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ing.stopCh:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			ing.mu.Lock()
			for _, instrument := range ing.instruments {
				last, ok := ing.lastTickAt[instrument]
				if ok && now.Sub(last) > ing.cfg.GapWarnThreshold {
					ing.logger.Warn("spot feed stale", zap.String("instrument", instrument), zap.Duration("since_last_tick", now.Sub(last)))
				}
			}
			ing.mu.Unlock()
		}
	}
}
