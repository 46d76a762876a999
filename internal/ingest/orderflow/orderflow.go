// Package orderflow implements OrderFlowIngestor: it subscribes to a
// futures market-by-price/trade stream (one futures symbol per spot
// instrument, via a static symbol map) and computes a rolling 60s window
// of order-flow metrics — net imbalance, volume delta, VWAP, sweep
// detection, and a volume-bucketed VPIN — publishing a fresh snapshot to
// the hub and store on every compute tick. Grounded in the teacher's
// internal/data/market_data.go connect/readLoop shape for the stream
// supervision, and in the OFI sign*size windowed-imbalance idiom from
// the pack's AggTrades ofi.go (here computed over a decimal-native
// sliding window instead of a float EMA, since OrderFlowEvent sizes are
// shopspring/decimal).
package orderflow

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/drivers"
	"github.com/atlas-desktop/fx-scalper/internal/events"
	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/internal/metrics"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

const vpinBuckets = 10

type snapshotStore interface {
	AppendOrderFlowSnapshot(types.OrderFlowMetrics)
}

// SymbolMap maps a futures symbol back to the spot instrument it hedges.
type SymbolMap map[string]string

// Ingestor runs the connect/subscribe/compute loop for the configured
// futures symbol set.
type Ingestor struct {
	logger   *zap.Logger
	cfg      config.IngestConfig
	provider drivers.OrderFlowProvider
	hub      *hub.Hub
	store    snapshotStore
	metrics  *metrics.Registry
	symbols  SymbolMap
	bus      *events.Bus

	mu      sync.Mutex
	windows map[string][]drivers.OrderFlowEvent // keyed by spot instrument

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an OrderFlowIngestor. store may be nil.
func New(logger *zap.Logger, cfg config.IngestConfig, provider drivers.OrderFlowProvider, h *hub.Hub,
	s snapshotStore, m *metrics.Registry, symbols SymbolMap) *Ingestor {
	return &Ingestor{
		logger:   logger,
		cfg:      cfg,
		provider: provider,
		hub:      h,
		store:    s,
		metrics:  m,
		symbols:  symbols,
		windows:  make(map[string][]drivers.OrderFlowEvent),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the stream supervisor and the 1s compute ticker.
func (ing *Ingestor) Start(ctx context.Context) {
	go ing.runLoop(ctx)
	go ing.computeLoop(ctx)
}

// SetBus attaches an event bus that fresh snapshots are published to.
// Optional: without one, the ingestor behaves identically.
func (ing *Ingestor) SetBus(b *events.Bus) {
	ing.bus = b
}

// Stop halts both loops.
func (ing *Ingestor) Stop() {
	close(ing.stopCh)
	<-ing.doneCh
}

func (ing *Ingestor) runLoop(ctx context.Context) {
	defer close(ing.doneCh)

	attempt := 0
	futuresSymbols := make([]string, 0, len(ing.symbols))
	for fs := range ing.symbols {
		futuresSymbols = append(futuresSymbols, fs)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ing.stopCh:
			return
		default:
		}

		err := ing.provider.SubscribeMBPAndTrades(ctx, futuresSymbols, ing.onEvent)
		if err == nil {
			return
		}

		ing.logger.Warn("order flow stream ended, reconnecting", zap.Error(err))
		if ing.metrics != nil {
			ing.metrics.IngestorReconnects.WithLabelValues("orderflow").Inc()
		}

		delay := ing.cfg.BackoffInitial * time.Duration(1<<uint(attempt))
		if delay > ing.cfg.BackoffCap || delay <= 0 {
			delay = ing.cfg.BackoffCap
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-ing.stopCh:
			return
		}
		attempt++
	}
}

func (ing *Ingestor) onEvent(ev drivers.OrderFlowEvent) {
	instrument, ok := ing.symbols[ev.FuturesSymbol]
	if !ok {
		return
	}

	ing.mu.Lock()
	defer ing.mu.Unlock()

	cutoff := ev.EventTime.Add(-ing.cfg.OrderFlowWindow)
	w := append(ing.windows[instrument], ev)
	kept := w[:0]
	for _, e := range w {
		if e.EventTime.After(cutoff) {
			kept = append(kept, e)
		}
	}
	ing.windows[instrument] = kept
}

func (ing *Ingestor) computeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ing.stopCh:
			return
		case <-ticker.C:
			ing.computeAll(time.Now().UTC())
		}
	}
}

func (ing *Ingestor) computeAll(now time.Time) {
	ing.mu.Lock()
	snapshot := make(map[string][]drivers.OrderFlowEvent, len(ing.windows))
	for inst, w := range ing.windows {
		cp := make([]drivers.OrderFlowEvent, len(w))
		copy(cp, w)
		snapshot[inst] = cp
	}
	ing.mu.Unlock()

	for instrument, evs := range snapshot {
		if len(evs) == 0 {
			continue
		}
		m := Compute(instrument, evs, now, ing.cfg.SweepLevels)
		ing.hub.UpdateOrderFlow(m)
		if ing.store != nil {
			ing.store.AppendOrderFlowSnapshot(m)
		}
		if ing.bus != nil {
			ing.bus.Publish(events.NewOrderFlowSnapshotEvent(m))
		}
	}
}

// Compute implements the per-window metrics algorithm: volume delta, OFI,
// buy/sell volume, VWAP, sweep detection, and VPIN. Exported for direct
// unit testing without the stream supervisor.
func Compute(instrument string, events []drivers.OrderFlowEvent, now time.Time, sweepLevels int) types.OrderFlowMetrics {
	var buyVol, sellVol, dollarVol, ofi decimal.Decimal
	sweep := false
	oneSecAgo := now.Add(-time.Second)

	for _, e := range events {
		signed := e.Size
		if !e.IsBuyAggressor {
			signed = signed.Neg()
		}
		ofi = ofi.Add(signed)

		if e.IsBuyAggressor {
			buyVol = buyVol.Add(e.Size)
		} else {
			sellVol = sellVol.Add(e.Size)
		}
		dollarVol = dollarVol.Add(e.Price.Mul(e.Size))

		if e.IsTrade && e.LevelsConsumed >= sweepLevels && !e.EventTime.Before(oneSecAgo) {
			sweep = true
		}
	}

	totalVol := buyVol.Add(sellVol)
	vwap := decimal.Zero
	if !totalVol.IsZero() {
		vwap = dollarVol.Div(totalVol)
	}

	return types.OrderFlowMetrics{
		Instrument:  instrument,
		ComputeTime: now,
		OFI60s:      ofi,
		VolumeDelta: buyVol.Sub(sellVol),
		BuyVolume:   buyVol,
		SellVolume:  sellVol,
		VWAP:        vwap,
		SweepFlag:   sweep,
		VPIN:        vpin(events),
	}
}

// vpin buckets the window's trades into vpinBuckets equal-volume buckets
// (volume clock rather than wall clock) and averages each bucket's
// |buy-sell| imbalance as a fraction of bucket volume — the standard
// volume-synchronized probability of informed trading construction.
func vpin(events []drivers.OrderFlowEvent) decimal.Decimal {
	total := decimal.Zero
	for _, e := range events {
		if e.IsTrade {
			total = total.Add(e.Size)
		}
	}
	if total.IsZero() {
		return decimal.Zero
	}

	bucketSize := total.Div(decimal.NewFromInt(vpinBuckets))
	if bucketSize.IsZero() {
		return decimal.Zero
	}

	var bucketImbalances []decimal.Decimal
	curBuy, curSell, curVol := decimal.Zero, decimal.Zero, decimal.Zero

	flush := func() {
		if curVol.IsZero() {
			return
		}
		bucketImbalances = append(bucketImbalances, curBuy.Sub(curSell).Abs().Div(curVol))
		curBuy, curSell, curVol = decimal.Zero, decimal.Zero, decimal.Zero
	}

	for _, e := range events {
		if !e.IsTrade {
			continue
		}
		if e.IsBuyAggressor {
			curBuy = curBuy.Add(e.Size)
		} else {
			curSell = curSell.Add(e.Size)
		}
		curVol = curVol.Add(e.Size)
		if curVol.GreaterThanOrEqual(bucketSize) {
			flush()
		}
	}
	flush()

	if len(bucketImbalances) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, b := range bucketImbalances {
		sum = sum.Add(b)
	}
	return sum.Div(decimal.NewFromInt(int64(len(bucketImbalances))))
}
