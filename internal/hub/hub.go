// Package hub implements MarketDataHub: the single mutable shared state
// of the platform. It is fed by the three ingestion pipelines and read by
// UnifiedDataFetcher; every write is atomic per entity, and every read
// carries staleness semantics governed by per-category TTLs.
package hub

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/events"
	"github.com/atlas-desktop/fx-scalper/internal/metrics"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

type candleWindow struct {
	finalized []types.Candle // strictly increasing by OpenTime, newest last
	forming   *types.Candle
}

// Hub is the concurrent in-memory cache backing MarketDataHub. A single
// RWMutex guards all four maps: every critical section is a short map
// lookup or slice copy, so fine-grained
// per-instrument locking is not worth the complexity the teacher's
// single-lock cache-map idiom already avoids (internal/data/store.go).
type Hub struct {
	mu sync.RWMutex

	logger  *zap.Logger
	cfg     config.HubConfig
	metrics *metrics.Registry
	bus     *events.Bus

	ticks      map[string]types.Tick
	candles    map[string]*candleWindow // key: instrument|timeframe
	orderFlow  map[string]types.OrderFlowMetrics
	ta         map[string]types.TAIndicatorSnapshot
}

// New constructs an empty Hub.
func New(logger *zap.Logger, cfg config.HubConfig, m *metrics.Registry) *Hub {
	return &Hub{
		logger:    logger,
		cfg:       cfg,
		metrics:   m,
		ticks:     make(map[string]types.Tick),
		candles:   make(map[string]*candleWindow),
		orderFlow: make(map[string]types.OrderFlowMetrics),
		ta:        make(map[string]types.TAIndicatorSnapshot),
	}
}

func candleKey(instrument, timeframe string) string {
	return instrument + "|" + timeframe
}

// UpdateTick overwrites the latest tick for an instrument (producer-only).
func (h *Hub) UpdateTick(t types.Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks[t.Instrument] = t
}

// UpdateCandle publishes a candle. A non-finalized candle replaces the
// forming slot; a finalized candle is appended to the window (which must
// be strictly increasing by OpenTime — the ingestor is required to
// finalize the earlier bucket before publishing a later one) and the
// window is trimmed to MaxCandles, dropping the oldest.
func (h *Hub) UpdateCandle(c types.Candle) {
	h.mu.Lock()

	key := candleKey(c.Instrument, c.Timeframe)
	w, ok := h.candles[key]
	if !ok {
		w = &candleWindow{}
		h.candles[key] = w
	}

	if !c.Finalized {
		w.forming = &c
		h.mu.Unlock()
		return
	}

	// Idempotent upsert keyed by open_time: re-delivering the same
	// finalized candle replaces it in place rather than duplicating it.
	replaced := false
	for i := len(w.finalized) - 1; i >= 0; i-- {
		if w.finalized[i].OpenTime.Equal(c.OpenTime) {
			w.finalized[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		w.finalized = append(w.finalized, c)
	}

	if len(w.finalized) > h.cfg.MaxCandles {
		w.finalized = w.finalized[len(w.finalized)-h.cfg.MaxCandles:]
	}
	if w.forming != nil && !w.forming.OpenTime.After(c.OpenTime) {
		w.forming = nil
	}
	h.mu.Unlock()

	if h.bus != nil {
		h.bus.Publish(events.NewCandleFinalizedEvent(c))
	}
}

// SetBus attaches an event bus that UpdateCandle publishes finalized
// candles to. Optional: a Hub with no bus attached behaves identically,
// just without the broadcast side effect.
func (h *Hub) SetBus(b *events.Bus) {
	h.bus = b
}

// UpdateOrderFlow overwrites the latest order-flow snapshot for an instrument.
func (h *Hub) UpdateOrderFlow(m types.OrderFlowMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orderFlow[m.Instrument] = m
}

// UpdateTA overwrites the latest TA snapshot for an instrument.
func (h *Hub) UpdateTA(s types.TAIndicatorSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ta[s.Instrument] = s
}

// GetLatestTick returns the most recent tick for an instrument, if any.
func (h *Hub) GetLatestTick(instrument string) (types.Tick, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.metrics != nil {
		h.metrics.HubGetTotal.WithLabelValues("tick").Inc()
	}
	t, ok := h.ticks[instrument]
	return t, ok
}

// GetLatestCandles returns up to limit most-recent finalized candles in
// open_time order (oldest first), matching the spec's "up to limit
// most-recent in open_time order". The forming candle is not included;
// GetForming returns it.
func (h *Hub) GetLatestCandles(instrument, timeframe string, limit int) []types.Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.metrics != nil {
		h.metrics.HubGetTotal.WithLabelValues("candle").Inc()
	}

	w, ok := h.candles[candleKey(instrument, timeframe)]
	if !ok {
		return nil
	}

	n := len(w.finalized)
	start := 0
	if n > limit {
		start = n - limit
	}
	out := make([]types.Candle, 0, limit+1)
	out = append(out, w.finalized[start:]...)
	return out
}

// GetForming returns the in-progress (non-finalized) candle for an
// instrument/timeframe, if one exists.
func (h *Hub) GetForming(instrument, timeframe string) (types.Candle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.candles[candleKey(instrument, timeframe)]
	if !ok || w.forming == nil {
		return types.Candle{}, false
	}
	return *w.forming, true
}

// GetLatestOrderFlow returns the latest order-flow snapshot, if any.
func (h *Hub) GetLatestOrderFlow(instrument string) (types.OrderFlowMetrics, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.metrics != nil {
		h.metrics.HubGetTotal.WithLabelValues("order_flow").Inc()
	}
	m, ok := h.orderFlow[instrument]
	return m, ok
}

// GetLatestTA returns the latest TA snapshot, if any.
func (h *Hub) GetLatestTA(instrument string) (types.TAIndicatorSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.metrics != nil {
		h.metrics.HubGetTotal.WithLabelValues("ta").Inc()
	}
	s, ok := h.ta[instrument]
	return s, ok
}

// Staleness is the per-category staleness report for check_staleness.
type Staleness struct {
	TickStale   bool
	CandleStale bool
	OFStale     bool
	TAStale     bool
}

// CheckStaleness reports which categories are stale (or absent, which
// counts as stale) for an instrument, against the hub's configured TTLs.
func (h *Hub) CheckStaleness(instrument string, timeframe string, now time.Time) Staleness {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Staleness{}

	t, ok := h.ticks[instrument]
	s.TickStale = !ok || now.Sub(t.EventTime) > h.cfg.TickTTL

	if w, ok := h.candles[candleKey(instrument, timeframe)]; ok && len(w.finalized) > 0 {
		last := w.finalized[len(w.finalized)-1]
		s.CandleStale = now.Sub(last.OpenTime) > h.cfg.CandleTTL
	} else {
		s.CandleStale = true
	}

	of, ok := h.orderFlow[instrument]
	s.OFStale = !ok || now.Sub(of.ComputeTime) > h.cfg.OrderFlowTTL

	ta, ok := h.ta[instrument]
	s.TAStale = !ok || now.Sub(ta.ComputeTime) > h.cfg.TATTL

	if h.metrics != nil {
		if s.TickStale {
			h.metrics.HubStaleTotal.WithLabelValues("tick").Inc()
		}
		if s.CandleStale {
			h.metrics.HubStaleTotal.WithLabelValues("candle").Inc()
		}
		if s.OFStale {
			h.metrics.HubStaleTotal.WithLabelValues("order_flow").Inc()
		}
		if s.TAStale {
			h.metrics.HubStaleTotal.WithLabelValues("ta").Inc()
		}
	}

	return s
}

// CandleFetchFunc fetches the last `limit` finalized candles for an
// instrument/timeframe from the persistence store, for warm-starting.
type CandleFetchFunc func(instrument, timeframe string, limit int) ([]types.Candle, error)

// WarmStart synchronously populates each instrument's candle window from
// the store at startup, before any consumer begins reading.
func (h *Hub) WarmStart(instruments []string, timeframe string, fetch CandleFetchFunc, limit int) error {
	for _, inst := range instruments {
		candles, err := fetch(inst, timeframe, limit)
		if err != nil {
			h.logger.Error("warm start failed", zap.String("instrument", inst), zap.Error(err))
			return err
		}
		sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })

		h.mu.Lock()
		h.candles[candleKey(inst, timeframe)] = &candleWindow{finalized: candles}
		h.mu.Unlock()

		h.logger.Info("warm started instrument",
			zap.String("instrument", inst), zap.Int("candles", len(candles)))
	}
	return nil
}
