// Package events provides the internal event bus broadcasting FX-scalper
// domain events (candle finalized, order-flow snapshot, TA update, signal,
// trade opened/closed, gate transition) to any interested in-process
// subscriber — dashboards, the hub RPC surface, audit loggers. Adapted
// from the teacher's internal/events/event_bus.go worker-pool broadcast
// design (fixed goroutine pool draining a buffered channel, panic-safe
// handler execution, P99 latency tracking), generalized from the
// teacher's crypto-trading event catalog to spec §4.O's FX event set.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

// Type identifies the category of a published event.
type Type string

const (
	TypeCandleFinalized   Type = "candle_finalized"
	TypeOrderFlowSnapshot Type = "order_flow_snapshot"
	TypeTAUpdated         Type = "ta_updated"
	TypeSignal            Type = "signal"
	TypeRejectedCycle     Type = "rejected_cycle"
	TypeTradeOpened       Type = "trade_opened"
	TypeTradeClosed       Type = "trade_closed"
	TypeGateTransition    Type = "gate_transition"
)

// Event is the common interface every published event satisfies.
type Event interface {
	EventType() Type
	Instrument() string
	OccurredAt() time.Time
}

type base struct {
	instrument string
	at         time.Time
}

func (b base) Instrument() string    { return b.instrument }
func (b base) OccurredAt() time.Time { return b.at }

// CandleFinalizedEvent announces a newly closed 1-minute candle.
type CandleFinalizedEvent struct {
	base
	Candle types.Candle
}

func (CandleFinalizedEvent) EventType() Type { return TypeCandleFinalized }

// NewCandleFinalizedEvent builds a CandleFinalizedEvent from a candle.
func NewCandleFinalizedEvent(c types.Candle) CandleFinalizedEvent {
	return CandleFinalizedEvent{base: base{instrument: c.Instrument, at: c.OpenTime}, Candle: c}
}

// OrderFlowSnapshotEvent announces a fresh order-flow metrics computation.
type OrderFlowSnapshotEvent struct {
	base
	Metrics types.OrderFlowMetrics
}

func (OrderFlowSnapshotEvent) EventType() Type { return TypeOrderFlowSnapshot }

func NewOrderFlowSnapshotEvent(m types.OrderFlowMetrics) OrderFlowSnapshotEvent {
	return OrderFlowSnapshotEvent{base: base{instrument: m.Instrument, at: m.ComputeTime}, Metrics: m}
}

// TAUpdatedEvent announces a fresh TA indicator consensus snapshot.
type TAUpdatedEvent struct {
	base
	Snapshot types.TAIndicatorSnapshot
}

func (TAUpdatedEvent) EventType() Type { return TypeTAUpdated }

func NewTAUpdatedEvent(s types.TAIndicatorSnapshot) TAUpdatedEvent {
	return TAUpdatedEvent{base: base{instrument: s.Instrument, at: s.ComputeTime}, Snapshot: s}
}

// SignalEvent announces a DecisionEngine cycle that produced a trade signal.
type SignalEvent struct {
	base
	Signal types.Signal
}

func (SignalEvent) EventType() Type { return TypeSignal }

func NewSignalEvent(s types.Signal) SignalEvent {
	return SignalEvent{base: base{instrument: s.Instrument, at: s.GeneratedAt}, Signal: s}
}

// RejectedCycleEvent announces a DecisionEngine cycle that ended without
// a signal.
type RejectedCycleEvent struct {
	base
	Rejected types.RejectedCycle
}

func (RejectedCycleEvent) EventType() Type { return TypeRejectedCycle }

func NewRejectedCycleEvent(r types.RejectedCycle) RejectedCycleEvent {
	return RejectedCycleEvent{base: base{instrument: r.Instrument, at: r.GeneratedAt}, Rejected: r}
}

// TradeOpenedEvent announces a TradeLifecycle open.
type TradeOpenedEvent struct {
	base
	Trade types.ActiveTrade
}

func (TradeOpenedEvent) EventType() Type { return TypeTradeOpened }

func NewTradeOpenedEvent(t types.ActiveTrade) TradeOpenedEvent {
	return TradeOpenedEvent{base: base{instrument: t.Instrument, at: t.EntryTime}, Trade: t}
}

// TradeClosedEvent announces a TradeLifecycle close.
type TradeClosedEvent struct {
	base
	Trade types.ClosedTrade
}

func (TradeClosedEvent) EventType() Type { return TypeTradeClosed }

func NewTradeClosedEvent(t types.ClosedTrade) TradeClosedEvent {
	return TradeClosedEvent{base: base{instrument: t.Instrument, at: t.ExitTime}, Trade: t}
}

// GateTransitionEvent announces a news-gating window changing state.
type GateTransitionEvent struct {
	base
	Window types.GatingWindow
}

func (GateTransitionEvent) EventType() Type { return TypeGateTransition }

func NewGateTransitionEvent(w types.GatingWindow, at time.Time) GateTransitionEvent {
	return GateTransitionEvent{base: base{instrument: w.Instrument, at: at}, Window: w}
}

// Handler processes a single event. A returned error is logged, never
// propagated to the publisher.
type Handler func(Event) error

// Filter selectively admits events to a subscription.
type Filter func(Event) bool

// SubscribeOptions configures a single subscription.
type SubscribeOptions struct {
	Filter Filter
	Async  bool
}

type subscription struct {
	id      int64
	typ     Type
	all     bool
	handler Handler
	opts    SubscribeOptions
	active  atomic.Bool
}

// Stats reports the bus's running throughput and latency counters.
type Stats struct {
	Published   int64
	Processed   int64
	Dropped     int64
	Errors      int64
	Subscribers int64
	MaxLatency  time.Duration
	P99Latency  time.Duration
}

// Config controls the bus's worker pool and buffer sizing.
type Config struct {
	NumWorkers int
	BufferSize int
}

// DefaultConfig returns sensible defaults for the module's event volume.
func DefaultConfig() Config {
	return Config{NumWorkers: 4, BufferSize: 4096}
}

// Bus is the central in-process event router.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[Type][]*subscription
	allSubs     []*subscription

	eventCh chan Event

	published atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64
	subCount  atomic.Int64
	idCounter atomic.Int64

	latencyMu  sync.Mutex
	latencies  []int64
	maxLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBus constructs a Bus and starts its worker pool.
func NewBus(logger *zap.Logger, cfg Config) *Bus {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:      logger,
		subscribers: make(map[Type][]*subscription),
		eventCh:     make(chan Event, cfg.BufferSize),
		ctx:         ctx,
		cancel:      cancel,
		latencies:   make([]int64, 0, 1024),
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.eventCh:
			start := time.Now()
			b.dispatch(ev)
			b.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.EventType()]
	all := b.allSubs
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(s, ev)
	}
	for _, s := range all {
		b.invoke(s, ev)
	}
	b.processed.Add(1)
}

func (b *Bus) invoke(s *subscription, ev Event) {
	if !s.active.Load() {
		return
	}
	if s.opts.Filter != nil && !s.opts.Filter(ev) {
		return
	}
	if s.opts.Async {
		go b.run(s, ev)
		return
	}
	b.run(s, ev)
}

func (b *Bus) run(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			b.logger.Error("event handler panic", zap.String("event_type", string(ev.EventType())), zap.Any("panic", r))
		}
	}()
	if err := s.handler(ev); err != nil {
		b.errors.Add(1)
		b.logger.Warn("event handler error", zap.String("event_type", string(ev.EventType())), zap.Error(err))
	}
}

func (b *Bus) trackLatency(ns int64) {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	b.latencies = append(b.latencies, ns)
	if len(b.latencies) > 10000 {
		b.latencies = b.latencies[5000:]
	}
	if ns > b.maxLatency.Load() {
		b.maxLatency.Store(ns)
	}
}

// Subscribe registers a handler for a single event type.
func (b *Bus) Subscribe(typ Type, handler Handler, opts ...SubscribeOptions) {
	b.addSub(typ, false, handler, opts...)
}

// SubscribeAll registers a handler invoked for every event type.
func (b *Bus) SubscribeAll(handler Handler, opts ...SubscribeOptions) {
	b.addSub("", true, handler, opts...)
}

func (b *Bus) addSub(typ Type, all bool, handler Handler, opts ...SubscribeOptions) {
	options := SubscribeOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}
	s := &subscription{id: b.idCounter.Add(1), typ: typ, all: all, handler: handler, opts: options}
	s.active.Store(true)

	b.mu.Lock()
	if all {
		b.allSubs = append(b.allSubs, s)
	} else {
		b.subscribers[typ] = append(b.subscribers[typ], s)
	}
	b.mu.Unlock()
	b.subCount.Add(1)
}

// Publish enqueues an event for async dispatch, dropping it if the
// buffer is saturated — publishers must never block on a slow subscriber.
func (b *Bus) Publish(ev Event) {
	select {
	case b.eventCh <- ev:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, bus buffer full", zap.String("event_type", string(ev.EventType())))
	}
}

// PublishSync dispatches an event inline and blocks until every
// synchronous subscriber has run.
func (b *Bus) PublishSync(ev Event) {
	b.published.Add(1)
	b.dispatch(ev)
}

// Stats reports current bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Processed:   b.processed.Load(),
		Dropped:     b.dropped.Load(),
		Errors:      b.errors.Load(),
		Subscribers: b.subCount.Load(),
		MaxLatency:  time.Duration(b.maxLatency.Load()),
		P99Latency:  time.Duration(b.p99LatencyNs()),
	}
}

func (b *Bus) p99LatencyNs() int64 {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	if len(b.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(b.latencies))
	copy(sorted, b.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stop halts the worker pool, waiting up to 5s for in-flight handlers.
func (b *Bus) Stop() {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("event bus shutdown timed out")
	}
}
