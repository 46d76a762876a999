// Package indicator implements IndicatorPoller: a per-instrument ticker
// that periodically calls the external TA aggregator client, converts its
// buy/sell/neutral consensus into a types.TAIndicatorSnapshot, and writes
// it into the hub and the store. The external aggregator is shared across
// every instrument and rate-limited by a single token bucket (internal/
// ratelimit.Bucket, the same idiom internal/agents uses for its LLM calls);
// an instrument whose poll misses the budget is skipped for that cycle
// rather than failing the task. Grounded in the teacher's
// internal/data/market_data.go periodic-fetch shape, generalized from a
// push-based WebSocket feed onto a pull-based rate-limited poll loop.
package indicator

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/drivers"
	"github.com/atlas-desktop/fx-scalper/internal/events"
	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/internal/metrics"
	"github.com/atlas-desktop/fx-scalper/internal/ratelimit"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

type snapshotStore interface {
	AppendTASnapshot(types.TAIndicatorSnapshot)
}

// Poller runs one ticker goroutine per instrument, each drawing from a
// shared rate-limit bucket before calling the aggregator.
type Poller struct {
	logger     *zap.Logger
	cfg        config.IngestConfig
	aggregator drivers.TAAggregator
	hub        *hub.Hub
	store      snapshotStore
	metrics    *metrics.Registry
	bucket     *ratelimit.Bucket
	instruments []string
	bus        *events.Bus

	stopCh chan struct{}
	doneCh chan struct{}
}

// SetBus attaches an event bus that fresh TA snapshots are published to.
// Optional: without one, the poller behaves identically.
func (p *Poller) SetBus(b *events.Bus) {
	p.bus = b
}

// New constructs an IndicatorPoller. store may be nil.
func New(logger *zap.Logger, cfg config.IngestConfig, aggregator drivers.TAAggregator, h *hub.Hub,
	s snapshotStore, m *metrics.Registry, instruments []string) *Poller {
	p := &Poller{
		logger:      logger,
		cfg:         cfg,
		aggregator:  aggregator,
		hub:         h,
		store:       s,
		metrics:     m,
		instruments: instruments,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	p.bucket = ratelimit.NewBucket("indicator-aggregator", cfg.IndicatorRateQPM, cfg.IndicatorRateQPM, func(name string) {
		if m != nil {
			m.RateLimiterThrottled.WithLabelValues(name).Inc()
		}
	})
	return p
}

// Start launches one poll loop per instrument.
func (p *Poller) Start(ctx context.Context) {
	done := make(chan struct{}, len(p.instruments))
	for _, instrument := range p.instruments {
		go func(inst string) {
			p.pollLoop(ctx, inst)
			done <- struct{}{}
		}(instrument)
	}
	go func() {
		for range p.instruments {
			<-done
		}
		close(p.doneCh)
	}()
}

// Stop halts every per-instrument poll loop and waits for them to exit.
func (p *Poller) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// pollLoop waits a jittered interval between IndicatorPollMin and
// IndicatorPollMax, acquires the shared rate-limit budget, and fetches a
// fresh consensus snapshot for a single instrument.
func (p *Poller) pollLoop(ctx context.Context, instrument string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-time.After(p.nextInterval()):
		}
		p.pollOnce(ctx, instrument)
	}
}

func (p *Poller) nextInterval() time.Duration {
	lo, hi := p.cfg.IndicatorPollMin, p.cfg.IndicatorPollMax
	if hi <= lo {
		return lo
	}
	spread := hi - lo
	return lo + time.Duration(rand.Int63n(int64(spread)))
}

func (p *Poller) pollOnce(ctx context.Context, instrument string) {
	if !p.bucket.Allow() {
		p.logger.Debug("indicator poll skipped, rate budget exhausted", zap.String("instrument", instrument))
		return
	}

	agg, err := p.aggregator.FetchAggregateIndicators(ctx, instrument)
	if err != nil {
		p.logger.Warn("indicator fetch failed", zap.String("instrument", instrument), zap.Error(err))
		return
	}

	snap := types.TAIndicatorSnapshot{
		Instrument:   instrument,
		ComputeTime:  time.Now().UTC(),
		BuyCount:     agg.Buy,
		SellCount:    agg.Sell,
		NeutralCount: agg.Neutral,
		Consensus:    agg.Consensus,
		Confidence:   agg.Confidence,
	}
	p.hub.UpdateTA(snap)
	if p.store != nil {
		p.store.AppendTASnapshot(snap)
	}
	if p.bus != nil {
		p.bus.Publish(events.NewTAUpdatedEvent(snap))
	}
}
