// Package store implements the Persistence Store: append-only time-series
// tables plus agent decision logs, fed by a batched writer with a bounded
// queue that drops the oldest entry (and counts it) rather than ever
// blocking an ingestor. Reads (warm-start, UnifiedDataFetcher fallback)
// go straight to the database. Grounded in the teacher's Store struct
// idiom (internal/data/store.go: mu, logger, cache) adapted onto a real
// SQL backend (gorm + postgres) since the spec mandates SQL-shaped DDL
// with idempotent upsert semantics that a flat-file JSON cache cannot
// express. Store is a leaf: it imports neither hub nor ingest, per spec
// §9's cyclic-ownership guidance.
package store

import (
	"context"
	"sync"
	"time"

	_ "github.com/lib/pq" // registers the database/sql "postgres" driver name gorm.Config below requires
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

// Store owns the database handle and a batched write queue.
type Store struct {
	logger *zap.Logger
	cfg    config.StoreConfig
	db     *gorm.DB

	mu      sync.Mutex
	pending []interface{}
	dropped int64

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Open connects to the configured DSN, runs auto-migration for every
// table in §4.A, and starts the batch-flush loop.
func Open(logger *zap.Logger, cfg config.StoreConfig) (*Store, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres", // routes through database/sql + lib/pq instead of gorm's native pgx pool
		DSN:        cfg.DSN,
	}), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&InstrumentRow{}, &SpotTickRow{}, &CandleRow{},
		&OrderFlowEventRow{}, &OrderFlowTradeRow{}, &OrderFlowSnapshotRow{},
		&TASnapshotRow{}, &EconomicEventRow{}, &GatingStateRow{},
		&SignalRow{}, &AgentDecisionRow{}, &ClosedTradeRow{}, &RejectedCycleRow{},
	); err != nil {
		return nil, err
	}

	s := &Store{
		logger:  logger,
		cfg:     cfg,
		db:      db,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// enqueue appends a row to the pending batch, dropping the oldest pending
// row (and counting it) if the buffer is already at capacity — writers
// must never block on a store outage.
func (s *Store) enqueue(row interface{}) {
	s.mu.Lock()
	if len(s.pending) >= s.cfg.FlushBufferSize {
		s.pending = s.pending[1:]
		s.dropped++
		s.logger.Warn("store buffer full, dropping oldest pending row", zap.Int64("dropped_total", s.dropped))
	}
	s.pending = append(s.pending, row)
	full := len(s.pending) >= s.cfg.FlushBufferSize
	s.mu.Unlock()

	if full {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

func (s *Store) flushLoop() {
	defer close(s.doneCh)
	interval := s.cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.flushCh:
			s.flush()
		case <-s.stopCh:
			s.flush()
			return
		}
	}
}

func (s *Store) flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, row := range batch {
			if c, ok := row.(CandleRow); ok {
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "instrument"}, {Name: "timeframe"}, {Name: "open_time"}},
					UpdateAll: true,
				}).Create(&c).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		s.logger.Error("batch flush failed", zap.Error(err), zap.Int("rows", len(batch)))
	}
}

// Close flushes any pending rows and stops the batch-flush loop.
func (s *Store) Close() error {
	close(s.stopCh)
	<-s.doneCh
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendTick enqueues a raw tick for batched persistence.
func (s *Store) AppendTick(t types.Tick) {
	s.enqueue(SpotTickRow{
		Instrument: t.Instrument,
		EventTime:  t.EventTime,
		Bid:        t.Bid.String(),
		Ask:        t.Ask.String(),
	})
}

// AppendCandle enqueues a candle for idempotent upsert on flush.
func (s *Store) AppendCandle(c types.Candle) {
	s.enqueue(CandleRow{
		Instrument: c.Instrument,
		Timeframe:  c.Timeframe,
		OpenTime:   c.OpenTime,
		O:          c.Open.String(),
		H:          c.High.String(),
		L:          c.Low.String(),
		C:          c.Close.String(),
		V:          c.Volume.String(),
		Finalized:  c.Finalized,
	})
}

// AppendOrderFlowSnapshot enqueues a computed order-flow snapshot.
func (s *Store) AppendOrderFlowSnapshot(m types.OrderFlowMetrics) {
	s.enqueue(OrderFlowSnapshotRow{
		Instrument:  m.Instrument,
		ComputeTime: m.ComputeTime,
		OFI60s:      m.OFI60s.String(),
		VolumeDelta: m.VolumeDelta.String(),
		BuyVolume:   m.BuyVolume.String(),
		SellVolume:  m.SellVolume.String(),
		VWAP:        m.VWAP.String(),
		SweepFlag:   m.SweepFlag,
		VPIN:        m.VPIN.String(),
	})
}

// AppendTASnapshot enqueues a TA indicator consensus snapshot.
func (s *Store) AppendTASnapshot(t types.TAIndicatorSnapshot) {
	s.enqueue(TASnapshotRow{
		Instrument:   t.Instrument,
		ComputeTime:  t.ComputeTime,
		BuyCount:     t.BuyCount,
		SellCount:    t.SellCount,
		NeutralCount: t.NeutralCount,
		Consensus:    string(t.Consensus),
		Confidence:   t.Confidence.String(),
	})
}

// AppendGatingTransition enqueues a gating-window state transition for audit.
func (s *Store) AppendGatingTransition(g types.GatingWindow) {
	s.enqueue(GatingStateRow{
		Instrument:    g.Instrument,
		State:         string(g.State),
		WindowStart:   g.WindowStart,
		WindowEnd:     g.WindowEnd,
		Reason:        g.Reason,
		LinkedEventID: g.LinkedEventID,
		RecordedAt:    time.Now(),
	})
}

// AppendSignal enqueues a signal and its full agent trace.
func (s *Store) AppendSignal(sig types.Signal) {
	s.enqueue(SignalRow{
		CycleID:      sig.CycleID,
		Instrument:   sig.Instrument,
		GeneratedAt:  sig.GeneratedAt,
		Direction:    string(sig.Direction),
		EntryPrice:   sig.EntryPrice.String(),
		TP:           sig.TP.String(),
		SL:           sig.SL.String(),
		Confidence:   sig.Confidence.String(),
		Pattern:      sig.Pattern,
		PatternScore: sig.PatternScore.String(),
		Tier:         string(sig.Tier),
		SizeLots:     sig.SizeLots.String(),
		Reason:       sig.Reason,
	})
	for _, ao := range []*types.AgentOutput{
		sig.Trace.FastMomentum, sig.Trace.Technical, sig.Trace.ValidatorJudge,
		sig.Trace.AggressiveRisk, sig.Trace.ConservativeRisk, sig.Trace.RiskJudge,
	} {
		if ao == nil {
			continue
		}
		s.enqueue(AgentDecisionRow{
			CycleID:    sig.CycleID,
			AgentName:  ao.AgentName,
			Summary:    ao.Summary,
			Confidence: ao.Confidence.String(),
			Approved:   ao.Approved,
			Reasoning:  ao.Reasoning,
		})
	}
}

// AppendClosedTrade enqueues a closed trade record.
func (s *Store) AppendClosedTrade(t types.ClosedTrade) {
	s.enqueue(ClosedTradeRow{
		TradeID:    t.TradeID,
		Instrument: t.Instrument,
		Direction:  string(t.Direction),
		Size:       t.Size.String(),
		EntryTime:  t.EntryTime,
		EntryPrice: t.EntryPrice.String(),
		ExitTime:   t.ExitTime,
		ExitPrice:  t.ExitPrice.String(),
		PnLPips:    t.PnLPips.String(),
		PnLCash:    t.PnLCash.String(),
		ExitReason: string(t.ExitReason),
	})
}

// AppendRejectedCycle enqueues a DecisionEngine cycle that ended without a
// signal.
func (s *Store) AppendRejectedCycle(r types.RejectedCycle) {
	s.enqueue(RejectedCycleRow{
		CycleID:     r.CycleID,
		Instrument:  r.Instrument,
		GeneratedAt: r.GeneratedAt,
		Reason:      r.Reason,
		Detail:      r.Detail,
	})
}

// FetchLastCandles reads the last `limit` finalized candles for an
// instrument/timeframe directly from the database, newest last, used for
// warm-start and UnifiedDataFetcher's fallback path.
func (s *Store) FetchLastCandles(ctx context.Context, instrument, timeframe string, limit int) ([]types.Candle, error) {
	var rows []CandleRow
	if err := s.db.WithContext(ctx).
		Where("instrument = ? AND timeframe = ? AND finalized = ?", instrument, timeframe, true).
		Order("open_time desc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]types.Candle, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = types.Candle{
			Instrument: r.Instrument,
			Timeframe:  r.Timeframe,
			OpenTime:   r.OpenTime,
			Open:       mustDecimal(r.O),
			High:       mustDecimal(r.H),
			Low:        mustDecimal(r.L),
			Close:      mustDecimal(r.C),
			Volume:     mustDecimal(r.V),
			Finalized:  r.Finalized,
		}
	}
	return out, nil
}

// DroppedCount reports how many rows have been dropped due to a full
// write buffer since startup, for the metrics/status surface.
func (s *Store) DroppedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
