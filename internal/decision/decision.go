// Package decision implements DecisionEngine: the per-cycle, per-symbol
// pipeline that runs gates, pattern detectors, and the tiered agent
// debate to produce either a Signal or a RejectedCycle. Grounded in the
// teacher's internal/orchestrator/orchestrator.go construct/Start/Stop
// ticker-loop shape, fanning sub-tasks out through internal/workers.Pool
// exactly as the teacher dispatches per-symbol work.
package decision

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/agents"
	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/events"
	"github.com/atlas-desktop/fx-scalper/internal/fetch"
	"github.com/atlas-desktop/fx-scalper/internal/gates"
	"github.com/atlas-desktop/fx-scalper/internal/metrics"
	"github.com/atlas-desktop/fx-scalper/internal/patterns"
	"github.com/atlas-desktop/fx-scalper/internal/store"
	"github.com/atlas-desktop/fx-scalper/internal/workers"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

const minCandlesForCycle = 20

// TradeOpener is TradeLifecycle's creation-path contract. DecisionEngine
// depends on this interface, not on the lifecycle package directly, so
// the two packages stay decoupled (lifecycle never needs to know how a
// signal was produced).
type TradeOpener interface {
	Open(ctx context.Context, sig types.Signal) (types.ActiveTrade, error)
}

// Engine runs one decision cycle per instrument on a 60s ticker, fanning
// sub-tasks out through a bounded worker pool so at most a handful of
// LLM calls are in flight at once.
type Engine struct {
	logger      *zap.Logger
	cfg         config.DecisionConfig
	instruments map[string]types.Instrument
	fetcher     *fetch.Fetcher
	gates       *gates.Gates
	panel       *agents.Panel
	opener      TradeOpener
	store       *store.Store
	metrics     *metrics.Registry
	pool        *workers.Pool
	bus         *events.Bus

	stopCh chan struct{}
	doneCh chan struct{}
}

// SetBus attaches an event bus that cycle outcomes are published to.
// Optional: without one, the engine behaves identically.
func (e *Engine) SetBus(b *events.Bus) {
	e.bus = b
}

// New constructs a DecisionEngine. store and m may be nil.
func New(logger *zap.Logger, cfg config.DecisionConfig, instruments map[string]types.Instrument,
	fetcher *fetch.Fetcher, gatesEval *gates.Gates, panel *agents.Panel, opener TradeOpener,
	s *store.Store, m *metrics.Registry) *Engine {

	poolCfg := workers.DefaultPoolConfig("decision-engine")
	poolCfg.NumWorkers = cfg.WorkerPoolSize
	if poolCfg.NumWorkers <= 0 {
		poolCfg.NumWorkers = 4
	}
	poolCfg.TaskTimeout = cfg.HardDeadline

	return &Engine{
		logger:      logger,
		cfg:         cfg,
		instruments: instruments,
		fetcher:     fetcher,
		gates:       gatesEval,
		panel:       panel,
		opener:      opener,
		store:       s,
		metrics:     m,
		pool:        workers.NewPool(logger, poolCfg),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the worker pool and the cycle-scheduling ticker loop.
func (e *Engine) Start(ctx context.Context) {
	e.pool.Start()
	go e.loop(ctx)
}

// Stop halts the ticker loop and drains the worker pool.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
	_ = e.pool.Stop()
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.fanOut(ctx)
		}
	}
}

// fanOut submits one cycle task per instrument to the bounded pool.
// Within a single instrument, consecutive cycles are always serialized
// because SubmitWait blocks each instrument's goroutine until its task
// completes and fanOut waits for all of them before the loop takes the
// next tick — there is exactly one in-flight cycle per instrument at a
// time, per spec §5.
func (e *Engine) fanOut(ctx context.Context) {
	var wg sync.WaitGroup
	for symbol, inst := range e.instruments {
		symbol, inst := symbol, inst
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := workers.TaskFunc(func() error {
				e.RunCycle(ctx, inst)
				return nil
			})
			if err := e.pool.SubmitWait(task); err != nil {
				e.logger.Warn("decision cycle not submitted", zap.String("instrument", symbol), zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

// RunCycle executes the full per-instrument algorithm described in the
// component design: fetch, gate, pattern, tier, debate, blend, recheck,
// size, open. Every exit path records either a Signal or a RejectedCycle.
func (e *Engine) RunCycle(ctx context.Context, inst types.Instrument) {
	cycleID := uuid.NewString()
	now := time.Now().UTC()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.HardDeadline)
	defer cancel()

	if e.metrics != nil {
		timer := time.Now()
		defer func() {
			e.metrics.DecisionCycleSeconds.WithLabelValues(inst.Symbol).Observe(time.Since(timer).Seconds())
		}()
	}

	view := e.fetcher.Fetch(ctx, inst.Symbol)
	if len(view.Candles) < minCandlesForCycle {
		e.reject(inst.Symbol, cycleID, now, "insufficient_data", "")
		return
	}

	gateResult := e.gates.Evaluate(inst, view, now)
	if !gateResult.AllPassed {
		e.reject(inst.Symbol, cycleID, now, "gates_failed", gateResult.FirstFailure())
		return
	}

	pattern := patterns.Detect(inst, view.Candles)
	if !pattern.Detected {
		e.reject(inst.Symbol, cycleID, now, "no_pattern", "")
		return
	}

	switch {
	case pattern.Score.LessThan(e.cfg.RejectScoreMax):
		e.reject(inst.Symbol, cycleID, now, "low_pattern_score", pattern.Score.String())
		return
	case pattern.Score.LessThan(e.cfg.BorderlineScoreMax):
		e.logger.Info("borderline pattern shadow candidate",
			zap.String("instrument", inst.Symbol), zap.String("pattern", pattern.Pattern), zap.Stringer("score", pattern.Score))
		e.reject(inst.Symbol, cycleID, now, "borderline_pattern", pattern.Score.String())
		return
	}

	tier := types.TierLLMValidate
	if pattern.Score.GreaterThanOrEqual(e.cfg.AutoApproveScoreMin) {
		tier = types.TierAutoApprove
	}

	trace, err := e.panel.Debate(ctx, inst, view, pattern)
	if err != nil {
		e.reject(inst.Symbol, cycleID, now, "agent_debate_failed", err.Error())
		return
	}

	if tier != types.TierAutoApprove {
		if trace.ValidatorJudge == nil || !trace.ValidatorJudge.Approved {
			e.reject(inst.Symbol, cycleID, now, "validator_rejected", "")
			return
		}
	}

	if trace.RiskJudge == nil || !trace.RiskJudge.Approved {
		e.reject(inst.Symbol, cycleID, now, "risk_rejected", "")
		return
	}

	confidence := e.blendConfidence(pattern, trace)

	// Spread recheck (step 8): abort if the spread has since widened out
	// of range — the tick may have moved since the fetch at step 1.
	recheckView := e.fetcher.Fetch(ctx, inst.Symbol)
	spreadResult := e.gates.Evaluate(inst, recheckView, time.Now())
	if !spreadResult.AllPassed {
		e.reject(inst.Symbol, cycleID, now, "spread_recheck_failed", spreadResult.FirstFailure())
		return
	}

	direction := directionFromMetadata(pattern)
	entry := recheckView.Bid.Add(recheckView.Ask).Div(decimal.NewFromInt(2))
	tpPips, slPips := e.cfg.DefaultTPPips, e.cfg.DefaultSLPips
	if tpPips.Div(slPips).LessThan(e.cfg.MinRiskReward) {
		e.reject(inst.Symbol, cycleID, now, "risk_reward_below_minimum", "")
		return
	}

	var tp, sl decimal.Decimal
	if direction == types.DirectionLong {
		tp = entry.Add(inst.FromPips(tpPips))
		sl = entry.Sub(inst.FromPips(slPips))
	} else {
		tp = entry.Sub(inst.FromPips(tpPips))
		sl = entry.Add(inst.FromPips(slPips))
	}

	sizeLots := e.sizeForTier(tier, trace.RiskJudge.Confidence)
	if sizeLots.IsZero() {
		e.reject(inst.Symbol, cycleID, now, "risk_judge_zero_size", "")
		return
	}

	sig := types.Signal{
		Instrument:   inst.Symbol,
		CycleID:      cycleID,
		GeneratedAt:  now,
		Direction:    direction,
		EntryPrice:   entry,
		TP:           tp,
		SL:           sl,
		Confidence:   confidence,
		Pattern:      pattern.Pattern,
		PatternScore: pattern.Score,
		Tier:         tier,
		SizeLots:     sizeLots,
		Trace:        trace,
		Reason:       "ok",
	}

	if e.store != nil {
		e.store.AppendSignal(sig)
	}
	if e.metrics != nil {
		e.metrics.DecisionOutcomeTotal.WithLabelValues(string(tier), "ok").Inc()
	}
	if e.bus != nil {
		e.bus.Publish(events.NewSignalEvent(sig))
	}

	if e.opener != nil {
		if _, err := e.opener.Open(ctx, sig); err != nil {
			e.logger.Warn("signal approved but trade open failed",
				zap.String("instrument", inst.Symbol), zap.String("cycle_id", cycleID), zap.Error(err))
		}
	}
}

func (e *Engine) reject(instrument, cycleID string, now time.Time, reason, detail string) {
	e.logger.Info("cycle rejected", zap.String("instrument", instrument), zap.String("cycle_id", cycleID), zap.String("reason", reason))
	if e.store != nil {
		e.store.AppendRejectedCycle(types.RejectedCycle{
			Instrument:  instrument,
			CycleID:     cycleID,
			GeneratedAt: now,
			Reason:      reason,
			Detail:      detail,
		})
	}
	if e.metrics != nil {
		e.metrics.DecisionOutcomeTotal.WithLabelValues("reject", reason).Inc()
	}
	if e.bus != nil {
		e.bus.Publish(events.NewRejectedCycleEvent(types.RejectedCycle{
			Instrument:  instrument,
			CycleID:     cycleID,
			GeneratedAt: now,
			Reason:      reason,
			Detail:      detail,
		}))
	}
}

// blendConfidence implements step 7's weighting: 70% pattern score, 30%
// LLM confidence, taking the validator judge's confidence (zero when the
// trace has no validator output).
func (e *Engine) blendConfidence(pattern types.PatternResult, trace types.AgentTrace) decimal.Decimal {
	llmConfidence := decimal.Zero
	if trace.ValidatorJudge != nil {
		llmConfidence = trace.ValidatorJudge.Confidence
	}
	return pattern.Score.Div(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(0.7)).
		Add(llmConfidence.Mul(decimal.NewFromFloat(0.3)))
}

// sizeForTier applies the tiered sizing scheme from step 6: tier 1 (auto
// approve) gets full base size, tier 2 (llm_validate) gets 75%, and a
// risk judge confidence below 0.4 zeroes the size regardless of tier.
func (e *Engine) sizeForTier(tier types.Tier, riskConfidence decimal.Decimal) decimal.Decimal {
	const baseSize = 0.1
	if riskConfidence.LessThan(decimal.NewFromFloat(0.4)) {
		return decimal.Zero
	}
	if tier == types.TierAutoApprove {
		return decimal.NewFromFloat(baseSize)
	}
	return decimal.NewFromFloat(baseSize).Mul(decimal.NewFromFloat(0.75))
}

// directionFromMetadata reads the sign convention each pattern detector
// writes into its Metadata["direction"] field (+1 long, -1 short).
func directionFromMetadata(pattern types.PatternResult) types.Direction {
	if d, ok := pattern.Metadata["direction"]; ok && d.IsNegative() {
		return types.DirectionShort
	}
	return types.DirectionLong
}
