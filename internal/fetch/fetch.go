// Package fetch implements UnifiedDataFetcher: the DecisionEngine's
// read-side facade that consults the hub and falls back to the store.
// Other readers (TradeLifecycle's tick source, the HTF-level function in
// cmd/server, and the hub RPC surface) read the hub directly.
package fetch

import (
	"context"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/internal/store"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

const (
	minCandles      = 20
	defaultCandles  = 100
	defaultTimeframe = "1m"
)

// Fetcher is the UnifiedDataFetcher: a pure function over hub state (with
// a store fallback) — it performs no writes.
type Fetcher struct {
	hub    *hub.Hub
	store  *store.Store
	logger *zap.Logger
	instruments map[string]types.Instrument
}

// New constructs a Fetcher.
func New(logger *zap.Logger, h *hub.Hub, s *store.Store, instruments map[string]types.Instrument) *Fetcher {
	return &Fetcher{hub: h, store: s, logger: logger, instruments: instruments}
}

// Fetch assembles a MarketView for an instrument per spec §4.F's five-step
// algorithm.
func (f *Fetcher) Fetch(ctx context.Context, instrument string) types.MarketView {
	view := types.MarketView{Instrument: instrument}

	candles := f.hub.GetLatestCandles(instrument, defaultTimeframe, defaultCandles)
	if len(candles) < minCandles && f.store != nil {
		fallback, err := f.store.FetchLastCandles(ctx, instrument, defaultTimeframe, defaultCandles)
		if err != nil {
			f.logger.Warn("store fallback for candles failed", zap.String("instrument", instrument), zap.Error(err))
		} else if len(fallback) > len(candles) {
			candles = fallback
		}
	}
	view.Candles = candles
	if len(candles) < minCandles {
		view.Warnings = append(view.Warnings, "insufficient_candles")
	}

	if tick, ok := f.hub.GetLatestTick(instrument); ok {
		view.Bid = tick.Bid
		view.Ask = tick.Ask
		view.HasTick = true
		if inst, ok := f.instruments[instrument]; ok {
			view.SpreadPips = tick.SpreadPips(inst)
			view.HasSpread = true
		}
	} else {
		view.Warnings = append(view.Warnings, "spread_unavailable")
	}

	stale := f.hub.CheckStaleness(instrument, defaultTimeframe, nowFn())
	if ta, ok := f.hub.GetLatestTA(instrument); ok {
		view.TA = &ta
		if stale.TAStale {
			view.Warnings = append(view.Warnings, "ta_stale")
		}
	}
	if of, ok := f.hub.GetLatestOrderFlow(instrument); ok {
		view.OrderFlow = &of
		if stale.OFStale {
			view.Warnings = append(view.Warnings, "order_flow_stale")
		}
	}

	return view
}

// nowFn is a seam for deterministic tests.
var nowFn = defaultNow
