// Package news implements NewsGater: it maintains a set of GatingWindows
// derived from an economic calendar feed and answers "is this instrument
// gated right now" for PreTradeGates and TradeLifecycle. Grounded in the
// teacher's internal/data/store.go single-lock-over-maps idiom, reused
// here for a calendar-keyed cache instead of a market-data cache.
package news

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/drivers"
	"github.com/atlas-desktop/fx-scalper/internal/events"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

// Gater tracks gating windows per instrument, transitioning them through
// scheduled -> active -> cleared as wall-clock time passes.
type Gater struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	cfg     config.NewsConfig
	windows map[string][]types.GatingWindow // keyed by instrument

	client                drivers.NewsClient
	instrumentsByCurrency map[string][]string
	bus                   *events.Bus

	stopCh chan struct{}
	doneCh chan struct{}
}

// SetBus attaches an event bus that window state transitions are
// published to. Optional: without one, the gater behaves identically.
func (g *Gater) SetBus(b *events.Bus) {
	g.bus = b
}

// New constructs a Gater with no windows loaded.
func New(logger *zap.Logger, cfg config.NewsConfig) *Gater {
	return &Gater{
		logger:  logger,
		cfg:     cfg,
		windows: make(map[string][]types.GatingWindow),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the background refresh/transition loop. client fetches
// the economic calendar every RefreshInterval; the gating windows derived
// from it transition every TransitionInterval regardless of whether a
// fresh calendar arrived. client may be nil, in which case only the
// transition loop runs (useful when events are seeded directly via
// LoadEvents, e.g. in tests or a future offline calendar feed).
func (g *Gater) Start(ctx context.Context, client drivers.NewsClient, instrumentsByCurrency map[string][]string) {
	g.client = client
	g.instrumentsByCurrency = instrumentsByCurrency
	go g.loop(ctx)
}

// Stop halts the background loop and waits for it to exit.
func (g *Gater) Stop() {
	close(g.stopCh)
	<-g.doneCh
}

func (g *Gater) loop(ctx context.Context) {
	defer close(g.doneCh)

	refresh := time.NewTicker(g.cfg.RefreshInterval)
	defer refresh.Stop()
	transition := time.NewTicker(g.cfg.TransitionInterval)
	defer transition.Stop()

	if g.client != nil {
		g.refresh(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-refresh.C:
			g.refresh(ctx)
		case <-transition.C:
			g.Transition(time.Now().UTC())
		}
	}
}

func (g *Gater) refresh(ctx context.Context) {
	if g.client == nil {
		return
	}
	now := time.Now().UTC()
	events, err := g.client.FetchCalendar(ctx, now, now.Add(7*24*time.Hour))
	if err != nil {
		g.logger.Warn("news calendar fetch failed", zap.Error(err))
		return
	}
	g.LoadEvents(events, g.instrumentsByCurrency)
}

// LoadEvents replaces the gating windows derived from a freshly-fetched
// economic calendar. Each high/medium importance event affecting a known
// currency produces one window per instrument that trades that currency,
// spanning [scheduled_time - PreEventWindow, scheduled_time + PostEventWindow].
func (g *Gater) LoadEvents(events []types.EconomicEvent, instrumentsByCurrency map[string][]string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := make(map[string][]types.GatingWindow)
	for _, ev := range events {
		if ev.Importance == types.ImportanceLow {
			continue
		}
		instruments := instrumentsByCurrency[ev.Currency]
		for _, inst := range instruments {
			w := types.GatingWindow{
				Instrument:    inst,
				State:         types.GatingScheduled,
				WindowStart:   ev.ScheduledTime.Add(-g.cfg.PreEventWindow),
				WindowEnd:     ev.ScheduledTime.Add(g.cfg.PostEventWindow),
				Reason:        ev.EventName,
				LinkedEventID: ev.EventID,
			}
			next[inst] = append(next[inst], w)
		}
	}
	g.windows = next
}

// Transition advances every window's state against the current time:
// scheduled windows whose start has arrived become active, active windows
// whose end has passed become cleared. Cleared windows are pruned.
func (g *Gater) Transition(now time.Time) {
	g.mu.Lock()

	var transitioned []types.GatingWindow
	for inst, ws := range g.windows {
		kept := ws[:0]
		for _, w := range ws {
			prev := w.State
			switch {
			case now.Before(w.WindowStart):
				w.State = types.GatingScheduled
				kept = append(kept, w)
			case now.After(w.WindowEnd):
				w.State = types.GatingCleared
				// cleared windows are dropped, not retained.
			default:
				w.State = types.GatingActive
				kept = append(kept, w)
			}
			if w.State != prev {
				transitioned = append(transitioned, w)
			}
		}
		g.windows[inst] = kept
	}
	g.mu.Unlock()

	if g.bus != nil {
		for _, w := range transitioned {
			g.bus.Publish(events.NewGateTransitionEvent(w, now))
		}
	}
}

// IsGated reports whether the instrument has an active gating window at
// the given time, returning the first such window found.
func (g *Gater) IsGated(instrument string, now time.Time) (types.GatingWindow, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, w := range g.windows[instrument] {
		if w.State == types.GatingActive && !now.Before(w.WindowStart) && !now.After(w.WindowEnd) {
			return w, true
		}
	}
	return types.GatingWindow{}, false
}

// Windows returns a copy of all currently tracked windows for an instrument,
// regardless of state — used by status/diagnostic surfaces.
func (g *Gater) Windows(instrument string) []types.GatingWindow {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]types.GatingWindow, len(g.windows[instrument]))
	copy(out, g.windows[instrument])
	return out
}
