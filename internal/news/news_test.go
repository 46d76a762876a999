package news

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

type fakeCalendarClient struct {
	mu     sync.Mutex
	events []types.EconomicEvent
	calls  int
}

func (f *fakeCalendarClient) FetchCalendar(ctx context.Context, from, to time.Time) ([]types.EconomicEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.events, nil
}

func (f *fakeCalendarClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestLoadEventsAndTransitionGatesInstrument(t *testing.T) {
	cfg := config.DefaultNewsConfig()
	g := New(zap.NewNop(), cfg)

	eventTime := mustTime(1000)
	g.LoadEvents([]types.EconomicEvent{
		{EventID: "nfp", ScheduledTime: eventTime, Currency: "USD", Importance: types.ImportanceHigh, EventName: "NFP"},
	}, map[string][]string{"USD": {"EUR_USD"}})

	before := eventTime.Add(-cfg.PreEventWindow - time.Second)
	g.Transition(before)
	if _, gated := g.IsGated("EUR_USD", before); gated {
		t.Fatalf("expected not gated before window")
	}

	during := eventTime
	g.Transition(during)
	w, gated := g.IsGated("EUR_USD", during)
	if !gated {
		t.Fatalf("expected gated during window")
	}
	if w.Reason != "NFP" {
		t.Fatalf("expected reason NFP, got %q", w.Reason)
	}

	after := eventTime.Add(cfg.PostEventWindow + time.Second)
	g.Transition(after)
	if _, gated := g.IsGated("EUR_USD", after); gated {
		t.Fatalf("expected not gated after window cleared")
	}
}

func mustTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func TestStartFetchesCalendarImmediatelyOnLaunch(t *testing.T) {
	cfg := config.DefaultNewsConfig()
	cfg.RefreshInterval = time.Hour
	cfg.TransitionInterval = time.Hour
	g := New(zap.NewNop(), cfg)

	client := &fakeCalendarClient{events: []types.EconomicEvent{
		{EventID: "nfp", ScheduledTime: time.Now().UTC(), Currency: "USD", Importance: types.ImportanceHigh, EventName: "NFP"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx, client, map[string][]string{"USD": {"EUR_USD"}})
	defer func() {
		cancel()
		g.Stop()
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if client.callCount() >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if client.callCount() < 1 {
		t.Fatalf("expected at least 1 calendar fetch on start, got %d", client.callCount())
	}
	if len(g.Windows("EUR_USD")) != 1 {
		t.Fatalf("expected 1 window loaded from the fetched calendar, got %d", len(g.Windows("EUR_USD")))
	}
}

func TestStartWithNilClientOnlyTransitions(t *testing.T) {
	cfg := config.DefaultNewsConfig()
	cfg.RefreshInterval = time.Hour
	cfg.TransitionInterval = 20 * time.Millisecond
	g := New(zap.NewNop(), cfg)

	eventTime := time.Now().UTC()
	g.LoadEvents([]types.EconomicEvent{
		{EventID: "nfp", ScheduledTime: eventTime, Currency: "USD", Importance: types.ImportanceHigh, EventName: "NFP"},
	}, map[string][]string{"USD": {"EUR_USD"}})

	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx, nil, nil)
	defer func() {
		cancel()
		g.Stop()
	}()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, gated := g.IsGated("EUR_USD", time.Now().UTC()); gated {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected the transition loop to gate the instrument without a calendar client")
}
