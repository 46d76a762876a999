package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/drivers"
	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

type fakeAggregator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAggregator) FetchAggregateIndicators(ctx context.Context, instrument string) (drivers.TAAggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return drivers.TAAggregate{}, f.err
	}
	return drivers.TAAggregate{Buy: 5, Sell: 2, Neutral: 1, Consensus: types.ConsensusBullish, Confidence: decimal.NewFromFloat(0.7)}, nil
}

func (f *fakeAggregator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTAStore struct {
	mu   sync.Mutex
	rows []types.TAIndicatorSnapshot
}

func (s *fakeTAStore) AppendTASnapshot(t types.TAIndicatorSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, t)
}

func (s *fakeTAStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func newTestPoller(agg drivers.TAAggregator, s snapshotStore) (*Poller, *hub.Hub) {
	logger := zap.NewNop()
	h := hub.New(logger, config.DefaultHubConfig(), nil)
	cfg := config.DefaultIngestConfig()
	cfg.IndicatorRateQPM = 60
	p := New(logger, cfg, agg, h, s, nil, []string{"EUR_USD"})
	return p, h
}

func TestPollOnceWritesSnapshotToHubAndStore(t *testing.T) {
	agg := &fakeAggregator{}
	s := &fakeTAStore{}
	p, h := newTestPoller(agg, s)

	p.pollOnce(context.Background(), "EUR_USD")

	snap, ok := h.GetLatestTA("EUR_USD")
	if !ok {
		t.Fatalf("expected a TA snapshot in the hub")
	}
	if snap.BuyCount != 5 || snap.SellCount != 2 || snap.NeutralCount != 1 {
		t.Fatalf("unexpected snapshot counts: %+v", snap)
	}
	if s.count() != 1 {
		t.Fatalf("expected 1 persisted snapshot, got %d", s.count())
	}
}

func TestPollOnceSkipsInsteadOfFailingWhenAggregatorErrors(t *testing.T) {
	agg := &fakeAggregator{err: errors.New("upstream unavailable")}
	s := &fakeTAStore{}
	p, h := newTestPoller(agg, s)

	p.pollOnce(context.Background(), "EUR_USD")

	if _, ok := h.GetLatestTA("EUR_USD"); ok {
		t.Fatalf("expected no snapshot written on aggregator error")
	}
	if s.count() != 0 {
		t.Fatalf("expected no persisted snapshot on aggregator error, got %d", s.count())
	}
}

func TestPollOnceSkipsWhenRateBudgetExhausted(t *testing.T) {
	agg := &fakeAggregator{}
	s := &fakeTAStore{}
	logger := zap.NewNop()
	h := hub.New(logger, config.DefaultHubConfig(), nil)
	cfg := config.DefaultIngestConfig()
	cfg.IndicatorRateQPM = 1
	p := New(logger, cfg, agg, h, s, nil, []string{"EUR_USD", "GBP_USD"})

	// capacity defaults to the rate, so exactly one token is available up front.
	p.pollOnce(context.Background(), "EUR_USD")
	p.pollOnce(context.Background(), "GBP_USD")

	if agg.callCount() != 1 {
		t.Fatalf("expected the second poll to be skipped by the rate budget, got %d calls", agg.callCount())
	}
}

func TestNextIntervalStaysWithinConfiguredBounds(t *testing.T) {
	agg := &fakeAggregator{}
	s := &fakeTAStore{}
	p, _ := newTestPoller(agg, s)
	p.cfg.IndicatorPollMin = 60 * time.Second
	p.cfg.IndicatorPollMax = 300 * time.Second

	for i := 0; i < 50; i++ {
		d := p.nextInterval()
		if d < p.cfg.IndicatorPollMin || d >= p.cfg.IndicatorPollMax {
			t.Fatalf("interval %s outside [%s, %s)", d, p.cfg.IndicatorPollMin, p.cfg.IndicatorPollMax)
		}
	}
}
