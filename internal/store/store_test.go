package store

import (
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
)

func newTestStore(bufferSize int) *Store {
	return &Store{
		logger:  zap.NewNop(),
		cfg:     config.StoreConfig{FlushBufferSize: bufferSize},
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	s := newTestStore(2)

	s.enqueue(CandleRow{Instrument: "EUR_USD", OpenTime: mustTime(1)})
	s.enqueue(CandleRow{Instrument: "EUR_USD", OpenTime: mustTime(2)})
	s.enqueue(CandleRow{Instrument: "EUR_USD", OpenTime: mustTime(3)})

	if s.DroppedCount() != 1 {
		t.Fatalf("expected 1 dropped row, got %d", s.DroppedCount())
	}
	if len(s.pending) != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", len(s.pending))
	}
	first := s.pending[0].(CandleRow)
	if !first.OpenTime.Equal(mustTime(2)) {
		t.Fatalf("expected oldest row (open_time=1) to have been dropped, buffer head is %v", first.OpenTime)
	}
}

func TestMustDecimalRoundTrip(t *testing.T) {
	d := mustDecimal("1.08341")
	if d.String() != "1.08341" {
		t.Fatalf("round-trip mismatch: got %s", d.String())
	}
	if got := mustDecimal("not-a-number"); !got.IsZero() {
		t.Fatalf("expected zero decimal for unparsable input, got %s", got.String())
	}
}
