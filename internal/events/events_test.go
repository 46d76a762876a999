package events

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

func TestPublishSyncDeliversToTypeAndAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop(), DefaultConfig())
	defer bus.Stop()

	var mu sync.Mutex
	var typedSeen, allSeen int

	bus.Subscribe(TypeSignal, func(ev Event) error {
		mu.Lock()
		typedSeen++
		mu.Unlock()
		return nil
	}, SubscribeOptions{Async: false})

	bus.SubscribeAll(func(ev Event) error {
		mu.Lock()
		allSeen++
		mu.Unlock()
		return nil
	}, SubscribeOptions{Async: false})

	sig := types.Signal{Instrument: "EUR_USD", CycleID: "c1", GeneratedAt: time.Now()}
	bus.PublishSync(NewSignalEvent(sig))

	mu.Lock()
	defer mu.Unlock()
	if typedSeen != 1 {
		t.Fatalf("expected 1 typed subscriber delivery, got %d", typedSeen)
	}
	if allSeen != 1 {
		t.Fatalf("expected 1 all-subscriber delivery, got %d", allSeen)
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := NewBus(zap.NewNop(), Config{NumWorkers: 1, BufferSize: 1})
	defer bus.Stop()

	block := make(chan struct{})
	bus.Subscribe(TypeSignal, func(ev Event) error {
		<-block
		return nil
	}, SubscribeOptions{Async: false})

	// first publish is picked up by the single worker and blocks on <-block;
	// second fills the 1-slot buffer; third must be dropped.
	bus.Publish(NewSignalEvent(types.Signal{Instrument: "EUR_USD"}))
	time.Sleep(20 * time.Millisecond)
	bus.Publish(NewSignalEvent(types.Signal{Instrument: "EUR_USD"}))
	bus.Publish(NewSignalEvent(types.Signal{Instrument: "EUR_USD"}))
	close(block)

	stats := bus.Stats()
	if stats.Dropped != 1 {
		t.Fatalf("expected exactly 1 dropped event, got %d", stats.Dropped)
	}
}

func TestHandlerPanicIsRecoveredAndCounted(t *testing.T) {
	bus := NewBus(zap.NewNop(), DefaultConfig())
	defer bus.Stop()

	bus.Subscribe(TypeTradeOpened, func(ev Event) error {
		panic("boom")
	}, SubscribeOptions{Async: false})

	bus.PublishSync(NewTradeOpenedEvent(types.ActiveTrade{Instrument: "EUR_USD"}))

	stats := bus.Stats()
	if stats.Errors != 1 {
		t.Fatalf("expected panic to be recorded as 1 error, got %d", stats.Errors)
	}
}
