// Package drivers declares the external-collaborator contracts this
// platform depends on but does not implement: the broker streaming/REST
// driver, the futures order-flow provider, the TA aggregator client, the
// news calendar client, and the LLM completion driver. Per the
// specification these are out of scope — referenced by interface only.
// Test doubles implementing these interfaces live alongside the package
// tests that exercise the components which consume them.
package drivers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

// Position is a broker-reported open position, used for reconciliation.
type Position struct {
	Instrument string
	Direction  types.Direction
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	DealRef    string
}

// AccountSnapshot is a broker account balance/margin snapshot.
type AccountSnapshot struct {
	Equity    decimal.Decimal
	Margin    decimal.Decimal
	FreeMargin decimal.Decimal
}

// OrderResult is the broker's response to a market order submission.
type OrderResult struct {
	DealRef string
	Retryable bool
	Rejected  bool
	AuthInvalid bool
	Message   string
}

// Broker is the streaming/REST contract for order submission, account
// data and credential refresh (spec §6, "Broker driver").
type Broker interface {
	OpenSession(ctx context.Context) error
	RefreshSessionIfExpired(ctx context.Context) error
	SubscribeTicks(ctx context.Context, instruments []string, onTick func(types.Tick)) error
	FetchCandles(ctx context.Context, instrument, timeframe string, count int) ([]types.Candle, error)
	FetchOpenPositions(ctx context.Context) ([]Position, error)
	PlaceMarketOrder(ctx context.Context, tradeID, instrument string, dir types.Direction, size, slDistancePips, tpDistancePips decimal.Decimal) (OrderResult, error)
	ClosePosition(ctx context.Context, dealRef string) error
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// OrderFlowEvent is a single market-by-price or trade event from the
// futures stream, already classified by aggressor side.
type OrderFlowEvent struct {
	FuturesSymbol string
	EventTime     time.Time
	Price         decimal.Decimal
	Size          decimal.Decimal
	IsBuyAggressor bool
	IsTrade        bool
	LevelsConsumed int
}

// OrderFlowProvider streams market-by-price and trade events for futures
// symbols (spec §6, "Order-flow provider driver").
type OrderFlowProvider interface {
	SubscribeMBPAndTrades(ctx context.Context, futuresSymbols []string, onEvent func(OrderFlowEvent)) error
}

// TAAggregate is the parsed response from the external TA aggregator.
type TAAggregate struct {
	Buy, Sell, Neutral int
	Consensus          types.Consensus
	Confidence         decimal.Decimal
}

// TAAggregator fetches aggregate technical-indicator consensus for an
// instrument (spec §6, "TA aggregator client"), subject to a
// provider-imposed QPS enforced by internal/ratelimit.
type TAAggregator interface {
	FetchAggregateIndicators(ctx context.Context, instrument string) (TAAggregate, error)
}

// NewsClient fetches the economic calendar for a time range, polled every
// 60s by NewsGater (spec §6, "News client").
type NewsClient interface {
	FetchCalendar(ctx context.Context, from, to time.Time) ([]types.EconomicEvent, error)
}

// LLMMessage is one turn in an LLM completion request.
type LLMMessage struct {
	Role    string
	Content string
}

// LLM is the completion contract consumed by the agent debate (spec §6,
// "LLM driver"). Responses must be JSON-structured; callers are
// responsible for up to two repair re-prompts on non-JSON output before
// rejecting.
type LLM interface {
	Complete(ctx context.Context, messages []LLMMessage, maxTokens int, timeout time.Duration) (string, error)
}
