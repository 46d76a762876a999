// Command server wires every component of the FX scalping platform into
// one process: the market data hub, the three ingestion pipelines, the
// decision engine, trade lifecycle, news gater, event bus, the loopback
// hub RPC surface, and a Prometheus /metrics endpoint. Grounded in the
// teacher's cmd/server/main.go construct-then-launch-then-sigchan
// shutdown sequence, generalized onto internal/supervisor instead of a
// hand-written chain of start/stop calls.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/agents"
	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/decision"
	"github.com/atlas-desktop/fx-scalper/internal/drivers"
	"github.com/atlas-desktop/fx-scalper/internal/events"
	"github.com/atlas-desktop/fx-scalper/internal/fetch"
	"github.com/atlas-desktop/fx-scalper/internal/gates"
	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/internal/hubrpc"
	"github.com/atlas-desktop/fx-scalper/internal/ingest/indicator"
	"github.com/atlas-desktop/fx-scalper/internal/ingest/orderflow"
	"github.com/atlas-desktop/fx-scalper/internal/ingest/spot"
	"github.com/atlas-desktop/fx-scalper/internal/lifecycle"
	"github.com/atlas-desktop/fx-scalper/internal/log"
	"github.com/atlas-desktop/fx-scalper/internal/metrics"
	"github.com/atlas-desktop/fx-scalper/internal/news"
	"github.com/atlas-desktop/fx-scalper/internal/ratelimit"
	"github.com/atlas-desktop/fx-scalper/internal/store"
	"github.com/atlas-desktop/fx-scalper/internal/supervisor"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML/JSON config overlay")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	devLog := flag.Bool("dev", false, "use development (console) log encoding")
	flag.Parse()

	logger, err := log.New(*logLevel, *devLog)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	instruments := instrumentCatalog()
	instrumentSymbols := make([]string, 0, len(instruments))
	instrumentsByCurrency := map[string][]string{}
	futuresSymbolMap := orderflow.SymbolMap{}
	for symbol, inst := range instruments {
		instrumentSymbols = append(instrumentSymbols, symbol)
		instrumentsByCurrency[inst.BaseCurrency] = append(instrumentsByCurrency[inst.BaseCurrency], symbol)
		instrumentsByCurrency[inst.QuoteCurrency] = append(instrumentsByCurrency[inst.QuoteCurrency], symbol)
		if inst.FuturesSymbol != "" {
			futuresSymbolMap[inst.FuturesSymbol] = symbol
		}
	}

	metricsReg := metrics.New()

	persistStore, err := store.Open(logger, cfg.Store)
	if err != nil {
		logger.Fatal("failed to open persistence store", zap.Error(err))
	}
	defer persistStore.Close()

	marketHub := hub.New(logger, cfg.Hub, metricsReg)
	if err := marketHub.WarmStart(instrumentSymbols, "1m", func(instrument, timeframe string, limit int) ([]types.Candle, error) {
		return persistStore.FetchLastCandles(context.Background(), instrument, timeframe, limit)
	}, 300); err != nil {
		logger.Warn("warm start failed, continuing with an empty candle window", zap.Error(err))
	}
	fetcher := fetch.New(logger, marketHub, persistStore, instruments)
	newsGater := news.New(logger, cfg.News)
	gatesEval := gates.New(cfg.Gates, htfLevelFunc(marketHub, instruments), newsGater)

	eventBus := events.NewBus(logger, events.DefaultConfig())

	// External collaborators (broker, futures order-flow feed, TA
	// aggregator, news calendar, LLM) are referenced by interface only
	// (internal/drivers) per the platform's external-interfaces contract;
	// no concrete network client ships in this repo. A real deployment
	// plugs concrete implementations in here before Start is called.
	var (
		broker            drivers.Broker
		orderFlowProvider drivers.OrderFlowProvider
		taAggregator      drivers.TAAggregator
		newsClient        drivers.NewsClient
		llm               drivers.LLM
	)

	llmBucket := ratelimit.NewBucket("llm-debate", cfg.Decision.LLMCallsPerMinute, cfg.Decision.LLMCallsPerMinute, func(name string) {
		metricsReg.RateLimiterThrottled.WithLabelValues(name).Inc()
	})
	panel := agents.NewPanel(logger, llm, llmBucket, 10*time.Second, 5*time.Minute)

	lifecycleMgr := lifecycle.New(logger, cfg.Lifecycle, instruments, broker, marketHub, newsGater, persistStore, metricsReg)
	decisionEngine := decision.New(logger, cfg.Decision, instruments, fetcher, gatesEval, panel, lifecycleMgr, persistStore, metricsReg)

	spotIngestor := spot.New(logger, cfg.Ingest, broker, marketHub, persistStore, metricsReg, instrumentSymbols)
	orderFlowIngestor := orderflow.New(logger, cfg.Ingest, orderFlowProvider, marketHub, persistStore, metricsReg, futuresSymbolMap)
	indicatorPoller := indicator.New(logger, cfg.Ingest, taAggregator, marketHub, persistStore, metricsReg, instrumentSymbols)

	rpcServer := hubrpc.New(logger, cfg.HubRPC, marketHub)
	metricsSrv := &http.Server{Addr: ":9464", Handler: promHandler(metricsReg)}

	marketHub.SetBus(eventBus)
	newsGater.SetBus(eventBus)
	lifecycleMgr.SetBus(eventBus)
	decisionEngine.SetBus(eventBus)
	orderFlowIngestor.SetBus(eventBus)
	indicatorPoller.SetBus(eventBus)

	sup := supervisor.New(logger)
	sup.Register(supervisor.Task{
		Name:  "event-bus",
		Start: func(ctx context.Context) {},
		Stop:  func(ctx context.Context) error { eventBus.Stop(); return nil },
	})
	sup.Register(supervisor.Task{
		Name:  "news-gater",
		Start: func(ctx context.Context) { newsGater.Start(ctx, newsClient, instrumentsByCurrency) },
		Stop:  func(ctx context.Context) error { newsGater.Stop(); return nil },
	})
	sup.Register(supervisor.Task{
		Name:  "spot-ingestor",
		Start: func(ctx context.Context) { spotIngestor.Start(ctx) },
		Stop:  func(ctx context.Context) error { spotIngestor.Stop(); return nil },
	})
	sup.Register(supervisor.Task{
		Name:  "orderflow-ingestor",
		Start: func(ctx context.Context) { orderFlowIngestor.Start(ctx) },
		Stop:  func(ctx context.Context) error { orderFlowIngestor.Stop(); return nil },
	})
	sup.Register(supervisor.Task{
		Name:  "indicator-poller",
		Start: func(ctx context.Context) { indicatorPoller.Start(ctx) },
		Stop:  func(ctx context.Context) error { indicatorPoller.Stop(); return nil },
	})
	sup.Register(supervisor.Task{
		Name:  "lifecycle-monitor",
		Start: func(ctx context.Context) { lifecycleMgr.Start(ctx) },
		Stop:  func(ctx context.Context) error { lifecycleMgr.Stop(); return nil },
	})
	sup.Register(supervisor.Task{
		Name:  "decision-engine",
		Start: func(ctx context.Context) { decisionEngine.Start(ctx) },
		Stop:  func(ctx context.Context) error { decisionEngine.Stop(); return nil },
	})
	sup.Register(supervisor.Task{
		Name: "hub-rpc",
		Start: func(ctx context.Context) {
			go func() {
				if err := rpcServer.Start(); err != nil && err != http.ErrServerClosed {
					logger.Error("hub rpc server error", zap.Error(err))
				}
			}()
		},
		Stop: func(ctx context.Context) error { return rpcServer.Stop(ctx) },
	})
	sup.Register(supervisor.Task{
		Name: "metrics-server",
		Start: func(ctx context.Context) {
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
		},
		Stop: func(ctx context.Context) error { return metricsSrv.Shutdown(ctx) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("fx-scalper starting",
		zap.Strings("instruments", instrumentSymbols),
		zap.String("hub_rpc_addr", cfg.HubRPC.ListenAddr),
	)
	sup.Run(ctx)
	logger.Info("fx-scalper stopped")
}

func promHandler(r *metrics.Registry) http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// instrumentCatalog is the static set of pairs this deployment scalps.
// A production rollout would load this from the config overlay; it is
// hardcoded here the way the teacher hardcodes its TradingPairs list in
// main() (cmd/server/main.go's "[]string{"BTCUSDT", "ETHUSDT", ...}").
func instrumentCatalog() map[string]types.Instrument {
	london := types.SessionWindow{Name: "london", Start: 7 * time.Hour, End: 16 * time.Hour}
	newYork := types.SessionWindow{Name: "new_york", Start: 12 * time.Hour, End: 21 * time.Hour}
	tokyo := types.SessionWindow{Name: "tokyo", Start: 0, End: 9 * time.Hour}

	return map[string]types.Instrument{
		"EUR_USD": {
			Symbol: "EUR_USD", BaseCurrency: "EUR", QuoteCurrency: "USD",
			PipSize: decimalFromString("0.0001"), DecimalPlacesFactor: decimalFromString("100000"),
			FuturesSymbol: "6E", Sessions: []types.SessionWindow{london, newYork},
		},
		"GBP_USD": {
			Symbol: "GBP_USD", BaseCurrency: "GBP", QuoteCurrency: "USD",
			PipSize: decimalFromString("0.0001"), DecimalPlacesFactor: decimalFromString("100000"),
			FuturesSymbol: "6B", Sessions: []types.SessionWindow{london, newYork},
		},
		"USD_JPY": {
			Symbol: "USD_JPY", BaseCurrency: "USD", QuoteCurrency: "JPY",
			PipSize: decimalFromString("0.01"), DecimalPlacesFactor: decimalFromString("1000"),
			FuturesSymbol: "6J", Sessions: []types.SessionWindow{tokyo, newYork},
		},
	}
}

func decimalFromString(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// htfLevelFuncLookback is the number of finalized 1-minute candles treated
// as the higher-timeframe window. No dedicated HTF ingestor exists in this
// repo (SpotTickIngestor only finalizes 1m candles), so the nearest
// support/resistance level is proxied as the highest high / lowest low over
// this lookback, computed from the same candles already in the hub. The
// hub's window holds at most MaxCandles finalized candles, so the
// effective lookback is the smaller of the two.
const htfLevelFuncLookback = 240

// htfLevelFunc builds a gates.HTFLevelFunc backed by the market data hub's
// own 1-minute candle window, standing in for a dedicated HTF feed.
func htfLevelFunc(h *hub.Hub, instruments map[string]types.Instrument) gates.HTFLevelFunc {
	return func(instrument string, price decimal.Decimal) decimal.Decimal {
		candles := h.GetLatestCandles(instrument, "1m", htfLevelFuncLookback)
		if len(candles) == 0 {
			return decimal.Zero
		}
		high, low := candles[0].High, candles[0].Low
		for _, c := range candles[1:] {
			if c.High.GreaterThan(high) {
				high = c.High
			}
			if c.Low.LessThan(low) {
				low = c.Low
			}
		}
		distToHigh := high.Sub(price).Abs()
		distToLow := price.Sub(low).Abs()
		nearest := distToHigh
		if distToLow.LessThan(nearest) {
			nearest = distToLow
		}
		inst, ok := instruments[instrument]
		if !ok {
			return nearest
		}
		return inst.ToPips(nearest)
	}
}
