// Package config holds the typed configuration structs for every
// component, each with a Default*Config constructor in the teacher's
// idiom, plus a thin viper-backed loader for an optional overlay file.
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// HubConfig configures MarketDataHub staleness TTLs and window sizes.
type HubConfig struct {
	MaxCandles       int           `json:"max_candles" mapstructure:"max_candles"`
	TickTTL          time.Duration `json:"tick_ttl" mapstructure:"tick_ttl"`
	CandleTTL        time.Duration `json:"candle_ttl" mapstructure:"candle_ttl"`
	OrderFlowTTL     time.Duration `json:"order_flow_ttl" mapstructure:"order_flow_ttl"`
	TATTL            time.Duration `json:"ta_ttl" mapstructure:"ta_ttl"`
}

// DefaultHubConfig returns the spec's default staleness/windowing values.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxCandles:   100,
		TickTTL:      2 * time.Second,
		CandleTTL:    120 * time.Second,
		OrderFlowTTL: 5 * time.Second,
		TATTL:        10 * time.Minute,
	}
}

// IngestConfig configures the three ingestion pipelines.
type IngestConfig struct {
	ConnectTimeout     time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	IdleTimeout        time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	BackoffInitial     time.Duration `json:"backoff_initial" mapstructure:"backoff_initial"`
	BackoffCap         time.Duration `json:"backoff_cap" mapstructure:"backoff_cap"`
	GapWarnThreshold   time.Duration `json:"gap_warn_threshold" mapstructure:"gap_warn_threshold"`
	OrderFlowWindow    time.Duration `json:"order_flow_window" mapstructure:"order_flow_window"`
	SweepLevels        int           `json:"sweep_levels" mapstructure:"sweep_levels"`
	IndicatorPollMin   time.Duration `json:"indicator_poll_min" mapstructure:"indicator_poll_min"`
	IndicatorPollMax   time.Duration `json:"indicator_poll_max" mapstructure:"indicator_poll_max"`
	IndicatorRateQPM   int           `json:"indicator_rate_qpm" mapstructure:"indicator_rate_qpm"`
}

// DefaultIngestConfig returns the spec's default ingestion tunables.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ConnectTimeout:   10 * time.Second,
		IdleTimeout:      60 * time.Second,
		BackoffInitial:   500 * time.Millisecond,
		BackoffCap:       30 * time.Second,
		GapWarnThreshold: 60 * time.Second,
		OrderFlowWindow:  60 * time.Second,
		SweepLevels:      3,
		IndicatorPollMin: 60 * time.Second,
		IndicatorPollMax: 300 * time.Second,
		IndicatorRateQPM: 30,
	}
}

// GatesConfig configures PreTradeGates thresholds.
type GatesConfig struct {
	MaxSpreadPips   decimal.Decimal `json:"max_spread_pips" mapstructure:"max_spread_pips"`
	ATRRatioMin     decimal.Decimal `json:"atr_ratio_min" mapstructure:"atr_ratio_min"`
	MinATRPips      decimal.Decimal `json:"min_atr_pips" mapstructure:"min_atr_pips"`
	HTFDistanceMin  decimal.Decimal `json:"htf_distance_min_pips" mapstructure:"htf_distance_min_pips"`
	SpreadSanityWarn decimal.Decimal `json:"spread_sanity_warn_pips" mapstructure:"spread_sanity_warn_pips"`
}

// DefaultGatesConfig returns the spec's default gate thresholds.
func DefaultGatesConfig() GatesConfig {
	return GatesConfig{
		MaxSpreadPips:    decimal.NewFromFloat(1.5),
		ATRRatioMin:      decimal.NewFromFloat(0.6),
		MinATRPips:       decimal.NewFromFloat(5.5),
		HTFDistanceMin:   decimal.NewFromInt(6),
		SpreadSanityWarn: decimal.NewFromInt(50),
	}
}

// DecisionConfig configures DecisionEngine cadence and tiering thresholds.
type DecisionConfig struct {
	CycleInterval       time.Duration   `json:"cycle_interval" mapstructure:"cycle_interval"`
	SoftDeadline        time.Duration   `json:"soft_deadline" mapstructure:"soft_deadline"`
	HardDeadline        time.Duration   `json:"hard_deadline" mapstructure:"hard_deadline"`
	RejectScoreMax      decimal.Decimal `json:"reject_score_max" mapstructure:"reject_score_max"`
	BorderlineScoreMax  decimal.Decimal `json:"borderline_score_max" mapstructure:"borderline_score_max"`
	AutoApproveScoreMin decimal.Decimal `json:"auto_approve_score_min" mapstructure:"auto_approve_score_min"`
	DefaultTPPips       decimal.Decimal `json:"default_tp_pips" mapstructure:"default_tp_pips"`
	DefaultSLPips       decimal.Decimal `json:"default_sl_pips" mapstructure:"default_sl_pips"`
	MinRiskReward       decimal.Decimal `json:"min_risk_reward" mapstructure:"min_risk_reward"`
	WorkerPoolSize      int             `json:"worker_pool_size" mapstructure:"worker_pool_size"`
	LLMCallsPerMinute   int             `json:"llm_calls_per_minute" mapstructure:"llm_calls_per_minute"`
}

// DefaultDecisionConfig returns the spec's default decision-engine tunables.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		CycleInterval:       60 * time.Second,
		SoftDeadline:        10 * time.Second,
		HardDeadline:        30 * time.Second,
		RejectScoreMax:      decimal.NewFromInt(60),
		BorderlineScoreMax:  decimal.NewFromInt(70),
		AutoApproveScoreMin: decimal.NewFromInt(85),
		DefaultTPPips:       decimal.NewFromInt(10),
		DefaultSLPips:       decimal.NewFromInt(6),
		MinRiskReward:       decimal.NewFromFloat(1.5),
		WorkerPoolSize:      4,
		LLMCallsPerMinute:   20,
	}
}

// LifecycleConfig configures TradeLifecycle limits and circuit breakers.
type LifecycleConfig struct {
	MaxOpenPositions         int             `json:"max_open_positions" mapstructure:"max_open_positions"`
	MaxDailyTrades           int             `json:"max_daily_trades" mapstructure:"max_daily_trades"`
	DurationCap              time.Duration   `json:"duration_cap" mapstructure:"duration_cap"`
	MonitorInterval          time.Duration   `json:"monitor_interval" mapstructure:"monitor_interval"`
	MaxConsecutiveLosses     int             `json:"max_consecutive_losses" mapstructure:"max_consecutive_losses"`
	ConsecutiveLossCooldown  time.Duration   `json:"consecutive_loss_cooldown" mapstructure:"consecutive_loss_cooldown"`
	MaxDailyLossPct          decimal.Decimal `json:"max_daily_loss_pct" mapstructure:"max_daily_loss_pct"`
	EnableCurrencyExposureFilter bool        `json:"enable_currency_exposure_filter" mapstructure:"enable_currency_exposure_filter"`
}

// DefaultLifecycleConfig returns the spec's default lifecycle limits.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		MaxOpenPositions:        2,
		MaxDailyTrades:          40,
		DurationCap:             20 * time.Minute,
		MonitorInterval:         30 * time.Second,
		MaxConsecutiveLosses:    5,
		ConsecutiveLossCooldown: 30 * time.Minute,
		MaxDailyLossPct:         decimal.NewFromFloat(0.03),
		// Open question: disabled by default, configuration hook retained.
		EnableCurrencyExposureFilter: false,
	}
}

// NewsConfig configures NewsGater window geometry and refresh cadence.
type NewsConfig struct {
	RefreshInterval     time.Duration `json:"refresh_interval" mapstructure:"refresh_interval"`
	TransitionInterval  time.Duration `json:"transition_interval" mapstructure:"transition_interval"`
	PreEventWindow      time.Duration `json:"pre_event_window" mapstructure:"pre_event_window"`
	PostEventWindow     time.Duration `json:"post_event_window" mapstructure:"post_event_window"`
}

// DefaultNewsConfig returns the spec's default news-gating window geometry.
func DefaultNewsConfig() NewsConfig {
	return NewsConfig{
		RefreshInterval:    60 * time.Second,
		TransitionInterval: 60 * time.Second,
		PreEventWindow:     15 * time.Minute,
		PostEventWindow:    10 * time.Minute,
	}
}

// StoreConfig configures the persistence store's connection and batching.
type StoreConfig struct {
	DSN             string        `json:"dsn" mapstructure:"dsn"`
	FlushInterval   time.Duration `json:"flush_interval" mapstructure:"flush_interval"`
	FlushBufferSize int           `json:"flush_buffer_size" mapstructure:"flush_buffer_size"`
}

// DefaultStoreConfig returns the spec's default persistence batching.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DSN:             "host=localhost user=postgres dbname=fxscalper sslmode=disable",
		FlushInterval:   time.Second,
		FlushBufferSize: 1000,
	}
}

// HubRPCConfig configures the loopback authenticated hub RPC surface.
type HubRPCConfig struct {
	ListenAddr   string `json:"listen_addr" mapstructure:"listen_addr"`
	BearerToken  string `json:"bearer_token" mapstructure:"bearer_token"`
}

// DefaultHubRPCConfig returns loopback-only defaults.
func DefaultHubRPCConfig() HubRPCConfig {
	return HubRPCConfig{
		ListenAddr:  "127.0.0.1:8781",
		BearerToken: "",
	}
}

// Config is the root configuration object threaded through cmd/ entrypoints.
type Config struct {
	Hub       HubConfig       `mapstructure:"hub"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Gates     GatesConfig     `mapstructure:"gates"`
	Decision  DecisionConfig  `mapstructure:"decision"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	News      NewsConfig      `mapstructure:"news"`
	Store     StoreConfig     `mapstructure:"store"`
	HubRPC    HubRPCConfig    `mapstructure:"hub_rpc"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Hub:       DefaultHubConfig(),
		Ingest:    DefaultIngestConfig(),
		Gates:     DefaultGatesConfig(),
		Decision:  DefaultDecisionConfig(),
		Lifecycle: DefaultLifecycleConfig(),
		News:      DefaultNewsConfig(),
		Store:     DefaultStoreConfig(),
		HubRPC:    DefaultHubRPCConfig(),
	}
}

// Load reads an optional overlay file (YAML/JSON/env, auto-detected by
// viper from its extension) on top of the defaults. A missing path is not
// an error — Default() is returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FXSCALPER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading overlay %q: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling overlay %q: %w", path, err)
	}
	return cfg, nil
}
