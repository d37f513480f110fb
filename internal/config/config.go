// Package config defines all configuration for the market-making pipeline's
// binaries (collector, pricing, strategy, simulator, backtest, monitor).
// Config is loaded from a YAML file (default: configs/config.yaml), with
// the transport/supervisor knobs named in spec section 6 overridable
// directly from the environment regardless of file contents.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, shared by every cmd/* binary. Each
// binary reads only the sections relevant to its own role.
type Config struct {
	Symbol     string           `mapstructure:"symbol"`
	DryRun     bool             `mapstructure:"dry_run"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// ExchangeConfig points the ingestor at the upstream exchange's public
// market-data surface: a WebSocket stream for incremental depth/trade
// updates and a REST endpoint used once to seed each book (spec section 6).
type ExchangeConfig struct {
	WSBaseURL     string        `mapstructure:"ws_base_url"`
	RESTBaseURL   string        `mapstructure:"rest_base_url"`
	DepthLimit    int           `mapstructure:"depth_limit"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	BookRateLimit float64       `mapstructure:"book_rate_limit"`
}

// TransportConfig configures the pub/sub fabric (internal/transport). Field
// names mirror the environment variables spec section 6 requires every
// binary to honor: AERON_DIR and CHANNEL_CAPACITY.
type TransportConfig struct {
	AeronDir        string `mapstructure:"aeron_dir"`
	ChannelCapacity int    `mapstructure:"channel_capacity"`
}

// SupervisorConfig configures heartbeat emission/monitoring and the
// collector-state reporting cadence (internal/supervisor), again mirroring
// spec section 6's environment variables.
type SupervisorConfig struct {
	HeartbeatIntervalMs  int64 `mapstructure:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs   int64 `mapstructure:"heartbeat_timeout_ms"`
	StateUpdateIntervalMs int64 `mapstructure:"state_update_interval_ms"`
}

// StrategyConfig tunes the drift/quote engine (internal/strategy). Field
// names and meanings mirror strategy.Config directly; Load does not convert
// between the two — cmd/strategy copies each field into a strategy.Config.
//
//   - RiskAversion:  copied into strategy.Config; the quote engine does not read it.
//   - DriftHalfLife / VolatilityHalfLife: EMA half-lives, seconds.
//   - TradeFlowWindow: rolling trade-flow window, seconds.
//   - LadderLevels / LadderStepBps: level count and spacing for
//     strategy.Engine.GenerateLadderQuotes; cmd/strategy quotes a single
//     level and does not use them.
type StrategyConfig struct {
	TargetInventory     float64 `mapstructure:"target_inventory"`
	MaxPositionSize     float64 `mapstructure:"max_position_size"`
	MaxOrderSize        float64 `mapstructure:"max_order_size"`
	InventorySkewFactor float64 `mapstructure:"inventory_skew_factor"`
	BaseQuoteSize       float64 `mapstructure:"base_quote_size"`
	RiskAversion        float64 `mapstructure:"risk_aversion"`

	MinSpreadBps    float64 `mapstructure:"min_spread_bps"`
	VolSpreadFactor float64 `mapstructure:"vol_spread_factor"`
	MinConfidence   float64 `mapstructure:"min_confidence"`

	DriftHalfLifeSecs      float64 `mapstructure:"drift_half_life_secs"`
	VolatilityHalfLifeSecs float64 `mapstructure:"volatility_half_life_secs"`
	TradeFlowWindowSecs    float64 `mapstructure:"trade_flow_window_secs"`

	LadderLevels  int     `mapstructure:"ladder_levels"`
	LadderStepBps float64 `mapstructure:"ladder_step_bps"`
}

// RiskConfig mirrors risk.Config: hard limits the risk manager enforces
// before a quote is allowed onto the wire.
type RiskConfig struct {
	MaxPositionSize float64 `mapstructure:"max_position_size"`
	MaxOrderSize    float64 `mapstructure:"max_order_size"`
	MinConfidence   float64 `mapstructure:"min_confidence"`
}

// SimulatorConfig mirrors simulator.Config: the paper-trading venue's
// latency and fill-probability model.
type SimulatorConfig struct {
	OrderPlacementLatencyUs    uint64  `mapstructure:"order_placement_latency_us"`
	OrderCancellationLatencyUs uint64  `mapstructure:"order_cancellation_latency_us"`
	FillProbabilityFactor      float64 `mapstructure:"fill_probability_factor"`
	TrackQueuePosition         bool    `mapstructure:"track_queue_position"`
}

// BacktestConfig configures historical replay (internal/backtest).
type BacktestConfig struct {
	DataDir         string  `mapstructure:"data_dir"`
	ReplaySpeed     float64 `mapstructure:"replay_speed"`
	InitialCapital  float64 `mapstructure:"initial_capital"`
	ResultsDir      string  `mapstructure:"results_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MonitorConfig controls each process's internal/monitor HTTP surface
// (/health, /snapshot, /metrics).
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns a Config populated with conservative defaults, used when
// no config file is present and only environment overrides apply.
func Default() Config {
	return Config{
		Symbol: "BTCUSDT",
		Exchange: ExchangeConfig{
			WSBaseURL:     "wss://stream.binance.com:9443",
			RESTBaseURL:   "https://api.binance.com",
			DepthLimit:    1000,
			DialTimeout:   10 * time.Second,
			BookRateLimit: 10,
		},
		Transport: TransportConfig{
			AeronDir:        "/dev/shm/aeron",
			ChannelCapacity: 10_000,
		},
		Supervisor: SupervisorConfig{
			HeartbeatIntervalMs:   1_000,
			HeartbeatTimeoutMs:    5_000,
			StateUpdateIntervalMs: 1_000,
		},
		Strategy: StrategyConfig{
			MaxPositionSize:        1.0,
			MaxOrderSize:           0.1,
			InventorySkewFactor:    0.5,
			BaseQuoteSize:          0.01,
			RiskAversion:           0.1,
			MinSpreadBps:           2,
			VolSpreadFactor:        1.0,
			MinConfidence:          0.5,
			DriftHalfLifeSecs:      30,
			VolatilityHalfLifeSecs: 60,
			TradeFlowWindowSecs:    60,
			LadderLevels:           1,
			LadderStepBps:          5,
		},
		Risk: RiskConfig{
			MaxPositionSize: 1.0,
			MaxOrderSize:    0.1,
			MinConfidence:   0.5,
		},
		Simulator: SimulatorConfig{
			OrderPlacementLatencyUs:    10_000,
			OrderCancellationLatencyUs: 5_000,
			FillProbabilityFactor:      0.8,
			TrackQueuePosition:         false,
		},
		Backtest: BacktestConfig{
			DataDir:        "data",
			ReplaySpeed:    1.0,
			InitialCapital: 10_000,
			ResultsDir:     ".",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Load reads config from a YAML file, falling back to Default() values for
// anything the file omits, then applies the environment overrides spec
// section 6 names: AERON_DIR, CHANNEL_CAPACITY, HEARTBEAT_INTERVAL_MS,
// HEARTBEAT_TIMEOUT_MS, STATE_UPDATE_INTERVAL_MS, plus SYMBOL (upper-cased
// into Config.Symbol). A missing file is not an
// error — every binary must run from environment/defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if dir := os.Getenv("AERON_DIR"); dir != "" {
		cfg.Transport.AeronDir = dir
	}
	if v, err := envInt("CHANNEL_CAPACITY"); err == nil && v > 0 {
		cfg.Transport.ChannelCapacity = v
	}
	if v, err := envInt64("HEARTBEAT_INTERVAL_MS"); err == nil && v > 0 {
		cfg.Supervisor.HeartbeatIntervalMs = v
	}
	if v, err := envInt64("HEARTBEAT_TIMEOUT_MS"); err == nil && v > 0 {
		cfg.Supervisor.HeartbeatTimeoutMs = v
	}
	if v, err := envInt64("STATE_UPDATE_INTERVAL_MS"); err == nil && v > 0 {
		cfg.Supervisor.StateUpdateIntervalMs = v
	}
	if sym := os.Getenv("SYMBOL"); sym != "" {
		cfg.Symbol = strings.ToUpper(sym)
	}

	return &cfg, nil
}

func envInt(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, fmt.Errorf("%s unset", key)
	}
	return strconv.Atoi(raw)
}

func envInt64(key string) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, fmt.Errorf("%s unset", key)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Transport.ChannelCapacity <= 0 {
		return fmt.Errorf("transport.channel_capacity must be > 0")
	}
	if c.Supervisor.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("supervisor.heartbeat_interval_ms must be > 0")
	}
	if c.Supervisor.HeartbeatTimeoutMs <= c.Supervisor.HeartbeatIntervalMs {
		return fmt.Errorf("supervisor.heartbeat_timeout_ms must exceed heartbeat_interval_ms")
	}
	if c.Strategy.MaxOrderSize <= 0 {
		return fmt.Errorf("strategy.max_order_size must be > 0")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("risk.max_position_size must be > 0")
	}
	return nil
}
