package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Exchange struct {
		Mode   string `yaml:"mode"` // "paper" is the only in-tree client
		Symbol string `yaml:"symbol"`
	} `yaml:"exchange"`
	Accounts struct {
		Buy     string `yaml:"buy"`
		Sell    string `yaml:"sell"`
		Reserve string `yaml:"reserve"`
	} `yaml:"accounts"`
	Candles struct {
		FastTimeframe string `yaml:"fast_timeframe"`
		SlowTimeframe string `yaml:"slow_timeframe"`
		Depth         int    `yaml:"depth"`
		RefreshCron   string `yaml:"refresh_cron"`
	} `yaml:"candles"`
	Monitor struct {
		PollSeconds        int `yaml:"poll_seconds"`
		CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
	} `yaml:"monitor"`
	Risk struct {
		RiskFraction       float64 `yaml:"risk_fraction"`
		LeverageCap        float64 `yaml:"leverage_cap"`
		MarginSafetyFactor float64 `yaml:"margin_safety_factor"`
		RewardMultiple     float64 `yaml:"reward_multiple"`
		TPBufferFraction   float64 `yaml:"tp_buffer_fraction"`
		TickSize           float64 `yaml:"tick_size"`
		MinQty             float64 `yaml:"min_qty"`
		MinNotional        float64 `yaml:"min_notional"`
		LevelTTLSeconds    int     `yaml:"level_ttl_seconds"`
	} `yaml:"risk"`
	Bracket struct {
		PositionPollSeconds int `yaml:"position_poll_seconds"`
		ExitRetries         int `yaml:"exit_retries"`
		RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`
		EntryWaitSeconds    int `yaml:"entry_wait_seconds"`
	} `yaml:"bracket"`
	Rebalance struct {
		Cron            string  `yaml:"cron"`
		Tolerance       float64 `yaml:"tolerance"`
		SurplusFraction float64 `yaml:"surplus_fraction"`
	} `yaml:"rebalance"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	State struct {
		File string `yaml:"file"`
	} `yaml:"state"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("EXCHANGE_MODE"); v != "" {
		cfg.Exchange.Mode = v
	}
	if v := os.Getenv("SYMBOL"); v != "" {
		cfg.Exchange.Symbol = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("RISK_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.RiskFraction = f
		}
	}
	if v := os.Getenv("REBALANCE_CRON"); v != "" {
		cfg.Rebalance.Cron = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("STATE_FILE"); v != "" {
		cfg.State.File = v
	}

	// Defaults
	if cfg.Exchange.Mode == "" {
		cfg.Exchange.Mode = "paper"
	}
	if cfg.Exchange.Symbol == "" {
		cfg.Exchange.Symbol = "XRPUSDT"
	}
	if cfg.Accounts.Buy == "" {
		cfg.Accounts.Buy = "unified-buy"
	}
	if cfg.Accounts.Sell == "" {
		cfg.Accounts.Sell = "unified-sell"
	}
	if cfg.Accounts.Reserve == "" {
		cfg.Accounts.Reserve = "funding"
	}
	if cfg.Candles.FastTimeframe == "" {
		cfg.Candles.FastTimeframe = "5m"
	}
	if cfg.Candles.SlowTimeframe == "" {
		cfg.Candles.SlowTimeframe = "30m"
	}
	if cfg.Candles.Depth == 0 {
		cfg.Candles.Depth = 50
	}
	if cfg.Candles.RefreshCron == "" {
		cfg.Candles.RefreshCron = "0 */5 * * * *"
	}
	if cfg.Monitor.PollSeconds == 0 {
		cfg.Monitor.PollSeconds = 3
	}
	if cfg.Monitor.CallTimeoutSeconds == 0 {
		cfg.Monitor.CallTimeoutSeconds = 2
	}
	if cfg.Risk.RiskFraction == 0 {
		cfg.Risk.RiskFraction = 0.10
	}
	if cfg.Risk.LeverageCap == 0 {
		cfg.Risk.LeverageCap = 75
	}
	if cfg.Risk.MarginSafetyFactor == 0 {
		cfg.Risk.MarginSafetyFactor = 0.9
	}
	if cfg.Risk.RewardMultiple == 0 {
		cfg.Risk.RewardMultiple = 1.2
	}
	if cfg.Risk.TPBufferFraction == 0 {
		cfg.Risk.TPBufferFraction = 0.0007
	}
	if cfg.Risk.TickSize == 0 {
		cfg.Risk.TickSize = 0.0001
	}
	if cfg.Risk.MinQty == 0 {
		cfg.Risk.MinQty = 1
	}
	if cfg.Risk.MinNotional == 0 {
		cfg.Risk.MinNotional = 5
	}
	if cfg.Risk.LevelTTLSeconds == 0 {
		cfg.Risk.LevelTTLSeconds = 1800 // one slow-timeframe interval
	}
	if cfg.Bracket.PositionPollSeconds == 0 {
		cfg.Bracket.PositionPollSeconds = 5
	}
	if cfg.Bracket.ExitRetries == 0 {
		cfg.Bracket.ExitRetries = 3
	}
	if cfg.Bracket.RetryBackoffSeconds == 0 {
		cfg.Bracket.RetryBackoffSeconds = 2
	}
	if cfg.Bracket.EntryWaitSeconds == 0 {
		cfg.Bracket.EntryWaitSeconds = 300
	}
	if cfg.Rebalance.Cron == "" {
		cfg.Rebalance.Cron = "0 0 * * * *"
	}
	if cfg.Rebalance.Tolerance == 0 {
		cfg.Rebalance.Tolerance = 1.0
	}
	if cfg.Rebalance.SurplusFraction == 0 {
		cfg.Rebalance.SurplusFraction = 0.25
	}
	if cfg.State.File == "" {
		cfg.State.File = "data/engine_state.json"
	}

	return cfg, nil
}

// Validate checks that all required fields are coherent.
func (c *Config) Validate() error {
	if c.Exchange.Mode != "paper" {
		return fmt.Errorf("exchange.mode %q is not supported (only \"paper\" ships in-tree)", c.Exchange.Mode)
	}
	if c.Accounts.Buy == c.Accounts.Sell {
		return fmt.Errorf("accounts.buy and accounts.sell must differ")
	}
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction >= 1 {
		return fmt.Errorf("risk.risk_fraction must be in (0,1)")
	}
	if c.Risk.MarginSafetyFactor <= 0 || c.Risk.MarginSafetyFactor > 1 {
		return fmt.Errorf("risk.margin_safety_factor must be in (0,1]")
	}
	if c.Monitor.CallTimeoutSeconds >= c.Monitor.PollSeconds+1 {
		return fmt.Errorf("monitor.call_timeout_seconds must not exceed monitor.poll_seconds")
	}
	if c.Rebalance.SurplusFraction <= 0 || c.Rebalance.SurplusFraction >= 1 {
		return fmt.Errorf("rebalance.surplus_fraction must be in (0,1)")
	}
	return nil
}

// PollInterval returns the monitor poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollSeconds) * time.Second
}

// CallTimeout returns the per-call exchange timeout used inside polling loops.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Monitor.CallTimeoutSeconds) * time.Second
}

// LevelTTL returns the validity window of a confirmed level.
func (c *Config) LevelTTL() time.Duration {
	return time.Duration(c.Risk.LevelTTLSeconds) * time.Second
}
