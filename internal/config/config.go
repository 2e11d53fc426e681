// Package config loads tracker configuration from a file and LPTRACKER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/logging"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes environment overrides, e.g. LPTRACKER_RPC_URL or
// LPTRACKER_SCAN_WORKERS.
const EnvPrefix = "LPTRACKER"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config is the full tracker configuration.
type Config struct {
	Chain             string           `mapstructure:"chain"`
	RPCURL            string           `mapstructure:"rpc_url"`
	WSURL             string           `mapstructure:"ws_url"`
	Storage           StorageConfig    `mapstructure:"storage"`
	Scan              ScanConfig       `mapstructure:"scan"`
	Price             PriceConfig      `mapstructure:"price"`
	CycleInterval     time.Duration    `mapstructure:"cycle_interval"`
	DefaultStartBlock uint64           `mapstructure:"default_start_block"`
	MetricsAddr       string           `mapstructure:"metrics_addr"`
	HTTPAddr          string           `mapstructure:"http_addr"`
	Log               logging.Config   `mapstructure:"log"`
	Telegram          TelegramConfig   `mapstructure:"telegram"`
	Instances         []InstanceConfig `mapstructure:"instances"`
}

// StorageConfig selects the relational backend and the optional
// ClickHouse snapshot history.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
}

// ScanConfig tunes chain scanning.
type ScanConfig struct {
	ChunkSize     uint64        `mapstructure:"chunk_size"`
	Workers       int           `mapstructure:"workers"`
	MaxRetries    int           `mapstructure:"max_retries"` // after the first attempt
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	IncludeClosed bool          `mapstructure:"include_closed"`
}

// PriceConfig configures the CoinGecko client.
type PriceConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Platform          string        `mapstructure:"platform"`
	MaxRetries        int           `mapstructure:"max_retries"` // after the first attempt
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	CurrentTimeout    time.Duration `mapstructure:"current_timeout"`
	HistoryTimeout    time.Duration `mapstructure:"history_timeout"`
	CurrentResolution time.Duration `mapstructure:"current_resolution"`
}

// TelegramConfig enables notifications when both fields are set.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// Enabled reports whether Telegram notifications are configured.
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// InstanceConfig is one monitored DEX deployment.
type InstanceConfig struct {
	DEXType         string   `mapstructure:"dex_type"`
	Owners          []string `mapstructure:"owners"`
	PositionManager string   `mapstructure:"position_manager"`
	StartBlock      uint64   `mapstructure:"start_block"`
}

var defaults = map[string]interface{}{
	"chain":                    "bsc",
	"rpc_url":                  "",
	"ws_url":                   "",
	"storage.backend":          BackendMemory,
	"storage.postgres_dsn":     "",
	"storage.sqlite_path":      "lp_dashboard.db",
	"storage.clickhouse_dsn":   "",
	"scan.chunk_size":          10000,
	"scan.workers":             8,
	"scan.max_retries":         3,
	"scan.retry_delay":         "1s",
	"scan.call_timeout":        "15s",
	"scan.include_closed":      false,
	"price.base_url":           "https://pro-api.coingecko.com/api/v3",
	"price.api_key":            "",
	"price.platform":           "binance-smart-chain",
	"price.max_retries":        4,
	"price.retry_delay":        "2s",
	"price.current_timeout":    "5s",
	"price.history_timeout":    "50s",
	"price.current_resolution": "1m",
	"cycle_interval":           "30s",
	"default_start_block":      domain.DefaultStartBlock,
	"metrics_addr":             ":9090",
	"http_addr":                ":3100",
	"log.level":                "info",
	"log.development":          false,
	"log.file":                 "",
	"log.max_size_mb":          100,
	"log.max_backups":          5,
	"log.max_age_days":         30,
	"telegram.token":           "",
	"telegram.chat_id":         0,
}

// LoadConfig reads path (YAML, JSON or TOML by extension), overlays
// environment variables and validates the result. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if err := validateURL(c.RPCURL, "http", "https"); err != nil {
		return invalid("rpc_url: %v", err)
	}
	if c.WSURL != "" {
		if err := validateURL(c.WSURL, "ws", "wss"); err != nil {
			return invalid("ws_url: %v", err)
		}
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return invalid("storage.postgres_dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return invalid("storage.sqlite_path is required for the sqlite backend")
		}
	default:
		return invalid("storage.backend %q", c.Storage.Backend)
	}

	if c.Scan.ChunkSize == 0 {
		return invalid("scan.chunk_size must be > 0")
	}
	if c.Scan.Workers <= 0 {
		return invalid("scan.workers must be > 0")
	}
	if c.Scan.MaxRetries < 0 || c.Price.MaxRetries < 0 {
		return invalid("max_retries must be >= 0")
	}
	if c.CycleInterval <= 0 {
		return invalid("cycle_interval must be > 0")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}

	if len(c.Instances) == 0 {
		return invalid("at least one instance is required")
	}
	for i, inst := range c.Instances {
		if _, err := domain.VariantFor(inst.DEXType); err != nil {
			return invalid("instances[%d]: %v", i, err)
		}
		if inst.PositionManager != "" && !common.IsHexAddress(inst.PositionManager) {
			return invalid("instances[%d].position_manager %q", i, inst.PositionManager)
		}
		if len(inst.Owners) == 0 {
			return invalid("instances[%d]: at least one owner is required", i)
		}
		for _, owner := range inst.Owners {
			if !isOwnerAddress(owner) {
				return invalid("instances[%d]: owner %q is not a 0x address", i, owner)
			}
		}
	}
	return nil
}

// MonitoredInstances resolves the configured instances into domain
// instances, in config order.
func (c *Config) MonitoredInstances() ([]domain.Instance, error) {
	out := make([]domain.Instance, 0, len(c.Instances))
	for _, ic := range c.Instances {
		variant, err := domain.VariantFor(ic.DEXType)
		if err != nil {
			return nil, err
		}
		if ic.PositionManager != "" {
			variant.PositionManager = common.HexToAddress(ic.PositionManager).Hex()
		}

		start := ic.StartBlock
		if start == 0 {
			start = c.DefaultStartBlock
		}

		owners := make([]string, len(ic.Owners))
		for i, o := range ic.Owners {
			owners[i] = common.HexToAddress(o).Hex()
		}

		out = append(out, domain.Instance{
			Chain:      strings.ToLower(c.Chain),
			Variant:    variant,
			Owners:     owners,
			StartBlock: start,
		})
	}
	return out, nil
}

func isOwnerAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			if u.Host == "" {
				return errors.New("missing host")
			}
			return nil
		}
	}
	return fmt.Errorf("scheme %q not in %v", u.Scheme, schemes)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
