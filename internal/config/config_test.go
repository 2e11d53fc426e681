package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp-pnl-tracker/internal/domain"
)

const validYAML = `
rpc_url: https://bsc-dataseed.example.org
ws_url: wss://bsc-ws.example.org
storage:
  backend: sqlite
  sqlite_path: /tmp/lp.db
scan:
  chunk_size: 5000
  retry_delay: 500ms
cycle_interval: 1m
instances:
  - dex_type: pancake
    owners:
      - "0x00000000000000000000000000000000000000b1"
  - dex_type: uniswap
    start_block: 40000000
    position_manager: "0x00000000000000000000000000000000000000cc"
    owners:
      - "0x00000000000000000000000000000000000000b2"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "config.yaml", validYAML))
	require.NoError(t, err)

	assert.Equal(t, "bsc", cfg.Chain)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, uint64(5000), cfg.Scan.ChunkSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Scan.RetryDelay)
	assert.Equal(t, time.Minute, cfg.CycleInterval)

	// Defaults.
	assert.Equal(t, 8, cfg.Scan.Workers)
	assert.Equal(t, 3, cfg.Scan.MaxRetries)
	assert.Equal(t, 15*time.Second, cfg.Scan.CallTimeout)
	assert.Equal(t, 4, cfg.Price.MaxRetries)
	assert.Equal(t, 50*time.Second, cfg.Price.HistoryTimeout)
	assert.Equal(t, time.Minute, cfg.Price.CurrentResolution)
	assert.Equal(t, domain.DefaultStartBlock, cfg.DefaultStartBlock)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telegram.Enabled())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LPTRACKER_SCAN_WORKERS", "3")
	t.Setenv("LPTRACKER_PRICE_API_KEY", "secret")
	t.Setenv("LPTRACKER_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("LPTRACKER_TELEGRAM_CHAT_ID", "42")

	cfg, err := LoadConfig(writeConfig(t, "config.yaml", validYAML))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scan.Workers)
	assert.Equal(t, "secret", cfg.Price.APIKey)
	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
}

func TestLoadConfig_JSON(t *testing.T) {
	content := `{
		"rpc_url": "http://localhost:8545",
		"instances": [{"dex_type": "pancake", "owners": ["0x00000000000000000000000000000000000000b1"]}]
	}`
	cfg, err := LoadConfig(writeConfig(t, "config.json", content))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Len(t, cfg.Instances, 1)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Chain:         "bsc",
		RPCURL:        "https://rpc.example.org",
		Storage:       StorageConfig{Backend: BackendMemory},
		Scan:          ScanConfig{ChunkSize: 10000, Workers: 8},
		CycleInterval: time.Second,
		Instances: []InstanceConfig{{
			DEXType: "pancake",
			Owners:  []string{"0x00000000000000000000000000000000000000b1"},
		}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing rpc", func(c *Config) { c.RPCURL = "" }},
		{"rpc not http", func(c *Config) { c.RPCURL = "ws://rpc.example.org" }},
		{"ws not ws", func(c *Config) { c.WSURL = "https://rpc.example.org" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"sqlite without path", func(c *Config) { c.Storage.Backend = BackendSQLite }},
		{"zero chunk", func(c *Config) { c.Scan.ChunkSize = 0 }},
		{"zero workers", func(c *Config) { c.Scan.Workers = 0 }},
		{"negative retries", func(c *Config) { c.Scan.MaxRetries = -1 }},
		{"zero interval", func(c *Config) { c.CycleInterval = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"no instances", func(c *Config) { c.Instances = nil }},
		{"unsupported dex", func(c *Config) { c.Instances[0].DEXType = "sushiswap" }},
		{"no owners", func(c *Config) { c.Instances[0].Owners = nil }},
		{"owner not hex", func(c *Config) { c.Instances[0].Owners = []string{"alice"} }},
		{"owner without prefix", func(c *Config) {
			c.Instances[0].Owners = []string{"00000000000000000000000000000000000000b1"}
		}},
		{"bad manager", func(c *Config) { c.Instances[0].PositionManager = "0x12" }},
	}

	require.NoError(t, validConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestMonitoredInstances(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "config.yaml", validYAML))
	require.NoError(t, err)

	instances, err := cfg.MonitoredInstances()
	require.NoError(t, err)
	require.Len(t, instances, 2)

	pancake := instances[0]
	assert.Equal(t, "bsc_pancake", pancake.Name())
	assert.Equal(t, "PancakeSwap V3", pancake.Variant.PoolName)
	assert.Equal(t, "0x46A15B0b27311cedF172AB29E4f4766fbE7F4364", pancake.Variant.PositionManager)
	assert.Equal(t, domain.DefaultStartBlock, pancake.StartBlock)
	assert.Equal(t, []string{common.HexToAddress("0xb1").Hex()}, pancake.Owners)

	uniswap := instances[1]
	assert.Equal(t, "Uniswap V3", uniswap.Variant.PoolName)
	assert.Equal(t, common.HexToAddress("0xcc").Hex(), uniswap.Variant.PositionManager)
	assert.Equal(t, uint64(40000000), uniswap.StartBlock)
	assert.Equal(t, "last_listen_block_bsc_uniswap", uniswap.CheckpointKey())
}
