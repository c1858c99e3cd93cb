package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"BOT_TOKEN", "DEPLOY", "HELIUS_KEY", "RPC_ENDPOINT", "WS_ENDPOINT", "WEBHOOK_URL",
	"PORT", "STORE_BACKEND", "DB_PATH", "POSTGRES_DSN", "MONGO_URI", "MONGO_DB",
	"CLICKHOUSE_DSN", "KAFKA_BROKERS", "KAFKA_TOPIC", "LOG_LEVEL", "LOG_PRETTY",
	"SEEN_CACHE_SIZE", "RPC_TIMEOUT",
}

// clearEnv blanks every config key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("HELIUS_KEY", "k1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, NetworkDevnet, cfg.Network)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, BackendJSONFile, cfg.Store.Backend)
	assert.Equal(t, "db.json", cfg.Store.Path)
	assert.Equal(t, "wallet_bot", cfg.Store.MongoDB)
	assert.Equal(t, "wallet-notifications", cfg.Kafka.Topic)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 10000, cfg.SeenCacheSize)
	assert.Equal(t, 30*time.Second, cfg.RPC.Timeout)
	assert.Equal(t, "https://devnet.helius-rpc.com/?api-key=k1", cfg.RPC.HTTPEndpoint)
	assert.Equal(t, "wss://devnet.helius-rpc.com/?api-key=k1", cfg.RPC.WSEndpoint)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MainnetAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("DEPLOY", "MAINNET")
	t.Setenv("HELIUS_KEY", "k2")
	t.Setenv("WS_ENDPOINT", "ws://localhost:8900")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092,")
	t.Setenv("RPC_TIMEOUT", "5s")
	t.Setenv("SEEN_CACHE_SIZE", "50")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, NetworkMainnet, cfg.Network)
	assert.Equal(t, "https://mainnet.helius-rpc.com/?api-key=k2", cfg.RPC.HTTPEndpoint)
	assert.Equal(t, "ws://localhost:8900", cfg.RPC.WSEndpoint)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 5*time.Second, cfg.RPC.Timeout)
	assert.Equal(t, 50, cfg.SeenCacheSize)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	for _, k := range configKeys {
		// godotenv never overrides variables that are already set.
		os.Unsetenv(k)
	}

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BOT_TOKEN=file-token\nSTORE_BACKEND=memory\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.BotToken)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_BadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "http")
	_, err := Load("")
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("RPC_TIMEOUT", "soon")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BotToken:      "t",
			Network:       NetworkDevnet,
			RPC:           RPCConfig{HTTPEndpoint: "http://x", WSEndpoint: "ws://x"},
			Store:         StoreConfig{Backend: BackendJSONFile, Path: "db.json"},
			SeenCacheSize: 10,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.BotToken = "" }},
		{"bad network", func(c *Config) { c.Network = "testnet" }},
		{"no endpoints", func(c *Config) { c.RPC = RPCConfig{} }},
		{"zero cache", func(c *Config) { c.SeenCacheSize = 0 }},
		{"jsonfile without path", func(c *Config) { c.Store.Path = "" }},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }},
		{"mongo without uri", func(c *Config) { c.Store.Backend = BackendMongo }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
