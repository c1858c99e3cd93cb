// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendJSONFile = "jsonfile"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Networks.
const (
	NetworkMainnet = "mainnet"
	NetworkDevnet  = "devnet"
)

// Config holds all configuration for the bot.
type Config struct {
	BotToken   string
	Network    string
	HeliusKey  string
	WebhookURL string
	Port       int
	LogLevel   string
	LogPretty  bool

	RPC   RPCConfig
	Store StoreConfig
	Kafka KafkaConfig

	ClickHouseDSN string
	SeenCacheSize int
}

// RPCConfig holds Solana endpoint configuration.
type RPCConfig struct {
	HTTPEndpoint string
	WSEndpoint   string
	Timeout      time.Duration
}

// StoreConfig selects and configures the persistent store.
type StoreConfig struct {
	Backend     string
	Path        string
	PostgresDSN string
	MongoURI    string
	MongoDB     string
}

// KafkaConfig holds the optional notification mirror.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether a Kafka mirror is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Load reads envFile (if present) into the environment and builds a Config.
// A missing env file is not an error; variables may be set externally.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	timeout, err := getEnvAsDuration("RPC_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	port, err := getEnvAsInt("PORT", 3000)
	if err != nil {
		return nil, err
	}
	cacheSize, err := getEnvAsInt("SEEN_CACHE_SIZE", 10000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BotToken:   getEnv("BOT_TOKEN", ""),
		Network:    strings.ToLower(getEnv("DEPLOY", NetworkDevnet)),
		HeliusKey:  getEnv("HELIUS_KEY", ""),
		WebhookURL: getEnv("WEBHOOK_URL", ""),
		Port:       port,
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogPretty:  getEnv("LOG_PRETTY", "false") == "true",
		RPC: RPCConfig{
			HTTPEndpoint: getEnv("RPC_ENDPOINT", ""),
			WSEndpoint:   getEnv("WS_ENDPOINT", ""),
			Timeout:      timeout,
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("STORE_BACKEND", BackendJSONFile)),
			Path:        getEnv("DB_PATH", "db.json"),
			PostgresDSN: getEnv("POSTGRES_DSN", ""),
			MongoURI:    getEnv("MONGO_URI", ""),
			MongoDB:     getEnv("MONGO_DB", "wallet_bot"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "wallet-notifications"),
		},
		ClickHouseDSN: getEnv("CLICKHOUSE_DSN", ""),
		SeenCacheSize: cacheSize,
	}

	if cfg.RPC.HTTPEndpoint == "" {
		cfg.RPC.HTTPEndpoint = HeliusHTTPURL(cfg.Network, cfg.HeliusKey)
	}
	if cfg.RPC.WSEndpoint == "" {
		cfg.RPC.WSEndpoint = HeliusWSURL(cfg.Network, cfg.HeliusKey)
	}

	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.Network != NetworkMainnet && c.Network != NetworkDevnet {
		return fmt.Errorf("DEPLOY must be %q or %q, got %q", NetworkMainnet, NetworkDevnet, c.Network)
	}
	if c.RPC.HTTPEndpoint == "" || c.RPC.WSEndpoint == "" {
		return errors.New("HELIUS_KEY or RPC_ENDPOINT and WS_ENDPOINT are required")
	}
	if c.SeenCacheSize <= 0 {
		return errors.New("SEEN_CACHE_SIZE must be positive")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendJSONFile:
		if c.Store.Path == "" {
			return errors.New("DB_PATH is required for the jsonfile store")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres store")
		}
	case BackendMongo:
		if c.Store.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	return nil
}

// HeliusHTTPURL returns the Helius RPC URL for network, or "" without a key.
func HeliusHTTPURL(network, key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.helius-rpc.com/?api-key=%s", heliusHost(network), key)
}

// HeliusWSURL returns the Helius WebSocket URL for network, or "" without a key.
func HeliusWSURL(network, key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("wss://%s.helius-rpc.com/?api-key=%s", heliusHost(network), key)
}

func heliusHost(network string) string {
	if network == NetworkMainnet {
		return NetworkMainnet
	}
	return NetworkDevnet
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
