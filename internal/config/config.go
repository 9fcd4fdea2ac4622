package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Chain         ChainConfig        `mapstructure:"chain"`
	Indexer       IndexerConfig      `mapstructure:"indexer"`
	Subgraph      SubgraphConfig     `mapstructure:"subgraph"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ChainConfig contains live-endpoint configuration. Endpoints is an ordered
// pool rotated round-robin; the first two entries form the initial
// primary/backup fetch pair.
type ChainConfig struct {
	Endpoints       []string      `mapstructure:"endpoints"`
	ContractAddress string        `mapstructure:"contract_address"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	StartBlock      uint64        `mapstructure:"start_block"`
	BlockBuffer     uint64        `mapstructure:"block_buffer"`
	SecondsPerBlock float64       `mapstructure:"seconds_per_block"`
}

// IndexerConfig contains steady-state loop configuration
type IndexerConfig struct {
	BatchSize           uint64        `mapstructure:"batch_size"`
	MaxRetriesPerRange  int           `mapstructure:"max_retries_per_range"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	ResyncInterval      int           `mapstructure:"resync_interval"`
	BackfillInterval    int           `mapstructure:"backfill_interval"`
	BackfillWindow      uint64        `mapstructure:"backfill_window"`
	ExhaustionCooldown  time.Duration `mapstructure:"exhaustion_cooldown"`
	ExportAcceptedQueue bool          `mapstructure:"export_accepted_events"`
}

// SubgraphConfig contains historical-feed configuration
type SubgraphConfig struct {
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	PageSize          int           `mapstructure:"page_size"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	BackfillBatchSize uint64        `mapstructure:"backfill_batch_size"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // postgres, sqlite
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// NotificationConfig contains operator alert configuration
type NotificationConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	TelegramBotToken string        `mapstructure:"telegram_bot_token"`
	TelegramChatID   string        `mapstructure:"telegram_chat_id"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.SetEnvPrefix("YAM_INDEXER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secret overrides via plain environment variables
	if endpoints := os.Getenv("YAM_INDEXING_W3_URLS"); endpoints != "" {
		config.Chain.Endpoints = strings.Split(endpoints, ",")
	}
	if url := os.Getenv("YAM_INDEXING_SUBGRAPH_URL"); url != "" {
		config.Subgraph.URL = url
	}
	if key := os.Getenv("YAM_INDEXING_THE_GRAPH_API_KEY"); key != "" {
		config.Subgraph.APIKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if token := os.Getenv("TELEGRAM_ALERT_BOT_TOKEN"); token != "" {
		config.Notifications.TelegramBotToken = token
	}
	if chatID := os.Getenv("TELEGRAM_ALERT_GROUP_ID"); chatID != "" {
		config.Notifications.TelegramChatID = chatID
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.name", "yam-indexer")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "production")

	// Gnosis chain produces a block roughly every 5 seconds; 5.4 keeps the
	// loop from running ahead of the head and fetching blocks that do not
	// exist yet.
	viper.SetDefault("chain.request_timeout", "120s")
	viper.SetDefault("chain.start_block", 25530394) // YAM v1 contract creation
	viper.SetDefault("chain.block_buffer", 7)
	viper.SetDefault("chain.seconds_per_block", 5.4)

	viper.SetDefault("indexer.batch_size", 3)
	viper.SetDefault("indexer.max_retries_per_range", 7)
	viper.SetDefault("indexer.retry_backoff", "2s")
	viper.SetDefault("indexer.resync_interval", 80)
	viper.SetDefault("indexer.backfill_interval", 960)
	viper.SetDefault("indexer.backfill_window", 17280) // ~1 day of blocks
	viper.SetDefault("indexer.exhaustion_cooldown", "180s")
	viper.SetDefault("indexer.export_accepted_events", false)

	viper.SetDefault("subgraph.page_size", 1000)
	viper.SetDefault("subgraph.request_timeout", "30s")
	viper.SetDefault("subgraph.backfill_batch_size", 7500)

	viper.SetDefault("storage.type", "postgres")
	viper.SetDefault("storage.max_connections", 10)
	viper.SetDefault("storage.max_idle_time", "15m")

	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.request_timeout", "10s")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.file", "logs/yam-indexer.log")
}

// Validate checks that the loaded configuration is usable
func (c *Config) Validate() error {
	if len(c.Chain.Endpoints) < 2 {
		return fmt.Errorf("chain.endpoints: at least two endpoints are required (primary + backup), got %d", len(c.Chain.Endpoints))
	}
	if c.Chain.ContractAddress == "" {
		return fmt.Errorf("chain.contract_address is required")
	}
	if c.Indexer.BatchSize == 0 {
		return fmt.Errorf("indexer.batch_size must be positive")
	}
	if c.Indexer.MaxRetriesPerRange <= 0 {
		return fmt.Errorf("indexer.max_retries_per_range must be positive")
	}
	if c.Subgraph.URL == "" {
		return fmt.Errorf("subgraph.url is required")
	}
	if c.Storage.Type != "postgres" && c.Storage.Type != "sqlite" {
		return fmt.Errorf("storage.type must be postgres or sqlite, got %q", c.Storage.Type)
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage.connection_string is required")
	}
	return nil
}
