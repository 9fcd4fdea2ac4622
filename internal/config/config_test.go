package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, uint64(3), cfg.Indexer.BatchSize)
	assert.Equal(t, 7, cfg.Indexer.MaxRetriesPerRange)
	assert.Equal(t, 2*time.Second, cfg.Indexer.RetryBackoff)
	assert.Equal(t, 80, cfg.Indexer.ResyncInterval)
	assert.Equal(t, 960, cfg.Indexer.BackfillInterval)
	assert.Equal(t, uint64(17280), cfg.Indexer.BackfillWindow)
	assert.Equal(t, 180*time.Second, cfg.Indexer.ExhaustionCooldown)

	assert.Equal(t, uint64(25530394), cfg.Chain.StartBlock)
	assert.Equal(t, uint64(7), cfg.Chain.BlockBuffer)
	assert.InDelta(t, 5.4, cfg.Chain.SecondsPerBlock, 0.001)

	assert.Equal(t, 1000, cfg.Subgraph.PageSize)
	assert.Equal(t, uint64(7500), cfg.Subgraph.BackfillBatchSize)

	assert.Equal(t, "postgres", cfg.Storage.Type)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("YAM_INDEXING_W3_URLS", "https://rpc-a.test,https://rpc-b.test,https://rpc-c.test")
	t.Setenv("YAM_INDEXING_SUBGRAPH_URL", "https://gateway.thegraph.com/api/[api-key]/subgraphs/id/test")
	t.Setenv("YAM_INDEXING_THE_GRAPH_API_KEY", "secret-key")
	t.Setenv("DATABASE_URL", "postgres://indexer@db/yam")
	t.Setenv("TELEGRAM_ALERT_BOT_TOKEN", "bot-token")
	t.Setenv("TELEGRAM_ALERT_GROUP_ID", "-100123")

	cfg := loadDefaults(t)

	assert.Equal(t, []string{"https://rpc-a.test", "https://rpc-b.test", "https://rpc-c.test"}, cfg.Chain.Endpoints)
	assert.Equal(t, "secret-key", cfg.Subgraph.APIKey)
	assert.Equal(t, "postgres://indexer@db/yam", cfg.Storage.ConnectionString)
	assert.Equal(t, "bot-token", cfg.Notifications.TelegramBotToken)
	assert.Equal(t, "-100123", cfg.Notifications.TelegramChatID)
}

func validConfig(t *testing.T) *Config {
	cfg := loadDefaults(t)
	cfg.Chain.Endpoints = []string{"https://rpc-a.test", "https://rpc-b.test"}
	cfg.Chain.ContractAddress = "0xC21d97673B9E0B3AA53a06439F71fDc1facE393B"
	cfg.Subgraph.URL = "https://gateway.thegraph.com/api/[api-key]/subgraphs/id/test"
	cfg.Storage.ConnectionString = "postgres://indexer@db/yam"
	return cfg
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, validConfig(t).Validate())
}

func TestValidateRequiresTwoEndpoints(t *testing.T) {
	cfg := validConfig(t)
	cfg.Chain.Endpoints = []string{"https://rpc-a.test"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresContract(t *testing.T) {
	cfg := validConfig(t)
	cfg.Chain.ContractAddress = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresSubgraphURL(t *testing.T) {
	cfg := validConfig(t)
	cfg.Subgraph.URL = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownStorage(t *testing.T) {
	cfg := validConfig(t)
	cfg.Storage.Type = "oracle"
	assert.Error(t, cfg.Validate())
}
