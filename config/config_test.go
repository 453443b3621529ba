package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kylerberry/JACT/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
product: eth-usd
granularity: 300
strategy: RSI
stopLoss: 0.05
allowedSlippage: 0.01
logging: true
exchange:
  name: paper
  apiKey: key
  apiSecret: secret
  passphrase: pass
  paper:
    quoteBalance: 500
notifier:
  webhookURL: https://discord.example.com/api/webhooks/1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	cm, err := NewConfigManager("", false)
	require.NoError(t, err)

	cfg := cm.GetConfig()
	assert.Equal(t, "BTC-USD", cfg.Product)
	assert.Equal(t, 15*time.Minute, cfg.GranularityDuration())
	assert.Equal(t, "macd", cfg.Strategy)
	assert.Equal(t, 300, cfg.HistoryCapacity)
	assert.Equal(t, "coinbase", cfg.Exchange.Name)
	assert.Equal(t, 15*time.Second, cfg.Feed.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.Feed.ReconnectInterval)
	assert.Equal(t, 30, cfg.Feed.MaxReconnects)
	assert.Equal(t, 300, cfg.Backtest.ChunkSize)
	assert.Equal(t, 3.0, cfg.Backtest.RequestsPerSecond)
	assert.False(t, cfg.ReplacePartialBuys)
	assert.Equal(t, 0.95, cfg.FundingReserve)
}

func TestLoadFileAndNormalize(t *testing.T) {
	cm, err := NewConfigManager(writeConfig(t, sampleYAML), false)
	require.NoError(t, err)

	cfg := cm.GetConfig()
	assert.Equal(t, "ETH-USD", cfg.Product)
	assert.Equal(t, "rsi", cfg.Strategy)
	assert.Equal(t, 0.05, cfg.StopLoss)
	assert.Equal(t, 500.0, cfg.Exchange.Paper.QuoteBalance)
	assert.Equal(t, "key", cfg.Exchange.APIKey)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("JACT_GRANULARITY", "60")
	t.Setenv("JACT_EXCHANGE_NAME", "paper")

	cm, err := NewConfigManager("", false)
	require.NoError(t, err)
	assert.Equal(t, 60, cm.GetConfig().Granularity)
	assert.Equal(t, "paper", cm.GetConfig().Exchange.Name)
}

func TestInvalidConfigRejected(t *testing.T) {
	_, err := NewConfigManager(writeConfig(t, "granularity: 0\n"), false)
	assert.Error(t, err)

	_, err = NewConfigManager(writeConfig(t, "stopLoss: 1.5\n"), false)
	assert.Error(t, err)

	_, err = NewConfigManager(writeConfig(t, "fundingReserve: 1.5\n"), false)
	assert.Error(t, err)

	_, err = NewConfigManager(writeConfig(t, "fundingReserve: 0\n"), false)
	assert.Error(t, err)

	_, err = NewConfigManager(writeConfig(t, "exchange:\n  name: kraken\n"), false)
	assert.Error(t, err)

	_, err = NewConfigManager(writeConfig(t, "unknownKey: 1\n"), false)
	assert.Error(t, err)

	_, err = NewConfigManager(writeConfig(t, "exchange:\n  useSecrets: true\n"), false)
	assert.Error(t, err)
}

func TestSafeViewOmitsSecrets(t *testing.T) {
	cm, err := NewConfigManager(writeConfig(t, sampleYAML), false)
	require.NoError(t, err)

	view := cm.SafeView()
	assert.Empty(t, view.Exchange.APIKey)
	assert.Empty(t, view.Notifier.WebhookURL)
	assert.Equal(t, "key", cm.GetConfig().Exchange.APIKey)

	data, err := json.Marshal(cm.GetConfig())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.NotContains(t, string(data), "discord")
	assert.Contains(t, string(data), `"stopLoss":0.05`)
}

func TestSetValidatesBeforeCommit(t *testing.T) {
	cm, err := NewConfigManager(writeConfig(t, sampleYAML), false)
	require.NoError(t, err)

	var seen atomic.Value
	cm.RegisterOnChangeCallback(func(cfg *Config) { seen.Store(cfg.StopLoss) })

	require.NoError(t, cm.Set("stopLoss", 0.1))
	assert.Equal(t, 0.1, cm.GetConfig().StopLoss)
	assert.Equal(t, 0.1, seen.Load())

	assert.Error(t, cm.Set("stopLoss", 2.0))
	assert.Equal(t, 0.1, cm.GetConfig().StopLoss)

	assert.Error(t, cm.Set("granularity", -5))
	assert.Equal(t, 300, cm.GetConfig().Granularity)

	require.NoError(t, cm.Set("granularity", float64(900)))
	assert.Equal(t, 900, cm.GetConfig().Granularity)

	require.NoError(t, cm.Set("feed.heartbeatTimeout", "20s"))
	assert.Equal(t, 20*time.Second, cm.GetConfig().Feed.HeartbeatTimeout)

	assert.Error(t, cm.Set("nope", 1))
	assert.Error(t, cm.Set("feed", 1))
	assert.Error(t, cm.Set("exchange.apiKey", "other"))
	assert.Equal(t, "key", cm.GetConfig().Exchange.APIKey)
}

func TestResolveSecretsWith(t *testing.T) {
	body := "exchange:\n  useSecrets: true\n  projectID: proj\n  apiKeySecretPath: k\n  apiSecretSecretPath: s\n  passphraseSecretPath: p\n"
	cm, err := NewConfigManager(writeConfig(t, body), false)
	require.NoError(t, err)

	secrets := map[string]string{"k": "key-value", "s": "secret-value", "p": "pass-value"}
	require.NoError(t, cm.ResolveSecretsWith(context.Background(), func(_ context.Context, path string) (string, error) {
		return secrets[path], nil
	}))
	assert.Equal(t, "key-value", cm.GetConfig().Exchange.APIKey)

	// Resolved credentials survive later updates.
	require.NoError(t, cm.Set("logging", true))
	assert.Equal(t, "secret-value", cm.GetConfig().Exchange.APISecret)

	err = cm.ResolveSecretsWith(context.Background(), func(context.Context, string) (string, error) {
		return "", errors.New("permission denied")
	})
	assert.ErrorContains(t, err, "permission denied")
}

type stubStore struct {
	creds security.ExchangeCredentials
	err   error
}

func (s stubStore) Exchange(string) (security.ExchangeCredentials, error) { return s.creds, s.err }

func TestResolveCredentials(t *testing.T) {
	cm, err := NewConfigManager("", false)
	require.NoError(t, err)

	assert.Error(t, cm.ResolveCredentials(stubStore{err: errors.New("not found")}))

	creds := security.ExchangeCredentials{APIKey: "a", APISecret: "b", Passphrase: "c"}
	require.NoError(t, cm.ResolveCredentials(stubStore{creds: creds}))
	assert.Equal(t, "c", cm.GetConfig().Exchange.Passphrase)

	// Already complete: the store is not consulted.
	require.NoError(t, cm.ResolveCredentials(stubStore{err: errors.New("unused")}))
}

func TestHotReload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watcher test in short mode")
	}
	path := writeConfig(t, sampleYAML)
	cm, err := NewConfigManager(path, true)
	require.NoError(t, err)

	var reloaded atomic.Bool
	cm.RegisterOnChangeCallback(func(cfg *Config) {
		if cfg.Granularity == 60 {
			reloaded.Store(true)
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("granularity: 60\n"), 0600))
	assert.Eventually(t, reloaded.Load, 5*time.Second, 50*time.Millisecond)
}
