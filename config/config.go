package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/evdnx/golog"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/kylerberry/JACT/internal/logutil"
	"github.com/kylerberry/JACT/security"
)

const configComponent = "config"

// ConfigManager handles configuration loading, validation, and hot reloading
type ConfigManager struct {
	viper      *viper.Viper
	config     *Config
	configLock sync.RWMutex
	validate   *validator.Validate
	onChange   []func(config *Config)
	secrets    *security.ExchangeCredentials
	logger     *golog.Logger
}

// Config is the agent configuration.
type Config struct {
	Product            string         `mapstructure:"product" json:"product" validate:"required"`
	Granularity        int            `mapstructure:"granularity" json:"granularity" validate:"required,gt=0"`
	Strategy           string         `mapstructure:"strategy" json:"strategy" validate:"required"`
	StopLoss           float64        `mapstructure:"stopLoss" json:"stopLoss" validate:"gte=0,lt=1"`
	AllowedSlippage    float64        `mapstructure:"allowedSlippage" json:"allowedSlippage" validate:"gte=0,lt=1"`
	MaxFunds           float64        `mapstructure:"maxFunds" json:"maxFunds" validate:"gte=0"`
	FundingReserve     float64        `mapstructure:"fundingReserve" json:"fundingReserve" validate:"gt=0,lte=1"`
	Logging            bool           `mapstructure:"logging" json:"logging"`
	LogLevel           string         `mapstructure:"logLevel" json:"logLevel" validate:"oneof=debug info"`
	ReplacePartialBuys bool           `mapstructure:"replacePartialBuys" json:"replacePartialBuys"`
	HistoryCapacity    int            `mapstructure:"historyCapacity" json:"historyCapacity" validate:"gt=0"`
	Exchange           ExchangeConfig `mapstructure:"exchange" json:"exchange"`
	Feed               FeedConfig     `mapstructure:"feed" json:"feed"`
	Cache              CacheConfig    `mapstructure:"cache" json:"cache"`
	Backtest           BacktestConfig `mapstructure:"backtest" json:"backtest"`
	API                APIConfig      `mapstructure:"api" json:"api"`
	Notifier           NotifierConfig `mapstructure:"notifier" json:"notifier"`
	Journal            JournalConfig  `mapstructure:"journal" json:"journal"`
}

// ExchangeConfig selects the gateway and carries its credentials.
type ExchangeConfig struct {
	Name       string `mapstructure:"name" json:"name" validate:"required,oneof=coinbase paper"`
	Sandbox    bool   `mapstructure:"sandbox" json:"sandbox"`
	RESTURL    string `mapstructure:"restURL" json:"restURL,omitempty" validate:"omitempty,url"`
	FeedURL    string `mapstructure:"feedURL" json:"feedURL,omitempty" validate:"omitempty,url"`
	APIKey     string `mapstructure:"apiKey" json:"-"`
	APISecret  string `mapstructure:"apiSecret" json:"-"`
	Passphrase string `mapstructure:"passphrase" json:"-"`
	UseSecrets bool   `mapstructure:"useSecrets" json:"useSecrets"`
	// GCP Secret Manager paths
	ProjectID            string `mapstructure:"projectID" json:"projectID,omitempty" validate:"required_if=UseSecrets true"`
	APIKeySecretPath     string `mapstructure:"apiKeySecretPath" json:"apiKeySecretPath,omitempty" validate:"required_if=UseSecrets true"`
	APISecretSecretPath  string `mapstructure:"apiSecretSecretPath" json:"apiSecretSecretPath,omitempty" validate:"required_if=UseSecrets true"`
	PassphraseSecretPath string `mapstructure:"passphraseSecretPath" json:"passphraseSecretPath,omitempty" validate:"required_if=UseSecrets true"`
	// CredentialStore is an encrypted file written by security.CredentialStore.
	CredentialStore string      `mapstructure:"credentialStore" json:"credentialStore,omitempty"`
	MasterKeyEnv    string      `mapstructure:"masterKeyEnv" json:"masterKeyEnv"`
	Paper           PaperConfig `mapstructure:"paper" json:"paper"`
}

// PaperConfig funds the simulated account.
type PaperConfig struct {
	QuoteBalance float64 `mapstructure:"quoteBalance" json:"quoteBalance" validate:"gte=0"`
	BaseBalance  float64 `mapstructure:"baseBalance" json:"baseBalance" validate:"gte=0"`
}

// FeedConfig tunes the websocket watchdog.
type FeedConfig struct {
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeatTimeout" json:"heartbeatTimeout" validate:"gt=0"`
	ReconnectInterval time.Duration `mapstructure:"reconnectInterval" json:"reconnectInterval" validate:"gt=0"`
	MaxReconnects     int           `mapstructure:"maxReconnects" json:"maxReconnects" validate:"gt=0"`
}

// CacheConfig controls the candle history cache.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled" json:"enabled"`
	RecentTTL     time.Duration `mapstructure:"recentTTL" json:"recentTTL"`
	HistoricalTTL time.Duration `mapstructure:"historicalTTL" json:"historicalTTL"`
	MaxEntries    int           `mapstructure:"maxEntries" json:"maxEntries" validate:"gte=0"`
}

// BacktestConfig describes a historical replay.
type BacktestConfig struct {
	Start             string  `mapstructure:"start" json:"start,omitempty"`
	End               string  `mapstructure:"end" json:"end,omitempty"`
	Slippage          float64 `mapstructure:"slippage" json:"slippage" validate:"gte=0,lt=1"`
	ChunkSize         int     `mapstructure:"chunkSize" json:"chunkSize" validate:"gt=0,lte=300"`
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond" json:"requestsPerSecond" validate:"gt=0"`
}

// APIConfig configures the admin HTTP server.
type APIConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Listen      string `mapstructure:"listen" json:"listen" validate:"required_if=Enabled true"`
	TokenKeyEnv string `mapstructure:"tokenKeyEnv" json:"tokenKeyEnv"`
	Issuer      string `mapstructure:"issuer" json:"issuer"`
	Audience    string `mapstructure:"audience" json:"audience"`
}

// NotifierConfig configures the webhook notifier.
type NotifierConfig struct {
	WebhookURL string `mapstructure:"webhookURL" json:"-" validate:"omitempty,url"`
}

// JournalConfig configures the Postgres fill journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	DSN     string `mapstructure:"dsn" json:"-" validate:"required_if=Enabled true"`
}

// GranularityDuration returns the candle width.
func (c *Config) GranularityDuration() time.Duration {
	return time.Duration(c.Granularity) * time.Second
}

// secretKeys cannot be changed through Set.
var secretKeys = map[string]bool{
	"exchange.apikey":     true,
	"exchange.apisecret":  true,
	"exchange.passphrase": true,
	"notifier.webhookurl": true,
	"journal.dsn":         true,
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, watchConfig bool) (*ConfigManager, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("JACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	loadDefaultConfig(v)

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}

		v.SetConfigFile(absPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load configuration file: %w", err)
		}
	}

	cm := &ConfigManager{
		viper:    v,
		validate: validator.New(),
		onChange: make([]func(config *Config), 0),
	}

	if err := cm.loadConfig(); err != nil {
		return nil, err
	}
	// The shared logger takes its level from the first configuration.
	logutil.Configure(cm.config.LogLevel)
	cm.logger = logutil.Default()

	if watchConfig && configPath != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := cm.loadConfig(); err != nil {
				cm.logger.Error("configuration reload rejected",
					golog.String("component", configComponent),
					golog.String("file", e.Name),
					golog.String("error", err.Error()),
				)
				return
			}
			cm.logger.Info("configuration reloaded",
				golog.String("component", configComponent),
				golog.String("file", e.Name),
			)
			cm.notify()
		})
	}

	return cm, nil
}

// loadDefaultConfig loads default configuration values
func loadDefaultConfig(v *viper.Viper) {
	v.SetDefault("product", "BTC-USD")
	v.SetDefault("granularity", 900)
	v.SetDefault("strategy", "macd")
	v.SetDefault("stopLoss", 0)
	v.SetDefault("allowedSlippage", 0)
	v.SetDefault("maxFunds", 0)
	// Leaves room for exchange fees.
	v.SetDefault("fundingReserve", 0.95)
	v.SetDefault("logging", false)
	v.SetDefault("logLevel", "info")
	v.SetDefault("replacePartialBuys", false)
	v.SetDefault("historyCapacity", 300)

	v.SetDefault("exchange.name", "coinbase")
	v.SetDefault("exchange.sandbox", false)
	v.SetDefault("exchange.restURL", "")
	v.SetDefault("exchange.feedURL", "")
	v.SetDefault("exchange.apiKey", "")
	v.SetDefault("exchange.apiSecret", "")
	v.SetDefault("exchange.passphrase", "")
	v.SetDefault("exchange.useSecrets", false)
	v.SetDefault("exchange.projectID", "")
	v.SetDefault("exchange.apiKeySecretPath", "")
	v.SetDefault("exchange.apiSecretSecretPath", "")
	v.SetDefault("exchange.passphraseSecretPath", "")
	v.SetDefault("exchange.credentialStore", "")
	v.SetDefault("exchange.masterKeyEnv", "JACT_MASTER_KEY")
	v.SetDefault("exchange.paper.quoteBalance", 1000)
	v.SetDefault("exchange.paper.baseBalance", 0)

	v.SetDefault("feed.heartbeatTimeout", "15s")
	v.SetDefault("feed.reconnectInterval", "30s")
	v.SetDefault("feed.maxReconnects", 30)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.recentTTL", "30s")
	v.SetDefault("cache.historicalTTL", "24h")
	v.SetDefault("cache.maxEntries", 1000)

	v.SetDefault("backtest.start", "")
	v.SetDefault("backtest.end", "")
	v.SetDefault("backtest.slippage", 0)
	v.SetDefault("backtest.chunkSize", 300)
	v.SetDefault("backtest.requestsPerSecond", 3)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.tokenKeyEnv", "JACT_API_TOKEN_KEY")
	v.SetDefault("api.issuer", "jact")
	v.SetDefault("api.audience", "jact-admin")

	v.SetDefault("notifier.webhookURL", "")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.dsn", "")
}

func (cm *ConfigManager) decode(settings map[string]interface{}) (*Config, error) {
	var raw Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result:           &raw,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	raw.Product = strings.ToUpper(raw.Product)
	raw.Strategy = strings.ToLower(raw.Strategy)
	raw.Exchange.Name = strings.ToLower(raw.Exchange.Name)

	if err := cm.validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if cm.secrets != nil {
		raw.Exchange.APIKey = cm.secrets.APIKey
		raw.Exchange.APISecret = cm.secrets.APISecret
		raw.Exchange.Passphrase = cm.secrets.Passphrase
	}
	return &raw, nil
}

// loadConfig loads the configuration from Viper into the config struct
func (cm *ConfigManager) loadConfig() error {
	cm.configLock.Lock()
	defer cm.configLock.Unlock()

	cfg, err := cm.decode(cm.viper.AllSettings())
	if err != nil {
		return err
	}
	cm.config = cfg
	return nil
}

// GetConfig returns the current configuration. The returned value must not
// be modified.
func (cm *ConfigManager) GetConfig() *Config {
	cm.configLock.RLock()
	defer cm.configLock.RUnlock()
	return cm.config
}

// GetViper returns the Viper instance
func (cm *ConfigManager) GetViper() *viper.Viper {
	return cm.viper
}

// SafeView returns a copy of the configuration with credentials removed.
func (cm *ConfigManager) SafeView() Config {
	cfg := *cm.GetConfig()
	cfg.Exchange.APIKey = ""
	cfg.Exchange.APISecret = ""
	cfg.Exchange.Passphrase = ""
	cfg.Notifier.WebhookURL = ""
	cfg.Journal.DSN = ""
	return cfg
}

// Set validates the configuration with key changed to value and commits it
// only when valid. Registered callbacks run after a successful commit.
func (cm *ConfigManager) Set(key string, value interface{}) error {
	path := strings.ToLower(strings.TrimSpace(key))
	if secretKeys[path] {
		return fmt.Errorf("%s cannot be changed at runtime", key)
	}

	cm.configLock.Lock()
	settings := cm.viper.AllSettings()
	if err := setPath(settings, path, value); err != nil {
		cm.configLock.Unlock()
		return err
	}
	cfg, err := cm.decode(settings)
	if err != nil {
		cm.configLock.Unlock()
		return err
	}
	cm.viper.Set(path, value)
	cm.config = cfg
	cm.configLock.Unlock()

	cm.logger.Info("configuration updated",
		golog.String("component", configComponent),
		golog.String("key", key),
	)
	cm.notify()
	return nil
}

// setPath assigns value at a dotted path that must already exist.
func setPath(settings map[string]interface{}, path string, value interface{}) error {
	parts := strings.Split(path, ".")
	node := settings
	for i, part := range parts {
		current, ok := node[part]
		if !ok {
			return fmt.Errorf("unknown configuration key %q", path)
		}
		if i == len(parts)-1 {
			if _, isMap := current.(map[string]interface{}); isMap {
				return fmt.Errorf("configuration key %q is a section", path)
			}
			node[part] = value
			return nil
		}
		next, ok := current.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unknown configuration key %q", path)
		}
		node = next
	}
	return nil
}

// RegisterOnChangeCallback registers a callback function to be called when the configuration changes
func (cm *ConfigManager) RegisterOnChangeCallback(callback func(config *Config)) {
	cm.configLock.Lock()
	defer cm.configLock.Unlock()
	cm.onChange = append(cm.onChange, callback)
}

func (cm *ConfigManager) notify() {
	cm.configLock.RLock()
	cfg := cm.config
	callbacks := append([]func(*Config){}, cm.onChange...)
	cm.configLock.RUnlock()
	for _, callback := range callbacks {
		callback(cfg)
	}
}

// useCredentials pins resolved credentials so reloads keep them.
func (cm *ConfigManager) useCredentials(creds security.ExchangeCredentials) {
	cm.configLock.Lock()
	defer cm.configLock.Unlock()
	cm.secrets = &creds
	cm.config.Exchange.APIKey = creds.APIKey
	cm.config.Exchange.APISecret = creds.APISecret
	cm.config.Exchange.Passphrase = creds.Passphrase
}

// SecretAccessor fetches the latest version of a named secret.
type SecretAccessor func(ctx context.Context, secretPath string) (string, error)

// ResolveSecrets resolves exchange credentials from GCP Secret Manager when
// exchange.useSecrets is set.
func (cm *ConfigManager) ResolveSecrets(ctx context.Context) error {
	cfg := cm.GetConfig()
	if !cfg.Exchange.UseSecrets {
		return nil
	}

	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create secretmanager client: %w", err)
	}
	defer client.Close()

	projectID := cfg.Exchange.ProjectID
	return cm.ResolveSecretsWith(ctx, func(ctx context.Context, secretPath string) (string, error) {
		return accessSecret(ctx, client, projectID, secretPath)
	})
}

// ResolveSecretsWith resolves exchange credentials through access.
func (cm *ConfigManager) ResolveSecretsWith(ctx context.Context, access SecretAccessor) error {
	ex := cm.GetConfig().Exchange
	if !ex.UseSecrets {
		return nil
	}

	var creds security.ExchangeCredentials
	var err error
	if creds.APIKey, err = access(ctx, ex.APIKeySecretPath); err != nil {
		return fmt.Errorf("failed to access API key secret for exchange %s: %w", ex.Name, err)
	}
	if creds.APISecret, err = access(ctx, ex.APISecretSecretPath); err != nil {
		return fmt.Errorf("failed to access API secret for exchange %s: %w", ex.Name, err)
	}
	if creds.Passphrase, err = access(ctx, ex.PassphraseSecretPath); err != nil {
		return fmt.Errorf("failed to access passphrase secret for exchange %s: %w", ex.Name, err)
	}

	cm.useCredentials(creds)
	cm.logger.Info("exchange credentials resolved from secret manager",
		golog.String("component", configComponent),
		golog.String("exchange", ex.Name),
	)
	return nil
}

// CredentialSource looks up stored exchange credentials.
type CredentialSource interface {
	Exchange(name string) (security.ExchangeCredentials, error)
}

// ResolveCredentials fills missing exchange credentials from store.
func (cm *ConfigManager) ResolveCredentials(store CredentialSource) error {
	ex := cm.GetConfig().Exchange
	if ex.APIKey != "" && ex.APISecret != "" && ex.Passphrase != "" {
		return nil
	}
	creds, err := store.Exchange(ex.Name)
	if err != nil {
		return fmt.Errorf("failed to load %s credentials: %w", ex.Name, err)
	}
	cm.useCredentials(creds)
	return nil
}

// accessSecret accesses a secret version from GCP Secret Manager
func accessSecret(ctx context.Context, client *secretmanager.Client, projectID, secretPath string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretPath)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}

	return string(result.Payload.Data), nil
}
