package govtxd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"nounsgov/observability/logging"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for govtxd.
type Config struct {
	ListenAddress  string          `yaml:"listen" validate:"required"`
	MetricsAddress string          `yaml:"metrics_listen"`
	Environment    string          `yaml:"environment"`
	Network        string          `yaml:"network"`
	NetworksFile   string          `yaml:"networks_file"`
	RPCURL         string          `yaml:"rpc_url" validate:"omitempty,url"`
	Subgraph       SubgraphConfig  `yaml:"subgraph"`
	Wallet         WalletConfig    `yaml:"wallet"`
	Pipeline       PipelineConfig  `yaml:"pipeline"`
	History        HistoryConfig   `yaml:"history"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Logging        LoggingConfig   `yaml:"logging"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
}

// SubgraphConfig points at the governance indexer.
type SubgraphConfig struct {
	URL       string `yaml:"url" validate:"omitempty,url"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// WalletConfig locates the signing key.
type WalletConfig struct {
	Keystore       string `yaml:"keystore" validate:"required"`
	PassphraseEnv  string `yaml:"passphrase_env"`
	PassphraseFile string `yaml:"passphrase_file"`
}

// PipelineConfig tunes the submission engine.
type PipelineConfig struct {
	GasMultiplierPercent uint64   `yaml:"gas_multiplier_percent" validate:"gte=100,lte=300"`
	ReceiptTimeout       Duration `yaml:"receipt_timeout"`
	PollInterval         Duration `yaml:"poll_interval"`
	Simulate             bool     `yaml:"simulate"`
	TrackerTTL           Duration `yaml:"tracker_ttl"`
	SignatureLifetime    Duration `yaml:"signature_lifetime"`
}

// HistoryConfig selects the transaction history database.
type HistoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	Driver   string `yaml:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN      string `yaml:"dsn"`
	DSNEnv   string `yaml:"dsn_env"`
}

// AuthConfig guards the API with HS256 bearer tokens.
type AuthConfig struct {
	Enabled        bool     `yaml:"enabled"`
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// LoggingConfig selects the level and optional rotated file.
type LoggingConfig struct {
	Level string             `yaml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	File  logging.FileConfig `yaml:"file"`
}

// TelemetryConfig enables OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.normalise(); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Network == "" {
		cfg.Network = "mainnet"
	}
	if cfg.Wallet.PassphraseEnv == "" {
		cfg.Wallet.PassphraseEnv = "GOVTXD_WALLET_PASS"
	}
	p := &cfg.Pipeline
	if p.GasMultiplierPercent == 0 {
		p.GasMultiplierPercent = 135
	}
	if p.ReceiptTimeout.Duration == 0 {
		p.ReceiptTimeout.Duration = 5 * time.Minute
	}
	if p.PollInterval.Duration == 0 {
		p.PollInterval.Duration = 2 * time.Second
	}
	if p.TrackerTTL.Duration == 0 {
		p.TrackerTTL.Duration = time.Hour
	}
	if p.SignatureLifetime.Duration == 0 {
		p.SignatureLifetime.Duration = 7 * 24 * time.Hour
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = "sqlite"
	}
	if cfg.History.DSN == "" && cfg.History.DSNEnv == "" && cfg.History.Driver == "sqlite" {
		cfg.History.DSN = "govtxd-history.db"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) normalise() error {
	var err error
	if c.Subgraph.APIKey, err = secret(c.Subgraph.APIKey, c.Subgraph.APIKeyEnv, ""); err != nil {
		return fmt.Errorf("subgraph api key: %w", err)
	}
	if c.History.DSN, err = secret(c.History.DSN, c.History.DSNEnv, ""); err != nil {
		return fmt.Errorf("history dsn: %w", err)
	}
	if c.Auth.Enabled {
		if c.Auth.HMACSecret, err = secret(c.Auth.HMACSecret, c.Auth.HMACSecretEnv, c.Auth.HMACSecretFile); err != nil {
			return fmt.Errorf("auth secret: %w", err)
		}
	}
	c.Wallet.Keystore = strings.TrimSpace(c.Wallet.Keystore)
	c.Wallet.PassphraseFile = strings.TrimSpace(c.Wallet.PassphraseFile)
	return nil
}

// secret resolves an inline value, an environment variable or a file, in
// that order.
func secret(inline, env, file string) (string, error) {
	if v := strings.TrimSpace(inline); v != "" {
		return v, nil
	}
	if env = strings.TrimSpace(env); env != "" {
		v := strings.TrimSpace(os.Getenv(env))
		if v == "" {
			return "", fmt.Errorf("%s is empty", env)
		}
		return v, nil
	}
	if file = strings.TrimSpace(file); file != "" {
		contents, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}

func validateConfig(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return errors.New("config: auth enabled without hmac secret")
	}
	if !cfg.History.Disabled && strings.TrimSpace(cfg.History.DSN) == "" {
		return errors.New("config: history dsn must be configured")
	}
	if cfg.Pipeline.PollInterval.Duration >= cfg.Pipeline.ReceiptTimeout.Duration {
		return errors.New("config: pipeline poll_interval must be shorter than receipt_timeout")
	}
	return nil
}
