package goIdentity

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/model"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
)

// EnvConfig is the environment overlay for Config. Unset variables leave the
// base configuration untouched.
type EnvConfig struct {
	Token        TokenEnv
	Polling      PollingEnv
	Verification VerificationEnv
	FactorPolicy FactorPolicyEnv
	Events       EventsEnv
	Metrics      MetricsEnv
	Storage      StorageEnv
}

type TokenEnv struct {
	TTL          time.Duration `env:"GOIDENTITY_TOKEN_TTL"`
	FetchTimeout time.Duration `env:"GOIDENTITY_TOKEN_FETCH_TIMEOUT"`
	IgnoreExpiry bool          `env:"GOIDENTITY_TOKEN_IGNORE_EXPIRY"`
}

type PollingEnv struct {
	Interval          time.Duration `env:"GOIDENTITY_POLL_INTERVAL"`
	Disable           bool          `env:"GOIDENTITY_POLL_DISABLE"`
	StartInBackground bool          `env:"GOIDENTITY_POLL_START_IN_BACKGROUND"`
}

type VerificationEnv struct {
	PrepareCooldown time.Duration `env:"GOIDENTITY_PREPARE_COOLDOWN"`
}

type FactorPolicyEnv struct {
	FirstFactors     []string `env:"GOIDENTITY_FIRST_FACTOR_ORDER" env-separator:","`
	SecondFactors    []string `env:"GOIDENTITY_SECOND_FACTOR_ORDER" env-separator:","`
	PasskeySupported bool     `env:"GOIDENTITY_PASSKEY_SUPPORTED"`
}

type EventsEnv struct {
	BufferSize           int `env:"GOIDENTITY_EVENT_BUFFER"`
	SubscriberBufferSize int `env:"GOIDENTITY_EVENT_SUBSCRIBER_BUFFER"`
}

type MetricsEnv struct {
	Disable                 bool `env:"GOIDENTITY_METRICS_DISABLE"`
	EnableLatencyHistograms bool `env:"GOIDENTITY_METRICS_LATENCY"`
}

type StorageEnv struct {
	Key           string        `env:"GOIDENTITY_STORAGE_KEY"`
	Timeout       time.Duration `env:"GOIDENTITY_STORAGE_TIMEOUT"`
	NoPersistence bool          `env:"GOIDENTITY_STORAGE_DISABLE"`
}

// ReadEnvConfig reads the GOIDENTITY_* variables from the process environment.
func ReadEnvConfig() (EnvConfig, error) {
	var env EnvConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return EnvConfig{}, fmt.Errorf("read env config: %w", err)
	}
	return env, nil
}

// LoadConfigFromEnv overlays the environment on the default configuration
// and validates the result.
func LoadConfigFromEnv() (Config, error) {
	env, err := ReadEnvConfig()
	if err != nil {
		return Config{}, err
	}
	cfg, err := env.Apply(defaultConfig())
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Apply returns base with every set variable overriding its field.
// Fields sharing a name are copied section by section; switches that turn a
// default off are applied explicitly.
func (e EnvConfig) Apply(base Config) (Config, error) {
	cfg := cloneConfig(base)
	skipEmpty := copier.Option{IgnoreEmpty: true}

	sections := []struct {
		name     string
		dst, src any
	}{
		{"token", &cfg.Token, &e.Token},
		{"polling", &cfg.Polling, &e.Polling},
		{"verification", &cfg.Verification, &e.Verification},
		{"factor policy", &cfg.FactorPolicy, &e.FactorPolicy},
		{"events", &cfg.Events, &e.Events},
		{"metrics", &cfg.Metrics, &e.Metrics},
		{"storage", &cfg.Storage, &e.Storage},
	}
	for _, s := range sections {
		if err := copier.CopyWithOption(s.dst, s.src, skipEmpty); err != nil {
			return Config{}, fmt.Errorf("apply %s env: %w", s.name, err)
		}
	}

	if e.Token.IgnoreExpiry {
		cfg.Token.BoundByExpiry = false
	}
	if e.Polling.Disable {
		cfg.Polling.Enabled = false
	}
	if e.Polling.StartInBackground {
		cfg.Polling.StartInForeground = false
	}
	if e.Metrics.Disable {
		cfg.Metrics.Enabled = false
		cfg.Metrics.EnableLatencyHistograms = false
	}
	if e.Storage.NoPersistence {
		cfg.Storage.PersistSnapshots = false
	}

	if len(e.FactorPolicy.FirstFactors) > 0 {
		order, err := parseOrder(e.FactorPolicy.FirstFactors)
		if err != nil {
			return Config{}, fmt.Errorf("GOIDENTITY_FIRST_FACTOR_ORDER: %w", err)
		}
		cfg.FactorPolicy.FirstFactorOrder = order
	}
	if len(e.FactorPolicy.SecondFactors) > 0 {
		order, err := parseOrder(e.FactorPolicy.SecondFactors)
		if err != nil {
			return Config{}, fmt.Errorf("GOIDENTITY_SECOND_FACTOR_ORDER: %w", err)
		}
		cfg.FactorPolicy.SecondFactorOrder = order
	}

	return cfg, nil
}

func parseOrder(raw []string) ([]model.StrategyKind, error) {
	out := make([]model.StrategyKind, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		kind := model.ParseStrategy(item).Kind()
		if kind == model.StrategyUnknown {
			return nil, fmt.Errorf("unknown strategy %q", item)
		}
		out = append(out, kind)
	}
	return out, nil
}
