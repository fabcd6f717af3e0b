package goIdentity

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/model"
	"github.com/jinzhu/copier"
)

// Config defines a public type used by goIdentity APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token        TokenConfig
	Polling      PollingConfig
	Verification VerificationConfig
	FactorPolicy FactorPolicyConfig
	Events       EventsConfig
	Metrics      MetricsConfig
	Storage      StorageConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls the session token cache.
type TokenConfig struct {
	// TTL is how long a fetched token is served from cache.
	TTL time.Duration
	// BoundByExpiry caps TTL by the token's own exp claim.
	BoundByExpiry bool
	// FetchTimeout bounds one token request. The request is shared by every
	// caller waiting on the same key and ignores their cancellation, so this
	// is its only deadline. Zero leaves it unbounded.
	FetchTimeout time.Duration
}

/*
====================================
POLLING CONFIG
====================================
*/

// PollingConfig controls the background refresh of the active session.
type PollingConfig struct {
	Enabled bool
	// Interval must stay below Token.TTL so the cache never serves a token
	// the poller should already have replaced.
	Interval time.Duration
	// StartInForeground starts polling at Build. Otherwise polling waits for
	// the first Foreground call.
	StartInForeground bool
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig controls code delivery.
type VerificationConfig struct {
	// PrepareCooldown suppresses re-sending a code for the same attempt,
	// strategy and target. Negative disables the guard.
	PrepareCooldown time.Duration
}

/*
====================================
FACTOR POLICY CONFIG
====================================
*/

// FactorPolicyConfig ranks factors when an attempt supports several.
type FactorPolicyConfig struct {
	FirstFactorOrder  []model.StrategyKind
	SecondFactorOrder []model.StrategyKind
	PasskeySupported  bool
}

/*
====================================
EVENTS CONFIG
====================================
*/

// EventsConfig sizes the auth event buffers.
type EventsConfig struct {
	BufferSize           int
	SubscriberBufferSize int
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by goIdentity APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig controls snapshot persistence.
type StorageConfig struct {
	Key              string
	PersistSnapshots bool
	// Timeout bounds each storage call.
	Timeout time.Duration
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the configuration used when Builder.WithConfig is
// not called.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:           60 * time.Second,
			BoundByExpiry: true,
			FetchTimeout:  10 * time.Second,
		},
		Polling: PollingConfig{
			Enabled:           true,
			Interval:          50 * time.Second,
			StartInForeground: true,
		},
		Verification: VerificationConfig{
			PrepareCooldown: 30 * time.Second,
		},
		FactorPolicy: FactorPolicyConfig{
			FirstFactorOrder:  append([]model.StrategyKind(nil), flows.DefaultFirstFactorOrder...),
			SecondFactorOrder: append([]model.StrategyKind(nil), flows.DefaultSecondFactorOrder...),
		},
		Events: EventsConfig{
			BufferSize:           64,
			SubscriberBufferSize: 16,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Storage: StorageConfig{
			Key:              "goidentity:client",
			PersistSnapshots: true,
			Timeout:          2 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	var out Config
	if err := copier.CopyWithOption(&out, &cfg, copier.Option{DeepCopy: true}); err != nil {
		out = cfg
		out.FactorPolicy.FirstFactorOrder = append([]model.StrategyKind(nil), cfg.FactorPolicy.FirstFactorOrder...)
		out.FactorPolicy.SecondFactorOrder = append([]model.StrategyKind(nil), cfg.FactorPolicy.SecondFactorOrder...)
	}
	return out
}

func (c Config) factorPolicy() flows.FactorPolicy {
	return flows.FactorPolicy{
		FirstFactorOrder:  c.FactorPolicy.FirstFactorOrder,
		SecondFactorOrder: c.FactorPolicy.SecondFactorOrder,
		PasskeySupported:  c.FactorPolicy.PasskeySupported,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Token
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}
	if c.Token.FetchTimeout < 0 {
		return errors.New("Token FetchTimeout must be >= 0")
	}

	// Polling
	if c.Polling.Enabled {
		if c.Polling.Interval <= 0 {
			return errors.New("Polling Interval must be > 0 when polling is enabled")
		}
		if c.Polling.Interval >= c.Token.TTL {
			return errors.New("Polling Interval must be shorter than Token TTL")
		}
	}

	// Factor policy
	if err := validateOrder(c.FactorPolicy.FirstFactorOrder); err != nil {
		return errors.New("FactorPolicy FirstFactorOrder " + err.Error())
	}
	if err := validateOrder(c.FactorPolicy.SecondFactorOrder); err != nil {
		return errors.New("FactorPolicy SecondFactorOrder " + err.Error())
	}

	// Events
	if c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0")
	}
	if c.Events.SubscriberBufferSize <= 0 {
		return errors.New("Events SubscriberBufferSize must be > 0")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Storage
	if c.Storage.PersistSnapshots {
		if strings.TrimSpace(c.Storage.Key) == "" {
			return errors.New("Storage Key must be set when persisting snapshots")
		}
	}
	if c.Storage.Timeout < 0 {
		return errors.New("Storage Timeout must be >= 0")
	}

	return nil
}

func validateOrder(order []model.StrategyKind) error {
	seen := make(map[model.StrategyKind]struct{}, len(order))
	for _, kind := range order {
		if kind == model.StrategyUnknown {
			return errors.New("contains an unknown strategy")
		}
		if _, dup := seen[kind]; dup {
			return errors.New("contains a duplicate strategy")
		}
		seen[kind] = struct{}{}
	}
	return nil
}
