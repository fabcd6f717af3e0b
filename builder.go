package goIdentity

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goIdentity/platform"
	"github.com/MrEthical07/goIdentity/storage"
	"github.com/MrEthical07/goIdentity/transport"
)

// Builder defines a public type used by goIdentity APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	transport  transport.Transport
	ceremonies platform.Ceremonies
	storage    storage.SecureStorage
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
//
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
//
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTransport sets the connection to the authentication service. It is
// required.
func (b *Builder) WithTransport(t transport.Transport) *Builder {
	b.transport = t
	return b
}

// WithCeremonies enables the OAuth, ID-token and passkey operations.
func (b *Builder) WithCeremonies(c platform.Ceremonies) *Builder {
	b.ceremonies = c
	return b
}

// WithStorage persists snapshots so Load can restore them at cold start.
func (b *Builder) WithStorage(s storage.SecureStorage) *Builder {
	b.storage = s
	return b
}

// WithLogger sets the structured logger. Nil keeps the discarding default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for cache freshness and cooldown windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the engine counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	if !enabled {
		b.config.Metrics.EnableLatencyHistograms = false
	}
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.transport == nil {
		return nil, ErrTransportRequired
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	e := newEngine(engineDeps{
		config:     cloneConfig(b.config),
		transport:  b.transport,
		ceremonies: b.ceremonies,
		storage:    b.storage,
		logger:     logger,
		now:        now,
	})

	b.built = true
	return e, nil
}
