package goIdentity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goIdentity/internal/events"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/snapshot"
	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/platform"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/MrEthical07/goIdentity/storage"
	"github.com/MrEthical07/goIdentity/transport"
	"github.com/google/uuid"
)

// Engine defines a public type used by goIdentity APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config     Config
	transport  transport.Transport
	ceremonies platform.Ceremonies
	storage    storage.SecureStorage
	logger     *slog.Logger
	now        func() time.Time

	store    *snapshot.Store
	tokens   *session.TokenCache
	poller   *session.Poller
	events   *events.Dispatcher
	cooldown *limiters.Cooldown
	metrics  *Metrics
	flows    flows.Deps

	foreground  atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
	unsubscribe func()

	completedMu sync.Mutex
	completed   map[string]struct{}

	persist *persister
}

type engineDeps struct {
	config     Config
	transport  transport.Transport
	ceremonies platform.Ceremonies
	storage    storage.SecureStorage
	logger     *slog.Logger
	now        func() time.Time
}

func newEngine(d engineDeps) *Engine {
	e := &Engine{
		config:     d.config,
		transport:  d.transport,
		ceremonies: d.ceremonies,
		storage:    d.storage,
		logger:     d.logger,
		now:        d.now,
		store:      snapshot.New(),
		metrics:    NewMetrics(d.config.Metrics),
		completed:  make(map[string]struct{}),
		events: events.NewDispatcher(events.Config{
			BufferSize:           d.config.Events.BufferSize,
			SubscriberBufferSize: d.config.Events.SubscriberBufferSize,
		}),
		cooldown: limiters.NewCooldown(d.config.Verification.PrepareCooldown, d.now),
	}

	e.tokens = session.NewTokenCache(session.CacheConfig{
		TTL:           d.config.Token.TTL,
		BoundByExpiry: d.config.Token.BoundByExpiry,
		Now:           d.now,
		Hooks: session.CacheHooks{
			Hit:          func(session.Key) { e.metricInc(MetricTokenCacheHit) },
			Miss:         func(session.Key) { e.metricInc(MetricTokenCacheMiss) },
			FetchFailed:  func(session.Key, error) { e.metricInc(MetricTokenFetchFailure) },
			FetchLatency: func(elapsed time.Duration) { e.metrics.Observe(MetricTokenFetchLatency, elapsed) },
		},
	}, e.fetchToken)

	if d.config.Polling.Enabled {
		e.poller = session.NewPoller(session.PollerConfig{
			Interval:    d.config.Polling.Interval,
			Tick:        e.pollTick,
			IsTerminal:  func(err error) bool { return errors.Is(err, ErrSessionRevoked) },
			OnTerminal:  func(sessionID string, _ error) { e.sessionRevoked(sessionID) },
			OnTransient: e.pollFailed,
		})
	}
	e.foreground.Store(d.config.Polling.StartInForeground)

	if d.storage != nil && d.config.Storage.PersistSnapshots {
		e.persist = newPersister(d.storage, d.config.Storage, d.logger, e.metricInc)
	}

	e.flows = e.flowDeps()
	e.unsubscribe = e.store.Subscribe(e.onChange)
	return e
}

func (e *Engine) flowDeps() flows.Deps {
	return flows.Deps{
		Exchange:   e.exchange,
		Store:      e.store,
		Fetch:      e.RefreshClient,
		Cooldown:   e.cooldown,
		Policy:     e.config.factorPolicy(),
		Ceremonies: e.ceremonies,
		Now:        e.now,

		OnSignInComplete: e.signInCompleted,
		OnSignUpComplete: e.signUpCompleted,

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Warn:      e.logger.Warn,

		Metrics: flows.Metrics{
			SignInCreated:     int(MetricSignInCreated),
			SignInCompleted:   int(MetricSignInCompleted),
			SignUpCreated:     int(MetricSignUpCreated),
			SignUpCompleted:   int(MetricSignUpCompleted),
			FactorPrepared:    int(MetricFactorPrepared),
			PrepareSuppressed: int(MetricPrepareSuppressed),
			FactorFailed:      int(MetricFactorFailed),
			TransferPerformed: int(MetricTransferPerformed),
			CeremonyCancelled: int(MetricCeremonyCancelled),
			CeremonyFailed:    int(MetricCeremonyFailed),
			CallbackWithNonce: int(MetricCallbackWithNonce),
			CallbackNoNonce:   int(MetricCallbackWithoutNonce),
		},
		Errors: flows.Errors{
			InvalidFactor:       ErrInvalidFactor,
			AttemptNotFound:     ErrAttemptNotFound,
			AttemptExpired:      ErrAttemptExpired,
			UserCancelled:       ErrUserCancelled,
			CeremonyUnavailable: ErrCeremonyUnavailable,
			MissingChallenge:    ErrMissingChallenge,
			InvalidState: func(op, status string) error {
				return &InvalidStateError{Op: op, Status: status}
			},
		},
	}
}

// Close describes the close operation and its observable behavior.
//
// Close stops polling, flushes the pending snapshot write and closes every
// event subscription. It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		if e.poller != nil {
			e.poller.Close()
		}
		if e.persist != nil {
			e.persist.close()
		}
		e.events.Close()
	})
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// EventsDropped returns how many event deliveries were skipped because a
// subscriber or the dispatch queue was full.
func (e *Engine) EventsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.events.Dropped()
}

// Client returns a copy of the latest client snapshot, or nil before the
// first response.
func (e *Engine) Client() *model.Client {
	return e.store.Current()
}

// ActiveSession returns a copy of the active session, or nil when signed out.
func (e *Engine) ActiveSession() *model.Session {
	return e.store.ActiveSession()
}

// Subscribe returns a channel of auth events and a function that stops
// delivery and closes it.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.Subscribe()
}

// SubscribeClient calls fn with every new snapshot, nil after a clear. fn runs
// synchronously with the write that produced the snapshot and must not call
// back into operations that write the client.
func (e *Engine) SubscribeClient(fn func(*model.Client)) func() {
	return e.store.Subscribe(func(ch snapshot.Change) { fn(ch.Next) })
}

func (e *Engine) metricInc(id MetricID) {
	if e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
EXCHANGE
====================================
*/

func (e *Engine) exchange(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return e.send(ctx, req, false)
}

// send runs req through the transport, applies any piggybacked client on
// success and on rejection, and classifies failures.
func (e *Engine) send(ctx context.Context, req transport.Request, sessionScoped bool) (*transport.Response, error) {
	if e.closed.Load() {
		return nil, ErrEngineNotReady
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resp, err := e.transport.Send(ctx, req)
	if err != nil {
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) && apiErr.Client != nil {
			e.applyClient(apiErr.Client)
		}
		return nil, classify(err, sessionScoped)
	}
	if resp == nil {
		return nil, &TransientError{Err: transport.ErrEmptyPayload}
	}
	if resp.Client != nil {
		e.applyClient(resp.Client)
	}
	return resp, nil
}

func (e *Engine) applyClient(c *model.Client) {
	if err := c.Validate(); err != nil {
		e.metricInc(MetricSnapshotInvalid)
		e.logger.Warn("dropping invalid client snapshot", "client_id", c.ID, "error", err)
		return
	}
	if e.store.Apply(c) {
		e.metricInc(MetricSnapshotApplied)
		return
	}
	e.metricInc(MetricSnapshotStale)
}

/*
====================================
SNAPSHOT LISTENER
====================================
*/

// onChange reacts to every store write. It must not write to the store.
func (e *Engine) onChange(ch snapshot.Change) {
	prevID, nextID := ch.Prev.ActiveSessionID(), ch.Next.ActiveSessionID()

	if ch.Cleared || ch.SessionChanged {
		e.tokens.Invalidate()
	}
	if ch.Next != nil {
		for _, sess := range ch.Next.Sessions {
			if sess.LastActiveToken != nil && sess.Status == model.SessionActive {
				e.tokens.Seed(session.Key{SessionID: sess.ID}, sess.LastActiveToken.JWT)
			}
		}
	}

	if ch.SessionChanged || ch.Cleared {
		if nextID != "" && e.foreground.Load() {
			e.startPolling(nextID)
		} else if nextID == "" {
			e.stopPolling()
		}
	}

	if ch.SessionChanged {
		e.events.Emit(events.New(events.SessionChanged, nextID, sessionUserID(ch.Next.ActiveSession())))
		if prevID != "" && nextID == "" {
			e.events.Emit(events.New(events.SignedOut, prevID, sessionUserID(ch.Prev.ActiveSession())))
		}
	}

	if e.persist != nil {
		if ch.Cleared || ch.Next == nil {
			e.persist.remove()
		} else {
			e.persist.save(ch.Next)
		}
	}
}

func sessionUserID(s *model.Session) string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

/*
====================================
COMPLETION EVENTS
====================================
*/

// firstCompletion reports whether key has not completed before. Reloading a
// complete attempt reaches the completion hook again.
func (e *Engine) firstCompletion(key string) bool {
	e.completedMu.Lock()
	defer e.completedMu.Unlock()
	if _, seen := e.completed[key]; seen {
		return false
	}
	e.completed[key] = struct{}{}
	return true
}

func (e *Engine) signInCompleted(si *model.SignIn) {
	if !e.firstCompletion("sign_in:" + si.ID) {
		return
	}
	userID := ""
	if c := e.store.Current(); c != nil {
		userID = sessionUserID(c.Session(si.CreatedSessionID))
	}
	e.events.Emit(events.New(events.SignInCompleted, si.CreatedSessionID, userID))
}

func (e *Engine) signUpCompleted(su *model.SignUp) {
	if !e.firstCompletion("sign_up:" + su.ID) {
		return
	}
	e.events.Emit(events.New(events.SignUpCompleted, su.CreatedSessionID, su.CreatedUserID))
}
