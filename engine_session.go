package goIdentity

import (
	"context"
	"errors"
	"net/url"

	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/MrEthical07/goIdentity/storage"
	"github.com/MrEthical07/goIdentity/transport"
)

const (
	clientPath   = "/v1/client"
	sessionsPath = "/v1/client/sessions"
)

func sessionPath(id, action string) string {
	return sessionsPath + "/" + url.PathEscape(id) + "/" + action
}

// GetToken describes the gettoken operation and its observable behavior.
//
// GetToken returns the cached token for the selected session, template and
// organization while it is fresh and fetches a new one otherwise. Concurrent
// callers for the same key share one fetch. A revoked session is removed from
// the client before the error is returned.
func (e *Engine) GetToken(ctx context.Context, opts GetTokenOptions) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineNotReady
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = e.store.Current().ActiveSessionID()
	}
	if sessionID == "" {
		return "", ErrNoActiveSession
	}

	key := session.Key{SessionID: sessionID, Template: opts.Template, OrganizationID: opts.OrganizationID}
	var (
		token string
		err   error
	)
	if opts.SkipCache {
		token, err = e.tokens.Refresh(ctx, key)
	} else {
		token, err = e.tokens.Get(ctx, key)
	}
	if errors.Is(err, ErrSessionRevoked) {
		e.sessionRevoked(sessionID)
	}
	return token, err
}

func (e *Engine) fetchToken(ctx context.Context, key session.Key) (string, error) {
	if e.config.Token.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Token.FetchTimeout)
		defer cancel()
	}

	path := sessionPath(key.SessionID, "tokens")
	if key.Template != "" {
		path += "/" + url.PathEscape(key.Template)
	}
	req := transport.Request{Method: transport.MethodPost, Path: path, Params: url.Values{}}
	if key.OrganizationID != "" {
		req.Params.Set("organization_id", key.OrganizationID)
	}

	resp, err := e.send(ctx, req, true)
	if err != nil {
		return "", err
	}
	var token model.TokenResource
	if err := resp.Decode(&token); err != nil {
		return "", &TransientError{Err: err}
	}
	return token.JWT, nil
}

// sessionRevoked drops sessionID after the service stopped honouring it. The
// store listener emits signedOut when it was the active session.
func (e *Engine) sessionRevoked(sessionID string) {
	wasActive := e.store.Current().ActiveSessionID() == sessionID
	if !e.store.RemoveSession(sessionID) {
		return
	}
	e.metricInc(MetricSessionRevoked)
	e.logger.Info("session revoked", "session_id", sessionID)
	if !wasActive {
		e.tokens.InvalidateSession(sessionID)
	}
}

/*
====================================
POLLING
====================================
*/

func (e *Engine) pollTick(ctx context.Context, sessionID string) error {
	_, err := e.tokens.Refresh(ctx, session.Key{SessionID: sessionID})
	e.metricInc(MetricPollTick)
	return err
}

func (e *Engine) pollFailed(sessionID string, err error) {
	e.metricInc(MetricPollFailure)
	e.logger.Warn("session refresh failed", "session_id", sessionID, "error", err)
}

func (e *Engine) startPolling(sessionID string) {
	if e.poller != nil && !e.closed.Load() {
		e.poller.Start(sessionID)
	}
}

func (e *Engine) stopPolling() {
	if e.poller != nil {
		e.poller.Stop()
	}
}

// Foreground resumes polling the active session, as when the app returns to
// the foreground.
func (e *Engine) Foreground() {
	e.foreground.Store(true)
	if id := e.store.Current().ActiveSessionID(); id != "" {
		e.startPolling(id)
	}
}

// Background stops polling. Cached tokens stay valid until their TTL.
func (e *Engine) Background() {
	e.foreground.Store(false)
	e.stopPolling()
}

// Polling returns the polled session id and whether the loop is running.
func (e *Engine) Polling() (string, bool) {
	if e.poller == nil {
		return "", false
	}
	return e.poller.Running()
}

/*
====================================
SESSIONS
====================================
*/

// SignOut ends sessionID, or the active session when sessionID is empty.
func (e *Engine) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		sessionID = e.store.Current().ActiveSessionID()
	}
	if sessionID == "" {
		return ErrNoActiveSession
	}
	_, err := e.send(ctx, transport.Request{Method: transport.MethodPost, Path: sessionPath(sessionID, "remove")}, true)
	if err != nil && !errors.Is(err, ErrSessionRevoked) {
		return err
	}
	e.store.RemoveSession(sessionID)
	e.tokens.InvalidateSession(sessionID)
	e.metricInc(MetricSignOut)
	return nil
}

// SignOutAll ends every session on this client and clears the snapshot.
func (e *Engine) SignOutAll(ctx context.Context) error {
	if _, err := e.send(ctx, transport.Request{Method: transport.MethodDelete, Path: sessionsPath}, false); err != nil {
		return err
	}
	e.store.Clear()
	e.metricInc(MetricSignOutAll)
	return nil
}

// SetActive makes sessionID the active session on the service and locally.
func (e *Engine) SetActive(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoActiveSession
	}
	_, err := e.send(ctx, transport.Request{Method: transport.MethodPost, Path: sessionPath(sessionID, "touch")}, true)
	if errors.Is(err, ErrSessionRevoked) {
		e.sessionRevoked(sessionID)
	}
	return err
}

// RefreshClient fetches the client from the service, applies it, and returns
// the snapshot now held.
func (e *Engine) RefreshClient(ctx context.Context) (*model.Client, error) {
	resp, err := e.send(ctx, transport.Request{Method: transport.MethodGet, Path: clientPath}, false)
	if err != nil {
		return nil, err
	}
	if resp.Client == nil {
		var c model.Client
		if err := resp.Decode(&c); err != nil {
			return nil, &TransientError{Err: err}
		}
		e.applyClient(&c)
	}
	return e.store.Current(), nil
}

// Load restores the last persisted snapshot. A missing snapshot is not an
// error; one older than the snapshot already held is ignored.
func (e *Engine) Load(ctx context.Context) error {
	if e.storage == nil {
		return nil
	}
	if e.config.Storage.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Storage.Timeout)
		defer cancel()
	}

	data, err := e.storage.Load(ctx, e.config.Storage.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	c, err := storage.DecodeSnapshot(data)
	if err != nil {
		e.logger.Warn("discarding unreadable snapshot", "key", e.config.Storage.Key, "error", err)
		return nil
	}
	e.applyClient(c)
	return nil
}
