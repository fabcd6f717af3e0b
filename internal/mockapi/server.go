package mockapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/transport"
	"github.com/google/uuid"
)

// DefaultCode is the one-time code every prepared code factor accepts.
const DefaultCode = "424242"

const (
	clientPath          = "/v1/client"
	defaultCallbackURL  = "goidentity://oauth-callback"
	authorizeURL        = "https://oauth.mock.test/authorize"
	maxCodeAttempts     = 3
	defaultSessionLife  = 7 * 24 * time.Hour
	defaultCodeLifetime = 10 * time.Minute
)

// Config configures a Server.
type Config struct {
	// Code replaces DefaultCode.
	Code     string
	TokenTTL time.Duration
	CodeTTL  time.Duration
	// SigningKey signs session tokens. A random key is generated when empty.
	SigningKey []byte
	Now        func() time.Time
	// Latency delays every request.
	Latency time.Duration
	// OmitCallbackNonce makes OAuth callbacks return without a nonce.
	OmitCallbackNonce bool
}

// Account is a user known to the service.
type Account struct {
	ID        string
	Email     string
	Phone     string
	Username  string
	Password  string
	FirstName string
	LastName  string
	TOTP      bool
	Passkey   bool
}

// OAuthIdentity is the profile a mock provider authenticates.
type OAuthIdentity struct {
	Email     string
	FirstName string
	LastName  string
}

type signInState struct {
	si        *model.SignIn
	accountID string
	grant     string
}

type signUpState struct {
	su       *model.SignUp
	password string
	grant    string
}

type sessionState struct {
	session   model.Session
	accountID string
}

// grant correlates an OAuth redirect with the attempt that issued it.
type grant struct {
	attemptID   string
	signUp      bool
	provider    string
	redirectURL string
	resolved    bool
}

type failure struct {
	prefix string
	err    error
}

// Server is an in-memory authentication service for one device client.
type Server struct {
	config Config
	issuer *jwt.Issuer

	mu            sync.Mutex
	clientID      string
	stamp         time.Time
	accounts      map[string]*Account
	signIns       map[string]*signInState
	signUps       map[string]*signUpState
	sessions      map[string]*sessionState
	sessionOrder  []string
	currentSignIn string
	currentSignUp string
	activeSession string
	identities    map[string]OAuthIdentity
	grants        map[string]*grant
	failures      []failure

	requests    atomic.Int64
	tokenIssues atomic.Int64
	prepares    atomic.Int64
}

var _ transport.Transport = (*Server)(nil)

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Code == "" {
		cfg.Code = DefaultCode
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Minute
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeLifetime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.SigningKey) == 0 {
		cfg.SigningKey = make([]byte, 32)
		if _, err := rand.Read(cfg.SigningKey); err != nil {
			return nil, err
		}
	}
	issuer, err := jwt.NewIssuer(jwt.IssuerConfig{Key: cfg.SigningKey, TTL: cfg.TokenTTL, Issuer: "https://mockapi.test"})
	if err != nil {
		return nil, err
	}
	return &Server{
		config:     cfg,
		issuer:     issuer,
		clientID:   newID("client"),
		accounts:   make(map[string]*Account),
		signIns:    make(map[string]*signInState),
		signUps:    make(map[string]*signUpState),
		sessions:   make(map[string]*sessionState),
		identities: make(map[string]OAuthIdentity),
		grants:     make(map[string]*grant),
	}, nil
}

// Issuer returns the token issuer so tests can verify issued tokens.
func (s *Server) Issuer() *jwt.Issuer { return s.issuer }

// AddAccount registers a user and returns its id.
func (s *Server) AddAccount(a Account) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = newID("user")
	}
	s.accounts[a.ID] = &a
	return a.ID
}

// SetOAuthIdentity sets the profile the provider authenticates next.
func (s *Server) SetOAuthIdentity(provider string, id OAuthIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[provider] = id
}

// FailNext makes the next request whose path starts with prefix return err.
func (s *Server) FailNext(prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{prefix: prefix, err: err})
}

// RevokeSession ends sessionID server-side. The device only learns about
// it on its next request for the session.
func (s *Server) RevokeSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endSession(sessionID, model.SessionRevoked)
}

// Requests returns the number of requests received.
func (s *Server) Requests() int64 { return s.requests.Load() }

// TokenIssues returns the number of token endpoint calls that issued a token.
func (s *Server) TokenIssues() int64 { return s.tokenIssues.Load() }

// Prepares returns the number of code deliveries.
func (s *Server) Prepares() int64 { return s.prepares.Load() }

// Client returns the current device client.
func (s *Server) Client() *model.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Send implements transport.Transport.
func (s *Server) Send(ctx context.Context, req transport.Request) (*transport.Response, error) {
	s.requests.Add(1)
	if s.config.Latency > 0 {
		timer := time.NewTimer(s.config.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(req.Path); err != nil {
		return nil, err
	}

	params := req.Params
	if params == nil {
		params = url.Values{}
	}
	if req.Path == clientPath {
		if req.Method != transport.MethodGet {
			return nil, s.reject(405, "method_not_allowed", "")
		}
		return s.ok(s.snapshot())
	}

	rest, ok := strings.CutPrefix(req.Path, clientPath+"/")
	if !ok {
		return nil, s.reject(404, "resource_not_found", "")
	}
	segs := strings.Split(rest, "/")
	switch segs[0] {
	case "sign_ins":
		return s.routeSignIn(req.Method, segs[1:], params)
	case "sign_ups":
		return s.routeSignUp(req.Method, segs[1:], params)
	case "sessions":
		return s.routeSessions(req.Method, segs[1:], params)
	}
	return nil, s.reject(404, "resource_not_found", "")
}

func (s *Server) injected(path string) error {
	for i, f := range s.failures {
		if strings.HasPrefix(path, f.prefix) {
			s.failures = append(s.failures[:i], s.failures[i+1:]...)
			return f.err
		}
	}
	return nil
}

// touch advances the client's update timestamp. Timestamps strictly
// increase even when the clock does not.
func (s *Server) touch() {
	now := s.config.Now()
	if !now.After(s.stamp) {
		now = s.stamp.Add(time.Microsecond)
	}
	s.stamp = now
}

func (s *Server) snapshot() *model.Client {
	c := &model.Client{
		ID:                  s.clientID,
		Sessions:            []model.Session{},
		LastActiveSessionID: s.activeSession,
		UpdatedAt:           s.stamp,
	}
	if st, ok := s.signIns[s.currentSignIn]; ok {
		c.SignIn = st.si.Clone()
	}
	if st, ok := s.signUps[s.currentSignUp]; ok {
		c.SignUp = st.su.Clone()
	}
	for _, id := range s.sessionOrder {
		if st, ok := s.sessions[id]; ok && st.session.Status == model.SessionActive {
			c.Sessions = append(c.Sessions, *st.session.Clone())
		}
	}
	return c
}

func (s *Server) ok(v any) (*transport.Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &transport.Response{Payload: raw, Client: s.snapshot()}, nil
}

var errorMessages = map[string]string{
	"form_identifier_not_found":  "Couldn't find your account.",
	"form_identifier_exists":     "That identifier is taken.",
	"form_password_incorrect":    "Password is incorrect.",
	"form_code_incorrect":        "Incorrect code.",
	"verification_expired":       "Verification expired.",
	"verification_failed":        "Too many failed attempts.",
	"strategy_for_user_invalid":  "Strategy not valid for this account.",
	"form_param_missing":         "A required parameter is missing.",
	"nonce_invalid":              "The rotating token nonce is invalid.",
	"resource_not_found":         "Resource not found.",
	"method_not_allowed":         "Method not allowed.",
	"session_revoked":            "Session is no longer active.",
	"external_account_not_found": "No account is linked to this identity.",
}

// reject builds a rejected response carrying the current client.
func (s *Server) reject(status int, code, param string) error {
	return &transport.APIError{
		Status: status,
		Errors: []model.ErrorInfo{{Code: code, Message: errorMessages[code], ParamName: param}},
		Client: s.snapshot(),
	}
}

func (s *Server) lookupAccount(identifier string) *Account {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil
	}
	for _, a := range s.accounts {
		switch identifier {
		case a.Email, a.Phone, a.Username:
			return a
		}
	}
	return nil
}

func (s *Server) accountByEmail(email string) *Account {
	if email == "" {
		return nil
	}
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return a
		}
	}
	return nil
}

// openGrant registers an OAuth redirect and returns its authorize URL.
func (s *Server) openGrant(attemptID string, signUp bool, provider, redirectURL string) (string, string) {
	nonce := uuid.NewString()
	if redirectURL == "" {
		redirectURL = defaultCallbackURL
	}
	s.grants[nonce] = &grant{attemptID: attemptID, signUp: signUp, provider: provider, redirectURL: redirectURL}
	q := url.Values{"provider": {provider}, "state": {nonce}}
	return nonce, authorizeURL + "?" + q.Encode()
}

// checkNonce reports whether nonce belongs to a resolved grant for attemptID.
func (s *Server) checkNonce(nonce, attemptID string) bool {
	g, ok := s.grants[nonce]
	return ok && g.resolved && g.attemptID == attemptID
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

var errUnknownGrant = errors.New("mockapi: unknown oauth state")
