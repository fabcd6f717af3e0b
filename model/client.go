package model

import (
	"errors"
	"time"
)

// SessionStatus is the server-reported state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
	SessionExpired   SessionStatus = "expired"
	SessionRemoved   SessionStatus = "removed"
	SessionReplaced  SessionStatus = "replaced"
	SessionRevoked   SessionStatus = "revoked"
	SessionAbandoned SessionStatus = "abandoned"
)

// ErrLastActiveSessionMissing reports a snapshot whose last active id is not in its session list.
var ErrLastActiveSessionMissing = errors.New("last active session id does not reference a session")

// User is the account a session belongs to.
type User struct {
	ID                  string    `json:"id"`
	Username            string    `json:"username,omitempty"`
	FirstName           string    `json:"first_name,omitempty"`
	LastName            string    `json:"last_name,omitempty"`
	PrimaryEmailAddress string    `json:"primary_email_address,omitempty"`
	PrimaryPhoneNumber  string    `json:"primary_phone_number,omitempty"`
	PasswordEnabled     bool      `json:"password_enabled"`
	TwoFactorEnabled    bool      `json:"two_factor_enabled"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TokenResource is a bearer token issued for a session.
type TokenResource struct {
	JWT    string    `json:"jwt"`
	Expiry time.Time `json:"expiry,omitempty"`
}

// Session is a signed-in session on this client.
type Session struct {
	ID              string         `json:"id"`
	Status          SessionStatus  `json:"status"`
	ExpireAt        time.Time      `json:"expire_at"`
	LastActiveAt    time.Time      `json:"last_active_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	User            *User          `json:"user,omitempty"`
	LastActiveToken *TokenResource `json:"last_active_token,omitempty"`
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	if s.LastActiveToken != nil {
		t := *s.LastActiveToken
		out.LastActiveToken = &t
	}
	return &out
}

// Client is the server's authoritative snapshot of this device's auth state.
type Client struct {
	ID                  string    `json:"id"`
	SignIn              *SignIn   `json:"sign_in,omitempty"`
	SignUp              *SignUp   `json:"sign_up,omitempty"`
	Sessions            []Session `json:"sessions"`
	LastActiveSessionID string    `json:"last_active_session_id,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Validate enforces that the last active id references a member of Sessions
// and that any held attempts satisfy their own invariants.
func (c *Client) Validate() error {
	if c == nil {
		return nil
	}
	if c.LastActiveSessionID != "" && c.Session(c.LastActiveSessionID) == nil {
		return ErrLastActiveSessionMissing
	}
	if err := c.SignIn.Validate(); err != nil {
		return err
	}
	return c.SignUp.Validate()
}

// Session returns the member with id, or nil.
func (c *Client) Session(id string) *Session {
	if c == nil || id == "" {
		return nil
	}
	for i := range c.Sessions {
		if c.Sessions[i].ID == id {
			return &c.Sessions[i]
		}
	}
	return nil
}

// ActiveSession returns the session referenced by LastActiveSessionID, or nil.
func (c *Client) ActiveSession() *Session {
	if c == nil {
		return nil
	}
	return c.Session(c.LastActiveSessionID)
}

// ActiveSessionID returns the id of ActiveSession, or "".
func (c *Client) ActiveSessionID() string {
	if s := c.ActiveSession(); s != nil {
		return s.ID
	}
	return ""
}

// Clone returns a deep copy.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	out := *c
	out.SignIn = c.SignIn.Clone()
	out.SignUp = c.SignUp.Clone()
	if c.Sessions != nil {
		out.Sessions = make([]Session, len(c.Sessions))
		for i := range c.Sessions {
			out.Sessions[i] = *c.Sessions[i].Clone()
		}
	}
	return &out
}
