package mockapi

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/platform"
)

// Ceremonies plays the device side of credential ceremonies against s.
type Ceremonies struct {
	server *Server
	cancel atomic.Bool
	calls  atomic.Int64
}

var _ platform.Ceremonies = (*Ceremonies)(nil)

// Ceremonies returns a platform implementation bound to s.
func (s *Server) Ceremonies() *Ceremonies {
	return &Ceremonies{server: s}
}

// CancelNext makes the next ceremony fail as if the user dismissed it.
func (c *Ceremonies) CancelNext() { c.cancel.Store(true) }

// Calls returns the number of ceremonies started.
func (c *Ceremonies) Calls() int64 { return c.calls.Load() }

func (c *Ceremonies) begin(ctx context.Context) error {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cancel.Swap(false) {
		return platform.ErrCancelled
	}
	return nil
}

// StartOAuthRedirect authorizes the attempt behind redirectURL with the
// provider's configured identity and returns the app callback.
func (c *Ceremonies) StartOAuthRedirect(ctx context.Context, redirectURL string) (string, error) {
	if err := c.begin(ctx); err != nil {
		return "", err
	}
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", err
	}
	return c.server.resolveGrant(u.Query().Get("state"))
}

// StartIDTokenCeremony mints an ID token for the provider's configured identity.
func (c *Ceremonies) StartIDTokenCeremony(ctx context.Context, provider string) (string, platform.ProfileHints, error) {
	if err := c.begin(ctx); err != nil {
		return "", platform.ProfileHints{}, err
	}
	c.server.mu.Lock()
	id, ok := c.server.identities[provider]
	c.server.mu.Unlock()
	if !ok || id.Email == "" {
		return "", platform.ProfileHints{}, fmt.Errorf("mockapi: no identity for provider %q", provider)
	}
	hints := platform.ProfileHints{FirstName: id.FirstName, LastName: id.LastName, Email: id.Email}
	return "idtoken:" + provider + ":" + id.Email, hints, nil
}

// PerformPasskeyCeremony signs challenge with the device's passkey.
func (c *Ceremonies) PerformPasskeyCeremony(ctx context.Context, challenge string) (string, error) {
	if err := c.begin(ctx); err != nil {
		return "", err
	}
	return "passkey:" + challenge, nil
}

// resolveGrant settles the attempt that opened nonce the way the service
// does when the provider redirects back, then returns the app callback URL.
func (s *Server) resolveGrant(nonce string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[nonce]
	if !ok {
		return "", errUnknownGrant
	}
	identity := s.identities[g.provider]

	if g.signUp {
		st, ok := s.signUps[g.attemptID]
		if !ok {
			return "", errUnknownGrant
		}
		ext := st.su.Verification(model.FieldExternalAccount)
		strategy := model.OAuth(g.provider)
		if ext != nil {
			strategy = ext.Strategy
		}
		st.su.EmailAddress = identity.Email
		if st.su.FirstName == "" {
			st.su.FirstName = identity.FirstName
		}
		if st.su.LastName == "" {
			st.su.LastName = identity.LastName
		}
		s.resolveExternalAccount(st, strategy)
		s.evaluateSignUp(st)
	} else {
		st, ok := s.signIns[g.attemptID]
		if !ok {
			return "", errUnknownGrant
		}
		v := st.si.FirstFactorVerification
		if v == nil {
			return "", errUnknownGrant
		}
		v.ExternalVerificationRedirectURL = ""
		if acct := s.accountByEmail(identity.Email); acct != nil {
			st.accountID = acct.ID
			st.si.Identifier = acct.Email
			v.Status = model.VerificationVerified
			s.afterFirstFactor(st)
		} else {
			v.Status = model.VerificationTransferable
		}
	}
	g.resolved = true
	s.touch()

	callback, err := url.Parse(g.redirectURL)
	if err != nil {
		return "", err
	}
	if !s.config.OmitCallbackNonce {
		q := callback.Query()
		q.Set("rotating_token_nonce", nonce)
		callback.RawQuery = q.Encode()
	}
	return callback.String(), nil
}
