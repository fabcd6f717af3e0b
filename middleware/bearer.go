package middleware

import (
	"context"
	"fmt"
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// TokenSource returns the session token to present on outgoing requests.
// *goIdentity.Engine satisfies it.
type TokenSource interface {
	GetToken(ctx context.Context, opts goIdentity.GetTokenOptions) (string, error)
}

// BearerTransport is an http.RoundTripper that sets the Authorization header
// from a TokenSource. Requests that already carry one are sent unchanged.
type BearerTransport struct {
	Source  TokenSource
	Options goIdentity.GetTokenOptions
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("Authorization") != "" {
		return base.RoundTrip(req)
	}

	token, err := t.Source.GetToken(req.Context(), t.Options)
	if err != nil {
		return nil, fmt.Errorf("bearer token: %w", err)
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return base.RoundTrip(out)
}
