package mockapi

import (
	"net/url"

	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/transport"
)

func (s *Server) routeSessions(method transport.Method, segs []string, p url.Values) (*transport.Response, error) {
	if len(segs) == 1 && segs[0] == "" {
		segs = nil
	}
	if len(segs) == 0 {
		if method != transport.MethodDelete {
			return nil, s.reject(405, "method_not_allowed", "")
		}
		for id := range s.sessions {
			s.endSession(id, model.SessionEnded)
		}
		return s.ok(s.snapshot())
	}

	st, ok := s.sessions[segs[0]]
	if !ok {
		return nil, revoked()
	}
	if len(segs) == 1 {
		if method != transport.MethodGet {
			return nil, s.reject(405, "method_not_allowed", "")
		}
		return s.ok(st.session)
	}
	if method != transport.MethodPost {
		return nil, s.reject(405, "method_not_allowed", "")
	}

	switch segs[1] {
	case "tokens":
		template := ""
		if len(segs) > 2 {
			template = segs[2]
		}
		return s.issueToken(st, template, p.Get("organization_id"))
	case "remove":
		s.endSession(st.session.ID, model.SessionRemoved)
		return s.ok(st.session)
	case "touch":
		if st.session.Status != model.SessionActive {
			return nil, revoked()
		}
		s.activeSession = st.session.ID
		st.session.LastActiveAt = s.config.Now()
		s.touch()
		return s.ok(st.session)
	}
	return nil, s.reject(404, "resource_not_found", "")
}

// revoked is the rejection for a session the service no longer honours. It
// carries no client: the device's view of the session is stale.
func revoked() error {
	return &transport.APIError{
		Status: 401,
		Errors: []model.ErrorInfo{{Code: "session_revoked", Message: errorMessages["session_revoked"]}},
	}
}

// issueToken answers the token endpoint. Issuing does not change the
// client, so no snapshot is piggybacked.
func (s *Server) issueToken(st *sessionState, template, orgID string) (*transport.Response, error) {
	if st.session.Status != model.SessionActive {
		return nil, revoked()
	}
	token, err := s.token(st, template, orgID)
	if err != nil {
		return nil, err
	}
	s.tokenIssues.Add(1)
	resp, err := s.ok(token)
	if err != nil {
		return nil, err
	}
	resp.Client = nil
	return resp, nil
}

func (s *Server) token(st *sessionState, template, orgID string) (model.TokenResource, error) {
	now := s.config.Now()
	jwt, err := s.issuer.Issue(st.session.ID, st.accountID, orgID, template, now)
	if err != nil {
		return model.TokenResource{}, err
	}
	return model.TokenResource{JWT: jwt, Expiry: now.Add(s.config.TokenTTL)}, nil
}

// createSession starts a session for accountID, makes it active and
// returns its id.
func (s *Server) createSession(accountID string) string {
	now := s.config.Now()
	st := &sessionState{
		accountID: accountID,
		session: model.Session{
			ID:           newID("sess"),
			Status:       model.SessionActive,
			ExpireAt:     now.Add(defaultSessionLife),
			LastActiveAt: now,
			UpdatedAt:    now,
			User:         s.userModel(accountID),
		},
	}
	if token, err := s.token(st, "", ""); err == nil {
		st.session.LastActiveToken = &token
	}
	s.sessions[st.session.ID] = st
	s.sessionOrder = append(s.sessionOrder, st.session.ID)
	s.activeSession = st.session.ID
	return st.session.ID
}

func (s *Server) endSession(sessionID string, status model.SessionStatus) {
	st, ok := s.sessions[sessionID]
	if !ok || st.session.Status != model.SessionActive {
		return
	}
	st.session.Status = status
	st.session.LastActiveToken = nil
	if s.activeSession == sessionID {
		s.activeSession = ""
	}
	s.touch()
}

func (s *Server) userModel(accountID string) *model.User {
	a, ok := s.accounts[accountID]
	if !ok {
		return nil
	}
	return &model.User{
		ID:                  a.ID,
		Username:            a.Username,
		FirstName:           a.FirstName,
		LastName:            a.LastName,
		PrimaryEmailAddress: a.Email,
		PrimaryPhoneNumber:  a.Phone,
		PasswordEnabled:     a.Password != "",
		TwoFactorEnabled:    a.TOTP,
		UpdatedAt:           s.config.Now(),
	}
}
