package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseStrategyProviders(t *testing.T) {
	cases := []struct {
		raw  string
		want Strategy
	}{
		{"email_code", EmailCode()},
		{"oauth_google", OAuth("google")},
		{"oauth_token_apple", IDToken("apple")},
		{"enterprise_sso", EnterpriseSSO()},
		{"web3_metamask_signature", Unknown("web3_metamask_signature")},
		{"oauth_", Unknown("oauth_")},
	}
	for _, tc := range cases {
		got := ParseStrategy(tc.raw)
		if got != tc.want {
			t.Fatalf("ParseStrategy(%q) = %#v, want %#v", tc.raw, got, tc.want)
		}
		if got.String() != tc.raw {
			t.Fatalf("String() = %q, want %q", got.String(), tc.raw)
		}
	}
}

func TestStrategyJSONPreservesUnknown(t *testing.T) {
	in := Factor{Strategy: Unknown("saml"), SafeIdentifier: "a***@example.com"}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Factor
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Strategy.Kind() != StrategyUnknown || out.Strategy.String() != "saml" {
		t.Fatalf("unexpected strategy after decode: %#v", out.Strategy)
	}
}

func TestVerificationRedirectURLOnlyOnRedirectStrategies(t *testing.T) {
	ok := &Verification{Strategy: OAuth("github"), ExternalVerificationRedirectURL: "https://github.com/login"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected oauth redirect to validate, got %v", err)
	}
	bad := &Verification{Strategy: EmailCode(), ExternalVerificationRedirectURL: "https://example.com"}
	if err := bad.Validate(); err != ErrRedirectURLOnNonRedirect {
		t.Fatalf("expected ErrRedirectURLOnNonRedirect, got %v", err)
	}
}

func TestVerificationIsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	expire := now.Add(time.Minute)
	v := &Verification{Status: VerificationUnverified, ExpireAt: &expire}
	if v.IsExpired(now) {
		t.Fatal("verification should not be expired before expire_at")
	}
	if !v.IsExpired(expire) {
		t.Fatal("verification should be expired at expire_at")
	}
	if !(&Verification{Status: VerificationExpired}).IsExpired(now) {
		t.Fatal("expired status should report expired")
	}
}

func TestSignInCompletionInvariant(t *testing.T) {
	cases := []struct {
		name    string
		signIn  SignIn
		wantErr bool
	}{
		{"complete with session", SignIn{Status: SignInComplete, CreatedSessionID: "sess_1"}, false},
		{"complete without session", SignIn{Status: SignInComplete}, true},
		{"pending with session", SignIn{Status: SignInNeedsFirstFactor, CreatedSessionID: "sess_1"}, true},
		{"pending without session", SignIn{Status: SignInNeedsSecondFactor}, false},
	}
	for _, tc := range cases {
		err := tc.signIn.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestSignUpCompletionInvariant(t *testing.T) {
	cases := []struct {
		name    string
		signUp  SignUp
		wantErr bool
	}{
		{"complete with both", SignUp{Status: SignUpComplete, CreatedSessionID: "s", CreatedUserID: "u"}, false},
		{"complete missing user", SignUp{Status: SignUpComplete, CreatedSessionID: "s"}, true},
		{"missing with both", SignUp{Status: SignUpMissingRequirements, CreatedSessionID: "s", CreatedUserID: "u"}, true},
		{"missing with session only", SignUp{Status: SignUpMissingRequirements, CreatedSessionID: "s"}, false},
	}
	for _, tc := range cases {
		err := tc.signUp.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestSignUpFieldNavigationHelpers(t *testing.T) {
	su := &SignUp{
		MissingFields:    []string{FieldPassword, FieldUsername},
		UnverifiedFields: []string{FieldPhoneNumber, FieldEmailAddress},
		Verifications: map[string]*Verification{
			FieldEmailAddress: {Status: VerificationUnverified, Strategy: EmailCode()},
		},
	}
	if got := su.FirstFieldToVerify(); got != FieldEmailAddress {
		t.Fatalf("FirstFieldToVerify() = %q, want %q", got, FieldEmailAddress)
	}
	if got := su.FirstFieldToCollect(); got != FieldPassword {
		t.Fatalf("FirstFieldToCollect() = %q, want %q", got, FieldPassword)
	}
	if got := (&SignUp{}).FirstFieldToVerify(); got != "" {
		t.Fatalf("expected empty field, got %q", got)
	}
}

func TestClientActiveSessionMustBeMember(t *testing.T) {
	c := &Client{
		Sessions:            []Session{{ID: "sess_1", Status: SessionActive}},
		LastActiveSessionID: "sess_1",
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if got := c.ActiveSessionID(); got != "sess_1" {
		t.Fatalf("ActiveSessionID() = %q", got)
	}
	c.LastActiveSessionID = "sess_2"
	if err := c.Validate(); err != ErrLastActiveSessionMissing {
		t.Fatalf("expected ErrLastActiveSessionMissing, got %v", err)
	}
	if c.ActiveSession() != nil {
		t.Fatal("expected nil active session for dangling id")
	}
}

func TestClientCloneIsDeep(t *testing.T) {
	attempts := 1
	c := &Client{
		SignIn: &SignIn{
			ID:                      "sia_1",
			FirstFactorVerification: &Verification{Attempts: &attempts},
		},
		Sessions: []Session{{ID: "sess_1", User: &User{ID: "user_1"}}},
	}
	cp := c.Clone()
	*cp.SignIn.FirstFactorVerification.Attempts = 5
	cp.Sessions[0].User.ID = "user_2"
	if *c.SignIn.FirstFactorVerification.Attempts != 1 {
		t.Fatal("clone shares verification attempts")
	}
	if c.Sessions[0].User.ID != "user_1" {
		t.Fatal("clone shares session user")
	}
}

func TestClassifyIdentifier(t *testing.T) {
	cases := map[string]IdentifierType{
		"user@example.com": IdentifierEmail,
		"+15555550100":     IdentifierPhone,
		"15555550100":      IdentifierPhone,
		"jdoe":             IdentifierUsername,
		"":                 IdentifierNone,
	}
	for in, want := range cases {
		if got := ClassifyIdentifier(in); got != want {
			t.Fatalf("ClassifyIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}
