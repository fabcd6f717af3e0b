package model

import "strings"

// StrategyKind enumerates the closed set of verification strategies.
type StrategyKind uint8

const (
	// StrategyUnknown carries a wire value this version does not recognise.
	StrategyUnknown StrategyKind = iota
	StrategyPassword
	StrategyEmailCode
	StrategyPhoneCode
	StrategyPasskey
	StrategyTicket
	StrategyTransfer
	StrategyEnterpriseSSO
	StrategyOAuth
	StrategyIDToken
	StrategyResetPasswordEmailCode
	StrategyResetPasswordPhoneCode
	StrategyTOTP
	StrategyBackupCode
)

const (
	oauthPrefix   = "oauth_"
	idTokenPrefix = "oauth_token_"
)

var fixedStrategyNames = map[StrategyKind]string{
	StrategyPassword:               "password",
	StrategyEmailCode:              "email_code",
	StrategyPhoneCode:              "phone_code",
	StrategyPasskey:                "passkey",
	StrategyTicket:                 "ticket",
	StrategyTransfer:               "transfer",
	StrategyEnterpriseSSO:          "enterprise_sso",
	StrategyResetPasswordEmailCode: "reset_password_email_code",
	StrategyResetPasswordPhoneCode: "reset_password_phone_code",
	StrategyTOTP:                   "totp",
	StrategyBackupCode:             "backup_code",
}

var fixedStrategyKinds = func() map[string]StrategyKind {
	out := make(map[string]StrategyKind, len(fixedStrategyNames))
	for kind, name := range fixedStrategyNames {
		out[name] = kind
	}
	return out
}()

// Strategy describes how a verification step is satisfied. It is a value type;
// two strategies are equal when kind, provider and raw value match.
type Strategy struct {
	kind     StrategyKind
	provider string
	raw      string
}

func Password() Strategy               { return Strategy{kind: StrategyPassword} }
func EmailCode() Strategy              { return Strategy{kind: StrategyEmailCode} }
func PhoneCode() Strategy              { return Strategy{kind: StrategyPhoneCode} }
func Passkey() Strategy                { return Strategy{kind: StrategyPasskey} }
func Ticket() Strategy                 { return Strategy{kind: StrategyTicket} }
func Transfer() Strategy               { return Strategy{kind: StrategyTransfer} }
func EnterpriseSSO() Strategy          { return Strategy{kind: StrategyEnterpriseSSO} }
func ResetPasswordEmailCode() Strategy { return Strategy{kind: StrategyResetPasswordEmailCode} }
func ResetPasswordPhoneCode() Strategy { return Strategy{kind: StrategyResetPasswordPhoneCode} }
func TOTP() Strategy                   { return Strategy{kind: StrategyTOTP} }
func BackupCode() Strategy             { return Strategy{kind: StrategyBackupCode} }

// OAuth returns the redirect-based strategy for provider (e.g. "google").
func OAuth(provider string) Strategy {
	return Strategy{kind: StrategyOAuth, provider: provider}
}

// IDToken returns the native ID-token strategy for provider (e.g. "apple").
func IDToken(provider string) Strategy {
	return Strategy{kind: StrategyIDToken, provider: provider}
}

// Unknown preserves an unrecognised wire value.
func Unknown(raw string) Strategy {
	return Strategy{kind: StrategyUnknown, raw: raw}
}

// ParseStrategy maps a wire value onto a Strategy. Unrecognised values become
// Unknown(raw) rather than an error.
func ParseStrategy(raw string) Strategy {
	if kind, ok := fixedStrategyKinds[raw]; ok {
		return Strategy{kind: kind}
	}
	switch {
	case strings.HasPrefix(raw, idTokenPrefix) && len(raw) > len(idTokenPrefix):
		return IDToken(raw[len(idTokenPrefix):])
	case strings.HasPrefix(raw, oauthPrefix) && len(raw) > len(oauthPrefix):
		return OAuth(raw[len(oauthPrefix):])
	}
	return Unknown(raw)
}

func (s Strategy) Kind() StrategyKind { return s.kind }

// Provider is set for OAuth and IDToken strategies only.
func (s Strategy) Provider() string { return s.provider }

func (s Strategy) IsZero() bool { return s == Strategy{} }

// String returns the wire value.
func (s Strategy) String() string {
	switch s.kind {
	case StrategyOAuth:
		return oauthPrefix + s.provider
	case StrategyIDToken:
		return idTokenPrefix + s.provider
	case StrategyUnknown:
		return s.raw
	}
	return fixedStrategyNames[s.kind]
}

// IsRedirect reports whether the strategy completes through an external
// browser redirect.
func (s Strategy) IsRedirect() bool {
	return s.kind == StrategyOAuth || s.kind == StrategyEnterpriseSSO
}

// IsCode reports whether the strategy delivers a one-time code that must be
// prepared before it can be attempted.
func (s Strategy) IsCode() bool {
	switch s.kind {
	case StrategyEmailCode, StrategyPhoneCode, StrategyResetPasswordEmailCode, StrategyResetPasswordPhoneCode:
		return true
	}
	return false
}

// IsResetPassword reports whether the strategy belongs to the forgot-password flow.
func (s Strategy) IsResetPassword() bool {
	return s.kind == StrategyResetPasswordEmailCode || s.kind == StrategyResetPasswordPhoneCode
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	*s = ParseStrategy(string(text))
	return nil
}
