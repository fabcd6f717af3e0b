package flows

import "github.com/MrEthical07/goIdentity/model"

// DefaultFirstFactorOrder ranks first factors: passkey, then the code
// matching the identifier type, then password.
var DefaultFirstFactorOrder = []model.StrategyKind{
	model.StrategyPasskey,
	model.StrategyEmailCode,
	model.StrategyPhoneCode,
	model.StrategyPassword,
}

// DefaultSecondFactorOrder ranks second factors after the server default.
var DefaultSecondFactorOrder = []model.StrategyKind{
	model.StrategyTOTP,
	model.StrategyPhoneCode,
	model.StrategyEmailCode,
	model.StrategyBackupCode,
}

// FactorPolicy decides which factor a flow starts with when several are
// supported.
type FactorPolicy struct {
	FirstFactorOrder  []model.StrategyKind
	SecondFactorOrder []model.StrategyKind
	PasskeySupported  bool
}

// SelectFirstFactor picks the factor to start si with. Codes are only
// preferred when they match the identifier type; anything unranked falls
// back to the first eligible factor in server order. Reset-password, TOTP
// and backup-code factors never start a sign-in.
func SelectFirstFactor(si *model.SignIn, policy FactorPolicy) (model.Factor, bool) {
	if si == nil {
		return model.Factor{}, false
	}
	order := policy.FirstFactorOrder
	if len(order) == 0 {
		order = DefaultFirstFactorOrder
	}
	identifier := si.IdentifierType()

	eligible := make([]model.Factor, 0, len(si.SupportedFirstFactors))
	for _, f := range si.SupportedFirstFactors {
		switch f.Strategy.Kind() {
		case model.StrategyResetPasswordEmailCode, model.StrategyResetPasswordPhoneCode,
			model.StrategyTOTP, model.StrategyBackupCode:
			continue
		case model.StrategyPasskey:
			if !policy.PasskeySupported {
				continue
			}
		}
		eligible = append(eligible, f)
	}

	for _, kind := range order {
		switch kind {
		case model.StrategyEmailCode:
			if identifier != model.IdentifierEmail {
				continue
			}
		case model.StrategyPhoneCode:
			if identifier != model.IdentifierPhone {
				continue
			}
		}
		if f, ok := firstOfKind(eligible, kind); ok {
			return f, true
		}
	}
	if len(eligible) > 0 {
		return eligible[0], true
	}
	return model.Factor{}, false
}

// SelectSecondFactor prefers the server's default factor, then the ranked
// order, then server order.
func SelectSecondFactor(si *model.SignIn, policy FactorPolicy) (model.Factor, bool) {
	if si == nil || len(si.SupportedSecondFactors) == 0 {
		return model.Factor{}, false
	}
	for _, f := range si.SupportedSecondFactors {
		if f.IsDefault() {
			return f, true
		}
	}
	order := policy.SecondFactorOrder
	if len(order) == 0 {
		order = DefaultSecondFactorOrder
	}
	for _, kind := range order {
		if f, ok := firstOfKind(si.SupportedSecondFactors, kind); ok {
			return f, true
		}
	}
	return si.SupportedSecondFactors[0], true
}

func firstOfKind(factors []model.Factor, kind model.StrategyKind) (model.Factor, bool) {
	for _, f := range factors {
		if f.Strategy.Kind() == kind {
			return f, true
		}
	}
	return model.Factor{}, false
}
