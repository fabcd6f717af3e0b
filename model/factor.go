package model

// Factor describes one way a SignIn could be verified.
type Factor struct {
	Strategy       Strategy `json:"strategy"`
	SafeIdentifier string   `json:"safe_identifier,omitempty"`
	EmailAddressID string   `json:"email_address_id,omitempty"`
	PhoneNumberID  string   `json:"phone_number_id,omitempty"`
	Web3WalletID   string   `json:"web3_wallet_id,omitempty"`
	Primary        bool     `json:"primary"`
	Default        *bool    `json:"default,omitempty"`
}

// IsDefault reports whether the server marked the factor as the user's default.
func (f Factor) IsDefault() bool {
	return f.Default != nil && *f.Default
}

// TargetID returns the identifier id a prepare call should address.
func (f Factor) TargetID() string {
	switch {
	case f.EmailAddressID != "":
		return f.EmailAddressID
	case f.PhoneNumberID != "":
		return f.PhoneNumberID
	}
	return f.Web3WalletID
}

func findFactor(factors []Factor, strategy Strategy) (Factor, bool) {
	for _, f := range factors {
		if f.Strategy == strategy {
			return f, true
		}
	}
	return Factor{}, false
}

func cloneFactors(in []Factor) []Factor {
	if in == nil {
		return nil
	}
	out := make([]Factor, len(in))
	for i, f := range in {
		out[i] = f
		if f.Default != nil {
			d := *f.Default
			out[i].Default = &d
		}
	}
	return out
}
