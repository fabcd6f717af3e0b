package flows

import "github.com/MrEthical07/goIdentity/model"

// Operation names reported by state errors.
const (
	OpPrepareFirstFactor  = "prepareFirstFactor"
	OpAttemptFirstFactor  = "attemptFirstFactor"
	OpPrepareSecondFactor = "prepareSecondFactor"
	OpAttemptSecondFactor = "attemptSecondFactor"
	OpResetPassword       = "resetPassword"
	OpUpdateSignUp        = "updateSignUp"
	OpPrepareVerification = "prepareVerification"
	OpAttemptVerification = "attemptVerification"
)

// SignInAllows reports whether op may run while a sign-in is in status.
func SignInAllows(op string, status model.SignInStatus) bool {
	switch op {
	case OpPrepareFirstFactor, OpAttemptFirstFactor:
		return status == model.SignInNeedsFirstFactor
	case OpPrepareSecondFactor, OpAttemptSecondFactor:
		return status == model.SignInNeedsSecondFactor || status == model.SignInNeedsClientTrust
	case OpResetPassword:
		return status == model.SignInNeedsNewPassword
	}
	return false
}

// SignUpAllows reports whether op may run while a sign-up is in status.
func SignUpAllows(op string, status model.SignUpStatus) bool {
	switch op {
	case OpUpdateSignUp, OpPrepareVerification, OpAttemptVerification:
		return status == model.SignUpMissingRequirements
	}
	return false
}

// heldSignIn returns the stored sign-in when its id is id.
func (d *Deps) heldSignIn(id string) (*model.SignIn, error) {
	si := d.Store.SignIn()
	if si == nil || si.ID != id {
		return nil, d.Errors.AttemptNotFound
	}
	return si, nil
}

func (d *Deps) heldSignUp(id string) (*model.SignUp, error) {
	su := d.Store.SignUp()
	if su == nil || su.ID != id {
		return nil, d.Errors.AttemptNotFound
	}
	return su, nil
}

func (d *Deps) guardSignIn(op, id string) (*model.SignIn, error) {
	si, err := d.heldSignIn(id)
	if err != nil {
		return nil, err
	}
	if !SignInAllows(op, si.Status) {
		return nil, d.Errors.InvalidState(op, string(si.Status))
	}
	return si, nil
}

func (d *Deps) guardSignUp(op, id string) (*model.SignUp, error) {
	su, err := d.heldSignUp(id)
	if err != nil {
		return nil, err
	}
	if !SignUpAllows(op, su.Status) {
		return nil, d.Errors.InvalidState(op, string(su.Status))
	}
	return su, nil
}

// matchFactor finds the supported factor for strategy. A non-empty targetID
// must match the factor's email address, phone number or wallet id.
func matchFactor(factors []model.Factor, strategy model.Strategy, targetID string) (model.Factor, bool) {
	for _, f := range factors {
		if f.Strategy != strategy {
			continue
		}
		if targetID == "" || f.TargetID() == targetID {
			return f, true
		}
	}
	return model.Factor{}, false
}
