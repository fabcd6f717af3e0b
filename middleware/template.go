package middleware

import "net/http"

// RequireTemplate is Guard restricted to tokens minted from the named
// server-side template. Valid tokens of another template get 403.
func RequireTemplate(v Verifier, template string) func(http.Handler) http.Handler {
	return guard(v, template)
}
