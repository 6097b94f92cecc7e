package auth

import (
	"strings"

	"vtopassist-backend/internal/vtop"
)

// Reason says why the portal rejected a login attempt. The values double as
// the status reported to callers.
type Reason string

const (
	ReasonInvalidCaptcha     Reason = "invalid_captcha"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	// ReasonUnclassified carries the portal's message verbatim.
	ReasonUnclassified Reason = "credentials_invalid"
)

const DefaultRejectionMessage = "Invalid Credentials or CAPTCHA. Please try again."

// Classify maps the portal's inline error text to a Reason.
func Classify(errorText string) Reason {
	text := strings.ToLower(errorText)
	switch {
	case strings.Contains(text, "captcha"):
		return ReasonInvalidCaptcha
	case strings.Contains(text, "loginid"), strings.Contains(text, "password"):
		return ReasonInvalidCredentials
	}
	return ReasonUnclassified
}

type decision struct {
	success bool

	reason  Reason
	message string

	// retry material found in the rejected page
	token   string
	captcha string

	// what still has to be fetched before the next attempt can be made
	needChallenge bool
	needCaptcha   bool
}

// decide interprets the answer to a submission. The login form is the only
// success signal, welcome texts and redirect targets change between portal
// revisions.
func decide(submittedToken string, res vtop.LoginResponse) decision {
	if !res.LoginFormPresent {
		return decision{success: true}
	}

	d := decision{
		reason:  Classify(res.ErrorText),
		message: res.ErrorText,
		token:   res.Token,
		captcha: res.CaptchaImage,
	}
	if d.message == "" {
		d.message = DefaultRejectionMessage
	}

	// tokens are single use, a repeated one will be rejected again
	if d.token == "" || d.token == submittedToken {
		d.needChallenge = true
		return d
	}
	d.needCaptcha = d.captcha == ""
	return d
}
