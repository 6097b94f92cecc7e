package vtop

import (
	"context"
	"net/http"
)

// TimetableTarget is the portal path of the timetable menu entry.
const TimetableTarget = "academics/common/StudentTimeTableChn"

// Challenge is the material a login attempt is answered with. The token and
// the CAPTCHA are paired, a token is only valid with the CAPTCHA issued next to
// it.
type Challenge struct {
	Token string
	// CaptchaImage is the image as the portal embeds it, a data:image/... URI.
	CaptchaImage string
}

// LoginResponse is what the portal answered a credential submission with.
type LoginResponse struct {
	// LoginFormPresent is the only success signal, the portal renders the
	// login form again whenever an attempt is rejected.
	LoginFormPresent bool
	Token            string
	CaptchaImage     string
	ErrorText        string
	FinalUrl         string
}

// Portal is one user's connection to the portal. Implementations are not safe
// for concurrent use, each session owns exactly one.
type Portal interface {
	FetchChallenge(ctx context.Context) (Challenge, error)
	FetchCaptcha(ctx context.Context) (string, error)
	SubmitCredentials(ctx context.Context, token, username, password, captcha string) (LoginResponse, error)

	FetchCSRF(ctx context.Context) (string, error)
	FetchAuthenticatedPage(ctx context.Context, path string, params map[string]string) (string, error)
	FetchTimetable(ctx context.Context, username, semester string) (string, error)
	FetchTarget(ctx context.Context, username, target string) (string, error)

	Cookies() []*http.Cookie
	SetCookies(cookies []*http.Cookie)
}
