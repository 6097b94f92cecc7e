package vtop

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	report_client_fetch_challenge = "client.fetch-challenge"
	report_client_fetch_captcha   = "client.fetch-captcha"

	pathLanding  = "open/page"
	pathPrelogin = "prelogin/setup"
	pathLogin    = "login"
	pathCaptcha  = "get/new/captcha"
)

// Strategy selects how a client navigates to the login form.
type Strategy string

const (
	// StrategyDirect opens the login page straight away.
	StrategyDirect Strategy = "direct"
	// StrategyWarmup walks the landing page and the pre-login step first, the
	// way a browser does when a user clicks through.
	StrategyWarmup Strategy = "warmup"
	// StrategyAuto tries direct and falls back to warm-up when the login page
	// does not carry the expected markup.
	StrategyAuto Strategy = "auto"
)

func ParseStrategy(value string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(value))); s {
	case "":
		return StrategyAuto, nil
	case StrategyDirect, StrategyWarmup, StrategyAuto:
		return s, nil
	}
	return "", fmt.Errorf("unknown challenge strategy %q", value)
}

func (c *Client) currentStrategy() Strategy {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.strategy
}

func (c *Client) rememberStrategy(s Strategy) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.strategy = s
}

// FetchChallenge navigates to the login form and returns its token together
// with the CAPTCHA issued for it.
func (c *Client) FetchChallenge(ctx context.Context) (Challenge, error) {
	ctx, span := tracer.Start(ctx, "client:FetchChallenge")
	defer span.End()

	strategy := c.currentStrategy()
	switch strategy {
	case StrategyDirect:
		challenge, err := c.directChallenge(ctx)
		return challenge, fail(span, err)
	case StrategyWarmup:
		challenge, err := c.warmupChallenge(ctx)
		return challenge, fail(span, err)
	}

	challenge, err := c.directChallenge(ctx)
	if err == nil {
		c.rememberStrategy(StrategyDirect)
		return challenge, nil
	}
	if !IsKind(err, KindUnexpectedContent) {
		return Challenge{}, fail(span, err)
	}

	c.tel.ReportDebug("direct login page unusable, falling back to warm-up", err)
	challenge, err = c.warmupChallenge(ctx)
	if err != nil {
		return Challenge{}, fail(span, err)
	}
	c.rememberStrategy(StrategyWarmup)
	return challenge, nil
}

func (c *Client) directChallenge(ctx context.Context) (Challenge, error) {
	res, err := c.do(ctx, report_client_fetch_challenge, request{
		method: http.MethodGet,
		path:   pathLogin,
	})
	if err != nil {
		return Challenge{}, err
	}

	token := csrfToken(res.doc)
	if token == "" {
		return Challenge{}, c.unexpected(report_client_fetch_challenge, res.finalUrl, "login page has no _csrf input")
	}

	captcha := inlineCaptcha(res.doc)
	if captcha == "" {
		captcha, err = c.captcha(ctx, pathLogin)
		if err != nil {
			return Challenge{}, err
		}
	}
	return Challenge{Token: token, CaptchaImage: captcha}, nil
}

func (c *Client) warmupChallenge(ctx context.Context) (Challenge, error) {
	landing, err := c.do(ctx, report_client_fetch_challenge, request{
		method: http.MethodGet,
		path:   pathLanding,
	})
	if err != nil {
		return Challenge{}, err
	}
	landingToken := csrfToken(landing.doc)
	if landingToken == "" {
		return Challenge{}, c.unexpected(report_client_fetch_challenge, landing.finalUrl, "landing page has no _csrf input")
	}

	_, err = c.do(ctx, report_client_fetch_challenge, request{
		method:  http.MethodPost,
		path:    pathPrelogin,
		referer: pathLanding,
		form: map[string]string{
			"_csrf": landingToken,
			"flag":  "VTOP",
		},
	})
	if err != nil {
		return Challenge{}, err
	}

	login, err := c.do(ctx, report_client_fetch_challenge, request{
		method: http.MethodGet,
		path:   pathLogin,
	})
	if err != nil {
		return Challenge{}, err
	}
	token := csrfToken(login.doc)
	if token == "" {
		return Challenge{}, c.unexpected(report_client_fetch_challenge, login.finalUrl, "login page has no _csrf input")
	}

	captcha, err := c.captcha(ctx, pathLogin)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Token: token, CaptchaImage: captcha}, nil
}

// FetchCaptcha asks for a fresh CAPTCHA for the token the session already holds.
func (c *Client) FetchCaptcha(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchCaptcha")
	defer span.End()

	captcha, err := c.captcha(ctx, pathLogin)
	return captcha, fail(span, err)
}

func (c *Client) captcha(ctx context.Context, referer string) (string, error) {
	res, err := c.do(ctx, report_client_fetch_captcha, request{
		method:  http.MethodGet,
		path:    pathCaptcha,
		referer: referer,
	})
	if err != nil {
		return "", err
	}

	// the endpoint answers with a fragment holding just the image
	src := strings.TrimSpace(res.doc.Find("img").First().AttrOr("src", ""))
	if src == "" {
		return "", c.unexpected(report_client_fetch_captcha, res.finalUrl, "captcha response has no img src")
	}
	return src, nil
}
