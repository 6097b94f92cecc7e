package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"vtopassist-backend/internal/vtop"
)

// fakePortal answers from scripted callbacks and counts calls. Unscripted
// calls fail the way an unreachable portal would.
type fakePortal struct {
	mutex sync.Mutex
	calls map[string]int

	challenge func(n int) (vtop.Challenge, error)
	captcha   func() (string, error)
	submit    func(token, username, password, captcha string) (vtop.LoginResponse, error)
	csrf      func() (string, error)
	timetable func(username, semester string) (string, error)
	target    func(username, target string) (string, error)

	cookies []*http.Cookie
}

var errUnreachable = &vtop.Error{Kind: vtop.KindConnectionRefused, Op: "fake", Err: fmt.Errorf("unreachable")}

func (f *fakePortal) count(name string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
	return f.calls[name]
}

func (f *fakePortal) Calls(name string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[name]
}

func (f *fakePortal) FetchChallenge(context.Context) (vtop.Challenge, error) {
	n := f.count("challenge")
	if f.challenge == nil {
		return vtop.Challenge{}, errUnreachable
	}
	return f.challenge(n)
}

func (f *fakePortal) FetchCaptcha(context.Context) (string, error) {
	f.count("captcha")
	if f.captcha == nil {
		return "", errUnreachable
	}
	return f.captcha()
}

func (f *fakePortal) SubmitCredentials(_ context.Context, token, username, password, captcha string) (vtop.LoginResponse, error) {
	f.count("submit")
	if f.submit == nil {
		return vtop.LoginResponse{}, errUnreachable
	}
	return f.submit(token, username, password, captcha)
}

func (f *fakePortal) FetchCSRF(context.Context) (string, error) {
	f.count("csrf")
	if f.csrf == nil {
		return "", errUnreachable
	}
	return f.csrf()
}

func (f *fakePortal) FetchAuthenticatedPage(context.Context, string, map[string]string) (string, error) {
	f.count("page")
	return "", errUnreachable
}

func (f *fakePortal) FetchTimetable(_ context.Context, username, semester string) (string, error) {
	f.count("timetable")
	if f.timetable == nil {
		return "", errUnreachable
	}
	return f.timetable(username, semester)
}

func (f *fakePortal) FetchTarget(_ context.Context, username, target string) (string, error) {
	f.count("target")
	if f.target == nil {
		return "", errUnreachable
	}
	return f.target(username, target)
}

func (f *fakePortal) Cookies() []*http.Cookie {
	return f.cookies
}

func (f *fakePortal) SetCookies(cookies []*http.Cookie) {
	f.cookies = cookies
}

// challenges issues csrf-1/captcha-1, csrf-2/captcha-2, ...
func challenges(n int) (vtop.Challenge, error) {
	return vtop.Challenge{
		Token:        fmt.Sprintf("csrf-%d", n),
		CaptchaImage: fmt.Sprintf("data:image/jpeg;base64,%d", n),
	}, nil
}
