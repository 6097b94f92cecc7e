// Package vtoptest runs an in-process imitation of the portal for tests. It
// implements the parts of the login handshake and the menu the client relies
// on, with the same markup landmarks.
package vtoptest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

const (
	cookieName = "JSESSIONID"

	ErrorInvalidCaptcha     = "Invalid Captcha"
	ErrorInvalidCredentials = "Invalid LoginId/Password"
)

var Semesters = []string{"CH20242505", "CH20242501"}

type Config struct {
	Username string
	Password string
	// Captcha is the answer every issued CAPTCHA expects.
	Captcha string

	// RequireWarmup makes the login page unusable until the landing page and
	// the pre-login step were visited.
	RequireWarmup bool
	// InlineCaptcha embeds the CAPTCHA into the login page instead of only
	// serving it from the captcha endpoint.
	InlineCaptcha bool
	// OmitRetryToken leaves the token out of a rejected login's page.
	OmitRetryToken bool

	// Timetable is served by the timetable endpoint.
	Timetable []byte
	// Pages overrides the body of menu entries by target.
	Pages map[string]string
	// Delay stalls every response.
	Delay time.Duration
}

type portalSession struct {
	token         string
	captcha       string
	warmed        bool
	authenticated bool
}

type Server struct {
	*httptest.Server
	Config Config

	mutex    sync.Mutex
	sessions map[string]*portalSession
	issued   int
	hits     map[string]int
	semester string
}

func New(t testing.TB, cfg Config) *Server {
	if cfg.Username == "" {
		cfg.Username = "21BCE1001"
	}
	if cfg.Password == "" {
		cfg.Password = "hunter2"
	}
	if cfg.Captcha == "" {
		cfg.Captcha = "X7KQ2"
	}

	s := &Server{
		Config:   cfg,
		sessions: map[string]*portalSession{},
		hits:     map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /vtop/open/page", s.landing)
	mux.HandleFunc("POST /vtop/prelogin/setup", s.prelogin)
	mux.HandleFunc("GET /vtop/login", s.loginPage)
	mux.HandleFunc("POST /vtop/login", s.login)
	mux.HandleFunc("GET /vtop/get/new/captcha", s.newCaptcha)
	mux.HandleFunc("GET /vtop/content", s.content)
	mux.HandleFunc("POST /vtop/academics/common/StudentTimeTableChn", s.timetableMenu)
	mux.HandleFunc("POST /vtop/processViewTimeTable", s.timetable)
	mux.HandleFunc("POST /vtop/", s.menuEntry)

	s.Server = httptest.NewServer(s.instrument(mux))
	t.Cleanup(s.Close)
	return s
}

// BaseUrl is what a client should be configured with.
func (s *Server) BaseUrl() string {
	return s.URL + "/vtop"
}

// Hits counts requests by "METHOD /path".
func (s *Server) Hits(route string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hits[route]
}

// Semester is the semester id of the last timetable request.
func (s *Server) Semester() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.semester
}

// Expire logs every session out, as the portal does after its idle timeout.
func (s *Server) Expire() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, session := range s.sessions {
		session.authenticated = false
	}
}

// CurrentToken returns the token the portal currently expects from the
// session holding the given cookie value.
func (s *Server) CurrentToken(cookie string) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if session, ok := s.sessions[cookie]; ok {
		return session.token
	}
	return ""
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mutex.Lock()
		s.hits[r.Method+" "+r.URL.Path]++
		s.mutex.Unlock()

		if s.Config.Delay > 0 {
			select {
			case <-time.After(s.Config.Delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// session returns the caller's portal session, starting one when the request
// carries no known cookie. Callers must hold the mutex.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *portalSession {
	if cookie, err := r.Cookie(cookieName); err == nil {
		if session, ok := s.sessions[cookie.Value]; ok {
			return session
		}
	}
	id := uuid.NewString()
	session := &portalSession{}
	s.sessions[id] = session
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: id, Path: "/vtop", HttpOnly: true})
	return session
}

func (s *Server) issueToken(session *portalSession) string {
	s.issued++
	session.token = fmt.Sprintf("csrf-%d", s.issued)
	return session.token
}

func (s *Server) issueCaptcha(session *portalSession) string {
	s.issued++
	session.captcha = fmt.Sprintf("data:image/jpeg;base64,Q0FQVENIQS0%d", s.issued)
	return session.captcha
}

func write(w http.ResponseWriter, body string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func (s *Server) landing(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session := s.session(w, r)
	token := s.issueToken(session)
	write(w, fmt.Sprintf(`<html><body>
		<form id="stdForm" action="/vtop/prelogin/setup" method="post">
			<input type="hidden" name="_csrf" value="%s"/>
			<input type="hidden" name="flag" value="VTOP"/>
			<button type="submit">Student</button>
		</form>
	</body></html>`, token))
}

func (s *Server) prelogin(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session := s.session(w, r)
	if r.PostFormValue("_csrf") != session.token || r.PostFormValue("flag") != "VTOP" ||
		!strings.HasSuffix(r.Referer(), "/vtop/open/page") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	session.warmed = true
	write(w, `<html><body>redirecting</body></html>`)
}

func (s *Server) renderLogin(session *portalSession, errorText string, withToken bool) string {
	token := ""
	if withToken {
		token = fmt.Sprintf(`<input type="hidden" name="_csrf" value="%s"/>`, s.issueToken(session))
	}
	captcha := `<div id="captchaBlock"></div>`
	if s.Config.InlineCaptcha {
		captcha = fmt.Sprintf(`<div id="captchaBlock"><img src="%s"/></div>`, s.issueCaptcha(session))
	}
	message := ""
	if errorText != "" {
		message = fmt.Sprintf(`<font color="red"> %s </font>`, html.EscapeString(errorText))
	}
	return fmt.Sprintf(`<html><head><title>VTOP Login</title></head><body>
		<img src="/vtop/assets/img/logo.png"/>
		%s
		<form id="vtopLoginForm" action="/vtop/login" method="post">
			%s
			<input type="text" name="username"/>
			<input type="password" name="password"/>
			%s
			<input type="text" name="captchaStr"/>
		</form>
	</body></html>`, message, token, captcha)
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session := s.session(w, r)
	if s.Config.RequireWarmup && !session.warmed {
		write(w, `<html><body><p>Please use the landing page.</p></body></html>`)
		return
	}
	write(w, s.renderLogin(session, "", true))
}

func (s *Server) newCaptcha(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session := s.session(w, r)
	write(w, fmt.Sprintf(`<img class="form-control img-fluid" src="%s"/>`, s.issueCaptcha(session)))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session := s.session(w, r)

	errorText := ""
	switch {
	case session.token == "" || r.PostFormValue("_csrf") != session.token:
		errorText = "Your session has timed out"
	case r.PostFormValue("captchaStr") != s.Config.Captcha || session.captcha == "":
		errorText = ErrorInvalidCaptcha
	case r.PostFormValue("username") != s.Config.Username || r.PostFormValue("password") != s.Config.Password:
		errorText = ErrorInvalidCredentials
	}
	// a token and its CAPTCHA are single use
	session.token = ""
	session.captcha = ""

	if errorText != "" {
		write(w, s.renderLogin(session, errorText, !s.Config.OmitRetryToken))
		return
	}
	session.authenticated = true
	http.Redirect(w, r, "/vtop/content", http.StatusFound)
}

func (s *Server) content(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session := s.session(w, r)
	if !session.authenticated {
		write(w, s.renderLogin(session, "", true))
		return
	}
	token := s.issueToken(session)
	write(w, fmt.Sprintf(`<html><body>
		<input type="hidden" name="_csrf" value="%s"/>
		<p>Welcome %s</p>
	</body></html>`, token, s.Config.Username))
}

// authorized checks an authenticated menu request. Callers must hold the mutex.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	session := s.session(w, r)
	if !session.authenticated {
		write(w, s.renderLogin(session, "", true))
		return false
	}
	if r.Header.Get("X-Requested-With") != "XMLHttpRequest" ||
		r.PostFormValue("_csrf") != session.token ||
		r.PostFormValue("authorizedID") != s.Config.Username {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) timetableMenu(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.authorized(w, r) {
		return
	}
	var options strings.Builder
	options.WriteString(`<option value="">-- Choose Semester --</option>`)
	for _, semester := range Semesters {
		fmt.Fprintf(&options, `<option value="%s">%s</option>`, semester, semester)
	}
	write(w, fmt.Sprintf(`<div><select id="semesterSubId">%s</select></div>`, options.String()))
}

func (s *Server) timetable(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.authorized(w, r) {
		return
	}
	s.semester = r.PostFormValue("semesterSubId")
	write(w, string(s.Config.Timetable))
}

func (s *Server) menuEntry(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.authorized(w, r) {
		return
	}
	target := strings.TrimPrefix(r.URL.Path, "/vtop/")
	if page, ok := s.Config.Pages[target]; ok {
		write(w, page)
		return
	}
	write(w, fmt.Sprintf(`<div id="page" data-target="%s">menu entry</div>`, html.EscapeString(target)))
}
