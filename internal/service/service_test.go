package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vtopassist-backend/internal/auth"
	"vtopassist-backend/internal/components/chrono"
	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/session"
	"vtopassist-backend/internal/sessionrecord"
	"vtopassist-backend/internal/vtop"
	"vtopassist-backend/internal/vtop/vtoptest"

	"github.com/stretchr/testify/require"
)

const timetablePage = `<table id="timeTableStyle">
	<tr><td rowspan="1">WED</td><td>THEORY</td><td></td><td>B1-MAT2001-TH-SJT-301-ALL</td></tr>
</table>`

type harness struct {
	handler *Handler
	tel     *telemetry.Recorder
	records sessionrecord.Store
}

func setup(t *testing.T, baseUrl string) harness {
	t.Helper()
	tel := &telemetry.Recorder{}
	clock := chrono.NewManualImpl(time.Date(2024, time.July, 15, 9, 0, 0, 0, time.UTC))
	records := sessionrecord.NewFileStore(filepath.Join(t.TempDir(), "record.bin"), tel)
	factory := func() (vtop.Portal, error) {
		return vtop.NewClient(vtop.Options{
			BaseUrl:           baseUrl,
			Timeout:           2 * time.Second,
			RequestsPerSecond: 1000,
			Burst:             1000,
		}, tel)
	}
	authService := auth.NewService(
		session.NewStore(clock, tel, session.Options{}),
		records,
		factory,
		clock,
		tel,
	)
	return harness{
		handler: NewHandler(authService, WithTelemetryAPI(tel)),
		tel:     tel,
		records: records,
	}
}

func (h harness) post(t *testing.T, path string, body any) (int, Response) {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, "application/json", rec.Header().Get("content-type"))

	var res Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return rec.Code, res
}

func (h harness) login(t *testing.T, portal *vtoptest.Server) string {
	t.Helper()
	code, start := h.post(t, "/start-login", nil)
	require.Equal(t, http.StatusOK, code)
	code, res := h.post(t, "/login-attempt", map[string]string{
		"session_id": start.SessionID,
		"username":   portal.Config.Username,
		"password":   portal.Config.Password,
		"captcha":    portal.Config.Captcha,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusSuccess, res.Status)
	return res.SessionID
}

func TestResponseEncoding(t *testing.T) {
	raw := "<div>marks</div>"
	cases := []struct {
		name     string
		response Response
		expected string
	}{
		{
			name:     "failure",
			response: Response{Status: StatusFailure, Message: "no valid session"},
			expected: `{"status":"failure","message":"no valid session"}`,
		},
		{
			name:     "raw content",
			response: Response{Status: StatusSuccess, SessionID: "abc", RawContent: &raw},
			expected: `{"status":"success","session_id":"abc","raw_content":"<div>marks</div>"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := json.Marshal(tc.response)
			require.NoError(t, err)
			require.JSONEq(t, tc.expected, string(encoded))
		})
	}
}

func TestLoginAndFetch(t *testing.T) {
	portal := vtoptest.New(t, vtoptest.Config{Timetable: []byte(timetablePage)})
	h := setup(t, portal.BaseUrl())

	code, start := h.post(t, "/start-login", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusCaptchaReady, start.Status)
	require.NotEmpty(t, start.SessionID)
	require.True(t, strings.HasPrefix(start.CaptchaImageData, "data:image"))

	code, res := h.post(t, "/login-attempt", map[string]string{
		"session_id": start.SessionID,
		"username":   portal.Config.Username,
		"password":   portal.Config.Password,
		"captcha":    "WRONG",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusInvalidCaptcha, res.Status)
	require.Equal(t, start.SessionID, res.SessionID)
	require.Equal(t, vtoptest.ErrorInvalidCaptcha, res.Message)
	require.NotEmpty(t, res.CaptchaImageData)

	code, res = h.post(t, "/login-attempt", map[string]string{
		"session_id": start.SessionID,
		"username":   portal.Config.Username,
		"password":   "nope",
		"captcha":    portal.Config.Captcha,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusInvalidCredentials, res.Status)

	code, res = h.post(t, "/login-attempt", map[string]string{
		"session_id": start.SessionID,
		"username":   portal.Config.Username,
		"password":   portal.Config.Password,
		"captcha":    portal.Config.Captcha,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, "Welcome, "+portal.Config.Username+"!", res.Message)

	code, res = h.post(t, "/fetch-data", map[string]string{
		"session_id": start.SessionID,
		"target":     vtop.TimetableTarget,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.RenderedSchedule)
	require.Nil(t, res.RawContent)
	occupant, ok := res.RenderedSchedule.Grid.At("WED", "08:55 - 09:45")
	require.True(t, ok)
	require.Equal(t, "MAT2001", occupant.Code)

	code, res = h.post(t, "/fetch-data", map[string]string{
		"session_id": start.SessionID,
		"target":     "examinations/StudentMarkView",
	})
	require.Equal(t, http.StatusOK, code)
	require.Nil(t, res.RenderedSchedule)
	require.NotNil(t, res.RawContent)
	require.Contains(t, *res.RawContent, "examinations/StudentMarkView")
}

func TestCheckSessionAndLogout(t *testing.T) {
	portal := vtoptest.New(t, vtoptest.Config{})
	h := setup(t, portal.BaseUrl())

	code, res := h.post(t, "/check-session", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusFailure, res.Status)

	id := h.login(t, portal)

	code, res = h.post(t, "/check-session", map[string]string{"session_id": id})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, id, res.SessionID)
	require.Equal(t, "Welcome back, "+portal.Config.Username+"!", res.Message)

	code, res = h.post(t, "/logout", map[string]string{"session_id": id})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusSuccess, res.Status)

	code, res = h.post(t, "/check-session", map[string]string{"session_id": id})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusFailure, res.Status)

	// logging out twice, or without a session, still succeeds
	for _, body := range []any{map[string]string{"session_id": id}, nil, "{not json"} {
		code, res = h.post(t, "/logout", body)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, StatusSuccess, res.Status)
	}
}

func TestExpiredPortalSession(t *testing.T) {
	portal := vtoptest.New(t, vtoptest.Config{Timetable: []byte(timetablePage)})
	h := setup(t, portal.BaseUrl())
	id := h.login(t, portal)

	portal.Expire()

	code, res := h.post(t, "/fetch-data", map[string]string{
		"session_id": id,
		"target":     vtop.TimetableTarget,
	})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, StatusSessionExpired, res.Status)

	// the session is gone afterwards
	code, res = h.post(t, "/fetch-data", map[string]string{
		"session_id": id,
		"target":     vtop.TimetableTarget,
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, StatusFailure, res.Status)
}

func TestRequestErrors(t *testing.T) {
	portal := vtoptest.New(t, vtoptest.Config{})
	h := setup(t, portal.BaseUrl())

	_, start := h.post(t, "/start-login", nil)

	table := []struct {
		name   string
		path   string
		body   any
		code   int
		status string
	}{
		{
			name:   "malformed body",
			path:   "/login-attempt",
			body:   "{",
			code:   http.StatusBadRequest,
			status: StatusFailure,
		},
		{
			name:   "missing fields",
			path:   "/login-attempt",
			body:   map[string]string{"session_id": start.SessionID, "username": "21BCE1001"},
			code:   http.StatusBadRequest,
			status: StatusFailure,
		},
		{
			name: "unknown session",
			path: "/login-attempt",
			body: map[string]string{
				"session_id": "does-not-exist",
				"username":   "21BCE1001",
				"password":   "hunter2",
				"captcha":    "X7KQ2",
			},
			code:   http.StatusBadRequest,
			status: StatusFailure,
		},
		{
			name:   "fetch before login",
			path:   "/fetch-data",
			body:   map[string]string{"session_id": start.SessionID, "target": vtop.TimetableTarget},
			code:   http.StatusBadRequest,
			status: StatusFailure,
		},
		{
			name:   "fetch without target",
			path:   "/fetch-data",
			body:   map[string]string{"session_id": start.SessionID},
			code:   http.StatusBadRequest,
			status: StatusFailure,
		},
	}

	for _, test := range table {
		t.Run(test.name, func(t *testing.T) {
			code, res := h.post(t, test.path, test.body)
			require.Equal(t, test.code, code)
			require.Equal(t, test.status, res.Status)
			require.NotEmpty(t, res.Message)
		})
	}
}

func TestInvalidTarget(t *testing.T) {
	portal := vtoptest.New(t, vtoptest.Config{})
	h := setup(t, portal.BaseUrl())
	id := h.login(t, portal)

	for _, target := range []string{"https://example.com/x", "../admin", "/vtop/content", "a?b=c"} {
		code, res := h.post(t, "/fetch-data", map[string]string{
			"session_id": id,
			"target":     target,
		})
		require.Equal(t, http.StatusBadRequest, code, target)
		require.Equal(t, "Invalid target.", res.Message, target)
	}
}

func TestPortalUnreachable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	h := setup(t, closed.URL+"/vtop")

	code, res := h.post(t, "/start-login", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, StatusConnectionError, res.Status)
	require.Empty(t, res.SessionID)
}

func TestUnknownRoute(t *testing.T) {
	h := setup(t, "http://127.0.0.1:1/vtop")

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/start-login", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
