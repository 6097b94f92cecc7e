// Package service exposes the auth service as JSON over HTTP.
package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"vtopassist-backend/internal/auth"
	"vtopassist-backend/internal/components/assert"
	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/session"
	"vtopassist-backend/internal/timetable"
	"vtopassist-backend/internal/vtop"
)

const (
	report_request = "http.request"
	report_decode  = "http.decode"
	report_encode  = "http.encode"
	report_error   = "http.error"

	maxBodyBytes = 1 << 20
)

const (
	StatusCaptchaReady        = "captcha_ready"
	StatusSuccess             = "success"
	StatusFailure             = "failure"
	StatusConnectionError     = "vtop_connection_error"
	StatusSessionExpired      = "session_expired"
	StatusInvalidCaptcha      = string(auth.ReasonInvalidCaptcha)
	StatusInvalidCredentials  = string(auth.ReasonInvalidCredentials)
	StatusCredentialsRejected = string(auth.ReasonUnclassified)
)

type Response struct {
	Status           string                    `json:"status"`
	SessionID        string                    `json:"session_id,omitempty"`
	CaptchaImageData string                    `json:"captcha_image_data,omitempty"`
	Message          string                    `json:"message,omitempty"`
	RenderedSchedule *timetable.ParsedSchedule `json:"rendered_schedule,omitempty"`
	RawContent       *string                   `json:"raw_content,omitempty"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type loginAttemptRequest struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Captcha   string `json:"captcha"`
}

type fetchDataRequest struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target"`
	Semester  string `json:"semester"`
}

type config struct {
	tel telemetry.API
}

type Option func(cfg *config)

func WithTelemetryAPI(tel telemetry.API) Option {
	return func(cfg *config) {
		cfg.tel = tel
	}
}

// Handler routes the login and data endpoints. Every endpoint takes a POST
// with a JSON body and answers with a Response.
type Handler struct {
	auth *auth.Service
	tel  telemetry.API
	mux  *http.ServeMux
}

func NewHandler(authService *auth.Service, options ...Option) *Handler {
	assert.NotNil(authService, "auth service")

	cfg := config{tel: telemetry.SlogAPI{}}
	for _, opt := range options {
		opt(&cfg)
	}

	h := &Handler{
		auth: authService,
		tel:  telemetry.NewScopedAPI("service", cfg.tel),
		mux:  http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /start-login", h.startLogin)
	h.mux.HandleFunc("POST /login-attempt", h.loginAttempt)
	h.mux.HandleFunc("POST /check-session", h.checkSession)
	h.mux.HandleFunc("POST /logout", h.logout)
	h.mux.HandleFunc("POST /fetch-data", h.fetchData)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.tel.ReportDebug(report_request, r.Method, r.URL.Path)
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) write(w http.ResponseWriter, code int, res Response) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.tel.ReportWarning(report_encode, err)
	}
}

// decode reads the JSON body into out. An empty body leaves out untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.tel.ReportDebug(report_decode, err)
	h.write(w, http.StatusBadRequest, Response{
		Status:  StatusFailure,
		Message: "Invalid request body.",
	})
	return false
}

// writeError turns an error from the auth service into the matching status
// and message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingFields):
		h.write(w, http.StatusBadRequest, Response{Status: StatusFailure, Message: "Missing required fields."})
	case errors.Is(err, session.ErrNotFound):
		h.write(w, http.StatusBadRequest, Response{Status: StatusFailure, Message: "Session expired. Please refresh the page."})
	case errors.Is(err, auth.ErrNotAuthenticated):
		h.write(w, http.StatusBadRequest, Response{Status: StatusFailure, Message: "Invalid session."})
	case errors.Is(err, auth.ErrInvalidTarget):
		h.write(w, http.StatusBadRequest, Response{Status: StatusFailure, Message: "Invalid target."})
	case errors.Is(err, session.ErrBusy):
		h.write(w, http.StatusConflict, Response{Status: StatusFailure, Message: "Another request for this session is in progress."})
	case errors.Is(err, auth.ErrNotReady):
		h.write(w, http.StatusConflict, Response{Status: StatusFailure, Message: "This session is not waiting for a login attempt."})
	case errors.Is(err, vtop.ErrSessionExpired):
		h.write(w, http.StatusUnauthorized, Response{Status: StatusSessionExpired, Message: "Session expired. Please log out and log in again."})
	case errors.Is(err, auth.ErrNoSession):
		h.write(w, http.StatusOK, Response{Status: StatusFailure, Message: "Session expired."})
	case vtop.IsKind(err, vtop.KindTimeout):
		h.write(w, http.StatusServiceUnavailable, Response{Status: StatusConnectionError, Message: "VTOP did not respond in time. Please try again later."})
	case vtop.IsKind(err, vtop.KindConnectionRefused):
		h.write(w, http.StatusServiceUnavailable, Response{Status: StatusConnectionError, Message: "Could not connect to VTOP. Please try again later."})
	case vtop.IsKind(err, vtop.KindUnexpectedContent):
		h.write(w, http.StatusInternalServerError, Response{Status: StatusFailure, Message: "VTOP answered with a page this server does not understand. Please contact the administrator."})
	default:
		h.tel.ReportBroken(report_error, err)
		h.write(w, http.StatusInternalServerError, Response{Status: StatusFailure, Message: "Internal server error."})
	}
}

func (h *Handler) startLogin(w http.ResponseWriter, r *http.Request) {
	res, err := h.auth.StartLogin(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.write(w, http.StatusOK, Response{
		Status:           StatusCaptchaReady,
		SessionID:        res.SessionID,
		CaptchaImageData: res.CaptchaImage,
	})
}

func (h *Handler) loginAttempt(w http.ResponseWriter, r *http.Request) {
	var req loginAttemptRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.Attempt(r.Context(), req.SessionID, req.Username, req.Password, req.Captcha)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if res.Success {
		h.write(w, http.StatusOK, Response{
			Status:    StatusSuccess,
			SessionID: res.SessionID,
			Message:   res.Message,
		})
		return
	}
	h.write(w, http.StatusOK, Response{
		Status:           string(res.Reason),
		SessionID:        res.SessionID,
		Message:          res.Message,
		CaptchaImageData: res.CaptchaImage,
	})
}

func (h *Handler) checkSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.CheckSession(r.Context(), req.SessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.write(w, http.StatusOK, Response{
		Status:    StatusSuccess,
		SessionID: res.SessionID,
		Message:   res.Message,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	// a malformed body still logs out whatever can be logged out
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)

	h.auth.Logout(r.Context(), req.SessionID)
	h.write(w, http.StatusOK, Response{Status: StatusSuccess})
}

func (h *Handler) fetchData(w http.ResponseWriter, r *http.Request) {
	var req fetchDataRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.FetchData(r.Context(), req.SessionID, req.Target, req.Semester)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := Response{Status: StatusSuccess}
	if res.Schedule != nil {
		out.RenderedSchedule = res.Schedule
	} else {
		raw := res.Raw
		out.RawContent = &raw
	}
	h.write(w, http.StatusOK, out)
}
