// Package auth drives a login attempt through the portal's handshake and
// keeps the session store in step with it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vtopassist-backend/internal/components/assert"
	"vtopassist-backend/internal/components/chrono"
	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/session"
	"vtopassist-backend/internal/sessionrecord"
	"vtopassist-backend/internal/timetable"
	"vtopassist-backend/internal/vtop"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("auth")

const (
	report_start_login   = "start-login"
	report_login_attempt = "login-attempt"
	report_check_session = "check-session"
	report_logout        = "logout"
	report_fetch_data    = "fetch-data"
	report_record        = "record"
)

var (
	ErrMissingFields = errors.New("auth: missing required fields")
	// ErrNotReady is returned for attempts on a session that is not waiting
	// for credentials, ex. one that already authenticated.
	ErrNotReady = errors.New("auth: session is not awaiting a login attempt")
	// ErrNotAuthenticated is returned for data requests on a session that has
	// not logged in yet.
	ErrNotAuthenticated = errors.New("auth: session is not authenticated")
	// ErrNoSession is returned by CheckSession when the given id is not an
	// authenticated session, or when no id is given and the persisted record
	// does not revalidate.
	ErrNoSession     = errors.New("auth: no valid session")
	ErrInvalidTarget = errors.New("auth: invalid target")
)

// PortalFactory creates the portal connection a new session will own.
type PortalFactory func() (vtop.Portal, error)

type Service struct {
	sessions  *session.Store
	records   sessionrecord.Store
	newPortal PortalFactory
	clock     chrono.API
	tel       telemetry.API

	// restored is the id of the session last rebuilt from the record, reused
	// by later id-less checks while it stays live.
	restoredMutex sync.Mutex
	restored      string
}

func NewService(
	sessions *session.Store,
	records sessionrecord.Store,
	newPortal PortalFactory,
	clock chrono.API,
	tel telemetry.API,
) *Service {
	assert.NotNil(sessions, "session store")
	assert.NotNil(records, "record store")
	assert.NotNil(newPortal, "portal factory")
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "telemetry")

	return &Service{
		sessions:  sessions,
		records:   records,
		newPortal: newPortal,
		clock:     clock,
		tel:       telemetry.NewScopedAPI("auth", tel),
	}
}

func fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

type StartResult struct {
	SessionID    string
	CaptchaImage string
}

// StartLogin opens a new session and fetches its first challenge. A session
// whose challenge could not be fetched is discarded.
func (s *Service) StartLogin(ctx context.Context) (StartResult, error) {
	ctx, span := tracer.Start(ctx, "StartLogin")
	defer span.End()

	portal, err := s.newPortal()
	if err != nil {
		s.tel.ReportBroken(report_start_login, fmt.Errorf("create portal client: %w", err))
		return StartResult{}, fail(span, err)
	}

	id := s.sessions.Create(portal)
	span.SetAttributes(attribute.String("session_id", id))
	lease, err := s.sessions.Acquire(id)
	if err != nil {
		return StartResult{}, fail(span, err)
	}
	defer lease.Release()

	challenge, err := portal.FetchChallenge(ctx)
	if err != nil {
		lease.Discard()
		s.tel.ReportDebug(report_start_login, "challenge failed", err)
		return StartResult{}, fail(span, err)
	}

	err = lease.Commit(func(as *session.AuthSession) {
		as.Token = challenge.Token
		as.State = session.ChallengeReady
	})
	if err != nil {
		return StartResult{}, fail(span, err)
	}
	return StartResult{SessionID: id, CaptchaImage: challenge.CaptchaImage}, nil
}

type AttemptResult struct {
	Success   bool
	SessionID string
	Username  string
	// Reason and CaptchaImage are only set when the portal rejected the attempt.
	Reason       Reason
	Message      string
	CaptchaImage string
}

// Attempt submits credentials for a session holding a challenge. A rejected
// attempt leaves the session ready for the next one with fresh challenge
// material, if that material cannot be fetched the session is discarded.
func (s *Service) Attempt(ctx context.Context, id, username, password, captcha string) (AttemptResult, error) {
	ctx, span := tracer.Start(ctx, "Attempt")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))

	if id == "" || username == "" || password == "" || captcha == "" {
		return AttemptResult{}, fail(span, ErrMissingFields)
	}

	lease, err := s.sessions.Acquire(id)
	if err != nil {
		return AttemptResult{}, fail(span, err)
	}
	defer lease.Release()

	current := lease.Session()
	if current.State != session.ChallengeReady {
		return AttemptResult{}, fail(span, ErrNotReady)
	}

	res, err := current.Portal.SubmitCredentials(ctx, current.Token, username, password, captcha)
	if err != nil {
		return AttemptResult{}, fail(span, err)
	}

	d := decide(current.Token, res)
	if d.success {
		return s.authenticated(ctx, lease, current.Portal, username)
	}

	if d.reason == ReasonUnclassified {
		s.tel.ReportWarning(report_login_attempt, "unclassified rejection", d.message)
	}

	token, image := d.token, d.captcha
	switch {
	case d.needChallenge:
		challenge, err := current.Portal.FetchChallenge(ctx)
		if err != nil {
			lease.Discard()
			return AttemptResult{}, fail(span, err)
		}
		token, image = challenge.Token, challenge.CaptchaImage
	case d.needCaptcha:
		image, err = current.Portal.FetchCaptcha(ctx)
		if err != nil {
			lease.Discard()
			return AttemptResult{}, fail(span, err)
		}
	}

	err = lease.Commit(func(as *session.AuthSession) {
		as.Token = token
		as.State = session.ChallengeReady
	})
	if err != nil {
		return AttemptResult{}, fail(span, err)
	}

	return AttemptResult{
		SessionID:    id,
		Reason:       d.reason,
		Message:      d.message,
		CaptchaImage: image,
	}, nil
}

func (s *Service) authenticated(ctx context.Context, lease *session.Lease, portal vtop.Portal, username string) (AttemptResult, error) {
	err := lease.Commit(func(as *session.AuthSession) {
		as.Username = username
		as.State = session.Authenticated
	})
	if err != nil {
		return AttemptResult{}, err
	}

	s.saveRecord(ctx, portal, username)

	return AttemptResult{
		Success:   true,
		SessionID: lease.ID(),
		Username:  username,
		Message:   fmt.Sprintf("Welcome, %s!", username),
	}, nil
}

// saveRecord failing does not fail the login, the user is authenticated
// either way and only loses silent revalidation.
func (s *Service) saveRecord(ctx context.Context, portal vtop.Portal, username string) {
	err := s.records.Save(ctx, sessionrecord.Record{
		Username: username,
		Cookies:  sessionrecord.CookiesFromHttp(portal.Cookies()),
		SavedAt:  s.clock.Now(),
	})
	if err != nil {
		s.tel.ReportWarning(report_record, fmt.Errorf("save: %w", err))
	}
}

func (s *Service) deleteRecord(ctx context.Context) {
	if err := s.records.Delete(ctx); err != nil {
		s.tel.ReportWarning(report_record, fmt.Errorf("delete: %w", err))
	}
}

type CheckResult struct {
	SessionID string
	Username  string
	Message   string
	// Restored is set when the session was rebuilt from the persisted record.
	Restored bool
}

// CheckSession reports whether the caller still has a live session. A given
// id answers locally and never falls back to the record. Without an id the
// persisted record is revalidated against the portal and a record that fails
// revalidation is deleted.
func (s *Service) CheckSession(ctx context.Context, id string) (CheckResult, error) {
	ctx, span := tracer.Start(ctx, "CheckSession")
	defer span.End()

	if id != "" {
		current, err := s.sessions.Get(id)
		if err != nil || current.State != session.Authenticated {
			return CheckResult{}, fail(span, ErrNoSession)
		}
		return CheckResult{
			SessionID: id,
			Username:  current.Username,
			Message:   fmt.Sprintf("Welcome back, %s!", current.Username),
		}, nil
	}

	record, err := s.records.Load(ctx)
	if errors.Is(err, sessionrecord.ErrNoRecord) {
		return CheckResult{}, fail(span, ErrNoSession)
	}
	if err != nil {
		s.tel.ReportWarning(report_record, fmt.Errorf("load: %w", err))
		return CheckResult{}, fail(span, ErrNoSession)
	}

	portal, err := s.newPortal()
	if err != nil {
		s.tel.ReportBroken(report_check_session, fmt.Errorf("create portal client: %w", err))
		return CheckResult{}, fail(span, err)
	}
	portal.SetCookies(record.HttpCookies())

	_, err = portal.FetchCSRF(ctx)
	if err != nil {
		s.tel.ReportDebug(report_check_session, "revalidation failed", err)
		s.deleteRecord(ctx)
		if vtop.IsConnectionError(err) {
			return CheckResult{}, fail(span, err)
		}
		s.forgetRestored()
		return CheckResult{}, fail(span, fmt.Errorf("%w: %w", ErrNoSession, err))
	}

	restored, err := s.restore(portal, record.Username)
	if err != nil {
		return CheckResult{}, fail(span, err)
	}

	return CheckResult{
		SessionID: restored,
		Username:  record.Username,
		Message:   fmt.Sprintf("Welcome back, %s!", record.Username),
		Restored:  true,
	}, nil
}

// restore hands back the session already rebuilt for username when it is
// still live, so repeated checks do not grow the store.
func (s *Service) restore(portal vtop.Portal, username string) (string, error) {
	s.restoredMutex.Lock()
	defer s.restoredMutex.Unlock()

	if s.restored != "" {
		current, err := s.sessions.Get(s.restored)
		if err == nil &&
			current.State == session.Authenticated &&
			current.Username == username {
			return s.restored, nil
		}
	}

	id := s.sessions.Create(portal)
	err := s.sessions.Update(id, func(as *session.AuthSession) {
		as.Username = username
		as.State = session.Authenticated
	})
	if err != nil {
		return "", err
	}
	s.restored = id
	return id, nil
}

// forgetRestored drops the session rebuilt from a record that no longer
// revalidates, it shares the record's cookies.
func (s *Service) forgetRestored() {
	s.restoredMutex.Lock()
	defer s.restoredMutex.Unlock()
	if s.restored != "" {
		s.sessions.Delete(s.restored)
		s.restored = ""
	}
}

// Logout forgets the session and the persisted record. It never fails, an
// unknown id is already logged out.
func (s *Service) Logout(ctx context.Context, id string) {
	if id != "" && s.sessions.Delete(id) {
		s.tel.ReportDebug(report_logout, id)
	}
	s.deleteRecord(ctx)
}

type FetchResult struct {
	// Schedule is set for the timetable target, Raw for every other one.
	Schedule *timetable.ParsedSchedule
	Raw      string
}

// FetchData loads a portal page for an authenticated session. An expired
// remote session removes the local session and the persisted record.
func (s *Service) FetchData(ctx context.Context, id, target, semester string) (FetchResult, error) {
	ctx, span := tracer.Start(ctx, "FetchData")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", id),
		attribute.String("target", target),
	)

	if id == "" {
		return FetchResult{}, fail(span, ErrMissingFields)
	}
	target, err := ValidateTarget(target)
	if err != nil {
		return FetchResult{}, fail(span, err)
	}

	lease, err := s.sessions.Acquire(id)
	if err != nil {
		return FetchResult{}, fail(span, err)
	}
	defer lease.Release()

	current := lease.Session()
	if current.State != session.Authenticated {
		return FetchResult{}, fail(span, ErrNotAuthenticated)
	}

	var out FetchResult
	if target == vtop.TimetableTarget {
		var page string
		page, err = current.Portal.FetchTimetable(ctx, current.Username, semester)
		if err == nil {
			schedule := timetable.Extract([]byte(page))
			out.Schedule = &schedule
			s.tel.ReportDebug(report_fetch_data, "timetable", len(schedule.Courses), schedule.Grid.Occupied())
		}
	} else {
		out.Raw, err = current.Portal.FetchTarget(ctx, current.Username, target)
	}

	if errors.Is(err, vtop.ErrSessionExpired) {
		lease.Discard()
		s.deleteRecord(ctx)
		return FetchResult{}, fail(span, err)
	}
	if err != nil {
		return FetchResult{}, fail(span, err)
	}

	// touch
	if err := lease.Commit(func(*session.AuthSession) {}); err != nil {
		return FetchResult{}, fail(span, err)
	}
	return out, nil
}
