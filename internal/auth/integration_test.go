package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vtopassist-backend/internal/components/chrono"
	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/session"
	"vtopassist-backend/internal/sessionrecord"
	"vtopassist-backend/internal/vtop"
	"vtopassist-backend/internal/vtop/vtoptest"

	"github.com/stretchr/testify/require"
)

func newPortalService(t *testing.T, portal *vtoptest.Server, recordPath string) *Service {
	t.Helper()
	tel := &telemetry.Recorder{}
	clock := chrono.NewManualImpl(time.Date(2024, time.July, 15, 9, 0, 0, 0, time.UTC))
	factory := func() (vtop.Portal, error) {
		return vtop.NewClient(vtop.Options{
			BaseUrl:           portal.BaseUrl(),
			RequestsPerSecond: 1000,
			Burst:             1000,
		}, tel)
	}
	return NewService(
		session.NewStore(clock, tel, session.Options{}),
		sessionrecord.NewFileStore(recordPath, tel),
		factory,
		clock,
		tel,
	)
}

func TestLoginFlowAgainstPortal(t *testing.T) {
	portal := vtoptest.New(t, vtoptest.Config{
		RequireWarmup: true,
		Timetable:     []byte(timetablePage),
	})
	recordPath := filepath.Join(t.TempDir(), "record.bin")
	service := newPortalService(t, portal, recordPath)
	ctx := context.Background()

	start, err := service.StartLogin(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(start.CaptchaImage, "data:image"))

	res, err := service.Attempt(ctx, start.SessionID, portal.Config.Username, portal.Config.Password, "WRONG")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, ReasonInvalidCaptcha, res.Reason)
	require.NotEqual(t, start.CaptchaImage, res.CaptchaImage)
	require.NotEmpty(t, res.CaptchaImage)

	res, err = service.Attempt(ctx, start.SessionID, portal.Config.Username, "nope", portal.Config.Captcha)
	require.NoError(t, err)
	require.Equal(t, ReasonInvalidCredentials, res.Reason)

	res, err = service.Attempt(ctx, start.SessionID, portal.Config.Username, portal.Config.Password, portal.Config.Captcha)
	require.NoError(t, err)
	require.True(t, res.Success)

	data, err := service.FetchData(ctx, start.SessionID, vtop.TimetableTarget, "")
	require.NoError(t, err)
	require.Equal(t, 1, data.Schedule.Grid.Occupied())
	require.Equal(t, vtoptest.Semesters[0], portal.Semester())

	// a new process revalidates from the record
	restarted := newPortalService(t, portal, recordPath)
	check, err := restarted.CheckSession(ctx, "")
	require.NoError(t, err)
	require.True(t, check.Restored)
	require.Equal(t, portal.Config.Username, check.Username)

	data, err = restarted.FetchData(ctx, check.SessionID, "examinations/StudentMarkView", "")
	require.NoError(t, err)
	require.Contains(t, data.Raw, "examinations/StudentMarkView")

	portal.Expire()
	_, err = restarted.FetchData(ctx, check.SessionID, vtop.TimetableTarget, "")
	require.ErrorIs(t, err, vtop.ErrSessionExpired)

	_, err = newPortalService(t, portal, recordPath).CheckSession(ctx, "")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestRetryWithoutTokenInRejection(t *testing.T) {
	portal := vtoptest.New(t, vtoptest.Config{OmitRetryToken: true, InlineCaptcha: true})
	service := newPortalService(t, portal, filepath.Join(t.TempDir(), "record.bin"))
	ctx := context.Background()

	start, err := service.StartLogin(ctx)
	require.NoError(t, err)

	res, err := service.Attempt(ctx, start.SessionID, portal.Config.Username, "nope", portal.Config.Captcha)
	require.NoError(t, err)
	require.Equal(t, ReasonInvalidCredentials, res.Reason)

	res, err = service.Attempt(ctx, start.SessionID, portal.Config.Username, portal.Config.Password, portal.Config.Captcha)
	require.NoError(t, err)
	require.True(t, res.Success)
}
