package auth

import (
	"testing"

	"vtopassist-backend/internal/vtop"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]Reason{
		"Invalid Captcha":                 ReasonInvalidCaptcha,
		"invalid CAPTCHA, please retry":   ReasonInvalidCaptcha,
		"Invalid LoginId/Password":        ReasonInvalidCredentials,
		"Invalid loginid":                 ReasonInvalidCredentials,
		"Wrong password entered":          ReasonInvalidCredentials,
		"Captcha and password both wrong": ReasonInvalidCaptcha,
		"Account locked":                  ReasonUnclassified,
		"":                                ReasonUnclassified,
	}
	for text, expected := range cases {
		require.Equal(t, expected, Classify(text), text)
	}
}

func TestDecide(t *testing.T) {
	// success never depends on text or url
	d := decide("csrf-1", vtop.LoginResponse{ErrorText: "Invalid Captcha", FinalUrl: "https://x/vtop/login"})
	require.True(t, d.success)

	d = decide("csrf-1", vtop.LoginResponse{LoginFormPresent: true, Token: "csrf-2", CaptchaImage: "data:image/png;base64,a"})
	require.False(t, d.success)
	require.False(t, d.needChallenge)
	require.False(t, d.needCaptcha)
	require.Equal(t, DefaultRejectionMessage, d.message)

	d = decide("csrf-1", vtop.LoginResponse{LoginFormPresent: true, Token: "csrf-2"})
	require.True(t, d.needCaptcha)
	require.False(t, d.needChallenge)

	d = decide("csrf-1", vtop.LoginResponse{LoginFormPresent: true, Token: "csrf-1", CaptchaImage: "data:image/png;base64,a"})
	require.True(t, d.needChallenge)

	d = decide("csrf-1", vtop.LoginResponse{LoginFormPresent: true})
	require.True(t, d.needChallenge)
}

func TestValidateTarget(t *testing.T) {
	valid := map[string]string{
		vtop.TimetableTarget:             vtop.TimetableTarget,
		" examinations/StudentMarkView ": "examinations/StudentMarkView",
		"academics/common/Curriculum":    "academics/common/Curriculum",
		"hostels/student/leave/1":        "hostels/student/leave/1",
	}
	for input, expected := range valid {
		target, err := ValidateTarget(input)
		require.NoError(t, err, input)
		require.Equal(t, expected, target)
	}

	for _, input := range []string{
		"",
		"   ",
		"/vtop/content",
		"//evil.example/steal",
		"https://evil.example/steal",
		"javascript:alert(1)",
		"../admin",
		"academics/../../etc/passwd",
		"academics/%2e%2e/admin",
		"academics/./common",
		"content?redirect=https://evil.example",
		"content#frag",
		`academics\common`,
	} {
		_, err := ValidateTarget(input)
		require.ErrorIs(t, err, ErrInvalidTarget, input)
	}
}
