package vtop

import (
	"context"
	"net/http"

	"vtopassist-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const report_client_submit_credentials = "client.submit-credentials"

// SubmitCredentials posts one login attempt. It is never retried, a repeated
// submission counts as another failed attempt on the portal's side.
func (c *Client) SubmitCredentials(ctx context.Context, token, username, password, captcha string) (LoginResponse, error) {
	ctx, span := tracer.Start(ctx, "client:SubmitCredentials")
	defer span.End()

	res, err := c.do(ctx, report_client_submit_credentials, request{
		method:  http.MethodPost,
		path:    pathLogin,
		referer: pathLogin,
		form: map[string]string{
			"_csrf":      token,
			"username":   username,
			"password":   password,
			"captchaStr": captcha,
		},
	})
	if err != nil {
		return LoginResponse{}, fail(span, err)
	}

	out := parseLoginResponse(res.doc)
	out.FinalUrl = res.finalUrl
	return out, nil
}

func parseLoginResponse(doc *goquery.Document) LoginResponse {
	if !hasLoginForm(doc) {
		return LoginResponse{}
	}
	return LoginResponse{
		LoginFormPresent: true,
		Token:            csrfToken(doc),
		CaptchaImage:     inlineCaptcha(doc),
		ErrorText:        htmlutil.CleanText(doc.Find(`font[color="red"]`).First()),
	}
}
