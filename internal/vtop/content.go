package vtop

import (
	"context"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_client_fetch_csrf      = "client.fetch-csrf"
	report_client_fetch_page      = "client.fetch-page"
	report_client_fetch_timetable = "client.fetch-timetable"

	pathContent           = "content"
	pathProcessTimetable  = "processViewTimeTable"
	semesterSelector      = "select#semesterSubId option"
	authorizedIdParameter = "authorizedID"
)

// FetchCSRF loads the authenticated landing page and returns its token. It is
// also the cheapest way to learn whether the portal still honours the cookies.
func (c *Client) FetchCSRF(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchCSRF")
	defer span.End()

	res, err := c.do(ctx, report_client_fetch_csrf, request{
		method: http.MethodGet,
		path:   pathContent,
	})
	if err != nil {
		return "", fail(span, err)
	}
	if hasLoginForm(res.doc) {
		return "", fail(span, ErrSessionExpired)
	}
	token := csrfToken(res.doc)
	if token == "" {
		return "", fail(span, ErrSessionExpired)
	}
	return token, nil
}

// FetchAuthenticatedPage posts to a page the way the portal's menu does and
// returns its markup.
func (c *Client) FetchAuthenticatedPage(ctx context.Context, path string, params map[string]string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchAuthenticatedPage")
	defer span.End()

	page, err := c.authenticatedPage(ctx, report_client_fetch_page, path, params)
	return page, fail(span, err)
}

func (c *Client) authenticatedPage(ctx context.Context, op, path string, params map[string]string) (string, error) {
	if params == nil {
		params = map[string]string{}
	}
	res, err := c.do(ctx, op, request{
		method:  http.MethodPost,
		path:    path,
		referer: pathContent,
		form:    params,
		ajax:    true,
	})
	if err != nil {
		return "", err
	}
	if hasLoginForm(res.doc) {
		return "", ErrSessionExpired
	}
	return string(res.body), nil
}

// FetchTimetable loads the timetable of a semester. An empty semester selects
// the first one the portal offers, which is the current one.
func (c *Client) FetchTimetable(ctx context.Context, username, semester string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchTimetable")
	defer span.End()

	token, err := c.FetchCSRF(ctx)
	if err != nil {
		return "", fail(span, err)
	}

	if semester == "" {
		menu, err := c.do(ctx, report_client_fetch_timetable, request{
			method:  http.MethodPost,
			path:    TimetableTarget,
			referer: pathContent,
			ajax:    true,
			form: map[string]string{
				authorizedIdParameter: username,
				"_csrf":               token,
				"verifyMenu":          "true",
			},
		})
		if err != nil {
			return "", fail(span, err)
		}
		if hasLoginForm(menu.doc) {
			return "", fail(span, ErrSessionExpired)
		}

		options := menu.doc.Find(semesterSelector)
		if options.Length() == 0 {
			return "", fail(span, c.unexpected(report_client_fetch_timetable, menu.finalUrl, "no semester dropdown"))
		}
		options.EachWithBreak(func(_ int, option *goquery.Selection) bool {
			semester = strings.TrimSpace(option.AttrOr("value", ""))
			return semester == ""
		})
		if semester == "" {
			return "", fail(span, c.unexpected(report_client_fetch_timetable, menu.finalUrl, "no semester with a value"))
		}
	}

	page, err := c.authenticatedPage(ctx, report_client_fetch_timetable, pathProcessTimetable, map[string]string{
		authorizedIdParameter: username,
		"_csrf":               token,
		"semesterSubId":       semester,
	})
	return page, fail(span, err)
}

// FetchTarget loads any other menu entry.
func (c *Client) FetchTarget(ctx context.Context, username, target string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchTarget")
	defer span.End()

	token, err := c.FetchCSRF(ctx)
	if err != nil {
		return "", fail(span, err)
	}
	page, err := c.authenticatedPage(ctx, report_client_fetch_page, target, map[string]string{
		authorizedIdParameter: username,
		"_csrf":               token,
		"verifyMenu":          "true",
	})
	return page, fail(span, err)
}
