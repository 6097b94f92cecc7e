// Package vtop drives the VTOP portal over HTTP: the login handshake and the
// authenticated page requests that follow it.
package vtop

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"vtopassist-backend/internal/components/assert"
	"vtopassist-backend/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("vtop")

const (
	DefaultBaseUrl   = "https://vtopcc.vit.ac.in/vtop"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	DefaultTimeout   = 20 * time.Second
)

type Options struct {
	BaseUrl   string
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond and Burst configure the per-client rate limiter.
	RequestsPerSecond float64
	Burst             int
	// SkipTLSVerify disables certificate verification, the portal has served
	// incomplete chains before.
	SkipTLSVerify bool
	Strategy      Strategy
}

func (o Options) withDefaults() Options {
	if o.BaseUrl == "" {
		o.BaseUrl = DefaultBaseUrl
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 2
	}
	if o.Burst <= 0 {
		o.Burst = 2
	}
	if o.Strategy == "" {
		o.Strategy = StrategyAuto
	}
	return o
}

// Client is a single user's view of the portal. It owns its cookie jar, so a
// Client must never be shared between sessions.
type Client struct {
	BaseUrl *url.URL

	http *resty.Client
	jar  http.CookieJar
	tel  telemetry.API

	mutex    sync.Mutex
	strategy Strategy
}

var _ Portal = (*Client)(nil)

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel, "telemetry")

	opts = opts.withDefaults()
	tel = telemetry.NewScopedAPI("vtop_client", tel)

	baseUrl, err := url.Parse(strings.TrimRight(opts.BaseUrl, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseUrl.Scheme == "" || baseUrl.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", opts.BaseUrl)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(baseUrl.String())
	httpClient.SetCookieJar(jar)
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetHeader("user-agent", opts.UserAgent)
	httpClient.SetRedirectPolicy(
		resty.FlexibleRedirectPolicy(10),
		resty.DomainCheckRedirectPolicy(baseUrl.Hostname()),
	)
	if opts.SkipTLSVerify {
		// must happen before the transport is wrapped below
		httpClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	// max burst >= 2 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		BaseUrl:  baseUrl,
		http:     httpClient,
		jar:      jar,
		tel:      tel,
		strategy: opts.Strategy,
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.BaseUrl.String() + "/" + strings.TrimLeft(path, "/")
}

type request struct {
	method  string
	path    string
	referer string
	form    map[string]string
	// ajax marks the request the way the portal's own scripts do, some
	// endpoints only answer those.
	ajax bool
}

type response struct {
	doc      *goquery.Document
	body     []byte
	finalUrl string
}

// do runs one exchange and parses the answer. Transport failures and non-2xx
// statuses come back as *Error.
func (c *Client) do(ctx context.Context, op string, r request) (response, error) {
	endpoint := c.endpoint(r.path)

	req := c.http.R().SetContext(ctx)
	if r.referer != "" {
		req.SetHeader("Referer", c.endpoint(r.referer))
	}
	if r.ajax {
		req.SetHeader("X-Requested-With", "XMLHttpRequest")
	}
	if r.form != nil {
		req.SetFormData(r.form)
	}

	res, err := req.Execute(r.method, r.path)
	if err != nil {
		return response{}, transportError(op, endpoint, err)
	}
	if res.IsError() {
		return response{}, c.unexpected(op, endpoint, "status %s", res.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return response{}, c.unexpected(op, endpoint, "parse document: %v", err)
	}

	finalUrl := endpoint
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL.String()
	}
	return response{doc: doc, body: res.Body(), finalUrl: finalUrl}, nil
}

// unexpected reports markup the client could not make sense of. These point at
// a portal revision the client does not know about yet.
func (c *Client) unexpected(op, endpoint string, format string, args ...any) *Error {
	err := contentError(op, endpoint, format, args...)
	c.tel.ReportBroken(op, err.Err, endpoint)
	return err
}

func fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func csrfToken(doc *goquery.Document) string {
	value, _ := doc.Find("input[name=_csrf]").First().Attr("value")
	return strings.TrimSpace(value)
}

// hasLoginForm is the structural marker of the portal's login page. A bare
// password field is not enough, authenticated pages such as the password
// change form carry one too.
func hasLoginForm(doc *goquery.Document) bool {
	if doc.Find("form#vtopLoginForm").Length() > 0 {
		return true
	}
	return doc.Find("form").FilterFunction(func(_ int, form *goquery.Selection) bool {
		return form.Find("input[name=password]").Length() > 0 &&
			form.Find("input[name=captchaStr]").Length() > 0
	}).Length() > 0
}

// inlineCaptcha finds a CAPTCHA embedded in a page. Pages carry other images,
// only a data URI counts.
func inlineCaptcha(doc *goquery.Document) string {
	var src string
	doc.Find("img[src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		value := strings.TrimSpace(img.AttrOr("src", ""))
		if strings.HasPrefix(value, "data:image") {
			src = value
			return false
		}
		return true
	})
	return src
}
