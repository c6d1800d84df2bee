package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"ip2api/lib/restyutil"
	"ip2api/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

var LoginFailed = fmt.Errorf("Failed to login to IP2.")

// Client holds an authenticated session against one IP2 instance. All
// higher level scraping goes through its resty client so the cookie jar
// is shared across every request.
type Client struct {
	BaseUrl  *url.URL
	Http     *resty.Client
	Username string

	loggedIn bool

	dwrMu        sync.Mutex
	dwrSessionId string
}

type ClientOptions struct {
	BaseUrl  string
	Username string
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/ip2/http")
	restyutil.AttachOutput(client, restyInstrumentOutput)

	c := &Client{
		BaseUrl:  baseUrl,
		Http:     client,
		Username: opts.Username,
	}
	return c, nil
}

func (c *Client) DefaultRedirectPolicy() resty.RedirectPolicy {
	return resty.DomainCheckRedirectPolicy(c.BaseUrl.Hostname())
}

// LoggedIn reports whether the last login or logout attempt left the
// session authenticated. It does not issue a request; use TestLogin for a
// live probe.
func (c *Client) LoggedIn() bool {
	return c.loggedIn
}

// finalUrl is the url the request chain settled on after redirects.
func finalUrl(res *resty.Response) string {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL.String()
	}
	return res.Request.URL
}

// LoginPassword submits the j_security_check form. The servlet responds
// with a redirect chain whose cookies land in the jar; it signals bad
// credentials only through the url it settles on.
func (c *Client) LoginPassword(ctx context.Context, password string) error {
	ctx, span := tracer.Start(ctx, "client:LoginPassword")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"j_username": c.Username,
			"j_password": password,
			"rememberMe": "remember-me",
		}).
		Post(EndpointLogin)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return err
	}

	if strings.Contains(finalUrl(res), "error") {
		c.loggedIn = false
		span.SetStatus(codes.Error, LoginFailed.Error())
		return LoginFailed
	}

	c.loggedIn = true
	return nil
}

// LoginCookies installs a pre-obtained cookie set and validates it with a
// live probe instead of the login form.
func (c *Client) LoginCookies(ctx context.Context, cookies []*http.Cookie) error {
	ctx, span := tracer.Start(ctx, "client:LoginCookies")
	defer span.End()

	c.Http.GetClient().Jar.SetCookies(c.BaseUrl, cookies)

	ok, err := c.TestLogin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to probe session")
		return err
	}
	if !ok {
		span.SetStatus(codes.Error, LoginFailed.Error())
		return LoginFailed
	}
	return nil
}

// TestLogin requests a known-authenticated page; an expired session gets
// redirected back to the login page.
func (c *Client) TestLogin(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "client:TestLogin")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(EndpointProjectList)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch project list")
		return false, err
	}

	c.loggedIn = !strings.Contains(finalUrl(res), "login")
	return c.loggedIn, nil
}

func (c *Client) Logout(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:Logout")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(EndpointLogout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make logout request")
		return err
	}
	if res.StatusCode() != http.StatusOK {
		err := fmt.Errorf("logout returned status %d", res.StatusCode())
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.loggedIn = false
	return nil
}
