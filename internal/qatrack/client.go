// Package qatrack is an authenticated session with a QATrack+ server.
//
// QATrack+ is a Django application: the login form and every test list
// form are protected by a CSRF token that is issued as the csrftoken
// cookie and echoed back in the csrfmiddlewaretoken field.
package qatrack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/qaimport/internal/core"
	"github.com/JonMunkholm/qaimport/internal/logging"
)

const (
	loginPath   = "accounts/login/"
	performPath = "qa/utc/perform/%s/"

	csrfCookie = "csrftoken"
	csrfField  = "csrfmiddlewaretoken"

	// errorListMarker is how Django marks field errors when it re-renders
	// a form instead of redirecting.
	errorListMarker = `class="errorlist`
)

// ErrNoCSRFToken means the login page did not set a csrftoken cookie,
// which usually means the URL does not point at a QATrack+ server.
var ErrNoCSRFToken = errors.New("no csrf token issued by login page")

// Config configures a session.
type Config struct {
	URL      string
	Username string
	Password string

	// Timeout bounds each HTTP request. Ignored when HTTPClient is set.
	Timeout time.Duration

	// RetryMaxElapsed bounds how long transport failures during login are
	// retried. Zero disables retries.
	RetryMaxElapsed time.Duration
	RetryInitial    time.Duration

	// Rate limits submissions per second. Zero means unlimited.
	Rate float64

	// ResponseFile receives the body of the most recent submission.
	// Empty disables it.
	ResponseFile string

	// Strict treats a 2xx response that re-renders the form with field
	// errors as a rejected submission.
	Strict bool

	HTTPClient *http.Client
}

// Client is an authenticated QATrack+ session. It is safe for sequential
// use by one run; the token is guarded for the benefit of the connectivity
// check, which may share a client.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	token string
}

var _ core.Submitter = (*Client)(nil)

// Connect performs the login handshake and returns an authenticated
// client. Credential rejection fails immediately; transport failures are
// retried with exponential backoff up to cfg.RetryMaxElapsed.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	base, err := ParseBaseURL(cfg.URL)
	if err != nil {
		return nil, &core.AuthError{URL: cfg.URL, Rejected: true, Err: err}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		hc = &copied
	}
	hc.Jar = jar

	c := &Client{cfg: cfg, base: base, http: hc}
	if cfg.Rate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	log := logging.WithFields(ctx, "url", base.String())

	var b backoff.BackOff = &backoff.StopBackOff{}
	if cfg.RetryMaxElapsed > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = cfg.RetryMaxElapsed
		if cfg.RetryInitial > 0 {
			exp.InitialInterval = cfg.RetryInitial
		}
		b = exp
	}

	operation := func() error {
		err := c.login(ctx)
		if err == nil {
			return nil
		}
		var ae *core.AuthError
		if (errors.As(err, &ae) && ae.Rejected) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("login failed, retrying", "error", err, "retry_in", next)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}

	log.Info("connected to QATrack+", "user", cfg.Username)
	return c, nil
}

// ParseBaseURL validates a server URL and guarantees a trailing slash so
// relative endpoints resolve beneath it.
func ParseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("server url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: missing host", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

func (c *Client) endpoint(rel string) string {
	return c.base.ResolveReference(&url.URL{Path: rel}).String()
}

func (c *Client) login(ctx context.Context) error {
	loginURL := c.endpoint(loginPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return &core.AuthError{URL: loginURL, Rejected: true, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &core.AuthError{URL: loginURL, Err: err}
	}
	drain(resp)
	if resp.StatusCode >= 500 {
		return &core.AuthError{URL: loginURL, Err: fmt.Errorf("login page returned %s", resp.Status)}
	}

	token := c.cookie(csrfCookie)
	if token == "" {
		return &core.AuthError{URL: loginURL, Rejected: true, Err: ErrNoCSRFToken}
	}

	form := url.Values{
		"username": {c.cfg.Username},
		"password": {c.cfg.Password},
		csrfField:  {token},
	}
	req, err = newFormRequest(ctx, loginURL, form)
	if err != nil {
		return &core.AuthError{URL: loginURL, Rejected: true, Err: err}
	}
	resp, err = c.http.Do(req)
	if err != nil {
		return &core.AuthError{URL: loginURL, Err: err}
	}
	drain(resp)

	switch {
	case resp.StatusCode >= 500:
		return &core.AuthError{URL: loginURL, Err: fmt.Errorf("login returned %s", resp.Status)}
	case resp.StatusCode >= 400:
		return &core.AuthError{URL: loginURL, Rejected: true, Err: fmt.Errorf("login returned %s", resp.Status)}
	case strings.HasSuffix(resp.Request.URL.Path, "/"+loginPath):
		// Django answers a bad password by rendering the login page again.
		return &core.AuthError{URL: loginURL, Rejected: true, Err: errors.New("invalid username or password")}
	}

	// The server rotates the token on login.
	if fresh := c.cookie(csrfCookie); fresh != "" {
		token = fresh
	}
	c.setToken(token)
	return nil
}

// Submit posts one completed test list form to the collection targetID and
// returns the response body.
func (c *Client) Submit(ctx context.Context, targetID string, form core.Form) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	values := form.Values()
	values.Set(csrfField, c.Token())

	target := c.endpoint(fmt.Sprintf(performPath, url.PathEscape(targetID)))
	req, err := newFormRequest(ctx, target, values)
	if err != nil {
		return nil, &core.SubmitError{TargetID: targetID, Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &core.SubmitError{TargetID: targetID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.SubmitError{TargetID: targetID, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	c.saveResponse(ctx, body)

	logging.FromContext(ctx).Debug("submitted test list",
		"target", targetID,
		"status", resp.StatusCode,
		"url", resp.Request.URL.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, &core.SubmitError{TargetID: targetID, Status: resp.StatusCode, Err: fmt.Errorf("server returned %s", resp.Status)}
	}
	if c.cfg.Strict && bytes.Contains(body, []byte(errorListMarker)) {
		return body, &core.SubmitError{
			TargetID: targetID,
			Status:   resp.StatusCode,
			Rejected: true,
			Err:      errors.New("server re-rendered the form with field errors"),
		}
	}
	return body, nil
}

// Token returns the current CSRF token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(t string) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) cookie(name string) string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) saveResponse(ctx context.Context, body []byte) {
	if c.cfg.ResponseFile == "" {
		return
	}
	if err := os.WriteFile(c.cfg.ResponseFile, body, 0o644); err != nil {
		logging.FromContext(ctx).Warn("failed to write response file",
			"path", c.cfg.ResponseFile, "error", err)
	}
}

func newFormRequest(ctx context.Context, target string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// Django's CSRF check requires a same-origin Referer over HTTPS.
	req.Header.Set("Referer", target)
	return req, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Connector adapts Connect to core.Connector.
func Connector(cfg Config) core.Connector {
	return func(ctx context.Context) (core.Submitter, error) {
		c, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
