package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/semaphore"
)

// DefaultUserAgent mimics a desktop browser so the target site serves the
// same markup it serves to people.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	defaultMaxAttempts  = 3
	defaultMaxBodyBytes = 5 << 20
	defaultRedirectHops = 5
)

var (
	// ErrUnsupportedScheme is returned for anything other than http(s).
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
	// ErrUnsupportedContentType is returned when the response is not HTML.
	ErrUnsupportedContentType = errors.New("unsupported content type")

	errTooManyRedirects = errors.New("too many redirects")
)

// DefaultHeaders returns the browser-like header set sent with every request.
func DefaultHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", DefaultUserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// Response is a page fetched with a 2xx status.
type Response struct {
	// URL is the final URL after redirects.
	URL         string
	StatusCode  int
	ContentType string
	// Body is decoded to UTF-8 when the response declares another charset.
	Body     []byte
	Attempts int
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, http.StatusText(e.Code))
}

// Error is returned once every attempt for a URL has failed.
type Error struct {
	URL      string
	Attempts int
	// Status is the HTTP status of the last attempt, 0 if no response arrived.
	Status int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Backoff describes the delays between attempts: Initial, then multiplied by
// Multiplier each retry and capped at Max. Jitter is the randomization factor
// in [0,1); zero gives an exact sequence.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64
}

// DefaultBackoff is 1s doubling to a 30s ceiling with light jitter.
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second, Jitter: 0.25}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		b.Jitter = 0
	}
	return b
}

// Client wraps http.Client with browser-like headers, per-attempt timeouts and
// exponential backoff retry. A Client is safe for concurrent use once
// configured.
type Client struct {
	HTTPClient *http.Client
	// Headers replaces DefaultHeaders when non-nil.
	Headers http.Header
	// MaxAttempts includes the initial attempt. Zero means 3.
	MaxAttempts int
	// PerRequestTimeout bounds each attempt.
	PerRequestTimeout time.Duration
	Backoff           Backoff
	// RedirectMaxHops caps redirect following. Zero means 5.
	RedirectMaxHops int
	// MaxBodyBytes caps the body read per response. Zero means 5 MiB.
	MaxBodyBytes int64
	// MaxConcurrent limits in-flight requests per client. Zero means unlimited.
	MaxConcurrent int

	limiter     *semaphore.Weighted
	limiterOnce sync.Once

	// timer drives the backoff waits; nil uses a real timer.
	timer backoff.Timer
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{Timeout: c.PerRequestTimeout, CheckRedirect: c.checkRedirectFunc()}
}

func (c *Client) maxAttempts() int {
	if c.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c *Client) headers() http.Header {
	if c.Headers != nil {
		return c.Headers
	}
	return DefaultHeaders()
}

// Fetch issues a GET for rawURL, retrying network errors, timeouts and
// non-2xx statuses (429 and 503 included) with exponential backoff. Invalid
// URLs, non-HTTP schemes, non-HTML bodies and redirect loops fail without
// retry. Any failure is returned as *Error. Cancelling ctx stops the
// remaining attempts.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("invalid url %q", rawURL)}
	}
	if !isHTTPScheme(u) {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)}
	}

	attempts := c.maxAttempts()
	var (
		resp       *Response
		lastErr    error
		lastStatus int
		n          int
	)
	operation := func() error {
		n++
		r, status, err := c.tryOnce(ctx, rawURL)
		lastStatus = status
		if err != nil {
			lastErr = err
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, d time.Duration) {
		log.Warn().Err(err).Str("url", rawURL).Int("attempt", n).Int("max_attempts", attempts).Dur("delay", d).Msg("fetch attempt failed; backing off")
	}

	err = backoff.RetryNotifyWithTimer(operation, c.newBackOff(ctx, attempts), notify, c.timer)
	if err == nil && resp != nil {
		resp.Attempts = n
		return resp, nil
	}
	if lastErr == nil {
		lastErr = err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
		lastErr = fmt.Errorf("%w: %v", ctxErr, lastErr)
	}
	return nil, &Error{URL: rawURL, Attempts: n, Status: lastStatus, Err: lastErr}
}

func (c *Client) newBackOff(ctx context.Context, attempts int) backoff.BackOff {
	p := c.Backoff.withDefaults()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.Max
	eb.RandomizationFactor = p.Jitter
	// The attempt count bounds the loop, not wall-clock time.
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

func (c *Client) tryOnce(ctx context.Context, rawURL string) (*Response, int, error) {
	// Concurrency gate per client instance
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer c.release()

	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PerRequestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	for k, vs := range c.headers() {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, &StatusError{Code: resp.StatusCode}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !isAllowedHTMLContentType(contentType) {
		return nil, resp.StatusCode, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}

	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	var body io.Reader = io.LimitReader(resp.Body, limit)
	if decoded, derr := charset.NewReader(body, contentType); derr == nil {
		body = decoded
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{URL: finalURL, StatusCode: resp.StatusCode, ContentType: contentType, Body: b}, resp.StatusCode, nil
}

// isPermanent reports failures that another attempt cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, ErrUnsupportedContentType) ||
		errors.Is(err, ErrUnsupportedScheme) ||
		errors.Is(err, errTooManyRedirects)
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = defaultRedirectHops
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errTooManyRedirects
		}
		// Only allow http/https during redirects
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return ErrUnsupportedScheme
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func isAllowedHTMLContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	// allow text/html variants and application/xhtml+xml
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}

func (c *Client) acquire(ctx context.Context) error {
	if c.MaxConcurrent <= 0 {
		return nil
	}
	c.limiterOnce.Do(func() {
		c.limiter = semaphore.NewWeighted(int64(c.MaxConcurrent))
	})
	return c.limiter.Acquire(ctx, 1)
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	c.limiter.Release(1)
}
