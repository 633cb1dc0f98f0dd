package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Common errors.
var (
	ErrNotFound            = errors.New("http: resource not found")
	ErrForbidden           = errors.New("http: access forbidden")
	ErrUnauthorized        = errors.New("http: unauthorized")
	ErrServerError         = errors.New("http: server error")
	ErrUnexpectedStatus    = errors.New("http: unexpected status code")
	ErrTimeout             = errors.New("http: timeout")
	ErrRangeMismatch       = errors.New("http: content range does not match request")
	ErrRangeNotSatisfiable = errors.New("http: range not satisfiable")
)

// RangeNotSatisfiableError is returned for a 416 response. Total is the
// resource size announced in Content-Range, or -1 if unknown.
type RangeNotSatisfiableError struct {
	Total int64
}

func (e *RangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("%v (resource size %d)", ErrRangeNotSatisfiable, e.Total)
}

func (e *RangeNotSatisfiableError) Unwrap() error {
	return ErrRangeNotSatisfiable
}

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout bounds connection setup, response headers and each idle
	// period while reading the body. It does not bound the whole transfer.
	// Default: 30s
	Timeout time.Duration

	// RateLimit caps the combined body read rate in bytes per second.
	// Zero disables the cap.
	RateLimit int64

	// UserAgent is sent with every request when non-empty.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
		Timeout:             30 * time.Second,
		UserAgent:           "hfslurp",
	}
}

// Response is an open download stream.
type Response struct {
	// Body streams the payload. Callers must close it.
	Body io.ReadCloser

	// StatusCode is the HTTP status of the response.
	StatusCode int

	// ContentLength is the number of bytes in Body, or -1 if unknown.
	ContentLength int64

	// Partial is true when the body starts at the requested offset.
	// It is false when the server sent the full resource.
	Partial bool

	// Total is the full resource size, or -1 if unknown.
	Total int64
}

// Client is an HTTP client optimized for large file downloads.
type Client struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}

	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		DisableCompression:    true, // We want raw bytes for range requests
	}

	c := &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burstSize(opts.RateLimit))
	}
	return c
}

// GetFrom requests url starting at byte offset. An offset of zero requests
// the whole resource without a Range header.
//
// A 206 response must start exactly at offset. A 200 response to a range
// request is returned with Partial set to false so the caller can restart
// from zero.
func (c *Client) GetFrom(ctx context.Context, url string, offset int64) (*Response, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, err
	}

	out := &Response{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		Total:         -1,
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("%w: %w", ErrRangeMismatch, err)
		}
		if start != offset {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("%w: requested %d, got %d", ErrRangeMismatch, offset, start)
		}
		out.Partial = true
		out.Total = total
	case http.StatusOK:
		out.Partial = offset == 0
		out.Total = resp.ContentLength
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		cancel()
		return nil, &RangeNotSatisfiableError{Total: parseUnsatisfiedRange(resp.Header.Get("Content-Range"))}
	default:
		resp.Body.Close()
		cancel()
		return nil, checkStatusCode(resp.StatusCode)
	}

	out.Body = c.wrapBody(reqCtx, cancel, resp.Body)
	return out, nil
}

func (c *Client) wrapBody(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser) io.ReadCloser {
	b := &idleTimeoutBody{
		body:    body,
		timeout: c.opts.Timeout,
		cancel:  cancel,
	}
	b.timer = time.AfterFunc(c.opts.Timeout, func() {
		b.expired.Store(true)
		cancel()
	})
	if c.limiter == nil {
		return b
	}
	return &limitedBody{idleTimeoutBody: b, ctx: ctx, limiter: c.limiter}
}

// idleTimeoutBody cancels the request when no read completes within timeout.
type idleTimeoutBody struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	expired atomic.Bool
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && err != io.EOF && b.expired.Load() {
		return n, fmt.Errorf("%w: no data for %s: %w", ErrTimeout, b.timeout, err)
	}
	b.timer.Reset(b.timeout)
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.body.Close()
	b.cancel()
	return err
}

// limitedBody applies a shared token bucket to body reads.
type limitedBody struct {
	*idleTimeoutBody
	ctx     context.Context
	limiter *rate.Limiter
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if burst := b.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := b.idleTimeoutBody.Read(p)
	if n > 0 {
		b.timer.Stop()
		if werr := b.limiter.WaitN(b.ctx, n); werr != nil && err == nil {
			err = werr
		}
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func burstSize(limit int64) int {
	const minBurst = 32 * 1024
	if limit < minBurst {
		return minBurst
	}
	if limit > 1<<30 {
		return 1 << 30
	}
	return int(limit)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: %d %s", ErrServerError, code, http.StatusText(code))
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}

// parseUnsatisfiedRange parses "bytes */total" as sent with a 416 response.
func parseUnsatisfiedRange(header string) int64 {
	rest, ok := strings.CutPrefix(header, "bytes */")
	if !ok {
		return -1
	}
	total, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return -1
	}
	return total
}
