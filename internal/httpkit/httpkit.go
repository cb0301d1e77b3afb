// Package httpkit builds the HTTP clients used for outbound calls: model
// backends, embeddings, web search and page fetches. Every client shares
// the same dial and TLS timeouts and identifies itself with the korb
// User-Agent.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/korb/internal/buildinfo"
)

// Settings shared by every outbound connection.
var (
	dialer = &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	poolIdle        = 20
	poolIdlePerHost = 5
	poolIdleTimeout = 90 * time.Second
)

type clientConfig struct {
	timeout       time.Duration
	headerTimeout time.Duration
	userAgent     string
	retries       int
	retryDelay    time.Duration
	logger        *slog.Logger
}

// ClientOption adjusts NewClient.
type ClientOption func(*clientConfig)

// WithTimeout sets the overall request timeout. Zero means none, which
// streaming model responses need.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithResponseHeaderTimeout bounds the wait for response headers. A local
// model loading its weights can take longer than the default.
func WithResponseHeaderTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.headerTimeout = d }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithRetry resends a request up to n times when the connection could not
// be opened at all. A body that cannot be rewound disables the retry.
func WithRetry(n int, delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retries = n
		c.retryDelay = delay
	}
}

// WithLogger receives a debug line per retry.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewClient returns a client with a 30 second timeout unless overridden.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := clientConfig{
		timeout:       30 * time.Second,
		headerTimeout: 15 * time.Second,
		userAgent:     buildinfo.UserAgent(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.headerTimeout,
		IdleConnTimeout:       poolIdleTimeout,
		MaxIdleConns:          poolIdle,
		MaxIdleConnsPerHost:   poolIdlePerHost,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Timeout: cfg.timeout,
		Transport: &transport{
			base:    base,
			ua:      cfg.userAgent,
			retries: cfg.retries,
			delay:   cfg.retryDelay,
			logger:  cfg.logger,
		},
	}
}

// transport stamps the User-Agent and retries failed dials.
type transport struct {
	base    http.RoundTripper
	ua      string
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.ua != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}

	resp, err := t.base.RoundTrip(req)
	for attempt := 1; attempt <= t.retries && isConnectError(err); attempt++ {
		next, rerr := t.rewind(req)
		if next == nil {
			if rerr != nil {
				return nil, rerr
			}
			return resp, err
		}
		if t.logger != nil {
			t.logger.Debug("connect failed, retrying",
				"url", req.URL.String(), "attempt", attempt, "error", err)
		}
		if werr := sleepCtx(req, t.delay); werr != nil {
			return nil, werr
		}
		resp, err = t.base.RoundTrip(next)
	}
	return resp, err
}

// rewind returns a copy of req that can be sent again, or nil when its
// body is gone.
func (t *transport) rewind(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, nil
	}
	if req.GetBody == nil {
		return nil, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind body: %w", err)
	}
	next.Body = body
	return next, nil
}

func sleepCtx(req *http.Request, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}

// isConnectError is true for dial failures: nothing reached the server,
// so a resend is safe.
func isConnectError(err error) bool {
	var errno syscall.Errno
	if err == nil || !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.ECONNREFUSED || errno == syscall.EHOSTUNREACH || errno == syscall.ENETUNREACH
}

// DrainAndClose discards up to limit bytes of rc and closes it so the
// connection can be reused.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, rc, limit)
	_ = rc.Close()
}

// ReadErrorBody returns at most limit bytes of an error response for use
// in an error message. rc is closed.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer DrainAndClose(rc, 1024)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
