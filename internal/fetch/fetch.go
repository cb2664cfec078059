package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"github.com/maltedev/bluray-scraper/internal/ratelimit"
)

var ErrInvalidURL = errors.New("invalid request URL")

// Request describes one GET request.
type Request struct {
	URL     string
	Headers map[string]string
	Cookies []*http.Cookie
	// UseProxy routes the request through the configured upstream proxy.
	UseProxy bool
}

// Response carries the status and body of a completed request. FinalURL is
// the URL after redirects were followed.
type Response struct {
	StatusCode int
	Body       []byte
	FinalURL   string
	Header     http.Header
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

type Options struct {
	UserAgent        string
	Timeout          time.Duration
	ProxyURL         string
	ProxyInsecure    bool
	CloudflareBypass bool
	MaxRedirects     int
	Limiter          *ratelimit.HostLimiter
}

// Client is a Fetcher backed by resty. Proxied requests use a second client
// so the direct transport is never routed through the proxy.
type Client struct {
	direct  *resty.Client
	proxied *resty.Client
	limiter *ratelimit.HostLimiter
	logger  *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = 10
	}

	c := &Client{
		direct:  newResty(opts, "", logger),
		limiter: opts.Limiter,
		logger:  logger.With("component", "fetch"),
	}
	if opts.ProxyURL != "" {
		c.proxied = newResty(opts, opts.ProxyURL, logger)
	}
	return c
}

func newResty(opts Options, proxyURL string, logger *slog.Logger) *resty.Client {
	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects))
	client.SetLogger(restyLogger{logger: logger.With("component", "resty")})
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	if proxyURL != "" {
		client.SetProxy(proxyURL)
		if opts.ProxyInsecure {
			client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
		}
	}

	// must run after proxy and TLS setup, both need the plain *http.Transport
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	return client
}

func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, req.URL)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, u.Host); err != nil {
			return nil, err
		}
	}

	client := c.direct
	if req.UseProxy && c.proxied != nil {
		client = c.proxied
	}

	r := client.R().SetContext(ctx)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if len(req.Cookies) > 0 {
		r.SetCookies(req.Cookies)
	}

	start := time.Now()
	resp, err := r.Get(req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL, err)
	}

	status := resp.StatusCode()
	c.record(u.Host, status)

	finalURL := req.URL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}

	c.logger.Debug("fetched",
		"url", req.URL,
		"status", status,
		"proxy", req.UseProxy && c.proxied != nil,
		"duration", time.Since(start))

	return &Response{
		StatusCode: status,
		Body:       resp.Body(),
		FinalURL:   finalURL,
		Header:     resp.Header(),
	}, nil
}

func (c *Client) record(host string, status int) {
	if c.limiter == nil {
		return
	}
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		c.limiter.RecordThrottled(host)
	default:
		c.limiter.RecordSuccess(host)
	}
}

// restyLogger routes resty's internal messages into slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
