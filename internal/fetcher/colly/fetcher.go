// Package collyfetcher implements the resilient source fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/procuredocs/regcrawler/internal/metrics"
)

// Config controls collector and retry behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRetries bounds fetch attempts per logical request.
	MaxRetries int
	// RetryBaseDelay is the unit backoff; attempt n sleeps n times this value.
	RetryBaseDelay time.Duration
	// RequestsPerSecond bounds the total outbound request rate across all
	// callers sharing this fetcher. Zero means unlimited.
	RequestsPerSecond float64
}

// Response is the outcome of a successful fetch.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	// Charset is the character set the body is known to be in after repair,
	// lowercase (e.g. "utf-8"). Empty when undeclared and not sniffable.
	Charset string
}

// Error is the typed failure returned after retries exhaust. It carries the
// last attempt's status and underlying error; callers treat it as "item
// unavailable", not as fatal to a run.
type Error struct {
	URL        string
	Attempts   int
	LastStatus int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts (last status %d): %v",
		e.URL, e.Attempts, e.LastStatus, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher issues outbound GET/POST requests with bounded retries, linear
// backoff, and charset repair.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	c := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(newHTTPTransport())

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       rate.NewLimiter(limit, 1),
		logger:        logger,
	}
}

// Get fetches rawURL with the given query parameters.
func (f *Fetcher) Get(ctx context.Context, rawURL string, params url.Values) (Response, error) {
	target := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		target = rawURL + sep + params.Encode()
	}
	return f.do(ctx, target, func(c *colly.Collector) error {
		return c.Visit(target)
	})
}

// Post submits a form to rawURL.
func (f *Fetcher) Post(ctx context.Context, rawURL string, form map[string]string) (Response, error) {
	return f.do(ctx, rawURL, func(c *colly.Collector) error {
		return c.Post(rawURL, form)
	})
}

// do runs the request with retries. One pacing slot is consumed per logical
// request; retries use their own backoff instead of the shared pacer.
func (f *Fetcher) do(ctx context.Context, target string, visit func(*colly.Collector) error) (Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("pacing wait: %w", err)
	}

	var lastErr error
	lastStatus := 0

	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		resp, err := f.attempt(ctx, target, visit)
		if err == nil {
			metrics.ObserveFetch("success")
			return resp, nil
		}
		lastErr = err
		if resp.StatusCode != 0 {
			lastStatus = resp.StatusCode
		}
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("fetch attempt failed",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", f.cfg.MaxRetries),
			zap.Error(err),
		)
		if attempt < f.cfg.MaxRetries {
			metrics.ObserveFetch("retry")
			if err := sleepCtx(ctx, f.cfg.RetryBaseDelay*time.Duration(attempt)); err != nil {
				break
			}
		}
	}

	metrics.ObserveFetch("exhausted")
	return Response{}, &Error{
		URL:        target,
		Attempts:   f.cfg.MaxRetries,
		LastStatus: lastStatus,
		Err:        lastErr,
	}
}

func (f *Fetcher) attempt(ctx context.Context, target string, visit func(*colly.Collector) error) (Response, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		result   Response
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
		result.Body, result.Charset = repairCharset(result.Body, r.Headers.Get("Content-Type"))
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- visit(collector)
	}()

	select {
	case <-ctx.Done():
		return result, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return result, fmt.Errorf("visit %s: %w", target, err)
		}
		if fetchErr != nil {
			return result, fmt.Errorf("response for %s: %w", target, fetchErr)
		}
		return result, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}
