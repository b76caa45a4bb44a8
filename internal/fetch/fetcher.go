// Package fetch implements rate-limited, retrying HTTP page fetches.
//
// The fetcher owns two pieces of shared state: a per-host token bucket
// that enforces a minimum spacing between requests to the same host,
// and a retry policy applied to transient failures only. Permanent
// failures (4xx) surface immediately and are never retried.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// Transient failures (timeouts, 5xx, connection resets) are retried.
	Transient Kind = iota

	// Permanent failures (4xx, malformed URLs) are not retried.
	Permanent
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// Error is a classified fetch failure.
type Error struct {
	Kind   Kind
	URL    string
	Status int // last HTTP status, 0 if the request never completed
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent fetch failure.
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == Permanent
}

// Page is a successfully fetched page, owned by the caller.
type Page struct {
	URL       string
	Body      []byte
	Status    int
	FetchedAt time.Time
}

// RetryPolicy configures retry behavior for transient failures.
// It is injected into the Fetcher so the policy is testable on its own.
type RetryPolicy struct {
	MaxRetries      int           // retries after the first attempt
	InitialInterval time.Duration // first backoff interval
	MaxInterval     time.Duration // backoff ceiling
}

// DefaultRetryPolicy returns sensible defaults for web crawling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     15 * time.Second,
	}
}

// hostThrottle keys one rate.Limiter per host. Burst 1 with a refill
// interval equal to the configured delay yields the required minimum
// spacing between requests to a single host.
type hostThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func newHostThrottle(interval time.Duration) *hostThrottle {
	return &hostThrottle{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// wait blocks until the host's limiter grants a token or ctx is done.
func (t *hostThrottle) wait(ctx context.Context, host string) error {
	if t.interval <= 0 {
		return nil
	}

	t.mu.Lock()
	lim, ok := t.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[host] = lim
	}
	t.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("host throttle wait: %w", err)
	}
	return nil
}

// userAgent mirrors a desktop browser; several target sites refuse the
// default Go client string.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// defaultMaxBodySize caps response bodies at 10MB.
const defaultMaxBodySize = 10 * 1024 * 1024

// Config configures a Fetcher.
type Config struct {
	Timeout     time.Duration // per-request timeout (required, > 0)
	HostDelay   time.Duration // minimum spacing between requests per host
	Policy      RetryPolicy
	MaxBodySize int64 // 0 = 10MB default
	Logger      *slog.Logger
}

// Fetcher performs rate-limited, retrying HTTP GETs.
// It is safe for concurrent use by multiple crawl workers; the host
// throttle is shared across all of them.
type Fetcher struct {
	client      *http.Client
	policy      RetryPolicy
	throttle    *hostThrottle
	maxBodySize int64
	logger      *slog.Logger
}

// New creates a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("fetch: timeout must be positive, got %v", cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}

	return &Fetcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		policy:      cfg.Policy,
		throttle:    newHostThrottle(cfg.HostDelay),
		maxBodySize: maxBody,
		logger:      cfg.Logger,
	}, nil
}

// Fetch issues an HTTP GET for rawURL, retrying transient failures with
// exponential backoff. Each attempt, including retries, waits on the
// per-host throttle first.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &Error{Kind: Permanent, URL: rawURL, Err: fmt.Errorf("not an absolute http(s) URL")}
	}

	var lastErr *Error
	delay := f.policy.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= f.policy.MaxRetries; attempt++ {
		if err := f.throttle.wait(ctx, u.Host); err != nil {
			return nil, err
		}

		page, ferr := f.attempt(ctx, rawURL)
		if ferr == nil {
			f.logger.Debug("fetched", "url", rawURL, "attempts", attempt+1, "elapsed", time.Since(start))
			return page, nil
		}

		if ferr.Kind == Permanent {
			return nil, ferr
		}
		lastErr = ferr

		if attempt == f.policy.MaxRetries {
			break
		}

		f.logger.Debug("retrying fetch",
			"url", rawURL,
			"attempt", attempt+1,
			"delay", delay,
			"error", ferr,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, f.policy.MaxInterval)
		}
	}

	f.logger.Warn("fetch failed after retries",
		"url", rawURL, "retries", f.policy.MaxRetries, "error", lastErr)
	return nil, lastErr
}

// attempt performs a single GET and classifies the outcome.
func (f *Fetcher) attempt(ctx context.Context, rawURL string) (*Page, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: Permanent, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		// Caller cancellation is not a fetch failure to retry.
		if ctx.Err() != nil {
			return nil, &Error{Kind: Permanent, URL: rawURL, Err: ctx.Err()}
		}
		// Timeouts, resets, DNS hiccups: all retried.
		return nil, &Error{Kind: Transient, URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to read
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: Transient, URL: rawURL, Status: resp.StatusCode,
			Err: fmt.Errorf("server error")}
	default:
		return nil, &Error{Kind: Permanent, URL: rawURL, Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected status")}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, &Error{Kind: Transient, URL: rawURL, Status: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, &Error{Kind: Permanent, URL: rawURL, Status: resp.StatusCode,
			Err: fmt.Errorf("response exceeds %d bytes", f.maxBodySize)}
	}

	return &Page{
		URL:       rawURL,
		Body:      body,
		Status:    resp.StatusCode,
		FetchedAt: time.Now(),
	}, nil
}
