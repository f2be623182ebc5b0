package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"site-ingest/pkg/config"
	"site-ingest/pkg/utils"
)

// PageFetcher retrieves one HTML page, returning the parsed document and the
// final URL after redirects
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*goquery.Document, string, error)
}

// Fetcher downloads pages with retry and backoff and parses them into goquery documents
type Fetcher struct {
	client    *http.Client
	cfg       *config.AppConfig // retry settings, fetch timeout, body limit
	userAgent string
	limiter   *RateLimiter // optional
	delay     time.Duration
	log       *logrus.Entry
}

// Option customises a Fetcher
type Option func(*Fetcher)

// WithUserAgent overrides the User-Agent header from the app config
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithRateLimit enables a minimum per-host delay between requests
func WithRateLimit(limiter *RateLimiter, delay time.Duration) Option {
	return func(f *Fetcher) {
		f.limiter = limiter
		f.delay = delay
	}
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    client,
		cfg:       cfg,
		userAgent: cfg.UserAgent,
		log:       log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs rawURL and parses the body as HTML. It returns the document and the
// final URL after redirects. Failures are wrapped with utils.ErrFetchFailure; a 404
// additionally matches utils.ErrNotFound and other 4xx match utils.ErrClientHTTPError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*goquery.Document, string, error) {
	if f.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.FetchTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w: %s: %w", utils.ErrFetchFailure, utils.ErrRequestCreation, rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	host := req.URL.Hostname()
	if f.limiter != nil {
		f.limiter.ApplyDelay(ctx, host, f.delay)
	}
	resp, err := f.FetchWithRetry(ctx, req)
	if f.limiter != nil {
		f.limiter.UpdateLastRequestTime(host)
	}
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, "", fmt.Errorf("%w: %s: %w", utils.ErrFetchFailure, rawURL, err)
	}
	defer resp.Body.Close()

	limit := f.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w: %s: %w", utils.ErrFetchFailure, utils.ErrResponseBodyRead, rawURL, err)
	}
	// An empty body parses as an empty document
	var body io.Reader = bytes.NewReader(raw)
	if len(raw) > 0 {
		body, err = charset.NewReader(body, resp.Header.Get("Content-Type"))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w: %s: %w", utils.ErrFetchFailure, utils.ErrResponseBodyRead, rawURL, err)
		}
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w: %s: %w", utils.ErrFetchFailure, utils.ErrParsing, rawURL, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return doc, finalURL, nil
}

// FetchWithRetry performs req under ctx, retrying network errors, 5xx and 429 with
// exponential backoff and jitter. On a non-retryable 4xx or other non-2xx status the
// response is returned alongside the error and the caller must close its body.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())

	maxRetries := f.cfg.MaxRetries
	initialRetryDelay := f.cfg.InitialRetryDelay
	maxRetryDelay := f.cfg.MaxRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			finalDelay := backoffDelay(attempt, initialRetryDelay, maxRetryDelay)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			timer := time.NewTimer(finalDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		currentResp, lastErr = f.client.Do(req.WithContext(ctx))

		// Network-level errors (DNS, TCP, TLS)
		if lastErr != nil {
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
				currentResp = nil
			}
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request: %v", lastErr)
				return nil, lastErr
			}
			var urlErr *url.Error
			if errors.As(lastErr, &urlErr) && urlErr.Timeout() {
				reqLog.WithField("attempt", attempt).Warnf("Request timed out: %v", lastErr)
			} else {
				reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			}
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, currentResp.Status)
			drain(currentResp)
			currentResp = nil
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)
			drain(currentResp)
			currentResp = nil
			continue

		case statusCode == http.StatusNotFound:
			resLog.Warn("Not found, not retrying")
			return currentResp, fmt.Errorf("%w: %w: status %d %s", utils.ErrClientHTTPError, utils.ErrNotFound, statusCode, currentResp.Status)

		case statusCode >= 400 && statusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, currentResp.Status)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// backoffDelay returns initial * 2^(attempt-1), capped at max, with +/- 10% jitter
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay <= 0 || (max > 0 && delay > max) {
		delay = max
	}

	var jitter time.Duration
	if window := int64(delay) / 5; window > 0 {
		jitter = time.Duration(rand.Int63n(window)) - (delay / 10)
	}
	if d := delay + jitter; d > 0 {
		return d
	}
	return 0
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
