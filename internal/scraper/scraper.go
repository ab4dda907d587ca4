// Package scraper fetches raw job listings from external sites.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"jobwatch/internal/model"
)

// Scraper fetches raw records for one source. A successful fetch with no
// results returns an empty slice and a nil error.
type Scraper interface {
	Source() model.Source
	Fetch(ctx context.Context, criteria model.SearchCriteria) ([]model.RawRecord, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchError is returned once a source has failed for good.
type FetchError struct {
	Source   model.Source
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (attempts: %d): %v", e.Source, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError reports a non-200 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Options configures the HTTP behaviour shared by all sites.
type Options struct {
	MaxRetries     int
	RequestDelay   time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; jobwatch/1.0)"
	maxBodySize      = 5 * 1024 * 1024
)

// site is one source variant: how to build its query and read its response.
type site interface {
	source() model.Source
	searchURL(criteria model.SearchCriteria) string
	parse(body []byte, criteria model.SearchCriteria) ([]model.RawRecord, error)
}

// HTTPScraper fetches a site over HTTP with pacing, timeouts and retries.
type HTTPScraper struct {
	site    site
	client  HTTPClient
	limiter *rate.Limiter
	policy  Policy
	timeout time.Duration
	ua      string
}

func newHTTPScraper(s site, client HTTPClient, opts Options) *HTTPScraper {
	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &HTTPScraper{
		site:    s,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		policy:  Policy{MaxAttempts: opts.MaxRetries, Delay: opts.RequestDelay},
		timeout: timeout,
		ua:      ua,
	}
}

// Source returns the site this scraper reads.
func (s *HTTPScraper) Source() model.Source {
	return s.site.source()
}

// Fetch queries the site for criteria and parses the result page.
func (s *HTTPScraper) Fetch(ctx context.Context, criteria model.SearchCriteria) ([]model.RawRecord, error) {
	url := s.site.searchURL(criteria)
	body, attempts, err := Retry(ctx, s.policy, func(ctx context.Context) ([]byte, error) {
		return s.get(ctx, url)
	})
	if err != nil {
		return nil, &FetchError{Source: s.Source(), Attempts: attempts, Err: err}
	}

	records, err := s.site.parse(body, criteria)
	if err != nil {
		return nil, &FetchError{Source: s.Source(), Attempts: attempts, Err: fmt.Errorf("parse response: %w", err)}
	}
	if records == nil {
		records = []model.RawRecord{}
	}
	return records, nil
}

// get performs one paced request. Failures worth another attempt are
// wrapped with Transient.
func (s *HTTPScraper) get(ctx context.Context, url string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for pacing: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.ua)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(fmt.Errorf("http get: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		serr := &StatusError{Code: resp.StatusCode}
		if isTransientStatus(resp.StatusCode) {
			return nil, Transient(serr)
		}
		return nil, serr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
