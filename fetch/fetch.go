// Package fetch retrieves source metadata and tile payloads over HTTP.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/IvanBrykalov/tilecache/internal/singleflight"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
)

var (
	// ErrStatus wraps non-2xx responses.
	ErrStatus = errors.New("fetch: unexpected status")
	// ErrURL is returned for URLs that are not absolute http(s) URLs.
	ErrURL = errors.New("fetch: invalid url")
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "tilecache/1.0"
)

// Options configures an HTTPFetcher.
type Options struct {
	Client    *http.Client
	Timeout   time.Duration // per request; ignored when Client is set
	UserAgent string
	Logger    logger.Logger
}

// HTTPFetcher performs GET requests. Concurrent requests for the same
// normalized URL share one round trip.
type HTTPFetcher struct {
	client *http.Client
	ua     string
	log    logger.Logger
	sf     singleflight.Group[string, []byte]
}

// New constructs an HTTPFetcher.
func New(opt Options) *HTTPFetcher {
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.Client == nil {
		opt.Client = &http.Client{Timeout: opt.Timeout}
	}
	if opt.UserAgent == "" {
		opt.UserAgent = DefaultUserAgent
	}
	return &HTTPFetcher{
		client: opt.Client,
		ua:     opt.UserAgent,
		log:    logger.OrNop(opt.Logger),
	}
}

// FetchJSON GETs rawURL and decodes the body into v.
func (f *HTTPFetcher) FetchJSON(ctx context.Context, rawURL string, v any) error {
	body, err := f.FetchBytes(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("fetch: decode %s: %w", rawURL, err)
	}
	return nil
}

// FetchBytes GETs rawURL and returns the body. Canceling ctx abandons the
// request; the round trip itself is canceled once no caller still waits.
func (f *HTTPFetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	body, shared, err := f.sf.Do(ctx, u, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		f.log.Debug("fetch: shared response", "url", u)
	}
	return body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: create request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: get %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.log.Warn("fetch: non-2xx response", "url", u, "status", resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode, URL: u}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", u, err)
	}
	f.log.Debug("fetch: done", "url", u, "size", len(body), "latency", time.Since(start))
	return body, nil
}

// NormalizeURL canonicalizes rawURL so equivalent spellings share a
// request: scheme and host are lowercased and the fragment dropped.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrURL, rawURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// StatusError reports a non-2xx response. It matches ErrStatus.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: status %d from %s", e.Code, e.URL)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// StatusCode extracts the HTTP status from a StatusError, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
