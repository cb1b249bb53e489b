// Package mastodon is a small client for the Mastodon bookmarks API.
package mastodon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	bookmarksPath = "/api/v1/bookmarks"
	// MaxPageLimit is the largest page the bookmarks endpoint serves.
	MaxPageLimit = 40
	userAgent    = "betulon/1.0 (+https://github.com/seckatie/betulon)"
	maxBodySize  = 8 << 20
)

// ErrUnauthorized is returned when the server rejects the access token.
var ErrUnauthorized = errors.New("mastodon: access token rejected")

// APIError is a non-2xx response that was not retried or ran out of retries.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mastodon API error (status %d): %s", e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	// Server is the instance base URL, e.g. https://mastodon.social.
	Server      string
	AccessToken string
	// PageLimit is sent as limit; <= 0 leaves the server default.
	PageLimit int
	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration
	// RateInterval is the minimum spacing between requests. 0 disables limiting.
	RateInterval time.Duration
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client talks to one Mastodon account.
type Client struct {
	base      *url.URL
	token     string
	pageLimit int
	http      *http.Client
	limiter   *rate.Limiter
	backoffs  []time.Duration
	logger    *log.Logger
}

// NewClient validates opts and returns a ready Client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.Server, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: need http(s)://host", opts.Server)
	}
	if opts.PageLimit > MaxPageLimit {
		opts.PageLimit = MaxPageLimit
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RateInterval > 0 {
		limit = rate.Every(opts.RateInterval)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Client{
		base:      base,
		token:     opts.AccessToken,
		pageLimit: opts.PageLimit,
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, 1),
		backoffs:  []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		logger:    logger.WithPrefix("mastodon"),
	}, nil
}

// PageParams selects a page of bookmarks. Zero fields are omitted.
type PageParams struct {
	// MaxID returns bookmarks older than this id.
	MaxID int64
	// MinID returns bookmarks immediately newer than this id.
	MinID int64
}

// Page is one page of bookmarks plus the cursors from its Link header.
// A zero cursor means the server did not offer that direction.
type Page struct {
	Statuses []Status
	// NextMaxID pages towards older bookmarks.
	NextMaxID int64
	// PrevMinID pages towards newer bookmarks.
	PrevMinID int64
}

// Bookmarks fetches a single page of the authenticated user's bookmarks.
func (c *Client) Bookmarks(ctx context.Context, p PageParams) (*Page, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + bookmarksPath
	q := url.Values{}
	if p.MaxID > 0 {
		q.Set("max_id", strconv.FormatInt(p.MaxID, 10))
	}
	if p.MinID > 0 {
		q.Set("min_id", strconv.FormatInt(p.MinID, 10))
	}
	if c.pageLimit > 0 {
		q.Set("limit", strconv.Itoa(c.pageLimit))
	}
	u.RawQuery = q.Encode()

	body, header, err := c.doWithRetry(ctx, u.String())
	if err != nil {
		return nil, err
	}

	statuses, err := parseStatuses(body)
	if err != nil {
		return nil, err
	}
	next, prev, err := parseLink(header.Get("Link"))
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched bookmarks page",
		"max_id", p.MaxID, "min_id", p.MinID, "count", len(statuses), "next", next, "prev", prev)
	return &Page{Statuses: statuses, NextMaxID: next, PrevMinID: prev}, nil
}

// doWithRetry issues a GET, retrying transport errors, 429 and 5xx with
// backoff. Retry-After is honored on 429, capped at 30s.
func (c *Client) doWithRetry(ctx context.Context, endpoint string) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt <= len(c.backoffs); attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		delay := time.Duration(0)
		if attempt < len(c.backoffs) {
			delay = c.backoffs[attempt]
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			}
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
			resp.Body.Close()

			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("failed to read response: %w", readErr)
			case resp.StatusCode == http.StatusOK:
				return body, resp.Header, nil
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return nil, nil, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(body)}
				if resp.StatusCode == http.StatusTooManyRequests {
					if ra, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && ra > 0 {
						delay = min(time.Duration(ra)*time.Second, 30*time.Second)
					}
				}
			default:
				return nil, nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
			}
		}

		if attempt == len(c.backoffs) {
			break
		}
		c.logger.Warn("retrying request", "attempt", attempt+1, "delay", delay, "err", lastErr)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, nil, fmt.Errorf("mastodon request failed after %d retries: %w", len(c.backoffs), lastErr)
}
