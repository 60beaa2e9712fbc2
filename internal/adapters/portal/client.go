package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"listing_harvester/internal/adapters/observability"
	"listing_harvester/internal/domain"
)

const maxBody = 8 << 20

// Client performs single GETs against the portal. It never retries; callers
// inspect the returned *domain.FetchError and decide.
type Client struct {
	hc *http.Client
	ua string
}

func New(userAgent string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(userAgent) == "" {
		return nil, fmt.Errorf("portal: user agent is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		hc: &http.Client{Timeout: timeout},
		ua: userAgent,
	}, nil
}

func (c *Client) Fetch(ctx context.Context, url string, hdr http.Header) (domain.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Page{}, &domain.FetchError{Kind: domain.Rejected, Err: err}
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	for k, vs := range hdr {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("portal", domain.NetworkError.String(), 0, time.Since(start))
		return domain.Page{}, &domain.FetchError{Kind: domain.NetworkError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
		if err != nil {
			observability.ObserveExternal("portal", domain.NetworkError.String(), resp.StatusCode, time.Since(start))
			return domain.Page{}, &domain.FetchError{Kind: domain.NetworkError, Err: err}
		}
		if len(body) > maxBody {
			observability.ObserveExternal("portal", domain.Rejected.String(), resp.StatusCode, time.Since(start))
			return domain.Page{}, &domain.FetchError{
				Kind:       domain.Rejected,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("body exceeds %d bytes", maxBody),
			}
		}
		observability.ObserveExternal("portal", "ok", resp.StatusCode, time.Since(start))
		return domain.Page{Body: body, FinalURL: resp.Request.URL.String(), StatusCode: resp.StatusCode}, nil
	}

	// drain a little so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	fe := &domain.FetchError{Kind: classify(resp.StatusCode), StatusCode: resp.StatusCode}
	if fe.Kind == domain.RateLimited || fe.Kind == domain.ServerUnavailable {
		fe.RetryAfter = retryAfter(resp)
	}
	observability.ObserveExternal("portal", fe.Kind.String(), resp.StatusCode, time.Since(start))
	return domain.Page{}, fe
}

func classify(status int) domain.FetchKind {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.RateLimited
	case status >= 500 && status <= 599:
		return domain.ServerUnavailable // includes 520/522/524 from the CDN
	case status == http.StatusNotFound, status == http.StatusGone:
		return domain.NotFound
	}
	return domain.Rejected
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
