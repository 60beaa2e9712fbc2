package domain

import (
	"fmt"
	"time"
)

// Page is a successfully fetched document.
type Page struct {
	Body       []byte
	FinalURL   string // after redirects
	StatusCode int
}

type FetchKind int

const (
	RateLimited FetchKind = iota + 1
	ServerUnavailable
	NotFound
	NetworkError
	Rejected // any other non-2xx; never retried
)

func (k FetchKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case ServerUnavailable:
		return "server_unavailable"
	case NotFound:
		return "not_found"
	case NetworkError:
		return "network_error"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// FetchError is the typed failure returned by a PageFetcher.
type FetchError struct {
	Kind       FetchKind
	StatusCode int           // 0 for NetworkError
	RetryAfter time.Duration // server hint, 0 if absent
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (status %d)", e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
	}
	return "fetch " + e.Kind.String()
}

func (e *FetchError) Unwrap() error { return e.Err }
