package crawl

import "listing_harvester/internal/domain"

type TaskKind int

const (
	FetchListing TaskKind = iota + 1
	FetchDetail
)

func (k TaskKind) String() string {
	if k == FetchListing {
		return "listing"
	}
	return "detail"
}

type TaskState int

const (
	Pending TaskState = iota
	Fetching
	Parsed
	Retrying
	RateLimitedWait
	Failed
)

func (s TaskState) String() string {
	return [...]string{"pending", "fetching", "parsed", "retrying", "rate_limited_wait", "failed"}[s]
}

// Task is one unit of crawl work. It is passed by value; a retry is a copy
// with Attempt incremented, so no task state is shared between goroutines.
type Task struct {
	Kind       TaskKind
	URL        string
	Page       int // 1-based, listing tasks only
	Attempt    int // retries already spent
	MaxRetries int
	Partial    domain.ListingRecord // detail tasks only
}

func (t Task) CanRetry() bool { return t.Attempt < t.MaxRetries }

func (t Task) retry() Task {
	t.Attempt++
	return t
}
