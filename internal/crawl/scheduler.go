package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"listing_harvester/internal/adapters/observability"
	"listing_harvester/internal/adapters/portal/extract"
	"listing_harvester/internal/domain"
)

type Config struct {
	StartURL string
	MaxPages int
	Workers  int
	Retry    RetryPolicy
	Headers  http.Header
	// ListingMarker is a path fragment of the results pages. A detail
	// request that ends up on such a page is a withdrawn listing.
	ListingMarker string
}

type EndReason string

const (
	EndExhausted     EndReason = "exhausted"      // empty last page, no next link
	EndNoNextPage    EndReason = "no_next_page"   // cards present but no next link
	EndMaxPages      EndReason = "max_pages"
	EndListingFailed EndReason = "listing_failed" // a results page could not be fetched
	EndCancelled     EndReason = "cancelled"
)

type Failure struct {
	Task Task
	Err  error
}

type Result struct {
	// Records holds every completed record, including ones without a
	// reference; the reconciler drops those.
	Records []domain.ListingRecord
	// Touched lists preloaded references met again this run.
	Touched    []string
	Failures   []Failure
	Pages      int
	Details    int
	Duplicates int
	EndReason  EndReason
}

func (r Result) Unreferenced() []domain.ListingRecord {
	var out []domain.ListingRecord
	for _, rec := range r.Records {
		if !rec.HasReference() {
			out = append(out, rec)
		}
	}
	return out
}

type Scheduler struct {
	fetcher  domain.PageFetcher
	throttle *Throttle
	seen     *SeenReferenceSet
	cfg      Config

	// trace, when set, observes every task state transition.
	trace func(Task, TaskState)
}

func NewScheduler(f domain.PageFetcher, th *Throttle, seen *SeenReferenceSet, cfg Config) (*Scheduler, error) {
	if cfg.StartURL == "" {
		return nil, errors.New("crawl: start url is required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if seen == nil {
		seen = NewSeenReferenceSet()
	}
	if th == nil {
		th = NewThrottle(ThrottleConfig{})
	}
	return &Scheduler{fetcher: f, throttle: th, seen: seen, cfg: cfg}, nil
}

// Trace registers fn to observe task state transitions. It is called from
// worker goroutines and must be safe for concurrent use.
func (s *Scheduler) Trace(fn func(Task, TaskState)) { s.trace = fn }

func (s *Scheduler) mark(t Task, st TaskState) {
	if s.trace != nil {
		s.trace(t, st)
	}
}

type outcome struct {
	task   Task
	state  TaskState // Parsed, Retrying or Failed
	next   Task      // set when state == Retrying
	err    error
	search *extract.SearchPage
	record *domain.ListingRecord
}

// Run crawls from StartURL until pagination ends, MaxPages is reached or ctx
// is cancelled. Cancellation stops dispatch; fetches already in flight finish
// and their results are kept.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	tasks := make(chan Task)
	outcomes := make(chan outcome)

	var g errgroup.Group
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for t := range tasks {
				outcomes <- s.execute(ctx, t)
			}
			return nil
		})
	}

	var (
		res      Result
		queue    = []Task{{Kind: FetchListing, URL: s.cfg.StartURL, Page: 1, MaxRetries: s.cfg.Retry.MaxRetries}}
		urls     = urlSet{}
		touched  = map[string]struct{}{}
		inflight int
		stopping bool
		done     = ctx.Done()
	)
	s.mark(queue[0], Pending)

	for {
		if inflight == 0 && (stopping || len(queue) == 0) {
			break
		}
		var send chan<- Task
		var head Task
		if !stopping && len(queue) > 0 {
			send, head = tasks, queue[0]
		}

		select {
		case send <- head:
			queue = queue[1:]
			inflight++

		case o := <-outcomes:
			inflight--
			switch o.state {
			case Retrying:
				// retries jump the queue so a page is not starved behind its own details
				queue = append([]Task{o.next}, queue...)
			case Failed:
				res.Failures = append(res.Failures, Failure{Task: o.task, Err: o.err})
				if o.task.Kind == FetchListing && res.EndReason == "" {
					res.EndReason = EndListingFailed
				}
			case Parsed:
				if o.search != nil {
					res.Pages++
					queue = append(queue, s.onSearch(o.task, *o.search, urls, touched, &res)...)
				}
				if o.record != nil {
					res.Details++
					s.onDetail(o.task, *o.record, touched, &res)
				}
			}

		case <-done:
			log.Info().Int("inflight", inflight).Int("pending", len(queue)).Msg("crawl cancelled; draining in-flight fetches")
			stopping, done = true, nil
			res.EndReason = EndCancelled
		}
	}
	close(tasks)
	_ = g.Wait()
	if ctx.Err() != nil {
		res.EndReason = EndCancelled
	}

	for ref := range touched {
		res.Touched = append(res.Touched, ref)
	}
	if res.EndReason == "" {
		res.EndReason = EndExhausted
	}
	log.Info().
		Int("pages", res.Pages).
		Int("details", res.Details).
		Int("records", len(res.Records)).
		Int("touched", len(res.Touched)).
		Int("failures", len(res.Failures)).
		Int("duplicates", res.Duplicates).
		Str("end", string(res.EndReason)).
		Msg("crawl finished")
	return res, nil
}

func (s *Scheduler) onSearch(t Task, page extract.SearchPage, urls urlSet, touched map[string]struct{}, res *Result) []Task {
	for _, err := range page.CardErrors {
		log.Warn().Err(err).Str("url", t.URL).Msg("skipping unreadable card")
	}

	var out []Task
	for _, card := range page.Cards {
		if card.Reference != "" && s.seen.Contains(card.Reference) {
			if s.seen.Preloaded(card.Reference) {
				touched[card.Reference] = struct{}{}
			}
			res.Duplicates++
			continue
		}
		if !urls.add(card.DetailsURL) {
			res.Duplicates++
			continue
		}
		if card.Reference != "" {
			s.seen.Add(card.Reference)
		}
		d := Task{Kind: FetchDetail, URL: card.DetailsURL, MaxRetries: s.cfg.Retry.MaxRetries, Partial: card}
		s.mark(d, Pending)
		out = append(out, d)
	}

	switch {
	case page.NextPage == "" && page.Empty():
		res.EndReason = EndExhausted
	case page.NextPage == "":
		res.EndReason = EndNoNextPage
	case t.Page >= s.cfg.MaxPages:
		res.EndReason = EndMaxPages
	default:
		n := Task{Kind: FetchListing, URL: page.NextPage, Page: t.Page + 1, MaxRetries: s.cfg.Retry.MaxRetries}
		s.mark(n, Pending)
		out = append(out, n)
	}
	return out
}

func (s *Scheduler) onDetail(t Task, rec domain.ListingRecord, touched map[string]struct{}, res *Result) {
	if !rec.HasReference() {
		log.Debug().Str("url", rec.DetailsURL).Msg("record has no reference; kept for export only")
		res.Records = append(res.Records, rec)
		return
	}
	// a reference read off the card was claimed when the task was queued
	claimed := t.Partial.Reference == rec.Reference
	if !claimed && !s.seen.Add(rec.Reference) {
		if s.seen.Preloaded(rec.Reference) {
			touched[rec.Reference] = struct{}{}
		}
		res.Duplicates++
		log.Debug().Str("ref", rec.Reference).Msg("reference already seen")
		return
	}
	res.Records = append(res.Records, rec)
}

// execute runs one task on a worker goroutine.
func (s *Scheduler) execute(ctx context.Context, t Task) outcome {
	if err := s.throttle.Acquire(ctx); err != nil {
		s.mark(t, Failed)
		return outcome{task: t, state: Failed, err: err}
	}
	s.mark(t, Fetching)
	start := time.Now()
	// the fetch itself is never cut short; cancellation acts between tasks
	page, err := s.fetcher.Fetch(context.WithoutCancel(ctx), t.URL, s.cfg.Headers)
	s.throttle.Release()
	s.throttle.Observe(time.Since(start), statusOf(page, err))

	if err != nil {
		return s.onFetchError(ctx, t, err)
	}

	switch t.Kind {
	case FetchListing:
		sp, err := extract.ParseSearchPage(page.Body, page.FinalURL)
		if err == nil && sp.Empty() && sp.NextPage != "" {
			err = fmt.Errorf("%w: no cards but a next page link", domain.ErrParseMismatch)
		}
		if err != nil {
			if t.CanRetry() {
				return s.retry(ctx, t, "parse_mismatch", 0, err)
			}
			log.Warn().Err(err).Str("url", t.URL).Int("attempt", t.Attempt).Msg("results page still unreadable; following next link")
			if sp.NextPage == "" {
				s.mark(t, Failed)
				observability.ObserveTask(t.Kind.String(), "failed")
				return outcome{task: t, state: Failed, err: err}
			}
		}
		s.mark(t, Parsed)
		observability.ObserveTask(t.Kind.String(), "parsed")
		return outcome{task: t, state: Parsed, search: &sp}

	default:
		if landedOnListing(t.URL, page.FinalURL, s.cfg.ListingMarker) {
			return s.withdrawn(t, page.FinalURL)
		}
		rec, err := extract.ParseDetailPage(page.Body, t.Partial)
		if errors.Is(err, domain.ErrWithdrawn) {
			return s.withdrawn(t, page.FinalURL)
		}
		if err != nil {
			log.Warn().Err(err).Str("url", t.URL).Msg("detail page not recognized")
		}
		s.mark(t, Parsed)
		observability.ObserveTask(t.Kind.String(), "parsed")
		return outcome{task: t, state: Parsed, record: &rec}
	}
}

// withdrawn drops a detail task whose page turned out to be a results page;
// nothing on it belongs to the queued listing.
func (s *Scheduler) withdrawn(t Task, final string) outcome {
	log.Warn().Str("url", t.URL).Str("final", final).Str("ref", t.Partial.Reference).Msg("detail page withdrawn; dropping")
	s.mark(t, Failed)
	observability.ObserveTask(t.Kind.String(), "withdrawn")
	return outcome{task: t, state: Failed, err: fmt.Errorf("%s: %w", t.URL, domain.ErrWithdrawn)}
}

func (s *Scheduler) onFetchError(ctx context.Context, t Task, err error) outcome {
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		fe = &domain.FetchError{Kind: domain.NetworkError, Err: err}
	}
	retryable := fe.Kind == domain.RateLimited ||
		fe.Kind == domain.ServerUnavailable ||
		(fe.Kind == domain.NetworkError && s.cfg.Retry.RetryNetwork)

	if retryable && t.CanRetry() {
		return s.retry(ctx, t, fe.Kind.String(), fe.RetryAfter, err)
	}

	ev := log.Warn()
	if retryable || fe.Kind == domain.NetworkError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("kind", t.Kind.String()).
		Str("url", t.URL).
		Int("attempt", t.Attempt).
		Bool("retries_exhausted", retryable).
		Msg("task failed")
	s.mark(t, Failed)
	observability.ObserveTask(t.Kind.String(), "failed")
	return outcome{task: t, state: Failed, err: err}
}

func (s *Scheduler) retry(ctx context.Context, t Task, reason string, hint time.Duration, cause error) outcome {
	wait := s.cfg.Retry.wait(t.Attempt, hint)
	st := Retrying
	var ev *zerolog.Event
	if reason == domain.RateLimited.String() {
		st = RateLimitedWait
		ev = log.Warn()
	} else {
		ev = log.Info()
	}
	ev.Err(cause).
		Str("kind", t.Kind.String()).
		Str("url", t.URL).
		Int("attempt", t.Attempt+1).
		Int("max", t.MaxRetries).
		Dur("wait", wait).
		Msg("retrying")
	s.mark(t, st)
	observability.ObserveRetry(t.Kind.String(), reason)

	if !sleepCtx(ctx, wait) {
		s.mark(t, Failed)
		return outcome{task: t, state: Failed, err: fmt.Errorf("retry wait interrupted: %w", context.Cause(ctx))}
	}
	next := t.retry()
	s.mark(next, Pending)
	return outcome{task: t, state: Retrying, next: next}
}

func statusOf(p domain.Page, err error) int {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return p.StatusCode
}
