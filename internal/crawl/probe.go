package crawl

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"listing_harvester/internal/domain"
)

// ProbeSold re-requests each link's detail page. A listing is reported sold
// when the portal answers 404/410, or redirects somewhere else whose URL
// contains listingMarker (the portal bounces withdrawn listings back to the
// results page). Anything else, including transient failures, is left alone.
func ProbeSold(ctx context.Context, f domain.PageFetcher, th *Throttle, links []domain.PropertyLink, listingMarker string, workers int, hdr http.Header) ([]string, []Failure) {
	if workers <= 0 {
		workers = 1
	}
	if th == nil {
		th = NewThrottle(ThrottleConfig{MaxInFlight: workers})
	}

	var (
		mu       sync.Mutex
		sold     []string
		failures []Failure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, l := range links {
		if gctx.Err() != nil {
			break
		}
		l := l
		g.Go(func() error {
			if err := th.Acquire(gctx); err != nil {
				return nil
			}
			start := time.Now()
			page, err := f.Fetch(context.WithoutCancel(gctx), l.DetailsURL, hdr)
			th.Release()
			th.Observe(time.Since(start), statusOf(page, err))

			gone, err := redirectedAway(l.DetailsURL, page, err, listingMarker)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, Failure{Task: Task{Kind: FetchDetail, URL: l.DetailsURL}, Err: err})
				return nil
			}
			if gone {
				log.Debug().Str("ref", l.Reference).Str("final", page.FinalURL).Msg("listing withdrawn")
				sold = append(sold, l.Reference)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Int("probed", len(links)).Int("sold", len(sold)).Int("failures", len(failures)).Msg("sold probe finished")
	return sold, failures
}

func redirectedAway(orig string, page domain.Page, err error, marker string) (bool, error) {
	if err != nil {
		var fe *domain.FetchError
		if errors.As(err, &fe) && fe.Kind == domain.NotFound {
			return true, nil
		}
		return false, err
	}
	return landedOnListing(orig, page.FinalURL, marker), nil
}

// landedOnListing reports whether a request for orig was redirected to a
// results page, recognized by marker in the final URL.
func landedOnListing(orig, final, marker string) bool {
	if marker == "" || final == "" || final == orig {
		return false
	}
	return strings.Contains(final, marker)
}
