// Command marksold applies the sold-marking policies outside a crawl run:
// the staleness sweep, an authoritative reference file, and a redirect probe
// of every unsold listing.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"listing_harvester/internal/adapters/observability"
	"listing_harvester/internal/adapters/portal"
	redisad "listing_harvester/internal/adapters/redis"
	"listing_harvester/internal/app"
	"listing_harvester/internal/crawl"
	"listing_harvester/internal/domain"
	"listing_harvester/internal/shared"
	"listing_harvester/internal/storage"
	"listing_harvester/internal/storage/csvfile"
)

func main() {
	stale := flag.Bool("stale", false, "mark properties not refreshed within STALENESS_DAYS as sold")
	refs := flag.String("refs", "", "CSV with a ref column; unsold properties missing from it are marked sold")
	probe := flag.Bool("probe", false, "re-request every unsold listing and mark withdrawn ones sold")
	flag.Parse()

	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	observability.Serve(cfg.MetricsAddr)

	if *refs == "" {
		*refs = cfg.Reconcile.RefsFile
	}
	if !*stale && *refs == "" && !*probe {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store")
	}
	defer closeStore()

	var cache domain.Cache
	rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rc.Close()
	if err := rc.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable; cache invalidation disabled")
	} else {
		cache = rc
	}
	rec := app.NewReconciler(store, cache, cfg.StalenessWindow())

	if *stale {
		sold, err := rec.MarkStale(ctx, time.Now())
		if err != nil {
			log.Fatal().Err(err).Msg("stale sweep")
		}
		log.Info().Int("count", len(sold)).Msg("stale sweep done")
	}

	if *refs != "" {
		list, err := csvfile.ReadReferences(*refs)
		if err != nil {
			log.Fatal().Err(err).Str("path", *refs).Msg("read refs")
		}
		absent, err := rec.MarkAbsent(ctx, list)
		if err != nil {
			log.Fatal().Err(err).Msg("mark absent")
		}
		log.Info().Int("authoritative", len(list)).Int("sold", len(absent)).Msg("authoritative refs applied")
	}

	if *probe {
		links, err := store.ListUnsoldLinks(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("list unsold")
		}
		client, err := portal.New(cfg.Portal.UserAgent, cfg.Portal.RequestTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("portal client")
		}
		th := crawl.NewThrottle(crawl.ThrottleConfig{
			StartDelay:        cfg.Crawl.ThrottleStartDelay,
			MinDelay:          cfg.Crawl.ThrottleMinDelay,
			MaxDelay:          cfg.Crawl.ThrottleMaxDelay,
			TargetConcurrency: cfg.Crawl.ThrottleTargetConcurrency,
			MaxInFlight:       cfg.Crawl.MaxInFlight,
		})
		sold, failures := crawl.ProbeSold(ctx, client, th, links, cfg.Portal.ListingMarker, cfg.Crawl.Workers, nil)
		if _, err := rec.MarkSold(context.WithoutCancel(ctx), sold); err != nil {
			log.Fatal().Err(err).Msg("mark probed sold")
		}
		log.Info().Int("probed", len(links)).Int("sold", len(sold)).Int("failures", len(failures)).Msg("probe done")
	}
}
