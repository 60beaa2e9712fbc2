package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
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
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	observability.Serve(cfg.MetricsAddr)

	// store and cache outlive a cancelled crawl so partial results are kept
	bg := context.Background()
	crawlCtx, stop := signal.NotifyContext(bg, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := storage.Open(bg, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store")
	}
	defer closeStore()

	var cache domain.Cache
	rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rc.Close()
	if err := rc.Ping(bg); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable; cache invalidation disabled")
	} else {
		cache = rc
	}

	client, err := portal.New(cfg.Portal.UserAgent, cfg.Portal.RequestTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize portal client")
	}

	seen := crawl.NewSeenReferenceSet()
	if cfg.Crawl.Incremental {
		refs, err := store.ListReferences(bg)
		if err != nil {
			log.Fatal().Err(err).Msg("preload references")
		}
		seen.Preload(refs)
		log.Info().Int("refs", len(refs)).Msg("preloaded stored references")
	}

	th := crawl.NewThrottle(crawl.ThrottleConfig{
		StartDelay:        cfg.Crawl.ThrottleStartDelay,
		MinDelay:          cfg.Crawl.ThrottleMinDelay,
		MaxDelay:          cfg.Crawl.ThrottleMaxDelay,
		TargetConcurrency: cfg.Crawl.ThrottleTargetConcurrency,
		MaxInFlight:       cfg.Crawl.MaxInFlight,
	})
	startURL := strings.Replace(cfg.Portal.SearchURL, shared.PagePlaceholder, strconv.Itoa(1), 1)
	sched, err := crawl.NewScheduler(client, th, seen, crawl.Config{
		StartURL: startURL,
		MaxPages: cfg.Crawl.MaxPages,
		Workers:  cfg.Crawl.Workers,
		Retry: crawl.RetryPolicy{
			MaxRetries:    cfg.Crawl.MaxRetries,
			BaseDelay:     cfg.Crawl.RetryBaseDelay,
			MaxDelay:      cfg.Crawl.RetryMaxDelay,
			Exponential:   cfg.Crawl.RetryExponential,
			RetryNetwork:  cfg.Crawl.RetryNetworkErrors,
			JitterPercent: 10,
		},
		ListingMarker: cfg.Portal.ListingMarker,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}

	log.Info().
		Str("start", startURL).
		Int("max_pages", cfg.Crawl.MaxPages).
		Int("workers", cfg.Crawl.Workers).
		Bool("incremental", cfg.Crawl.Incremental).
		Msg("harvest starting")

	res, err := sched.Run(crawlCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("crawl")
	}

	if path := cfg.Reconcile.RawExportPath; path != "" {
		if err := exportRaw(path, res.Records); err != nil {
			log.Error().Err(err).Str("path", path).Msg("raw export failed")
		}
	}

	rec := app.NewReconciler(store, cache, cfg.StalenessWindow())
	now := time.Now()
	if n, err := rec.Touch(bg, res.Touched, now); err != nil {
		log.Error().Err(err).Msg("refresh of skipped listings failed")
	} else if n > 0 {
		log.Info().Int64("count", n).Msg("refreshed skipped listings")
	}

	rep, err := rec.Reconcile(bg, res.Records, now)
	if err != nil {
		log.Fatal().Err(err).Msg("reconcile")
	}

	if path := cfg.Reconcile.RefsFile; path != "" {
		refs, err := csvfile.ReadReferences(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("read authoritative refs")
		} else if absent, err := rec.MarkAbsent(bg, refs); err != nil {
			log.Error().Err(err).Msg("mark absent")
		} else {
			log.Info().Int("count", len(absent)).Msg("absent listings marked sold")
		}
	}

	log.Info().
		Str("end", string(res.EndReason)).
		Int("failures", len(res.Failures)).
		Int("unreferenced", len(res.Unreferenced())).
		Int("inserted", rep.Inserted).
		Int("price_changed", rep.PriceChanged).
		Int("sold", len(rep.MarkedSold)).
		Msg("harvest completed")
}

func exportRaw(path string, recs []domain.ListingRecord) error {
	w, err := csvfile.Open(path)
	if err != nil {
		return err
	}
	if err := w.WriteRecords(recs); err != nil {
		_ = w.Close()
		return err
	}
	log.Info().Str("path", path).Int("records", len(recs)).Msg("raw records exported")
	return w.Close()
}
