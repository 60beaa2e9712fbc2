package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"listing_harvester/internal/adapters/observability"
	"listing_harvester/internal/domain"
)

type SkippedRecord struct {
	Reference  string `json:"reference"`
	DetailsURL string `json:"details_url"`
	Reason     string `json:"reason"`
}

type ReconcileReport struct {
	Inserted     int             `json:"inserted"`
	PriceChanged int             `json:"price_changed"`
	Refreshed    int             `json:"refreshed"`
	Unreferenced int             `json:"unreferenced"`
	Duplicates   int             `json:"duplicates"`
	Skipped      []SkippedRecord `json:"skipped,omitempty"`
	MarkedSold   []string        `json:"marked_sold,omitempty"`
}

// Reconciler merges scraped batches into the property store. It assumes it
// is the only writer for the references it handles.
type Reconciler struct {
	store     domain.PropertyStore
	cache     domain.Cache
	staleness time.Duration
}

func NewReconciler(s domain.PropertyStore, c domain.Cache, staleness time.Duration) *Reconciler {
	if staleness <= 0 {
		staleness = 180 * 24 * time.Hour
	}
	return &Reconciler{store: s, cache: c, staleness: staleness}
}

// Reconcile upserts batch by reference, then flips properties not seen for
// longer than the staleness window to sold.
func (r *Reconciler) Reconcile(ctx context.Context, batch []domain.ListingRecord, now time.Time) (ReconcileReport, error) {
	now = dbTime(now)
	var rep ReconcileReport
	var fresh []string
	inBatch := make(map[string]struct{}, len(batch))

	for _, rec := range batch {
		ref := NormalizeReference(rec.Reference)
		if ref == "" {
			rep.Unreferenced++
			continue
		}
		if _, dup := inBatch[ref]; dup {
			rep.Duplicates++
			continue
		}
		inBatch[ref] = struct{}{}
		rec.Reference = ref

		outcome, err := r.apply(ctx, rec, now)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			log.Warn().Err(err).Str("ref", ref).Str("url", rec.DetailsURL).Msg("record skipped")
			rep.Skipped = append(rep.Skipped, SkippedRecord{Reference: ref, DetailsURL: rec.DetailsURL, Reason: err.Error()})
			continue
		}
		switch outcome {
		case inserted:
			rep.Inserted++
		case repriced:
			rep.PriceChanged++
		case unchanged:
			fresh = append(fresh, ref)
		}
	}

	if len(fresh) > 0 {
		n, err := r.store.Touch(ctx, fresh, now)
		if err != nil {
			return rep, fmt.Errorf("refresh %d properties: %w", len(fresh), err)
		}
		rep.Refreshed = int(n)
		r.invalidate(ctx, fresh...)
	}

	sold, err := r.MarkStale(ctx, now)
	if err != nil {
		return rep, err
	}
	rep.MarkedSold = sold

	observability.ObserveReconcile("inserted", rep.Inserted)
	observability.ObserveReconcile("price_changed", rep.PriceChanged)
	observability.ObserveReconcile("refreshed", rep.Refreshed)
	observability.ObserveReconcile("unreferenced", rep.Unreferenced)
	observability.ObserveReconcile("skipped", len(rep.Skipped))
	log.Info().
		Int("inserted", rep.Inserted).
		Int("price_changed", rep.PriceChanged).
		Int("refreshed", rep.Refreshed).
		Int("unreferenced", rep.Unreferenced).
		Int("skipped", len(rep.Skipped)).
		Int("sold", len(rep.MarkedSold)).
		Msg("reconcile done")
	return rep, nil
}

type applyOutcome int

const (
	inserted applyOutcome = iota + 1
	repriced
	unchanged
)

func (r *Reconciler) apply(ctx context.Context, rec domain.ListingRecord, now time.Time) (applyOutcome, error) {
	next, err := mapProperty(rec)
	if err != nil {
		return 0, err
	}

	cur, err := r.store.GetProperty(ctx, next.Reference)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		next.DateAdded, next.LastUpdated, next.Sold = now, now, false
		if _, err := r.store.InsertProperty(ctx, next); err != nil {
			return 0, fmt.Errorf("insert: %w", err)
		}
		r.invalidate(ctx, next.Reference)
		return inserted, nil
	case err != nil:
		return 0, fmt.Errorf("lookup: %w", err)
	}

	if cur.Price == next.Price {
		return unchanged, nil
	}

	// the old price was last known good at the previous refresh
	observedAt := cur.LastUpdated
	if !observedAt.Before(now) {
		observedAt = now.Add(-time.Microsecond)
	}
	if err := r.store.RecordPriceChange(ctx, next.Reference, cur.Price, next.Price, observedAt, now); err != nil {
		return 0, fmt.Errorf("price change: %w", err)
	}
	log.Debug().Str("ref", next.Reference).Stringer("old", cur.Price).Stringer("new", next.Price).Msg("price changed")
	r.invalidate(ctx, next.Reference)
	return repriced, nil
}

// Touch marks refs as seen now without re-reading them. Incremental crawls
// use it for listings they skipped because they were already stored.
func (r *Reconciler) Touch(ctx context.Context, refs []string, now time.Time) (int64, error) {
	refs = normalizeAll(refs)
	if len(refs) == 0 {
		return 0, nil
	}
	n, err := r.store.Touch(ctx, refs, dbTime(now))
	if err != nil {
		return 0, err
	}
	r.invalidate(ctx, refs...)
	return n, nil
}

// MarkStale flips every unsold property not refreshed within the staleness
// window to sold.
func (r *Reconciler) MarkStale(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := dbTime(now).Add(-r.staleness)
	sold, err := r.store.MarkStaleSold(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale sweep: %w", err)
	}
	observability.ObserveReconcile("sold", len(sold))
	r.invalidate(ctx, sold...)
	if len(sold) > 0 {
		log.Info().Int("count", len(sold)).Time("cutoff", cutoff).Msg("marked stale properties sold")
	}
	return sold, nil
}

// MarkAbsent marks every unsold property whose reference is missing from the
// authoritative list as sold, ignoring the staleness window. An empty list is
// refused since it would sell the whole store.
func (r *Reconciler) MarkAbsent(ctx context.Context, authoritative []string) ([]string, error) {
	keep := make(map[string]struct{}, len(authoritative))
	for _, ref := range normalizeAll(authoritative) {
		keep[ref] = struct{}{}
	}
	if len(keep) == 0 {
		return nil, errors.New("authoritative reference list is empty")
	}

	unsold, err := r.store.ListUnsoldReferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unsold: %w", err)
	}
	var absent []string
	for _, ref := range unsold {
		if _, ok := keep[ref]; !ok {
			absent = append(absent, ref)
		}
	}
	if _, err := r.MarkSold(ctx, absent); err != nil {
		return nil, err
	}
	return absent, nil
}

// MarkSold flips the given references to sold.
func (r *Reconciler) MarkSold(ctx context.Context, refs []string) (int64, error) {
	refs = normalizeAll(refs)
	if len(refs) == 0 {
		return 0, nil
	}
	n, err := r.store.MarkSold(ctx, refs)
	if err != nil {
		return 0, fmt.Errorf("mark sold: %w", err)
	}
	observability.ObserveReconcile("sold", int(n))
	r.invalidate(ctx, refs...)
	log.Info().Int64("count", n).Msg("marked properties sold")
	return n, nil
}

func (r *Reconciler) invalidate(ctx context.Context, refs ...string) {
	if r.cache == nil || len(refs) == 0 {
		return
	}
	keys := make([]string, 0, 2*len(refs))
	for _, ref := range refs {
		keys = append(keys, propertyKey(ref), historyKey(ref))
	}
	if err := r.cache.Del(ctx, keys...); err != nil {
		log.Warn().Err(err).Int("keys", len(keys)).Msg("cache invalidation failed")
	}
}

func normalizeAll(refs []string) []string {
	out := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		ref = NormalizeReference(ref)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// dbTime matches what DATETIME(6)/timestamptz round-trip.
func dbTime(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }
