package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing_harvester/internal/app"
	"listing_harvester/internal/domain"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func record(ref, price string) domain.ListingRecord {
	return domain.ListingRecord{
		Reference:  ref,
		Title:      "Villa - Grand Baie",
		Location:   "Grand Baie",
		Price:      price,
		DetailsURL: "https://portal.test/p/" + ref,
		Agency:     domain.AgencyRef{Name: "Island Homes"},
		Bedrooms:   "3",
		Toilets:    "",
	}
}

// newReconciler passes a nil cache through as an untyped nil so the
// reconciler sees "no cache" rather than a nil *fakeCache.
func newReconciler(s *fakeStore, c *fakeCache) *app.Reconciler {
	var cache domain.Cache
	if c != nil {
		cache = c
	}
	return app.NewReconciler(s, cache, 180*day)
}

func TestReconcile_InsertsNew(t *testing.T) {
	store := newStore()
	rep, err := newReconciler(store, &fakeCache{}).Reconcile(context.Background(), []domain.ListingRecord{record("1001", "Rs 5,000,000")}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)

	p, err := store.GetProperty(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(500_000_000), p.Price)
	assert.Equal(t, now, p.DateAdded)
	assert.Equal(t, now, p.LastUpdated)
	assert.False(t, p.Sold)
	assert.Equal(t, "Villa", p.Type)
	require.NotNil(t, p.Agency)
	assert.Equal(t, "Island Homes", p.Agency.Name)
	assert.Equal(t, ptr(3), p.Bedrooms)
	assert.Nil(t, p.Toilets, "unknown count stays null")
}

func TestReconcile_IsIdempotent(t *testing.T) {
	store := newStore()
	rc := newReconciler(store, &fakeCache{})
	batch := []domain.ListingRecord{record("1001", "Rs 5,000,000"), record("1002", "Rs 1,250,000")}

	_, err := rc.Reconcile(context.Background(), batch, now)
	require.NoError(t, err)
	rep, err := rc.Reconcile(context.Background(), batch, now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Inserted)
	assert.Equal(t, 0, rep.PriceChanged)
	assert.Equal(t, 2, rep.Refreshed)
	assert.Len(t, store.props, 2)
	assert.Empty(t, store.history)
	assert.Equal(t, now.Add(time.Hour), store.props["1001"].LastUpdated)
}

func TestReconcile_MissingReferenceNeverWritten(t *testing.T) {
	store := newStore()
	rep, err := newReconciler(store, &fakeCache{}).Reconcile(context.Background(), []domain.ListingRecord{record("", "Rs 1")}, now)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Unreferenced)
	assert.Empty(t, store.props)
	assert.Equal(t, 0, store.touches)
}

func TestReconcile_StalenessWindow(t *testing.T) {
	store := newStore()
	store.props["old"] = domain.Property{Reference: "old", Price: 100, LastUpdated: now.Add(-200 * day)}
	store.props["recent"] = domain.Property{Reference: "recent", Price: 100, LastUpdated: now.Add(-10 * day)}

	rep, err := newReconciler(store, &fakeCache{}).Reconcile(context.Background(), nil, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"old"}, rep.MarkedSold)
	assert.True(t, store.props["old"].Sold)
	assert.False(t, store.props["recent"].Sold)
}

func TestReconcile_PriceChangeAppendsOldPrice(t *testing.T) {
	store := newStore()
	rc := newReconciler(store, &fakeCache{})
	_, err := rc.Reconcile(context.Background(), []domain.ListingRecord{record("1001", "Rs 5,000,000")}, now)
	require.NoError(t, err)

	later := now.Add(7 * day)
	rep, err := rc.Reconcile(context.Background(), []domain.ListingRecord{record("1001", "Rs 5,200,000")}, later)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.PriceChanged)

	hist := store.history["1001"]
	require.Len(t, hist, 1)
	assert.Equal(t, domain.Money(500_000_000), hist[0].Price)
	assert.True(t, hist[0].ObservedAt.Before(later))
	assert.Equal(t, now, hist[0].ObservedAt)

	p := store.props["1001"]
	assert.Equal(t, domain.Money(520_000_000), p.Price)
	assert.Equal(t, later, p.LastUpdated)

	// same price again is not a change
	_, err = rc.Reconcile(context.Background(), []domain.ListingRecord{record("1001", "Rs 5,200,000")}, later.Add(day))
	require.NoError(t, err)
	assert.Len(t, store.history["1001"], 1)
}

func TestReconcile_UnparsablePriceSkipsOnlyThatRecord(t *testing.T) {
	store := newStore()
	rep, err := newReconciler(store, &fakeCache{}).Reconcile(context.Background(), []domain.ListingRecord{
		record("1", "Price on request"),
		record("2", "Rs 900,000"),
	}, now)
	require.NoError(t, err)

	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, "1", rep.Skipped[0].Reference)
	assert.Contains(t, rep.Skipped[0].Reason, domain.ErrUnparsablePrice.Error())
	assert.Equal(t, 1, rep.Inserted)
	_, err = store.GetProperty(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcile_RevivesSoldListing(t *testing.T) {
	store := newStore()
	store.props["9"] = domain.Property{Reference: "9", Price: 100_000_000, Sold: true, LastUpdated: now.Add(-300 * day)}

	_, err := newReconciler(store, &fakeCache{}).Reconcile(context.Background(), []domain.ListingRecord{record("9", "Rs 1,000,000")}, now)
	require.NoError(t, err)
	assert.False(t, store.props["9"].Sold)
}

func TestReconcile_NormalizesReferenceAndDedupsBatch(t *testing.T) {
	store := newStore()
	rep, err := newReconciler(store, &fakeCache{}).Reconcile(context.Background(), []domain.ListingRecord{
		record("1001.0", "Rs 1"),
		record(" 1001 ", "Rs 2"),
	}, now)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Contains(t, store.props, "1001")
}

func TestReconcile_InvalidatesCache(t *testing.T) {
	store := newStore()
	cache := &fakeCache{}
	rc := newReconciler(store, cache)
	_, err := rc.Reconcile(context.Background(), []domain.ListingRecord{record("5", "Rs 1")}, now)
	require.NoError(t, err)
	assert.Contains(t, cache.dels, "property:5")
	assert.Contains(t, cache.dels, "history:5")
}

func TestMarkAbsent(t *testing.T) {
	store := newStore()
	for _, ref := range []string{"1", "2", "3"} {
		store.props[ref] = domain.Property{Reference: ref, LastUpdated: now}
	}
	store.props["4"] = domain.Property{Reference: "4", Sold: true, LastUpdated: now}

	absent, err := newReconciler(store, nil).MarkAbsent(context.Background(), []string{"1.0", "3"})
	require.NoError(t, err)

	assert.Equal(t, []string{"2"}, absent)
	assert.True(t, store.props["2"].Sold)
	assert.False(t, store.props["1"].Sold)
	assert.False(t, store.props["3"].Sold)
}

func TestMarkAbsent_RefusesEmptyList(t *testing.T) {
	store := newStore()
	store.props["1"] = domain.Property{Reference: "1", LastUpdated: now}

	_, err := newReconciler(store, nil).MarkAbsent(context.Background(), []string{"", " "})
	require.Error(t, err)
	assert.False(t, store.props["1"].Sold)
}

func TestTouch_KeepsPreloadedFresh(t *testing.T) {
	store := newStore()
	store.props["1"] = domain.Property{Reference: "1", LastUpdated: now.Add(-179 * day)}

	rc := newReconciler(store, nil)
	n, err := rc.Touch(context.Background(), []string{"1", "1"}, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	sold, err := rc.MarkStale(context.Background(), now.Add(2*day))
	require.NoError(t, err)
	assert.Empty(t, sold)
}

func TestMarkAbsent_InvalidatesCachedViews(t *testing.T) {
	store := newStore()
	store.props["1"] = domain.Property{Reference: "1", LastUpdated: now}
	store.props["2"] = domain.Property{Reference: "2", LastUpdated: now}
	cache := &fakeCache{}

	absent, err := newReconciler(store, cache).MarkAbsent(context.Background(), []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, absent)
	assert.ElementsMatch(t, []string{"property:2", "history:2"}, cache.dels)
}
