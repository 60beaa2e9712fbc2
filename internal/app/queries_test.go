package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"listing_harvester/internal/app"
	"listing_harvester/internal/domain"
)

func TestGetProperty_CacheMissThenHit(t *testing.T) {
	store := newStore()
	store.props["42"] = domain.Property{Reference: "42", Title: "Villa - Test", Price: 100}
	cache := &fakeCache{}
	q := app.NewQueryService(store, cache, 10*time.Minute)

	p, err := q.GetProperty(context.Background(), "42")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p.Reference != "42" || p.Title != "Villa - Test" {
		t.Fatalf("unexpected property: %+v", p)
	}

	// mutate the store to prove the second read comes from cache
	store.props["42"] = domain.Property{Reference: "42", Title: "SHOULD NOT SEE THIS"}

	p2, err := q.GetProperty(context.Background(), "42.0")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p2.Title != "Villa - Test" {
		t.Fatalf("expected cached title, got %s", p2.Title)
	}
}

func TestGetProperty_NotFound(t *testing.T) {
	q := app.NewQueryService(newStore(), &fakeCache{}, time.Minute)
	if _, err := q.GetProperty(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPriceHistory_Cache(t *testing.T) {
	store := newStore()
	store.props["1"] = domain.Property{Reference: "1"}
	store.history["1"] = []domain.PriceHistoryEntry{{Reference: "1", Price: 500_000_000, ObservedAt: now}}
	q := app.NewQueryService(store, &fakeCache{}, 10*time.Minute)

	out, err := q.PriceHistory(context.Background(), "1")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(out) != 1 || out[0].Price != 500_000_000 {
		t.Fatalf("unexpected history: %+v", out)
	}

	store.history["1"][0].Price = 1
	out2, _ := q.PriceHistory(context.Background(), "1")
	if out2[0].Price != 500_000_000 {
		t.Fatalf("expected cached price, got %s", out2[0].Price)
	}
}
