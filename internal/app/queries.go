package app

import (
	"context"
	"time"

	"listing_harvester/internal/domain"
)

func propertyKey(ref string) string { return "property:" + ref }
func historyKey(ref string) string  { return "history:" + ref }

type QueryService struct {
	store    domain.PropertyStore
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(s domain.PropertyStore, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{store: s, cache: c, cacheTTL: ttl}
}

func (s *QueryService) GetProperty(ctx context.Context, ref string) (domain.Property, error) {
	ref = NormalizeReference(ref)
	key := propertyKey(ref)
	var p domain.Property
	if ok, _ := s.cache.Get(ctx, key, &p); ok {
		return p, nil
	}
	p, err := s.store.GetProperty(ctx, ref)
	if err != nil {
		return domain.Property{}, err
	}
	_ = s.cache.Set(ctx, key, p, s.cacheTTL)
	return p, nil
}

func (s *QueryService) PriceHistory(ctx context.Context, ref string) ([]domain.PriceHistoryEntry, error) {
	ref = NormalizeReference(ref)
	key := historyKey(ref)
	var out []domain.PriceHistoryEntry
	if ok, _ := s.cache.Get(ctx, key, &out); ok {
		return out, nil
	}
	hs, err := s.store.PriceHistory(ctx, ref)
	if err != nil {
		return nil, err
	}
	// copy so the cached value never aliases the store's slice
	out = make([]domain.PriceHistoryEntry, len(hs))
	copy(out, hs)
	_ = s.cache.Set(ctx, key, out, s.cacheTTL)
	return out, nil
}
