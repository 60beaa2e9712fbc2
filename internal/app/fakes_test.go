package app_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"listing_harvester/internal/domain"
)

// ---- fakes ----

type fakeStore struct {
	mu      sync.Mutex
	props   map[string]domain.Property
	history map[string][]domain.PriceHistoryEntry
	nextID  int64
	touches int
}

func newStore() *fakeStore {
	return &fakeStore{props: map[string]domain.Property{}, history: map[string][]domain.PriceHistoryEntry{}}
}

func (f *fakeStore) InsertProperty(ctx context.Context, p domain.Property) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	f.props[p.Reference] = p
	return p.ID, nil
}

func (f *fakeStore) RecordPriceChange(ctx context.Context, ref string, old, next domain.Money, observedAt, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[ref]
	if !ok {
		return domain.ErrNotFound
	}
	f.history[ref] = append(f.history[ref], domain.PriceHistoryEntry{Reference: ref, Price: old, ObservedAt: observedAt})
	p.Price, p.LastUpdated, p.Sold = next, now, false
	f.props[ref] = p
	return nil
}

func (f *fakeStore) Touch(ctx context.Context, refs []string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	var n int64
	for _, ref := range refs {
		if p, ok := f.props[ref]; ok {
			p.LastUpdated, p.Sold = now, false
			f.props[ref] = p
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) MarkStaleSold(ctx context.Context, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for ref, p := range f.props {
		if !p.Sold && p.LastUpdated.Before(cutoff) {
			p.Sold = true
			f.props[ref] = p
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) MarkSold(ctx context.Context, refs []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, ref := range refs {
		if p, ok := f.props[ref]; ok && !p.Sold {
			p.Sold = true
			f.props[ref] = p
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetProperty(ctx context.Context, ref string) (domain.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[ref]
	if !ok {
		return domain.Property{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListReferences(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for ref := range f.props {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) ListUnsoldReferences(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for ref, p := range f.props {
		if !p.Sold {
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) ListUnsoldLinks(ctx context.Context) ([]domain.PropertyLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PropertyLink
	for ref, p := range f.props {
		if !p.Sold {
			out = append(out, domain.PropertyLink{Reference: ref, DetailsURL: p.DetailsURL})
		}
	}
	return out, nil
}

func (f *fakeStore) PriceHistory(ctx context.Context, ref string) ([]domain.PriceHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.props[ref]; !ok {
		return nil, domain.ErrNotFound
	}
	return f.history[ref], nil
}

// fakeCache stores JSON like the redis adapter does, so cached values
// cannot alias test fixtures.
type fakeCache struct {
	store map[string][]byte
	dels  []string
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.store, k)
	}
	c.dels = append(c.dels, keys...)
	return nil
}

func ptr[T any](v T) *T { return &v }
