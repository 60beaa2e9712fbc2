package domain

import (
	"context"
	"net/http"
	"time"
)

type PageFetcher interface {
	Fetch(ctx context.Context, url string, hdr http.Header) (Page, error)
}

type PropertyStore interface {
	// Write paths
	InsertProperty(ctx context.Context, p Property) (int64, error)
	RecordPriceChange(ctx context.Context, ref string, old, next Money, observedAt, now time.Time) error
	Touch(ctx context.Context, refs []string, now time.Time) (int64, error)
	MarkStaleSold(ctx context.Context, cutoff time.Time) ([]string, error)
	MarkSold(ctx context.Context, refs []string) (int64, error)

	// Read paths
	GetProperty(ctx context.Context, ref string) (Property, error)
	ListReferences(ctx context.Context) ([]string, error)
	ListUnsoldReferences(ctx context.Context) ([]string, error)
	ListUnsoldLinks(ctx context.Context) ([]PropertyLink, error)
	PriceHistory(ctx context.Context, ref string) ([]PriceHistoryEntry, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
