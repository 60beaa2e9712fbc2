package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"listing_harvester/internal/domain"
)

const batchSize = 500

const upsertAgencySQL = `
INSERT INTO agencies (name, logo_url) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET logo_url = COALESCE(EXCLUDED.logo_url, agencies.logo_url)
RETURNING id`

const insertPropertySQL = `
INSERT INTO properties
  (reference, title, type, location, price_minor, details_url, description,
   agency_id, phone_link, email_link, whatsapp_link,
   land_surface, interior_surface, swimming_pool, construction_year,
   bedrooms, bathrooms, toilets, aircon, accessible_to_foreigners,
   general_features, indoor_features, outdoor_features, location_description,
   sold, date_added, last_updated)
VALUES
  ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,FALSE,$25,$26)
RETURNING id`

const getPropertySQL = `
SELECT
  p.id, p.reference, p.title, COALESCE(p.type, ''), p.location, p.price_minor, p.details_url, p.description,
  a.id, a.name, a.logo_url,
  p.phone_link, p.email_link, p.whatsapp_link,
  p.land_surface, p.interior_surface, COALESCE(p.swimming_pool, ''), p.construction_year,
  p.bedrooms, p.bathrooms, p.toilets, p.aircon, p.accessible_to_foreigners,
  p.general_features, p.indoor_features, p.outdoor_features, p.location_description,
  p.sold, p.date_added, p.last_updated
FROM properties p
LEFT JOIN agencies a ON a.id = p.agency_id
WHERE p.reference = $1`

// Repo is the Postgres PropertyStore.
type Repo struct{ pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

// Open parses dsn, caps the pool at maxConns and pings.
func Open(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse PG_DSN: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func optStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optList(xs []string) any {
	if len(xs) == 0 {
		return nil
	}
	return xs
}

func (r *Repo) InsertProperty(ctx context.Context, p domain.Property) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var agencyID *int64
	if p.Agency != nil && p.Agency.Name != "" {
		var id int64
		if err := tx.QueryRow(ctx, upsertAgencySQL, p.Agency.Name, optStr(p.Agency.LogoURL)).Scan(&id); err != nil {
			return 0, fmt.Errorf("agency %q: %w", p.Agency.Name, err)
		}
		agencyID = &id
	}

	var id int64
	if err := tx.QueryRow(ctx, insertPropertySQL,
		p.Reference, p.Title, optStr(p.Type), p.Location, int64(p.Price), p.DetailsURL, optList(p.Description),
		agencyID, p.PhoneLink, p.EmailLink, p.WhatsAppLink,
		p.LandSurface, p.InteriorSurface, optStr(string(p.SwimmingPool)), p.ConstructionYear,
		p.Bedrooms, p.Bathrooms, p.Toilets, p.Aircon, p.AccessibleToForeigners,
		optList(p.GeneralFeatures), optList(p.IndoorFeatures), optList(p.OutdoorFeatures), optList(p.LocationDescription),
		p.DateAdded, p.LastUpdated,
	).Scan(&id); err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

func (r *Repo) RecordPriceChange(ctx context.Context, ref string, old, next domain.Money, observedAt, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	b.Queue(`INSERT INTO price_history (property_id, price_minor, observed_at)
		SELECT id, $1, $2 FROM properties WHERE reference = $3`, int64(old), observedAt, ref)
	b.Queue(`UPDATE properties SET price_minor = $1, last_updated = $2, sold = FALSE WHERE reference = $3`,
		int64(next), now, ref)
	br := tx.SendBatch(ctx, b)
	tag, err := br.Exec()
	if err != nil {
		_ = br.Close()
		return fmt.Errorf("history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = br.Close()
		return domain.ErrNotFound
	}
	if _, err := br.Exec(); err != nil {
		_ = br.Close()
		return fmt.Errorf("update price: %w", err)
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Touch(ctx context.Context, refs []string, now time.Time) (int64, error) {
	return r.execChunks(ctx, refs, func(b *pgx.Batch, chunk []string) {
		b.Queue(`UPDATE properties SET last_updated = $1, sold = FALSE WHERE reference = ANY($2)`, now, chunk)
	})
}

func (r *Repo) MarkSold(ctx context.Context, refs []string) (int64, error) {
	return r.execChunks(ctx, refs, func(b *pgx.Batch, chunk []string) {
		b.Queue(`UPDATE properties SET sold = TRUE WHERE sold = FALSE AND reference = ANY($1)`, chunk)
	})
}

func (r *Repo) execChunks(ctx context.Context, refs []string, queue func(*pgx.Batch, []string)) (int64, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for start := 0; start < len(refs); start += batchSize {
		queue(b, refs[start:min(start+batchSize, len(refs))])
	}
	br := r.pool.SendBatch(ctx, b)
	defer br.Close()

	var total int64
	for i := 0; i < b.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, br.Close()
}

func (r *Repo) MarkStaleSold(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
UPDATE properties SET sold = TRUE
WHERE sold = FALSE AND last_updated < $1
RETURNING reference`, cutoff)
	if err != nil {
		return nil, err
	}
	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	slices.Sort(refs)
	return refs, nil
}

func (r *Repo) GetProperty(ctx context.Context, ref string) (domain.Property, error) {
	var p domain.Property
	var price int64
	var pool string
	var agencyID *int64
	var agencyName, agencyLogo *string
	err := r.pool.QueryRow(ctx, getPropertySQL, ref).Scan(
		&p.ID, &p.Reference, &p.Title, &p.Type, &p.Location, &price, &p.DetailsURL, &p.Description,
		&agencyID, &agencyName, &agencyLogo,
		&p.PhoneLink, &p.EmailLink, &p.WhatsAppLink,
		&p.LandSurface, &p.InteriorSurface, &pool, &p.ConstructionYear,
		&p.Bedrooms, &p.Bathrooms, &p.Toilets, &p.Aircon, &p.AccessibleToForeigners,
		&p.GeneralFeatures, &p.IndoorFeatures, &p.OutdoorFeatures, &p.LocationDescription,
		&p.Sold, &p.DateAdded, &p.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Property{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Property{}, err
	}
	p.Price = domain.Money(price)
	p.SwimmingPool = domain.PoolKind(pool)
	if agencyID != nil {
		p.Agency = &domain.Agency{ID: *agencyID, Name: deref(agencyName), LogoURL: deref(agencyLogo)}
	}
	p.DateAdded, p.LastUpdated = p.DateAdded.UTC(), p.LastUpdated.UTC()
	return p, nil
}

func (r *Repo) PriceHistory(ctx context.Context, ref string) ([]domain.PriceHistoryEntry, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM properties WHERE reference = $1)`, ref).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, `
SELECT p.reference, h.price_minor, h.observed_at
FROM price_history h
JOIN properties p ON p.id = h.property_id
WHERE p.reference = $1
ORDER BY h.observed_at`, ref)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PriceHistoryEntry, error) {
		var e domain.PriceHistoryEntry
		var price int64
		err := row.Scan(&e.Reference, &price, &e.ObservedAt)
		e.Price = domain.Money(price)
		e.ObservedAt = e.ObservedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.PriceHistoryEntry{}
	}
	return out, nil
}

func (r *Repo) ListReferences(ctx context.Context) ([]string, error) {
	return r.refs(ctx, `SELECT reference FROM properties ORDER BY reference`)
}

func (r *Repo) ListUnsoldReferences(ctx context.Context) ([]string, error) {
	return r.refs(ctx, `SELECT reference FROM properties WHERE sold = FALSE ORDER BY reference`)
}

func (r *Repo) ListUnsoldLinks(ctx context.Context) ([]domain.PropertyLink, error) {
	rows, err := r.pool.Query(ctx, `SELECT reference, details_url FROM properties WHERE sold = FALSE ORDER BY reference`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PropertyLink, error) {
		var l domain.PropertyLink
		err := row.Scan(&l.Reference, &l.DetailsURL)
		return l, err
	})
}

func (r *Repo) refs(ctx context.Context, q string) ([]string, error) {
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
