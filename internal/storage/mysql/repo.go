package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"listing_harvester/internal/domain"
)

// batchSize bounds the number of placeholders in IN (...) lists.
const batchSize = 500

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valStrOpt(s string) any {
	if s == "" {
		return nil
	}
	return s
}
func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}
func valList(xs []string) any {
	if len(xs) == 0 {
		return nil
	}
	b, _ := json.Marshal(xs)
	return string(b)
}

func scanStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
func scanInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}
func scanF64(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
func scanBool(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	b := nb.Bool
	return &b
}
func scanList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(ns.String), &out)
	return out
}

// Repo is the MySQL PropertyStore. The DSN must carry parseTime=true.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) InsertProperty(ctx context.Context, p domain.Property) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var agencyID any
	if p.Agency != nil && p.Agency.Name != "" {
		res, err := tx.ExecContext(ctx, upsertAgencySQL, p.Agency.Name, valStrOpt(p.Agency.LogoURL))
		if err != nil {
			return 0, fmt.Errorf("agency %q: %w", p.Agency.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		agencyID = id
	}

	res, err := tx.ExecContext(ctx, insertPropertySQL,
		p.Reference,
		p.Title,
		valStrOpt(p.Type),
		p.Location,
		int64(p.Price),
		p.DetailsURL,
		valList(p.Description),
		agencyID,
		valStr(p.PhoneLink),
		valStr(p.EmailLink),
		valStr(p.WhatsAppLink),
		valF64(p.LandSurface),
		valF64(p.InteriorSurface),
		valStrOpt(string(p.SwimmingPool)),
		valInt(p.ConstructionYear),
		valInt(p.Bedrooms),
		valInt(p.Bathrooms),
		valInt(p.Toilets),
		valBool(p.Aircon),
		valBool(p.AccessibleToForeigners),
		valList(p.GeneralFeatures),
		valList(p.IndoorFeatures),
		valList(p.OutdoorFeatures),
		valList(p.LocationDescription),
		p.DateAdded,
		p.LastUpdated,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func (r *Repo) RecordPriceChange(ctx context.Context, ref string, old, next domain.Money, observedAt, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertHistorySQL, int64(old), observedAt, ref)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, updatePriceSQL, int64(next), now, ref); err != nil {
		return fmt.Errorf("update price: %w", err)
	}
	return tx.Commit()
}

// Touch refreshes last_updated and clears sold. The affected count follows the
// driver's clientFoundRows setting.
func (r *Repo) Touch(ctx context.Context, refs []string, now time.Time) (int64, error) {
	return r.updateIn(ctx, "UPDATE properties SET last_updated = ?, sold = FALSE WHERE reference IN ", []any{now}, refs)
}

func (r *Repo) MarkSold(ctx context.Context, refs []string) (int64, error) {
	return r.updateIn(ctx, "UPDATE properties SET sold = TRUE WHERE sold = FALSE AND reference IN ", nil, refs)
}

func (r *Repo) updateIn(ctx context.Context, prefix string, lead []any, refs []string) (int64, error) {
	var total int64
	for start := 0; start < len(refs); start += batchSize {
		end := min(start+batchSize, len(refs))
		chunk := refs[start:end]
		args := make([]any, 0, len(lead)+len(chunk))
		args = append(args, lead...)
		for _, ref := range chunk {
			args = append(args, ref)
		}
		q := prefix + "(" + strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + ")"
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (r *Repo) MarkStaleSold(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	refs, err := queryRefs(ctx, tx, selectStaleSQL, cutoff)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, markStaleSQL, cutoff); err != nil {
		return nil, err
	}
	return refs, tx.Commit()
}

func (r *Repo) GetProperty(ctx context.Context, ref string) (domain.Property, error) {
	row := r.db.QueryRowContext(ctx, getPropertySQL, ref)

	var p domain.Property
	var price int64
	var (
		typ, pool                        sql.NullString
		desc, general, indoor, outdoor   sql.NullString
		locDesc                          sql.NullString
		agencyID                         sql.NullInt64
		agencyName, agencyLogo           sql.NullString
		phone, email, whatsapp           sql.NullString
		land, interior                   sql.NullFloat64
		year, bedrooms, bathrooms, toils sql.NullInt64
		aircon, foreigners               sql.NullBool
	)
	if err := row.Scan(
		&p.ID, &p.Reference, &p.Title, &typ, &p.Location, &price, &p.DetailsURL, &desc,
		&agencyID, &agencyName, &agencyLogo,
		&phone, &email, &whatsapp,
		&land, &interior, &pool, &year,
		&bedrooms, &bathrooms, &toils, &aircon, &foreigners,
		&general, &indoor, &outdoor, &locDesc,
		&p.Sold, &p.DateAdded, &p.LastUpdated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Property{}, domain.ErrNotFound
		}
		return domain.Property{}, err
	}

	p.Price = domain.Money(price)
	p.Type = typ.String
	p.SwimmingPool = domain.PoolKind(pool.String)
	p.Description = scanList(desc)
	if agencyID.Valid {
		p.Agency = &domain.Agency{ID: agencyID.Int64, Name: agencyName.String, LogoURL: agencyLogo.String}
	}
	p.PhoneLink, p.EmailLink, p.WhatsAppLink = scanStr(phone), scanStr(email), scanStr(whatsapp)
	p.LandSurface, p.InteriorSurface = scanF64(land), scanF64(interior)
	p.ConstructionYear = scanInt(year)
	p.Bedrooms, p.Bathrooms, p.Toilets = scanInt(bedrooms), scanInt(bathrooms), scanInt(toils)
	p.Aircon, p.AccessibleToForeigners = scanBool(aircon), scanBool(foreigners)
	p.GeneralFeatures = scanList(general)
	p.IndoorFeatures = scanList(indoor)
	p.OutdoorFeatures = scanList(outdoor)
	p.LocationDescription = scanList(locDesc)
	p.DateAdded, p.LastUpdated = p.DateAdded.UTC(), p.LastUpdated.UTC()
	return p, nil
}

func (r *Repo) PriceHistory(ctx context.Context, ref string) ([]domain.PriceHistoryEntry, error) {
	var one int
	if err := r.db.QueryRowContext(ctx, propertyExistsSQL, ref).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, priceHistorySQL, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.PriceHistoryEntry{}
	for rows.Next() {
		var e domain.PriceHistoryEntry
		var price int64
		if err := rows.Scan(&e.Reference, &price, &e.ObservedAt); err != nil {
			return nil, err
		}
		e.Price = domain.Money(price)
		e.ObservedAt = e.ObservedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) ListReferences(ctx context.Context) ([]string, error) {
	return queryRefs(ctx, r.db, listReferencesSQL)
}

func (r *Repo) ListUnsoldReferences(ctx context.Context) ([]string, error) {
	return queryRefs(ctx, r.db, listUnsoldReferencesSQL)
}

func (r *Repo) ListUnsoldLinks(ctx context.Context) ([]domain.PropertyLink, error) {
	rows, err := r.db.QueryContext(ctx, listUnsoldLinksSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PropertyLink
	for rows.Next() {
		var l domain.PropertyLink
		if err := rows.Scan(&l.Reference, &l.DetailsURL); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRefs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
