// Package csvfile exports raw crawl records and reads authoritative
// reference lists back.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"listing_harvester/internal/domain"
)

// RefColumn names the reference column in both directions.
const RefColumn = "ref"

// listSep joins multi-valued fields into one cell.
const listSep = " | "

var header = []string{
	"title", "location", "price", "details_link", "description",
	"agency", "agency_logo", "contact_phone", "contact_email", "contact_whatsapp",
	"land_surface", "interior_surface", "swimming_pool", "construction_year",
	"bedrooms", "accessible_to_foreigners", "bathrooms", "toilets", "aircon",
	"general_features", "indoor_features", "outdoor_features", "location_description",
	RefColumn,
}

// Writer appends raw records as CSV rows. Safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// Open appends to path, writing the header when the file is new or empty.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	w := &Writer{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := w.w.Write(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Writer) WriteRecords(recs []domain.ListingRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range recs {
		if err := w.w.Write(row(r)); err != nil {
			return fmt.Errorf("write %s: %w", r.DetailsURL, err)
		}
	}
	w.w.Flush()
	return w.w.Error()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Flush()
	return errors.Join(w.w.Error(), w.f.Close())
}

func row(r domain.ListingRecord) []string {
	return []string{
		r.Title, r.Location, r.Price, r.DetailsURL, strings.Join(r.Description, listSep),
		r.Agency.Name, r.Agency.LogoURL, r.Contact.Phone, r.Contact.Email, r.Contact.WhatsApp,
		r.LandSurface, r.InteriorSurface, r.SwimmingPool, r.ConstructionYear,
		r.Bedrooms, r.AccessibleToForeigners, r.Bathrooms, r.Toilets, r.Aircon,
		strings.Join(r.GeneralFeatures, listSep), strings.Join(r.IndoorFeatures, listSep),
		strings.Join(r.OutdoorFeatures, listSep), strings.Join(r.LocationDescription, listSep),
		r.Reference,
	}
}

// ReadReferences returns the distinct non-blank values of the ref column of
// the CSV file at path, with a trailing ".0" removed.
func ReadReferences(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readReferences(f)
}

func readReferences(rd io.Reader) ([]string, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, h := range head {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), RefColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("no %q column", RefColumn)
	}

	var out []string
	seen := map[string]struct{}{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if col >= len(rec) {
			continue
		}
		ref := strings.TrimSuffix(strings.TrimSpace(rec[col]), ".0")
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out, nil
}
