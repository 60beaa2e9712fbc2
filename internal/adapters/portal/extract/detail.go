package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"listing_harvester/internal/domain"
)

// ParseDetailPage completes partial with the detail page's label table,
// feature sections and reference. The returned record has Reference == ""
// when the page carries none.
//
// ErrParseMismatch is returned, together with the partial record, when the
// page has neither a label table nor a reference. ErrWithdrawn is returned
// with partial unchanged when body is a results page rather than a listing.
func ParseDetailPage(body []byte, partial domain.ListingRecord) (domain.ListingRecord, error) {
	doc, err := load(body)
	if err != nil {
		return partial, err
	}
	// a withdrawn listing is redirected to the results page
	if doc.Find("div.card-body").Length() > 0 && doc.Find("dt").Length() == 0 {
		return partial, domain.ErrWithdrawn
	}
	rec := partial

	labels := 0
	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		label := clean(dt.Text())
		dd := dt.NextFiltered("dd")
		if dd.Length() == 0 {
			return
		}
		if field := labelField(&rec, label); field != nil && *field == "" {
			*field = clean(dd.Text())
			labels++
		}
	})

	rec.GeneralFeatures = texts(doc.Selection, "#collapse-description-01 ul li")
	rec.IndoorFeatures = texts(doc.Selection, "#collapse-description-02 ul li")
	rec.OutdoorFeatures = texts(doc.Selection, "#collapse-description-03 ul li")
	rec.LocationDescription = texts(doc.Selection, "div.realty-description-block h3 + p")

	if ref := pageReference(doc); ref != "" {
		rec.Reference = ref
	}

	if labels == 0 && rec.Reference == "" {
		return rec, domain.ErrParseMismatch
	}
	return rec, nil
}

// labelField maps a definition-list label to the record field it fills.
// Matching is by containment, as labels sometimes carry icons or suffixes.
func labelField(rec *domain.ListingRecord, label string) *string {
	switch {
	case strings.Contains(label, "Land surface"):
		return &rec.LandSurface
	case strings.Contains(label, "Interior surface"):
		return &rec.InteriorSurface
	case strings.Contains(label, "Swimming pool"):
		return &rec.SwimmingPool
	case strings.Contains(label, "Construction year"):
		return &rec.ConstructionYear
	case strings.Contains(label, "Bedroom(s)"):
		return &rec.Bedrooms
	case strings.Contains(label, "Bathroom(s)"):
		return &rec.Bathrooms
	case strings.Contains(label, "Toilet(s)"):
		return &rec.Toilets
	case strings.Contains(label, "Air-con"):
		return &rec.Aircon
	case strings.Contains(label, "Accessible to foreigners"):
		return &rec.AccessibleToForeigners
	}
	return nil
}

// refHolders are the elements the reference line is printed in.
const refHolders = "p, span, small, strong, li, dd, td"

// pageReference reads the reference from the element that carries it,
// ignoring any listing cards on the page (related listings).
func pageReference(doc *goquery.Document) string {
	var ref string
	doc.Find(refHolders).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Closest("div.card-body").Length() > 0 {
			return true
		}
		ref = FindReference(s.Text())
		return ref == ""
	})
	return ref
}
