package app

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"listing_harvester/internal/domain"
)

var leadingInt = regexp.MustCompile(`^\d+`)

// NormalizeReference trims a reference and drops the ".0" that spreadsheet
// round-trips leave on numeric ids.
func NormalizeReference(ref string) string {
	return strings.TrimSuffix(strings.TrimSpace(ref), ".0")
}

// ParsePrice turns a displayed price such as "Rs 5,000,000" into minor units.
// Currency symbols and thousands separators are dropped; anything left that is
// not a plain decimal number is an error.
func ParsePrice(raw string) (domain.Money, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".") // "Rs." leaves a stray dot
	if s == "" || strings.Count(s, ".") > 1 {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnparsablePrice, raw)
	}
	var m domain.Money
	if err := m.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnparsablePrice, raw)
	}
	return m, nil
}

// parseSurface reads "1,200 m²". "N.S" (not specified) and junk give nil.
func parseSurface(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "N.S") {
		return nil
	}
	s = strings.NewReplacer("m²", "", "m2", "", ",", "", " ", "", "\u00a0", "").Replace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return nil
	}
	return &f
}

// parseCount reads a room count. Unknown is nil, never zero.
func parseCount(raw string) *int {
	m := leadingInt.FindString(strings.TrimSpace(raw))
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

func parseYear(raw string) *int {
	y := parseCount(raw)
	if y == nil || *y < 1800 || *y > 2200 {
		return nil
	}
	return y
}

func parseYesNo(raw string) *bool {
	var v bool
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "oui", "true":
		v = true
	case "no", "non", "false":
		v = false
	default:
		return nil
	}
	return &v
}

func parsePool(raw string) domain.PoolKind {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return domain.PoolUnknown
	case strings.Contains(s, "private"), strings.Contains(s, "priv"):
		return domain.PoolPrivate
	case strings.Contains(s, "common"), strings.Contains(s, "shared"), strings.Contains(s, "commun"):
		return domain.PoolCommon
	case s == "no", s == "none", s == "non":
		return domain.PoolNone
	}
	return domain.PoolUnknown
}

// propertyType is the title prefix: "Villa - Grand Baie" is a Villa.
func propertyType(title string) string {
	t, _, ok := strings.Cut(title, " - ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(t)
}

func ptrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

/********** record mapper **********/

func mapProperty(rec domain.ListingRecord) (domain.Property, error) {
	price, err := ParsePrice(rec.Price)
	if err != nil {
		return domain.Property{}, err
	}
	p := domain.Property{
		Reference:   NormalizeReference(rec.Reference),
		Title:       rec.Title,
		Type:        propertyType(rec.Title),
		Location:    rec.Location,
		Price:       price,
		DetailsURL:  rec.DetailsURL,
		Description: rec.Description,

		PhoneLink:    ptrStr(rec.Contact.Phone),
		EmailLink:    ptrStr(rec.Contact.Email),
		WhatsAppLink: ptrStr(rec.Contact.WhatsApp),

		LandSurface:            parseSurface(rec.LandSurface),
		InteriorSurface:        parseSurface(rec.InteriorSurface),
		SwimmingPool:           parsePool(rec.SwimmingPool),
		ConstructionYear:       parseYear(rec.ConstructionYear),
		Bedrooms:               parseCount(rec.Bedrooms),
		Bathrooms:              parseCount(rec.Bathrooms),
		Toilets:                parseCount(rec.Toilets),
		Aircon:                 parseYesNo(rec.Aircon),
		AccessibleToForeigners: parseYesNo(rec.AccessibleToForeigners),

		GeneralFeatures:     rec.GeneralFeatures,
		IndoorFeatures:      rec.IndoorFeatures,
		OutdoorFeatures:     rec.OutdoorFeatures,
		LocationDescription: rec.LocationDescription,
	}
	if name := strings.TrimSpace(rec.Agency.Name); name != "" {
		p.Agency = &domain.Agency{Name: name, LogoURL: rec.Agency.LogoURL}
	}
	return p, nil
}
