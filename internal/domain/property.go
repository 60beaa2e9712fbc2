package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Money is an amount in minor currency units (cents of MUR).
type Money int64

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Major returns the whole-unit part, truncating cents.
func (m Money) Major() int64 { return int64(m) / 100 }

func (m Money) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Money) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return fmt.Errorf("money %q: more than two decimals", b)
	}
	frac += strings.Repeat("0", 2-len(frac))
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fmt.Errorf("money %q: %w", b, err)
	}
	c, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return fmt.Errorf("money %q: %w", b, err)
	}
	if w < 0 || c < 0 || w > (math.MaxInt64-c)/100 {
		return fmt.Errorf("money %q: out of range", b)
	}
	v := w*100 + c
	if neg {
		v = -v
	}
	*m = Money(v)
	return nil
}

type PoolKind string

const (
	PoolUnknown PoolKind = ""
	PoolPrivate PoolKind = "private"
	PoolCommon  PoolKind = "common"
	PoolNone    PoolKind = "none"
)

type Agency struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logo_url,omitempty"`
}

// Property is the persisted, normalized listing keyed by Reference.
type Property struct {
	ID          int64    `json:"id"`
	Reference   string   `json:"reference"`
	Title       string   `json:"title"`
	Type        string   `json:"type,omitempty"`
	Location    string   `json:"location"`
	Price       Money    `json:"price"`
	DetailsURL  string   `json:"details_url"`
	Description []string `json:"description,omitempty"`

	Agency       *Agency `json:"agency,omitempty"`
	PhoneLink    *string `json:"phone_link,omitempty"`
	EmailLink    *string `json:"email_link,omitempty"`
	WhatsAppLink *string `json:"whatsapp_link,omitempty"`

	LandSurface            *float64 `json:"land_surface,omitempty"`
	InteriorSurface        *float64 `json:"interior_surface,omitempty"`
	SwimmingPool           PoolKind `json:"swimming_pool,omitempty"`
	ConstructionYear       *int     `json:"construction_year,omitempty"`
	Bedrooms               *int     `json:"bedrooms,omitempty"`
	Bathrooms              *int     `json:"bathrooms,omitempty"`
	Toilets                *int     `json:"toilets,omitempty"`
	Aircon                 *bool    `json:"aircon,omitempty"`
	AccessibleToForeigners *bool    `json:"accessible_to_foreigners,omitempty"`

	GeneralFeatures     []string `json:"general_features,omitempty"`
	IndoorFeatures      []string `json:"indoor_features,omitempty"`
	OutdoorFeatures     []string `json:"outdoor_features,omitempty"`
	LocationDescription []string `json:"location_description,omitempty"`

	Sold        bool      `json:"sold"`
	DateAdded   time.Time `json:"date_added"`
	LastUpdated time.Time `json:"last_updated"`
}

// PriceHistoryEntry records a price that was superseded. ObservedAt is the
// last time that price was seen live.
type PriceHistoryEntry struct {
	Reference  string    `json:"reference"`
	Price      Money     `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}
