package domain

// ListingRecord is one property as scraped from the portal. Every value is
// kept exactly as the page rendered it; numeric cleanup happens at reconcile time.
type ListingRecord struct {
	Reference   string // "" until the detail page yields one
	Title       string
	Location    string
	Price       string // e.g. "Rs 5,000,000"
	DetailsURL  string
	Description []string // card bullet points

	Agency  AgencyRef
	Contact ContactLinks

	LandSurface            string
	InteriorSurface        string
	SwimmingPool           string
	ConstructionYear       string
	Bedrooms               string
	Bathrooms              string
	Toilets                string
	Aircon                 string
	AccessibleToForeigners string

	GeneralFeatures     []string
	IndoorFeatures      []string
	OutdoorFeatures     []string
	LocationDescription []string
}

type AgencyRef struct {
	Name    string
	LogoURL string
}

// ContactLinks holds the portal's contact affordances. The portal hides the
// actual phone/email/whatsapp behind these links; they are recorded as-is.
type ContactLinks struct {
	Phone    string
	Email    string
	WhatsApp string
}

// HasReference reports whether the record can be reconciled.
func (r ListingRecord) HasReference() bool { return r.Reference != "" }

// PropertyLink is the minimum needed to re-probe a persisted listing.
type PropertyLink struct {
	Reference  string
	DetailsURL string
}
