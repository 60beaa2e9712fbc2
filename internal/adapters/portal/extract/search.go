package extract

import (
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"listing_harvester/internal/domain"
)

// SearchPage is what one results page yields.
type SearchPage struct {
	Cards      []domain.ListingRecord
	NextPage   string // absolute, "" when there is no next link
	CardErrors []error
}

// Empty reports a page with no usable cards.
func (p SearchPage) Empty() bool { return len(p.Cards) == 0 }

// ParseSearchPage reads every listing card on a results page. A card that
// cannot be read is recorded in CardErrors and skipped; the rest of the page
// is still returned.
func ParseSearchPage(body []byte, pageURL string) (SearchPage, error) {
	doc, err := load(body)
	if err != nil {
		return SearchPage{}, err
	}
	base, _ := url.Parse(pageURL)

	var out SearchPage
	doc.Find("div.card-body").Each(func(i int, card *goquery.Selection) {
		rec, err := parseCard(card, base)
		if err != nil {
			out.CardErrors = append(out.CardErrors, fmt.Errorf("card %d: %w", i, err))
			return
		}
		out.Cards = append(out.Cards, rec)
	})

	if href, ok := doc.Find("li.pagination-next a").First().Attr("href"); ok {
		out.NextPage = resolve(base, href)
	}
	return out, nil
}

func parseCard(card *goquery.Selection, base *url.URL) (rec domain.ListingRecord, err error) {
	// a malformed fragment must not take the whole page down
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrParseMismatch, r)
		}
	}()

	link := card.Find("h2.h3.mb-1 a").First()
	href, ok := link.Attr("href")
	if !ok || clean(href) == "" {
		return rec, fmt.Errorf("%w: no detail link", domain.ErrParseMismatch)
	}

	rec = domain.ListingRecord{
		Reference:   FindReference(card.Text()),
		Title:       clean(link.Text()),
		Location:    firstText(card, "address a"),
		Price:       firstText(card, "strong.price.text-danger a"),
		DetailsURL:  resolve(base, href),
		Description: texts(card, "div.option-holder ul.option-list li"),
	}

	logo := card.Find("div.logo-holder a img").First()
	rec.Agency.Name = clean(logo.AttrOr("alt", ""))
	rec.Agency.LogoURL = resolve(base, logo.AttrOr("src", ""))

	contacts := card.Find("ul.list-contact")
	rec.Contact.Phone = resolve(base, contacts.Find(`a[href*="viewphone"]`).First().AttrOr("href", ""))
	rec.Contact.Email = resolve(base, contacts.Find(`a[href*="contact-form"]`).First().AttrOr("href", ""))
	rec.Contact.WhatsApp = resolve(base, contacts.Find(`a[href*="viewwhatsapp"]`).First().AttrOr("href", ""))
	return rec, nil
}
