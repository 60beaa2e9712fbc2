// Package extract turns portal HTML into raw domain.ListingRecords.
// Nothing here normalizes values; surfaces keep their unit suffix and
// prices keep their currency prefix.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	refRe   = regexp.MustCompile(`Ref\.[\s\x{a0}]*LP[\s\x{a0}]*:[\s\x{a0}]*(\d+)`)
	spaceRe = regexp.MustCompile(`\s+`)
)

func load(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	return doc, nil
}

// clean collapses runs of whitespace and trims.
func clean(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func firstText(s *goquery.Selection, sel string) string {
	return clean(s.Find(sel).First().Text())
}

func texts(s *goquery.Selection, sel string) []string {
	var out []string
	s.Find(sel).Each(func(_ int, li *goquery.Selection) {
		if t := clean(li.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// resolve makes href absolute against base. Empty href stays empty.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// FindReference returns the portal reference in text, or "".
func FindReference(text string) string {
	if m := refRe.FindStringSubmatch(text); len(m) == 2 {
		return m[1]
	}
	return ""
}
