package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PriceTracker reads product identifiers and price history from a
// camelcamelcamel product page.
func (e *CatalogExtractor) PriceTracker(body []byte) (*PriceInfo, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price tracker page: %w", err)
	}

	info := &PriceInfo{}
	doc.Find("table.product_fields, table#product_fields").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(cells.Eq(0).Text()), ":", ""))
		value := strings.TrimSpace(strings.ReplaceAll(cells.Eq(1).Text(), "\u200b", ""))
		if value == "" {
			return
		}

		ids := &info.Identifiers
		switch {
		case strings.Contains(key, "manufacturer"):
			ids.Manufacturer = value
		case strings.Contains(key, "isbn"):
			ids.ISBN = value
		case strings.Contains(key, "ean"):
			ids.EAN = value
		case strings.Contains(key, "upc"):
			ids.TrackerUPC = value
		case strings.Contains(key, "sku"):
			ids.SKU = value
		case strings.Contains(key, "asin"):
			ids.ASIN = value
		}
	})

	doc.Find("tbody tr[data-field]").Each(func(_ int, row *goquery.Selection) {
		var prices []string
		for _, t := range textNodes(row.Find("td")) {
			t = strings.ReplaceAll(t, "$", "")
			if i := strings.Index(t, "("); i >= 0 {
				t = t[:i]
			}
			if t = strings.TrimSpace(t); t != "" {
				prices = append(prices, t)
			}
		}
		if len(prices) < 2 {
			return
		}
		avg, current := prices[len(prices)-2], prices[len(prices)-1]

		switch field, _ := row.Attr("data-field"); strings.TrimSpace(field) {
		case "amazon":
			info.History.AmazonAveragePrice = avg
			info.History.AmazonCurrentPrice = current
		case "used":
			info.History.ThirdUsedAveragePrice = avg
			info.History.ThirdUsedCurrentPrice = current
		}
	})

	return info, nil
}

// Marketplace reads up to limit listings from an eBay search result page.
func (e *CatalogExtractor) Marketplace(body []byte, limit int) ([]Listing, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace page: %w", err)
	}

	var listings []Listing
	doc.Find("ul.srp-results > li.s-item").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if limit > 0 && len(listings) >= limit {
			return false
		}
		link, _ := item.Find("a.s-item__link").First().Attr("href")
		listings = append(listings, Listing{
			Title:     strings.TrimSpace(item.Find(".s-item__title").First().Text()),
			URL:       link,
			ProductID: queryParam(link, "epid"),
		})
		return true
	})
	return listings, nil
}
