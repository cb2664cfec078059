package parser

import (
	"github.com/maltedev/bluray-scraper/internal/models"
)

// Extractor turns fetched pages into fields. Implementations are pure: they
// never fetch and never touch crawl state.
type Extractor interface {
	ListPage(body []byte, pageURL string) (*ListPage, error)
	Detail(body []byte, pageURL string) (*Detail, error)
	Screenshots(body []byte, dedicated bool) ([]string, error)
	CastCrew(body []byte) (*models.People, error)
	PriceTracker(body []byte) (*PriceInfo, error)
	Marketplace(body []byte, limit int) ([]Listing, error)
	IsLive(body []byte) bool
}

// ListPage is one page of catalog search results.
type ListPage struct {
	Links []string
	// Total is the result count shown on the page; HasTotal is false when
	// the counter is missing.
	Total    int
	HasTotal bool
}

// Detail holds the fields of a disc detail page plus the links that decide
// which stages follow.
type Detail struct {
	PageID          string
	Title           string
	SubheadingTitle string
	Production      string
	ProductionYear  string
	Runtime         string
	AgeRating       string
	ReleaseDate     string
	Description     string
	Genres          []string

	Specs   models.TechSpecs
	Pricing models.Pricing
	Covers  models.Covers

	// People is filled from the inline credits when the page has no
	// dedicated cast and crew page.
	People *models.People

	UPC            string
	BuyLink        string
	ScreenshotsURL string
	CastCrewURL    string
}

// PriceInfo is what the price tracker knows about a product.
type PriceInfo struct {
	Identifiers models.Identifiers
	History     models.PriceHistory
}

// Listing is one marketplace search result.
type Listing struct {
	Title     string
	URL       string
	ProductID string
}
