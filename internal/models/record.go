package models

import (
	"slices"
)

// Record is the accumulated data for one disc title. SourceURL identifies
// the record and is only set by NewRecord.
type Record struct {
	SourceURL    string `json:"source_url"`
	ReleaseYear  string `json:"release_year"`
	Country      string `json:"country,omitempty"`
	MissingLinks bool   `json:"missing_links"`

	Title           string `json:"title,omitempty"`
	SubheadingTitle string `json:"subheading_title,omitempty"`
	Production      string `json:"production,omitempty"`
	ProductionYear  string `json:"production_year,omitempty"`
	Runtime         string `json:"runtime,omitempty"`
	AgeRating       string `json:"age_rating,omitempty"`
	ReleaseDate     string `json:"release_date,omitempty"`
	Description     string `json:"description,omitempty"`

	Genres []string `json:"genres,omitempty"`

	TechSpecs

	Pricing
	Identifiers
	PriceHistory

	MarketplaceID string `json:"ebay_id,omitempty"`

	People *People `json:"cast_and_crew,omitempty"`

	Covers
	Screenshots []string `json:"screenshot_urls,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

type TechSpecs struct {
	Codec               string   `json:"codec,omitempty"`
	Encoding            string   `json:"encoding,omitempty"`
	Resolution          string   `json:"resolution,omitempty"`
	AspectRatio         string   `json:"aspect_ratio,omitempty"`
	OriginalAspectRatio string   `json:"original_aspect_ratio,omitempty"`
	Audio               string   `json:"audio,omitempty"`
	Subtitles           string   `json:"subtitles,omitempty"`
	Discs               []string `json:"discs,omitempty"`
	Playback            []string `json:"playback,omitempty"`
	Packaging           []string `json:"packaging,omitempty"`
}

// Pricing holds the catalog's own new/used prices.
type Pricing struct {
	NewPrice  string `json:"new_price,omitempty"`
	UsedPrice string `json:"used_price,omitempty"`
}

// Identifiers are external commerce ids. UPC comes from the catalog page,
// TrackerUPC from the price tracker.
type Identifiers struct {
	UPC          string `json:"upc,omitempty"`
	ASIN         string `json:"amazon_id,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ISBN         string `json:"isbn,omitempty"`
	EAN          string `json:"ean,omitempty"`
	TrackerUPC   string `json:"upc_2,omitempty"`
	SKU          string `json:"sku,omitempty"`
}

// PriceHistory is the price tracker's current and average prices.
type PriceHistory struct {
	AmazonCurrentPrice    string `json:"amazon_current_price,omitempty"`
	AmazonAveragePrice    string `json:"amazon_average_price,omitempty"`
	ThirdUsedCurrentPrice string `json:"third_used_current_price,omitempty"`
	ThirdUsedAveragePrice string `json:"third_used_average_price,omitempty"`
}

func (p PriceHistory) IsZero() bool {
	return p == PriceHistory{}
}

func NewRecord(sourceURL, releaseYear, country string) *Record {
	return &Record{
		SourceURL:   sourceURL,
		ReleaseYear: releaseYear,
		Country:     country,
	}
}

// AddScreenshot adds url to the screenshot set.
func (r *Record) AddScreenshot(url string) bool {
	if url == "" || slices.Contains(r.Screenshots, url) {
		return false
	}
	r.Screenshots = append(r.Screenshots, url)
	return true
}

func (r *Record) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Genres = slices.Clone(r.Genres)
	c.Discs = slices.Clone(r.Discs)
	c.Playback = slices.Clone(r.Playback)
	c.Packaging = slices.Clone(r.Packaging)
	c.Screenshots = slices.Clone(r.Screenshots)
	c.Warnings = slices.Clone(r.Warnings)
	if r.People != nil {
		c.People = r.People.Clone()
	}
	return &c
}
