package scraper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAborted          = errors.New("crawl aborted")
	ErrBlocked          = errors.New("blocked by catalog site")
	ErrNotLive          = errors.New("page failed liveness check")
	ErrNotFound         = errors.New("page not found")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	ErrStageOrder       = errors.New("stage result out of order")
)

// Series selects which catalog section is crawled.
type Series string

const (
	SeriesBluray   Series = "bluray"
	SeriesBluray3D Series = "3d"
	SeriesDVD      Series = "dvd"
)

func ParseSeries(s string) (Series, error) {
	switch Series(strings.ToLower(strings.TrimSpace(s))) {
	case SeriesBluray, "blu-ray", "":
		return SeriesBluray, nil
	case SeriesBluray3D, "bluray3d", "3d-bluray":
		return SeriesBluray3D, nil
	case SeriesDVD:
		return SeriesDVD, nil
	}
	return "", fmt.Errorf("unknown series %q", s)
}

// Label is the upper-case name used in output file names.
func (s Series) Label() string {
	return strings.ToUpper(string(s))
}

// SearchURL is the catalog search for releases of year, 0-based page.
func (s Series) SearchURL(origin string, year, page int) string {
	origin = strings.TrimRight(origin, "/")
	switch s {
	case SeriesDVD:
		return fmt.Sprintf("%s/dvd/search.php?releaseyear=%d&submit=Search&action=search&page=%d", origin, year, page)
	case SeriesBluray3D:
		return fmt.Sprintf("%s/movies/search.php?releaseyear=%d&other_bluray3d=1&submit=Search&action=search&page=%d", origin, year, page)
	default:
		return fmt.Sprintf("%s/movies/search.php?releaseyear=%d&submit=Search&action=search&page=%d", origin, year, page)
	}
}

type Options struct {
	Origin                string
	Series                Series
	Country               string
	PageSize              int
	Workers               int
	PriceTrackerURL       string
	MarketplaceURL        string
	MarketplaceMaxResults int
	MatchThreshold        float64
	KnownBad              []string
}

func DefaultOptions() Options {
	return Options{
		Origin:                "https://www.blu-ray.com",
		Series:                SeriesBluray,
		Country:               "us",
		PageSize:              20,
		Workers:               8,
		PriceTrackerURL:       "https://camelcamelcamel.com",
		MarketplaceURL:        "https://www.ebay.com",
		MarketplaceMaxResults: 3,
		MatchThreshold:        80,
		KnownBad:              []string{"1158_2", "1158_3"},
	}
}
