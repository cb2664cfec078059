package scraper

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/maltedev/bluray-scraper/internal/fetch"
	"github.com/maltedev/bluray-scraper/internal/models"
	"github.com/maltedev/bluray-scraper/internal/parser"
)

const testOrigin = "https://catalog.test"

// fakeFetcher serves canned responses by URL and records every request.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*fetch.Response
	requests  []fetch.Request
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string]*fetch.Response)}
}

func (f *fakeFetcher) page(url, body string) {
	f.respond(url, http.StatusOK, body, url)
}

func (f *fakeFetcher) respond(url string, status int, body, finalURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = &fetch.Response{StatusCode: status, Body: []byte(body), FinalURL: finalURL}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if resp, ok := f.responses[req.URL]; ok {
		return resp, nil
	}
	return &fetch.Response{StatusCode: http.StatusNotFound, FinalURL: req.URL}, nil
}

func (f *fakeFetcher) fetched(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.URL == url {
			return true
		}
	}
	return false
}

func (f *fakeFetcher) request(url string) (fetch.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.URL == url {
			return r, true
		}
	}
	return fetch.Request{}, false
}

// fakeExtractor maps page bodies to parse results. A body of "dead" fails the
// liveness check.
type fakeExtractor struct {
	lists       map[string]*parser.ListPage
	details     map[string]*parser.Detail
	screenshots map[string][]string
	people      map[string]*models.People
	prices      map[string]*parser.PriceInfo
	listings    map[string][]parser.Listing
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		lists:       make(map[string]*parser.ListPage),
		details:     make(map[string]*parser.Detail),
		screenshots: make(map[string][]string),
		people:      make(map[string]*models.People),
		prices:      make(map[string]*parser.PriceInfo),
		listings:    make(map[string][]parser.Listing),
	}
}

func (e *fakeExtractor) IsLive(body []byte) bool {
	return string(body) != "dead"
}

func (e *fakeExtractor) ListPage(body []byte, _ string) (*parser.ListPage, error) {
	if p, ok := e.lists[string(body)]; ok {
		return p, nil
	}
	return &parser.ListPage{}, nil
}

func (e *fakeExtractor) Detail(body []byte, pageURL string) (*parser.Detail, error) {
	if d, ok := e.details[string(body)]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("no detail fixture for %s", pageURL)
}

func (e *fakeExtractor) Screenshots(body []byte, _ bool) ([]string, error) {
	return e.screenshots[string(body)], nil
}

func (e *fakeExtractor) CastCrew(body []byte) (*models.People, error) {
	return e.people[string(body)], nil
}

func (e *fakeExtractor) PriceTracker(body []byte) (*parser.PriceInfo, error) {
	return e.prices[string(body)], nil
}

func (e *fakeExtractor) Marketplace(body []byte, limit int) ([]parser.Listing, error) {
	l := e.listings[string(body)]
	if len(l) > limit {
		l = l[:limit]
	}
	return l, nil
}

// collector gathers emitted records.
type collector struct {
	mu      sync.Mutex
	records map[string]*models.Record
}

func newCollector() *collector {
	return &collector{records: make(map[string]*models.Record)}
}

func (c *collector) emit(_ context.Context, rec *models.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.SourceURL] = rec
	return nil
}

func (c *collector) get(url string) *models.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[url]
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func searchURL(year, page int) string {
	return SeriesBluray.SearchURL(testOrigin, year, page)
}

func testOptions(workers int) Options {
	opts := DefaultOptions()
	opts.Origin = testOrigin
	opts.Workers = workers
	opts.PriceTrackerURL = "https://tracker.test"
	opts.MarketplaceURL = "https://market.test"
	return opts
}
