package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/bluray-scraper/internal/assets"
	"github.com/maltedev/bluray-scraper/internal/fetch"
	"github.com/maltedev/bluray-scraper/internal/matcher"
	"github.com/maltedev/bluray-scraper/internal/parser"
	"github.com/maltedev/bluray-scraper/internal/queue"
)

const (
	priorityListPage = 10
	priorityDetail   = 0
)

var asinRe = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// Crawler walks the catalog search for a set of years and runs the stage
// chain for every disc it finds.
type Crawler struct {
	fetcher   fetch.Fetcher
	extractor parser.Extractor
	policy    *assets.Policy
	opts      Options
	logger    *slog.Logger
}

func New(fetcher fetch.Fetcher, extractor parser.Extractor, opts Options, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.Origin == "" {
		opts.Origin = defaults.Origin
	}
	opts.Origin = strings.TrimRight(opts.Origin, "/")
	if opts.Series == "" {
		opts.Series = defaults.Series
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaults.PageSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.MarketplaceMaxResults <= 0 {
		opts.MarketplaceMaxResults = defaults.MarketplaceMaxResults
	}
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = matcher.DefaultThreshold
	}

	return &Crawler{
		fetcher:   fetcher,
		extractor: extractor,
		policy:    assets.NewPolicy(opts.Origin, opts.KnownBad),
		opts:      opts,
		logger:    logger.With("component", "crawler"),
	}
}

// Crawl runs until every discovered item is done or the run aborts. On abort
// the returned error wraps ErrAborted and the reason; the summary is always
// set.
func (c *Crawler) Crawl(ctx context.Context, run *Run, years []int) (*Summary, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	run.latch.bind(cancel)

	summary := &Summary{RunID: run.ID, Years: years, StartedAt: time.Now()}
	c.logger.Info("starting crawl",
		"run_id", run.ID,
		"series", c.opts.Series,
		"country", c.opts.Country,
		"years", years,
		"known_urls", run.Progress.Len(),
		"workers", c.opts.Workers)

	for _, year := range years {
		run.push(&queue.Task{
			Kind:     queue.KindListPage,
			URL:      c.opts.Series.SearchURL(c.opts.Origin, year, 0),
			Year:     year,
			Page:     0,
			Priority: priorityListPage,
		})
	}

	closed := make(chan struct{})
	go func() {
		run.pending.Wait()
		run.queue.Close()
		close(closed)
	}()

	var g errgroup.Group
	for i := 0; i < c.opts.Workers; i++ {
		g.Go(func() error {
			return c.worker(ctx, run)
		})
	}
	err := g.Wait()

	// tasks left behind by an abort or cancellation are dropped
	if dropped := run.queue.Drain(); len(dropped) > 0 {
		c.logger.Info("dropping queued tasks", "run_id", run.ID, "count", len(dropped))
		for range dropped {
			run.pending.Done()
		}
	}
	<-closed

	summary.FinishedAt = time.Now()
	summary.Stats = run.Stats()

	if reason := run.Aborted(); reason != nil {
		summary.Aborted = true
		summary.AbortReason = reason.Error()
		c.logger.Error("crawl aborted", "run_id", run.ID, "reason", reason, "emitted", summary.Stats.Emitted)
		return summary, fmt.Errorf("%w: %w", ErrAborted, reason)
	}
	if err != nil {
		return summary, err
	}
	if ctx.Err() != nil {
		c.logger.Warn("crawl interrupted", "run_id", run.ID, "emitted", summary.Stats.Emitted)
		return summary, context.Cause(ctx)
	}

	c.logger.Info("crawl finished",
		"run_id", run.ID,
		"list_pages", summary.Stats.ListPages,
		"dispatched", summary.Stats.Dispatched,
		"emitted", summary.Stats.Emitted,
		"failed", summary.Stats.Failed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

func (c *Crawler) worker(ctx context.Context, run *Run) error {
	for {
		task, err := run.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch task.Kind {
		case queue.KindListPage:
			c.handleListPage(ctx, run, task)
		case queue.KindDetail:
			c.handleDetail(ctx, run, task)
		}
		run.pending.Done()
	}
}

func (c *Crawler) cookies() []*http.Cookie {
	return []*http.Cookie{
		{Name: "country", Value: c.opts.Country},
		{Name: "listlayout_7", Value: "simple"},
		{Name: "listlayout_21", Value: "simple"},
	}
}

func (c *Crawler) abort(run *Run, reason error) {
	if run.latch.Trip(reason) {
		c.logger.Error("aborting crawl", "run_id", run.ID, "reason", reason)
	}
}

// fetchCatalog fetches a catalog page. A 403 or a page without the site's
// anchor trips the abort latch.
func (c *Crawler) fetchCatalog(ctx context.Context, run *Run, pageURL string) (*fetch.Response, error) {
	if run.latch.Tripped() {
		return nil, ErrAborted
	}

	resp, err := c.fetcher.Fetch(ctx, fetch.Request{URL: pageURL, Cookies: c.cookies()})
	if err != nil {
		if run.latch.Tripped() {
			return nil, ErrAborted
		}
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		c.abort(run, fmt.Errorf("%w: HTTP 403 from %s", ErrBlocked, pageURL))
		return nil, ErrAborted
	case http.StatusNotFound:
		return resp, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrUnexpectedStatus, resp.StatusCode, pageURL)
	}

	if !c.extractor.IsLive(resp.Body) {
		c.abort(run, fmt.Errorf("%w: %s", ErrNotLive, pageURL))
		return nil, ErrAborted
	}
	return resp, nil
}

func (c *Crawler) handleListPage(ctx context.Context, run *Run, task *queue.Task) {
	resp, err := c.fetchCatalog(ctx, run, task.URL)
	if err != nil {
		if !errors.Is(err, ErrAborted) && ctx.Err() == nil {
			c.logger.Warn("list page failed", "url", task.URL, "year", task.Year, "page", task.Page, "error", err)
		}
		return
	}

	page, err := c.extractor.ListPage(resp.Body, task.URL)
	if err != nil {
		c.logger.Warn("failed to parse list page", "url", task.URL, "error", err)
		return
	}
	run.stats.listPages.Add(1)

	if task.Page == 0 {
		if page.HasTotal {
			pages := (page.Total + c.opts.PageSize - 1) / c.opts.PageSize
			c.logger.Info("found titles", "year", task.Year, "total", page.Total, "pages", pages)
			for p := 1; p < pages; p++ {
				run.push(&queue.Task{
					Kind:     queue.KindListPage,
					URL:      c.opts.Series.SearchURL(c.opts.Origin, task.Year, p),
					Year:     task.Year,
					Page:     p,
					Priority: priorityListPage,
				})
			}
		} else {
			c.logger.Warn("result count missing, crawling first page only", "year", task.Year, "url", task.URL)
		}
	} else if len(page.Links) == 0 {
		c.logger.Debug("empty result page", "year", task.Year, "page", task.Page)
		return
	}

	for _, link := range page.Links {
		run.stats.linksFound.Add(1)
		if !run.Progress.Add(link) {
			run.stats.duplicates.Add(1)
			continue
		}
		if run.push(&queue.Task{
			Kind:     queue.KindDetail,
			URL:      link,
			Year:     task.Year,
			Priority: priorityDetail,
		}) {
			run.stats.dispatched.Add(1)
		}
	}
}

func (c *Crawler) handleDetail(ctx context.Context, run *Run, task *queue.Task) {
	a := NewAssembly(task.URL, strconv.Itoa(task.Year), c.opts.Country)

	for !a.Done() {
		stage := a.Stage()
		if err := c.step(ctx, run, a); err != nil {
			if errors.Is(err, ErrAborted) || ctx.Err() != nil {
				c.logger.Debug("item abandoned", "url", task.URL, "stage", stage)
				return
			}
			run.stats.failed.Add(1)
			c.logger.Warn("item failed", "url", task.URL, "stage", stage, "error", err)
			return
		}
	}

	rec, err := a.Finish()
	if err != nil {
		run.stats.failed.Add(1)
		c.logger.Error("failed to finish item", "url", task.URL, "error", err)
		return
	}
	if err := run.Emit(ctx, rec); err != nil {
		if !errors.Is(err, ErrAborted) {
			c.logger.Warn("failed to emit record", "url", task.URL, "error", err)
		}
		return
	}
	c.logger.Debug("item done", "url", task.URL, "title", rec.Title, "warnings", len(rec.Warnings))
}

// step runs the current stage. Only DETAIL failures and aborts are returned;
// other stages record a warning and move on.
func (c *Crawler) step(ctx context.Context, run *Run, a *Assembly) error {
	var err error
	switch a.Stage() {
	case StageDetail:
		return c.detail(ctx, run, a)
	case StageScreenshots:
		err = c.screenshots(ctx, run, a)
	case StageCastCrew:
		err = c.castCrew(ctx, run, a)
	case StageMarketplaceIdentifier:
		err = c.marketplaceIdentifier(ctx, a)
	case StagePriceLookup:
		err = c.priceLookup(ctx, a)
	case StageMarketplaceMatch:
		err = c.marketplaceMatch(ctx, a)
	default:
		return fmt.Errorf("%w: no handler for %s", ErrStageOrder, a.Stage())
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAborted) || ctx.Err() != nil || errors.Is(err, ErrStageOrder) {
		return err
	}
	c.logger.Warn("stage skipped", "source_url", a.record.SourceURL, "stage", a.Stage(), "error", err)
	return a.Skip(err)
}

func (c *Crawler) detail(ctx context.Context, run *Run, a *Assembly) error {
	pageURL := a.record.SourceURL
	resp, err := c.fetchCatalog(ctx, run, pageURL)
	if errors.Is(err, ErrNotFound) {
		run.stats.notFound.Add(1)
		c.logger.Info("detail page not found", "url", pageURL)
		return a.MarkNotFound()
	}
	if err != nil {
		return err
	}

	d, err := c.extractor.Detail(resp.Body, pageURL)
	if err != nil {
		return fmt.Errorf("failed to parse detail page: %w", err)
	}
	return a.MergeDetail(d, resp.Body)
}

func (c *Crawler) screenshots(ctx context.Context, run *Run, a *Assembly) error {
	sc := a.Context()
	body, dedicated := sc.DetailBody, sc.ScreenshotsURL != ""
	if dedicated {
		resp, err := c.fetchCatalog(ctx, run, sc.ScreenshotsURL)
		if err != nil {
			return err
		}
		body = resp.Body
	}

	raw, err := c.extractor.Screenshots(body, dedicated)
	if err != nil {
		return fmt.Errorf("failed to parse screenshots: %w", err)
	}
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		urls = append(urls, c.policy.Screenshot(u))
	}
	return a.MergeScreenshots(c.policy.Filter(urls))
}

func (c *Crawler) castCrewURL(sc StageContext) string {
	if sc.PageID == "" {
		return sc.CastCrewURL
	}
	return fmt.Sprintf("%s/movies/movies.php?id=%s&action=showcastandcrew&page=", c.opts.Origin, url.QueryEscape(sc.PageID))
}

func (c *Crawler) castCrew(ctx context.Context, run *Run, a *Assembly) error {
	resp, err := c.fetchCatalog(ctx, run, c.castCrewURL(a.Context()))
	if err != nil {
		return err
	}
	people, err := c.extractor.CastCrew(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse cast and crew: %w", err)
	}
	return a.MergeCastCrew(people)
}

// marketplaceIdentifier follows the buy link; the marketplace id is the last
// path segment of where it lands.
func (c *Crawler) marketplaceIdentifier(ctx context.Context, a *Assembly) error {
	buyLink := a.Context().BuyLink
	resp, err := c.fetcher.Fetch(ctx, fetch.Request{URL: buyLink})
	if err != nil {
		return fmt.Errorf("failed to follow buy link: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d from buy link", ErrUnexpectedStatus, resp.StatusCode)
	}

	asin := asinFromURL(resp.FinalURL)
	if asin == "" {
		return fmt.Errorf("no marketplace id in %s", resp.FinalURL)
	}
	return a.MergeMarketplaceIdentifier(asin)
}

func asinFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if asinRe.MatchString(segments[i]) {
			return segments[i]
		}
	}
	return ""
}

func (c *Crawler) priceLookup(ctx context.Context, a *Assembly) error {
	trackerURL := strings.TrimRight(c.opts.PriceTrackerURL, "/") + "/product/" + url.PathEscape(a.ASIN())
	resp, err := c.fetcher.Fetch(ctx, fetch.Request{URL: trackerURL, UseProxy: true})
	if err != nil {
		return fmt.Errorf("failed to fetch price tracker: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d from price tracker", ErrUnexpectedStatus, resp.StatusCode)
	}

	info, err := c.extractor.PriceTracker(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse price tracker: %w", err)
	}
	return a.MergePrice(info)
}

func (c *Crawler) marketplaceMatch(ctx context.Context, a *Assembly) error {
	searchURL := strings.TrimRight(c.opts.MarketplaceURL, "/") + "/sch/i.html?_nkw=" + url.QueryEscape(a.SearchKey())
	resp, err := c.fetcher.Fetch(ctx, fetch.Request{URL: searchURL, UseProxy: true})
	if err != nil {
		return fmt.Errorf("failed to search marketplace: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d from marketplace", ErrUnexpectedStatus, resp.StatusCode)
	}

	listings, err := c.extractor.Marketplace(resp.Body, c.opts.MarketplaceMaxResults)
	if err != nil {
		return fmt.Errorf("failed to parse marketplace results: %w", err)
	}
	candidates := make([]matcher.Candidate, 0, len(listings))
	for _, l := range listings {
		candidates = append(candidates, matcher.Candidate{Title: l.Title, Ref: l.ProductID})
	}

	best, result := matcher.Best(a.Title(), candidates, c.opts.MatchThreshold)
	if best < 0 {
		c.logger.Debug("no marketplace match", "title", a.Title(), "candidates", len(candidates))
		return a.MergeMatch("")
	}
	c.logger.Debug("marketplace match", "title", a.Title(), "listing", listings[best].Title, "score", result.Score)
	return a.MergeMatch(listings[best].ProductID)
}
