package scraper

import (
	"fmt"

	"github.com/maltedev/bluray-scraper/internal/models"
	"github.com/maltedev/bluray-scraper/internal/parser"
)

// Stage is a step of the per-item chain.
type Stage int

const (
	StageDetail Stage = iota
	StageScreenshots
	StageCastCrew
	StageMarketplaceIdentifier
	StagePriceLookup
	StageMarketplaceMatch
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageDetail:
		return "DETAIL"
	case StageScreenshots:
		return "SCREENSHOTS"
	case StageCastCrew:
		return "CAST_CREW"
	case StageMarketplaceIdentifier:
		return "MARKETPLACE_IDENTIFIER"
	case StagePriceLookup:
		return "PRICE_LOOKUP"
	case StageMarketplaceMatch:
		return "MARKETPLACE_MATCH"
	case StageDone:
		return "DONE"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// StageContext is per-item state that does not belong in the record.
type StageContext struct {
	Stage          Stage
	PageID         string
	DetailBody     []byte
	ScreenshotsURL string
	CastCrewURL    string
	BuyLink        string
}

// Assembly owns one record while its stage chain runs. Stages must be merged
// in chain order and the record is handed out exactly once, by Finish.
type Assembly struct {
	record   *models.Record
	ctx      StageContext
	finished bool
}

func NewAssembly(sourceURL, releaseYear, country string) *Assembly {
	return &Assembly{
		record: models.NewRecord(sourceURL, releaseYear, country),
		ctx:    StageContext{Stage: StageDetail},
	}
}

func (a *Assembly) Stage() Stage {
	return a.ctx.Stage
}

func (a *Assembly) Context() StageContext {
	return a.ctx
}

func (a *Assembly) Done() bool {
	return a.ctx.Stage == StageDone
}

// Title is the canonical title used for marketplace matching.
func (a *Assembly) Title() string {
	return a.record.Title
}

func (a *Assembly) ASIN() string {
	return a.record.ASIN
}

// SearchKey is the UPC the marketplace is searched with. The catalog's own
// UPC wins over the tracker's.
func (a *Assembly) SearchKey() string {
	if a.record.UPC != "" {
		return a.record.UPC
	}
	return a.record.TrackerUPC
}

func (a *Assembly) expect(s Stage) error {
	if a.finished {
		return fmt.Errorf("%w: record already emitted", ErrStageOrder)
	}
	if a.ctx.Stage != s {
		return fmt.Errorf("%w: at %s, got %s result", ErrStageOrder, a.ctx.Stage, s)
	}
	return nil
}

func (a *Assembly) MergeDetail(d *parser.Detail, body []byte) error {
	if err := a.expect(StageDetail); err != nil {
		return err
	}

	r := a.record
	r.Title = d.Title
	r.SubheadingTitle = d.SubheadingTitle
	r.Production = d.Production
	r.ProductionYear = d.ProductionYear
	r.Runtime = d.Runtime
	r.AgeRating = d.AgeRating
	r.ReleaseDate = d.ReleaseDate
	r.Description = d.Description
	r.Genres = d.Genres
	r.TechSpecs = d.Specs
	r.Pricing = d.Pricing
	r.Covers = d.Covers
	r.UPC = d.UPC
	if d.People != nil && d.People.Len() > 0 {
		r.People = d.People.Clone()
	}

	a.ctx.PageID = d.PageID
	a.ctx.DetailBody = body
	a.ctx.ScreenshotsURL = d.ScreenshotsURL
	a.ctx.CastCrewURL = d.CastCrewURL
	a.ctx.BuyLink = d.BuyLink
	a.ctx.Stage = StageScreenshots
	return nil
}

// MarkNotFound ends the chain for a detail page that no longer exists.
func (a *Assembly) MarkNotFound() error {
	if err := a.expect(StageDetail); err != nil {
		return err
	}
	a.record.MissingLinks = true
	a.ctx.Stage = StageDone
	return nil
}

func (a *Assembly) MergeScreenshots(urls []string) error {
	if err := a.expect(StageScreenshots); err != nil {
		return err
	}
	for _, u := range urls {
		a.record.AddScreenshot(u)
	}
	a.ctx.DetailBody = nil
	if a.ctx.CastCrewURL != "" {
		a.ctx.Stage = StageCastCrew
	} else {
		a.afterCredits()
	}
	return nil
}

func (a *Assembly) MergeCastCrew(p *models.People) error {
	if err := a.expect(StageCastCrew); err != nil {
		return err
	}
	if p != nil && p.Len() > 0 {
		if a.record.People == nil {
			a.record.People = models.NewPeople()
		}
		a.record.People.Merge(p)
	}
	a.afterCredits()
	return nil
}

func (a *Assembly) afterCredits() {
	switch {
	case a.ctx.BuyLink != "":
		a.ctx.Stage = StageMarketplaceIdentifier
	case a.SearchKey() != "":
		a.ctx.Stage = StageMarketplaceMatch
	default:
		a.ctx.Stage = StageDone
	}
}

func (a *Assembly) MergeMarketplaceIdentifier(asin string) error {
	if err := a.expect(StageMarketplaceIdentifier); err != nil {
		return err
	}
	a.record.ASIN = asin
	switch {
	case asin != "":
		a.ctx.Stage = StagePriceLookup
	case a.SearchKey() != "":
		a.ctx.Stage = StageMarketplaceMatch
	default:
		a.ctx.Stage = StageDone
	}
	return nil
}

func (a *Assembly) MergePrice(info *parser.PriceInfo) error {
	if err := a.expect(StagePriceLookup); err != nil {
		return err
	}
	if info != nil {
		r := a.record
		ids := info.Identifiers
		setIfEmpty(&r.TrackerUPC, ids.TrackerUPC)
		setIfEmpty(&r.Manufacturer, ids.Manufacturer)
		setIfEmpty(&r.ISBN, ids.ISBN)
		setIfEmpty(&r.EAN, ids.EAN)
		setIfEmpty(&r.SKU, ids.SKU)
		if !info.History.IsZero() {
			r.PriceHistory = info.History
		}
	}
	if a.SearchKey() != "" {
		a.ctx.Stage = StageMarketplaceMatch
	} else {
		a.ctx.Stage = StageDone
	}
	return nil
}

func (a *Assembly) MergeMatch(productID string) error {
	if err := a.expect(StageMarketplaceMatch); err != nil {
		return err
	}
	a.record.MarketplaceID = productID
	a.ctx.Stage = StageDone
	return nil
}

// Skip records why the current stage produced nothing and moves on as if it
// returned an empty result. DETAIL cannot be skipped.
func (a *Assembly) Skip(reason error) error {
	stage := a.ctx.Stage
	if stage == StageDetail || stage == StageDone {
		return fmt.Errorf("%w: cannot skip %s", ErrStageOrder, stage)
	}
	a.record.AddWarning(fmt.Sprintf("%s: %v", stage, reason))

	switch stage {
	case StageScreenshots:
		return a.MergeScreenshots(nil)
	case StageCastCrew:
		return a.MergeCastCrew(nil)
	case StageMarketplaceIdentifier:
		return a.MergeMarketplaceIdentifier("")
	case StagePriceLookup:
		return a.MergePrice(nil)
	default:
		return a.MergeMatch("")
	}
}

// Finish hands out the completed record. It fails before DONE and on a
// second call.
func (a *Assembly) Finish() (*models.Record, error) {
	if a.finished {
		return nil, fmt.Errorf("%w: record already emitted", ErrStageOrder)
	}
	if a.ctx.Stage != StageDone {
		return nil, fmt.Errorf("%w: finish at %s", ErrStageOrder, a.ctx.Stage)
	}
	a.finished = true
	return a.record, nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
