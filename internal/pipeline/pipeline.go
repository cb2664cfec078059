package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/bluray-scraper/internal/assets"
	"github.com/maltedev/bluray-scraper/internal/fetch"
	"github.com/maltedev/bluray-scraper/internal/models"
	"github.com/maltedev/bluray-scraper/internal/objectstore"
)

const defaultContentType = "image/jpeg"

var errKnownBad = errors.New("known placeholder image")

// Sink receives records after their assets were stored.
type Sink func(ctx context.Context, rec *models.Record) error

type Options struct {
	KeyPrefix string
	// Workers is the number of records processed at once.
	Workers int
	// AssetConcurrency bounds downloads per record.
	AssetConcurrency int
	// KnownBad lists placeholder image fragments; covers matching one are
	// dropped without a download.
	KnownBad []string
}

type Stats struct {
	Records  int64 `json:"records"`
	Uploaded int64 `json:"uploaded"`
	Failed   int64 `json:"failed"`
}

// Pipeline downloads the cover and screenshot images of finished records,
// stores them and rewrites the record to point at the stored copies.
type Pipeline struct {
	fetcher fetch.Fetcher
	store   objectstore.Store
	policy  *assets.Policy
	opts    Options
	logger  *slog.Logger

	records, uploaded, failed atomic.Int64
}

func New(fetcher fetch.Fetcher, store objectstore.Store, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.AssetConcurrency <= 0 {
		opts.AssetConcurrency = 4
	}
	return &Pipeline{
		fetcher: fetcher,
		store:   store,
		policy:  assets.NewPolicy("", opts.KnownBad),
		opts:    opts,
		logger:  logger.With("component", "asset_pipeline"),
	}
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Records:  p.records.Load(),
		Uploaded: p.uploaded.Load(),
		Failed:   p.failed.Load(),
	}
}

// Sanitize turns a title into a path segment: hyphens and slashes become
// word breaks, other punctuation is dropped, words are joined by underscores.
func Sanitize(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '/' || r == '\\':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), "_")
}

// Key is the storage key of asset for rec.
func (p *Pipeline) Key(rec *models.Record, asset string) string {
	title := Sanitize(rec.Title)
	if title == "" {
		title = "untitled"
	}
	year := rec.ReleaseYear
	if year == "" {
		year = "unknown"
	}
	return path.Join(p.opts.KeyPrefix, year, title, asset)
}

// Run processes records from in until it is closed or ctx is done and hands
// each result to sink.
func (p *Pipeline) Run(ctx context.Context, in <-chan *models.Record, sink Sink) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case rec, ok := <-in:
					if !ok {
						return nil
					}
					out := p.Process(ctx, rec)
					if sink == nil {
						continue
					}
					if err := sink(ctx, out); err != nil {
						return fmt.Errorf("failed to store record %s: %w", out.SourceURL, err)
					}
				}
			}
		})
	}
	return g.Wait()
}

type assetResult struct {
	url string
	err error
}

// Process returns a copy of rec whose asset URLs point at stored objects.
// Assets that could not be stored are removed and noted as warnings.
func (p *Pipeline) Process(ctx context.Context, rec *models.Record) *models.Record {
	out := rec.Clone()
	p.records.Add(1)

	covers := make([]assetResult, len(models.CoverRoles))
	shots := make([]assetResult, len(out.Screenshots))

	var g errgroup.Group
	g.SetLimit(p.opts.AssetConcurrency)

	for i, role := range models.CoverRoles {
		src := out.Covers.Get(role)
		if src == "" {
			continue
		}
		if p.policy.IsKnownBad(src) {
			covers[i].err = errKnownBad
			continue
		}
		// covers have no size variants, the page links the only copy
		g.Go(func() error {
			covers[i].url, covers[i].err = p.storeAsset(ctx, out, []string{src})
			return nil
		})
	}
	for i, src := range out.Screenshots {
		g.Go(func() error {
			shots[i].url, shots[i].err = p.storeAsset(ctx, out, assets.Fallbacks(src))
			return nil
		})
	}
	g.Wait()

	for i, role := range models.CoverRoles {
		src := out.Covers.Get(role)
		if src == "" {
			continue
		}
		if err := covers[i].err; err != nil {
			p.dropped(out, "cover "+string(role), src, err)
			out.Covers.Set(role, "")
			continue
		}
		out.Covers.Set(role, covers[i].url)
	}

	sources := out.Screenshots
	out.Screenshots = nil
	for i, src := range sources {
		if err := shots[i].err; err != nil {
			p.dropped(out, "screenshot "+assets.FileName(src), src, err)
			continue
		}
		out.AddScreenshot(shots[i].url)
	}

	return out
}

// dropped records an asset the item goes on without.
func (p *Pipeline) dropped(rec *models.Record, asset, src string, err error) {
	p.logger.Warn("asset dropped",
		"source_url", rec.SourceURL,
		"asset", asset,
		"url", src,
		"error", err)
	rec.AddWarning(fmt.Sprintf("%s: %v", asset, err))
}

func (p *Pipeline) storeAsset(ctx context.Context, rec *models.Record, variants []string) (string, error) {
	asset, err := assets.Download(ctx, p.fetcher, assets.NewCursor(variants), p.logger)
	if err != nil {
		p.failed.Add(1)
		return "", err
	}

	contentType := asset.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	key := p.Key(rec, assets.FileName(asset.URL))

	url, err := p.store.Put(ctx, key, asset.Body, contentType)
	if err != nil {
		p.failed.Add(1)
		return "", err
	}
	p.uploaded.Add(1)
	p.logger.Debug("stored asset", "key", key, "source", asset.URL)
	return url, nil
}
