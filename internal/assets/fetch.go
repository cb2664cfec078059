package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maltedev/bluray-scraper/internal/fetch"
)

var ErrFallbacksExhausted = errors.New("all asset variants failed")

// Cursor is the remaining fallback list for one asset.
type Cursor struct {
	remaining []string
	tried     []string
}

func NewCursor(variants []string) *Cursor {
	return &Cursor{remaining: append([]string(nil), variants...)}
}

// Next pops the next variant to try.
func (c *Cursor) Next() (string, bool) {
	if len(c.remaining) == 0 {
		return "", false
	}
	next := c.remaining[0]
	c.remaining = c.remaining[1:]
	c.tried = append(c.tried, next)
	return next, true
}

func (c *Cursor) Remaining() []string {
	return append([]string(nil), c.remaining...)
}

func (c *Cursor) Tried() []string {
	return append([]string(nil), c.tried...)
}

// Asset is a successfully downloaded variant.
type Asset struct {
	URL         string
	Body        []byte
	ContentType string
}

// Download tries each variant left on the cursor in order and returns the
// first one served with a non-empty 200 response.
func Download(ctx context.Context, f fetch.Fetcher, cur *Cursor, logger *slog.Logger) (*Asset, error) {
	for {
		variant, ok := cur.Next()
		if !ok {
			return nil, fmt.Errorf("%w: tried %v", ErrFallbacksExhausted, cur.Tried())
		}

		resp, err := f.Fetch(ctx, fetch.Request{URL: variant})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Debug("asset variant failed", "url", variant, "error", err)
			continue
		}
		if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
			logger.Debug("asset variant unavailable", "url", variant, "status", resp.StatusCode)
			continue
		}

		return &Asset{
			URL:         variant,
			Body:        resp.Body,
			ContentType: resp.Header.Get("Content-Type"),
		}, nil
	}
}
