package assets

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/bluray-scraper/internal/fetch"
)

const img = "https://images.static-bluray.com/reviews/1234/"

func TestFallbacks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "high res",
			in:   img + "x_1080p.jpg",
			want: []string{img + "x_1080p.jpg", img + "x_large.jpg", img + "x.jpg", img + "x_tn.jpg"},
		},
		{
			name: "large",
			in:   img + "y_large.jpg",
			want: []string{img + "y_large.jpg", img + "y.jpg", img + "y_tn.jpg"},
		},
		{
			name: "no marker",
			in:   img + "z.jpg",
			want: []string{img + "z.jpg", img + "z_tn.jpg"},
		},
		{
			name: "thumbnail has nothing lower",
			in:   img + "w_tn.jpg",
			want: []string{img + "w_tn.jpg"},
		},
		{
			name: "marker in directory untouched",
			in:   "https://host/_large/shot_1080p.jpg",
			want: []string{
				"https://host/_large/shot_1080p.jpg",
				"https://host/_large/shot_large.jpg",
				"https://host/_large/shot.jpg",
				"https://host/_large/shot_tn.jpg",
			},
		},
		{
			name: "query string kept",
			in:   "https://host/covers/12_front.jpg?t=99",
			want: []string{"https://host/covers/12_front.jpg?t=99", "https://host/covers/12_front_tn.jpg?t=99"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fallbacks(tt.in))
		})
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "x", BaseName(img+"x_1080p.jpg"))
	assert.Equal(t, "y", BaseName(img+"y_large.jpg"))
	assert.Equal(t, "w", BaseName(img+"w_tn.jpg"))
	assert.Equal(t, "z", BaseName(img+"z.jpg"))
	assert.Equal(t, "12_front", BaseName("https://host/covers/12_front.jpg?t=99"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "x_1080p.jpg", FileName(img+"x_1080p.jpg"))
	assert.Equal(t, "12_front.jpg", FileName("https://host/covers/12_front.jpg?t=99"))
}

func TestHighRes(t *testing.T) {
	tests := map[string]string{
		img + "a_tn.jpg":    img + "a_1080p.jpg",
		img + "a_large.jpg": img + "a_1080p.jpg",
		img + "a.jpg":       img + "a_1080p.jpg",
		img + "a_1080p.jpg": img + "a_1080p.jpg",
		"/images/reviews/5/a": "/images/reviews/5/a",
	}
	for in, want := range tests {
		assert.Equal(t, want, HighRes(in), in)
	}
}

func TestPolicy_Resolve(t *testing.T) {
	p := NewPolicy("https://www.blu-ray.com/", nil)

	assert.Equal(t,
		"https://www.blu-ray.com/images/reviews/77/shot_1080p.jpg",
		p.Resolve("/images/reviews/77/shot.jpg"))
	assert.Equal(t,
		"https://www.blu-ray.com/images/reviews/77/shot_1080p.jpg",
		p.Resolve("/images/reviews/77/shot_1080p.jpg"))
	assert.Equal(t,
		"https://images.static-bluray.com/reviews/1.jpg",
		p.Resolve("//images.static-bluray.com/reviews/1.jpg"))
	assert.Equal(t, img+"x.jpg", p.Resolve(img+"x.jpg"))

	assert.Equal(t,
		"https://www.blu-ray.com/images/reviews/77/shot_1080p.jpg",
		p.Screenshot("/images/reviews/77/shot_tn.jpg"))
}

func TestPolicy_Filter(t *testing.T) {
	p := NewPolicy("https://www.blu-ray.com", []string{"1158_2", "1158_3"})

	got := p.Filter([]string{
		img + "1158_2_1080p.jpg",
		img + "a_1080p.jpg",
		"",
		img + "a_1080p.jpg",
		img + "1158_3.jpg",
		img + "b_1080p.jpg",
	})
	assert.Equal(t, []string{img + "a_1080p.jpg", img + "b_1080p.jpg"}, got)
}

type stubFetcher struct {
	responses map[string]*fetch.Response
	calls     []string
}

func (s *stubFetcher) Fetch(_ context.Context, req fetch.Request) (*fetch.Response, error) {
	s.calls = append(s.calls, req.URL)
	if resp, ok := s.responses[req.URL]; ok {
		return resp, nil
	}
	return nil, errors.New("connection reset")
}

func TestDownload(t *testing.T) {
	ok := &fetch.Response{StatusCode: http.StatusOK, Body: []byte("jpeg"), Header: http.Header{"Content-Type": {"image/jpeg"}}}

	t.Run("falls back in order", func(t *testing.T) {
		f := &stubFetcher{responses: map[string]*fetch.Response{
			img + "x_large.jpg": {StatusCode: http.StatusNotFound},
			img + "x.jpg":       ok,
		}}
		cur := NewCursor(Fallbacks(img + "x_1080p.jpg"))

		asset, err := Download(context.Background(), f, cur, slog.Default())
		require.NoError(t, err)
		assert.Equal(t, img+"x.jpg", asset.URL)
		assert.Equal(t, "image/jpeg", asset.ContentType)
		assert.Equal(t, []string{img + "x_1080p.jpg", img + "x_large.jpg", img + "x.jpg"}, f.calls)
		assert.Equal(t, []string{img + "x_tn.jpg"}, cur.Remaining())
	})

	t.Run("empty body counts as failure", func(t *testing.T) {
		f := &stubFetcher{responses: map[string]*fetch.Response{
			img + "z.jpg":    {StatusCode: http.StatusOK},
			img + "z_tn.jpg": ok,
		}}
		asset, err := Download(context.Background(), f, NewCursor(Fallbacks(img+"z.jpg")), slog.Default())
		require.NoError(t, err)
		assert.Equal(t, img+"z_tn.jpg", asset.URL)
	})

	t.Run("exhausted", func(t *testing.T) {
		f := &stubFetcher{}
		_, err := Download(context.Background(), f, NewCursor(Fallbacks(img+"y_large.jpg")), slog.Default())
		assert.ErrorIs(t, err, ErrFallbacksExhausted)
		assert.Len(t, f.calls, 3)
	})
}
