package assets

import (
	"regexp"
	"strings"
)

// Size markers embedded in catalog image names, highest fidelity first.
const (
	MarkerHighRes = "_1080p"
	MarkerLarge   = "_large"
	MarkerThumb   = "_tn"
)

// ReviewImagePrefix is the site-relative path screenshots are served under.
const ReviewImagePrefix = "/images/reviews/"

var nameRe = regexp.MustCompile(`^(.*?)(_1080p|_large|_tn)?(\.[A-Za-z0-9]+)?$`)

// Policy derives fallback variants for catalog images.
type Policy struct {
	// Origin is prepended to relative review-image paths, e.g. https://www.blu-ray.com.
	Origin string
	// KnownBad lists URL fragments identifying placeholder images.
	KnownBad []string
}

// NewPolicy returns a policy resolving relative paths against origin.
func NewPolicy(origin string, knownBad []string) *Policy {
	return &Policy{
		Origin:   strings.TrimRight(origin, "/"),
		KnownBad: knownBad,
	}
}

type nameParts struct {
	dir    string
	stem   string
	marker string
	ext    string
	query  string
}

func split(raw string) nameParts {
	var p nameParts
	rest := raw
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		p.query = rest[i:]
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		p.dir = rest[:i+1]
		rest = rest[i+1:]
	}
	m := nameRe.FindStringSubmatch(rest)
	p.stem, p.marker, p.ext = m[1], m[2], m[3]
	return p
}

func (p nameParts) with(marker string) string {
	return p.dir + p.stem + marker + p.ext + p.query
}

// BaseName returns the image name without size marker or extension.
func BaseName(raw string) string {
	return split(raw).stem
}

// FileName returns the last path segment of raw without query string.
func FileName(raw string) string {
	p := split(raw)
	return p.stem + p.marker + p.ext
}

// Fallbacks lists the variants to try for raw, starting with raw itself and
// degrading in fidelity. Only the file name is rewritten.
func Fallbacks(raw string) []string {
	p := split(raw)
	switch p.marker {
	case MarkerHighRes:
		return []string{raw, p.with(MarkerLarge), p.with(""), p.with(MarkerThumb)}
	case MarkerLarge:
		return []string{raw, p.with(""), p.with(MarkerThumb)}
	case MarkerThumb:
		return []string{raw}
	default:
		return []string{raw, p.with(MarkerThumb)}
	}
}

// HighRes rewrites raw to its _1080p variant. Thumbnail and large markers are
// replaced; an unmarked name gets the marker inserted before its extension.
func HighRes(raw string) string {
	p := split(raw)
	if p.ext == "" && p.marker == "" {
		return raw
	}
	return p.with(MarkerHighRes)
}

// IsKnownBad reports whether raw contains one of the placeholder fragments.
func (p *Policy) IsKnownBad(raw string) bool {
	for _, frag := range p.KnownBad {
		if frag != "" && strings.Contains(raw, frag) {
			return true
		}
	}
	return false
}

// Filter drops empty, duplicate and known-bad URLs, preserving order.
func (p *Policy) Filter(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || p.IsKnownBad(u) {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Resolve makes review-image paths absolute against the policy origin and
// makes sure the chosen variant carries the high-res marker exactly once.
func (p *Policy) Resolve(raw string) string {
	switch {
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, ReviewImagePrefix):
		return p.Origin + HighRes(raw)
	}
	return raw
}

// Screenshot normalizes a screenshot URL found on a page to the absolute
// high-res variant that should be requested first.
func (p *Policy) Screenshot(raw string) string {
	return p.Resolve(HighRes(raw))
}
