package matcher

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultThreshold is the minimum score (0-100) for two titles to match.
const DefaultThreshold = 80.0

// Result is the outcome of comparing a canonical title to one candidate.
type Result struct {
	Match bool
	Score float64
}

// Match scores how many of the canonical title's words appear in the
// candidate title. The score is the percentage of canonical words found;
// a canonical title without words always scores 0.
func Match(canonical, candidate string, threshold float64) Result {
	want := Tokenize(canonical)
	if len(want) == 0 {
		return Result{}
	}

	have := make(map[string]struct{}, len(want))
	for _, w := range Tokenize(candidate) {
		have[w] = struct{}{}
	}

	found := 0
	for _, w := range want {
		if _, ok := have[w]; ok {
			found++
		}
	}

	score := float64(found) / float64(len(want)) * 100
	return Result{Match: score >= threshold, Score: score}
}

// Tokenize lowercases s, drops everything that is not a letter, digit or
// whitespace, and splits on whitespace.
func Tokenize(s string) []string {
	return strings.Fields(Normalize(s))
}

// Normalize strips punctuation and symbols and lowercases s.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Candidate is a listing title with an opaque reference back to the listing.
type Candidate struct {
	Title string
	Ref   string
}

// Best returns the index of the best matching candidate, or -1 when none
// reaches threshold. Equal word scores are broken by Jaro-Winkler similarity
// of the normalized titles, then by position.
func Best(canonical string, candidates []Candidate, threshold float64) (int, Result) {
	best := -1
	var bestResult Result
	var bestSimilarity float64

	norm := Normalize(canonical)
	for i, c := range candidates {
		if strings.TrimSpace(c.Title) == "" {
			continue
		}
		r := Match(canonical, c.Title, threshold)
		if !r.Match {
			continue
		}
		sim := matchr.JaroWinkler(norm, Normalize(c.Title), false)
		if best == -1 || r.Score > bestResult.Score || (r.Score == bestResult.Score && sim > bestSimilarity) {
			best = i
			bestResult = r
			bestSimilarity = sim
		}
	}

	return best, bestResult
}
