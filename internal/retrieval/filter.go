package retrieval

import (
	"regexp"
	"strings"

	"github.com/JugalBoro/kloth.me/internal/domain"
)

// applyFilters keeps candidates whose description or category values contain
// every constraint as a whole word. Applied post-retrieval over the
// over-fetched window, never pushed into the vector index. Constraint
// patterns are compiled once per call, not per candidate.
func applyFilters(results []domain.RankedResult, f domain.FilterSet) []domain.RankedResult {
	matchers := compileFilters(f)
	filtered := make([]domain.RankedResult, 0, len(results))
	for _, r := range results {
		if matchersMatch(matchers, r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func matchesFilters(r domain.RankedResult, f domain.FilterSet) bool {
	return matchersMatch(compileFilters(f), r)
}

// compileFilters turns the set's constraints into whole-word patterns, so
// "red" never matches inside "bred" or "zippered".
func compileFilters(f domain.FilterSet) []*regexp.Regexp {
	var matchers []*regexp.Regexp
	for _, needle := range []string{f.Color, f.Category} {
		if needle == "" {
			continue
		}
		matchers = append(matchers,
			regexp.MustCompile(`\b`+regexp.QuoteMeta(strings.ToLower(needle))+`\b`))
	}
	return matchers
}

func matchersMatch(matchers []*regexp.Regexp, r domain.RankedResult) bool {
	if len(matchers) == 0 {
		return true
	}
	hay := buildHaystack(r)
	for _, m := range matchers {
		if !m.MatchString(hay) {
			return false
		}
	}
	return true
}

// buildHaystack lowercases the description plus all category values.
func buildHaystack(r domain.RankedResult) string {
	var b strings.Builder
	b.WriteString(r.Description)
	for _, v := range r.Categories {
		b.WriteByte(' ')
		b.WriteString(v)
	}
	return strings.ToLower(b.String())
}
