package enrich

import (
	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/normalize"
)

// Candidate score weighting. Title similarity dominates; author similarity
// breaks ties between same-titled works.
const (
	titleWeight  = 0.75
	authorWeight = 0.25
)

// scoreCandidate rates how well a provider record matches the input item,
// in [0, 1]. When the input has no author, the score is title-only.
func scoreCandidate(rec *domain.CanonicalRecord, item domain.QueryItem) float64 {
	titleSim := stringSimilarity(normalize.Title(rec.Title), normalize.Title(item.Title))

	if item.Author == "" {
		return titleSim
	}

	authorSim := 0.0
	inputAuthor := normalize.Person(item.Author)
	for _, c := range rec.Contributors {
		if sim := stringSimilarity(normalize.Person(c.Name), inputAuthor); sim > authorSim {
			authorSim = sim
		}
	}

	return titleSim*titleWeight + authorSim*authorWeight
}

// stringSimilarity calculates the similarity between two strings (0.0-1.0)
// from their Levenshtein edit distance. Distance is measured in runes, not
// bytes, so multi-byte scripts score one edit per character.
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	ra := []rune(a)
	rb := []rune(b)
	distance := levenshteinDistance(ra, rb)
	maxLen := max(len(ra), len(rb))

	return 1.0 - float64(distance)/float64(maxLen)
}

// levenshteinDistance calculates the edit distance between two rune slices.
func levenshteinDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}
