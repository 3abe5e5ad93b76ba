package flow

import (
	"sort"
	"strings"

	"github.com/BTreeMap/EnrollPipe/internal/models"
)

// Fuzzy search weights and cutoff for program ranking.
const (
	// SearchNameWeight weights the query-to-name similarity.
	SearchNameWeight = 0.4
	// SearchLocationWeight weights the query-to-location similarity.
	SearchLocationWeight = 0.6
	// SearchScoreThreshold is the minimum combined score for a match.
	SearchScoreThreshold = 0.5
)

// similarityRatio computes a sequence-matcher ratio between two strings:
// twice the number of matched characters divided by the total length.
// Comparison is case-insensitive. Two empty strings are identical.
func similarityRatio(a, b string) float64 {
	ar := []rune(strings.ToLower(strings.TrimSpace(a)))
	br := []rune(strings.ToLower(strings.TrimSpace(b)))
	total := len(ar) + len(br)
	if total == 0 {
		return 1.0
	}
	matched := matchTotal(ar, br)
	return 2.0 * float64(matched) / float64(total)
}

// matchTotal sums the sizes of all matching blocks: the longest common
// block plus, recursively, the best blocks on either side of it.
func matchTotal(a, b []rune) int {
	i, j, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size + matchTotal(a[:i], b[:j]) + matchTotal(a[i+size:], b[j+size:])
}

// longestMatch finds the longest contiguous matching block between a and b.
func longestMatch(a, b []rune) (bestI, bestJ, bestSize int) {
	b2j := make(map[rune][]int, len(b))
	for j, c := range b {
		b2j[c] = append(b2j[c], j)
	}
	j2len := make(map[int]int)
	for i, c := range a {
		newJ2len := make(map[int]int)
		for _, j := range b2j[c] {
			k := j2len[j-1] + 1
			newJ2len[j] = k
			if k > bestSize {
				bestI, bestJ, bestSize = i-k+1, j-k+1, k
			}
		}
		j2len = newJ2len
	}
	return bestI, bestJ, bestSize
}

// RankPrograms scores programs against a free-text query, weighting location
// similarity above name similarity, and returns matches above the threshold
// sorted by descending score.
func RankPrograms(programs []models.Program, query string) []models.ProgramMatch {
	var matches []models.ProgramMatch
	for _, p := range programs {
		score := SearchNameWeight*similarityRatio(query, p.ProgramName) +
			SearchLocationWeight*similarityRatio(query, p.Location)
		if score >= SearchScoreThreshold {
			matches = append(matches, models.ProgramMatch{Program: p, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}
