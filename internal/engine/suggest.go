package engine

import (
	"sort"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/spec"
)

// maxSuggestions caps the did_you_mean list on TaskNotFound.
const maxSuggestions = 3

// suggestTaskIDs returns up to maxSuggestions task IDs close to the
// miss, nearest first, ties broken by ID. The threshold scales with
// the input so short IDs only match near-exact typos.
func suggestTaskIDs(s *spec.Spec, miss string) []string {
	threshold := len(miss) / 3
	if threshold < 1 {
		threshold = 1
	}
	if threshold > 3 {
		threshold = 3
	}

	type scored struct {
		id   string
		dist int
	}
	var near []scored
	for _, id := range s.IDs() {
		if d := levenshtein(miss, id); d <= threshold {
			near = append(near, scored{id, d})
		}
	}
	sort.Slice(near, func(i, j int) bool {
		if near[i].dist != near[j].dist {
			return near[i].dist < near[j].dist
		}
		return near[i].id < near[j].id
	})
	if len(near) > maxSuggestions {
		near = near[:maxSuggestions]
	}
	out := make([]string, len(near))
	for i, n := range near {
		out[i] = n.id
	}
	return out
}

// levenshtein computes the case-insensitive edit distance between two
// strings.
func levenshtein(s1, s2 string) int {
	s1 = strings.ToLower(s1)
	s2 = strings.ToLower(s2)

	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
	}
	for i := 0; i <= len(s1); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(s2); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			min := matrix[i-1][j] + 1 // deletion
			if ins := matrix[i][j-1] + 1; ins < min {
				min = ins
			}
			if sub := matrix[i-1][j-1] + cost; sub < min {
				min = sub
			}
			matrix[i][j] = min
		}
	}
	return matrix[len(s1)][len(s2)]
}
