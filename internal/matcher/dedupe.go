package matcher

import (
	"sort"
	"strings"

	"talent-match-go/internal/constants"
	"talent-match-go/internal/types"
)

// Similarity returns a weighted [0,1] score between two candidates:
// 0.4 for an exact normalized name match, 0.4 for an exact normalized
// email match, 0.2 times the Jaccard index of their skill sets.
func Similarity(a, b types.Candidate) float64 {
	var score float64

	if foldTrim(a.Name) != "" && foldTrim(a.Name) == foldTrim(b.Name) {
		score += constants.DupNameWeight
	}
	if foldTrim(a.Email) != "" && foldTrim(a.Email) == foldTrim(b.Email) {
		score += constants.DupEmailWeight
	}
	score += constants.DupSkillsWeight * jaccard(a.Skills, b.Skills)

	return score
}

func foldTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// jaccard computes |A∩B| / |A∪B| over case-folded skill names.
// Two empty sets have an empty union and score 0, not 1: no shared
// skills is no evidence of a duplicate.
func jaccard(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		if folded := foldTrim(s); folded != "" {
			setA[folded] = true
		}
	}
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		if folded := foldTrim(s); folded != "" {
			setB[folded] = true
		}
	}

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for s := range setA {
		if setB[s] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection

	return float64(intersection) / float64(union)
}

// FilterDuplicates collapses near-identical candidates, keeping the
// higher-scored copy. Candidates are visited best match first; each
// one is kept unless it is at least as similar as the threshold to a
// candidate already kept. The pass is greedy and deterministic, so
// running it over its own output changes nothing.
func FilterDuplicates(candidates []types.Candidate) []types.Candidate {
	if len(candidates) < 2 {
		return candidates
	}

	ordered := make([]types.Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MatchPercentage() > ordered[j].MatchPercentage()
	})

	kept := make([]types.Candidate, 0, len(ordered))
	for _, candidate := range ordered {
		duplicate := false
		for _, existing := range kept {
			if Similarity(candidate, existing) >= constants.DupSimilarityThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}

	return kept
}
