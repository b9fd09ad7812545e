package resolver

import (
	"strings"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// NameSimilarity scores how alike two names are, from 0 to 1, after
// accent-insensitive normalization. A name contained in the other scores
// 0.85 when it is at least four characters long. Multi-word names are
// compared first name to first name and last name to last name, and a
// dissimilar last name caps the score.
func NameSimilarity(a, b string) float64 {
	a, b = model.NormalizeName(a), model.NormalizeName(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ra, rb := []rune(a), []rune(b)
	if len(ra) < 2 || len(rb) < 2 {
		return 0
	}

	shorter, longer := a, b
	if len(ra) > len(rb) {
		shorter, longer = b, a
	}
	if strings.Contains(longer, shorter) {
		switch n := len([]rune(shorter)); {
		case n >= 4:
			return 0.85
		case n == 3:
			return 0.4
		default:
			return 0.2
		}
	}

	wordsA, wordsB := strings.Fields(a), strings.Fields(b)
	if len(wordsA) == 1 || len(wordsB) == 1 {
		if len(wordsA) == 1 && len(wordsB) == 1 {
			return levenshteinSimilarity(a, b)
		}
		single, multi := wordsA[0], wordsB
		if len(wordsB) == 1 {
			single, multi = wordsB[0], wordsA
		}
		for _, w := range multi {
			if w == single {
				return 0.85
			}
		}
		return levenshteinSimilarity(a, b)
	}

	firstSim := levenshteinSimilarity(wordsA[0], wordsB[0])
	lastSim := levenshteinSimilarity(wordsA[len(wordsA)-1], wordsB[len(wordsB)-1])
	if lastSim < 0.7 {
		return firstSim * 0.3
	}
	return (firstSim + lastSim) / 2
}

// BestNameSimilarity scores name against the title and alternative names of
// e and returns the best match.
func BestNameSimilarity(name string, e *model.Entity) float64 {
	best := NameSimilarity(name, e.Title)
	for _, alt := range e.AltNames {
		if s := NameSimilarity(name, alt); s > best {
			best = s
		}
	}
	return best
}

func levenshteinSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes the edit distance with a single rolling row.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current := row[j]
			row[j] = minInt(row[j]+1, row[j-1]+1, prev+cost)
			prev = current
		}
	}
	return row[len(b)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
