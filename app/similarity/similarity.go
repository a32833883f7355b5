// Package similarity holds the lexical text metrics shared by deduplication,
// validation and scoring. All metrics return values in [0,1].
package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize folds case, applies NFKC and collapses whitespace.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits normalized text into words, dropping punctuation.
func Tokens(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// TokenOverlap is the Jaccard index of the two token sets.
func TokenOverlap(a, b string) float64 {
	setA := tokenSet(Tokens(a))
	setB := tokenSet(Tokens(b))

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// LevenshteinRatio returns 1 - distance/maxLen over the normalized runes.
func LevenshteinRatio(a, b string) float64 {
	ra := []rune(Normalize(a))
	rb := []rune(Normalize(b))

	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 0
	}

	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// ShingleContainment is the fraction of word n-grams of generated that also
// occur in source. Texts shorter than n words are compared as a single shingle.
func ShingleContainment(generated, source string, n int) float64 {
	gen := shingles(Tokens(generated), n)
	if len(gen) == 0 {
		return 0
	}
	src := shingles(Tokens(source), n)

	shared := 0
	for sh := range gen {
		if _, ok := src[sh]; ok {
			shared++
		}
	}

	return float64(shared) / float64(len(gen))
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

func shingles(tokens []string, n int) map[string]struct{} {
	set := make(map[string]struct{})
	if len(tokens) == 0 {
		return set
	}
	if n <= 0 || len(tokens) < n {
		set[strings.Join(tokens, " ")] = struct{}{}
		return set
	}
	for i := 0; i+n <= len(tokens); i++ {
		set[strings.Join(tokens[i:i+n], " ")] = struct{}{}
	}
	return set
}
