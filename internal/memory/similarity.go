package memory

import (
	"math"
	"strings"
	"unicode"
)

// CosineSimilarity returns dot(a,b) / (‖a‖·‖b‖).
//
// Returns 0 for mismatched lengths or zero-norm vectors; it never divides by
// zero. The result is symmetric and bounded in [-1, 1].
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// tokenize lowercases text and splits it into unique alphanumeric tokens.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// overlapScore returns the fraction of query tokens present in the entry text.
func overlapScore(queryTokens map[string]struct{}, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	entryTokens := tokenize(text)
	matched := 0
	for tok := range queryTokens {
		if _, ok := entryTokens[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}
