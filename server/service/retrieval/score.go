package retrieval

import (
	"math"
	"time"
)

// CosineSimilarity calculates cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// recencyScore maps a fact's age at asOf to (0, 1] with exponential
// half-life decay. A fact valid from asOf scores 1.0; one half-life old
// scores 0.5.
func recencyScore(validFromTs int64, asOf time.Time, halfLifeDays float64) float64 {
	ageDays := asOf.Sub(time.Unix(validFromTs, 0)).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays * math.Ln2 / halfLifeDays)
}

// combinedScore blends similarity and recency. Both inputs are monotonic:
// raising either never lowers the score.
func combinedScore(similarity, recency, recencyWeight float64) float64 {
	// Cosine can be negative for dissimilar vectors; clamp so recency
	// cannot dominate an irrelevant fact.
	if similarity < 0 {
		similarity = 0
	}
	return (1-recencyWeight)*similarity + recencyWeight*recency
}

// estimateTokens approximates the token cost of content. The 4-chars-per-
// token heuristic matches what the budget is protecting: downstream prompt
// size, not an exact tokenizer.
func estimateTokens(content string) int {
	runes := len([]rune(content))
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}
