package docstore

import (
	"fmt"
	"math"
	"strings"
)

// DistanceStrategy names a similarity metric and its score conventions.
type DistanceStrategy string

const (
	Dot              DistanceStrategy = "dot"
	Cosine           DistanceStrategy = "cosine"
	Euclidean        DistanceStrategy = "euclidean"
	EuclideanSquared DistanceStrategy = "euclidean_squared"
)

// ParseDistance accepts the canonical names plus the aliases used by the
// query and search services (l2, l2_squared, dot_product, l2_norm).
func ParseDistance(s string) (DistanceStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dot", "dot_product":
		return Dot, nil
	case "cosine":
		return Cosine, nil
	case "euclidean", "l2", "l2_norm":
		return Euclidean, nil
	case "euclidean_squared", "l2_squared":
		return EuclideanSquared, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDistance, s)
	}
}

// Valid reports whether d is one of the known strategies.
func (d DistanceStrategy) Valid() bool {
	switch d {
	case Dot, Cosine, Euclidean, EuclideanSquared:
		return true
	}
	return false
}

// QueryFunction is the metric argument of (APPROX_)VECTOR_DISTANCE.
func (d DistanceStrategy) QueryFunction() string {
	switch d {
	case Dot:
		return "DOT"
	case Cosine:
		return "COSINE"
	case Euclidean:
		return "EUCLIDEAN"
	case EuclideanSquared:
		return "EUCLIDEAN_SQUARED"
	}
	return ""
}

// SearchSimilarity is the similarity name a search index is built with.
func (d DistanceStrategy) SearchSimilarity() string {
	switch d {
	case Dot:
		return "dot_product"
	case Cosine:
		return "cosine"
	case Euclidean, EuclideanSquared:
		return "l2_norm"
	}
	return ""
}

// DistanceHigherIsBetter reports the direction of the raw value returned by
// the query service. Every supported metric is returned as a distance there,
// so smaller raw values are more similar.
func (d DistanceStrategy) DistanceHigherIsBetter() bool {
	return false
}

// SearchScoreHigherIsBetter reports the direction of search service scores,
// which are similarities for every metric.
func (d DistanceStrategy) SearchScoreHigherIsBetter() bool {
	return true
}

// NormalizeDistance maps a query-service distance onto a similarity where
// larger means closer.
func (d DistanceStrategy) NormalizeDistance(raw float64) float64 {
	switch d {
	case Cosine:
		return 1 - raw
	case Dot:
		return -raw
	case Euclidean, EuclideanSquared:
		if raw < 0 {
			raw = 0
		}
		return 1 / (1 + raw)
	}
	return raw
}

// NormalizeSearchScore maps a search-service score onto the same scale.
func (d DistanceStrategy) NormalizeSearchScore(raw float64) float64 {
	return raw
}

// matchesIndexSimilarity compares a provisioned index similarity with d.
func (d DistanceStrategy) matchesIndexSimilarity(similarity string) bool {
	parsed, err := ParseDistance(similarity)
	if err != nil {
		return false
	}
	return parsed == d
}

// Accept is the single threshold test used by every caller: a normalized
// similarity passes when it is at least the threshold.
func Accept(similarity, threshold float64) bool {
	return similarity >= threshold
}

// QueryDistance computes what the query service returns for the metric.
func (d DistanceStrategy) QueryDistance(a, b []float32) float64 {
	switch d {
	case Dot:
		return -DotProduct(a, b)
	case Cosine:
		return 1 - CosineSimilarity(a, b)
	case Euclidean:
		return math.Sqrt(SquaredEuclidean(a, b))
	case EuclideanSquared:
		return SquaredEuclidean(a, b)
	}
	return math.Inf(1)
}

// SearchScore computes what the search service returns for the metric.
func (d DistanceStrategy) SearchScore(a, b []float32) float64 {
	switch d {
	case Dot:
		return DotProduct(a, b)
	case Cosine:
		return CosineSimilarity(a, b)
	case Euclidean, EuclideanSquared:
		return 1 / (1 + SquaredEuclidean(a, b))
	}
	return math.Inf(-1)
}

// DotProduct of two vectors; mismatched lengths yield 0.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineSimilarity in [-1, 1]; zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
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

// SquaredEuclidean distance; mismatched lengths yield +Inf.
func SquaredEuclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return sum
}
