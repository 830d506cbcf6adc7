package docstore

import (
	"errors"
	"math"
	"testing"
)

func TestParseDistance(t *testing.T) {
	tests := []struct {
		in   string
		want DistanceStrategy
	}{
		{"dot", Dot},
		{"DOT_PRODUCT", Dot},
		{"cosine", Cosine},
		{"l2", Euclidean},
		{"l2_norm", Euclidean},
		{"EUCLIDEAN", Euclidean},
		{"l2_squared", EuclideanSquared},
		{"euclidean_squared", EuclideanSquared},
	}
	for _, tt := range tests {
		got, err := ParseDistance(tt.in)
		if err != nil {
			t.Fatalf("ParseDistance(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDistance(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseDistance("manhattan"); !errors.Is(err, ErrUnsupportedDistance) {
		t.Fatalf("expected ErrUnsupportedDistance, got %v", err)
	}
}

func TestNormalizeDistance_LargerIsCloser(t *testing.T) {
	q := []float32{1, 0}
	near := []float32{0.9, 0.1}
	far := []float32{0, 1}

	for _, d := range []DistanceStrategy{Dot, Cosine, Euclidean, EuclideanSquared} {
		nearSim := d.NormalizeDistance(d.QueryDistance(q, near))
		farSim := d.NormalizeDistance(d.QueryDistance(q, far))
		if nearSim <= farSim {
			t.Fatalf("%s: expected near (%v) > far (%v)", d, nearSim, farSim)
		}

		nearScore := d.NormalizeSearchScore(d.SearchScore(q, near))
		farScore := d.NormalizeSearchScore(d.SearchScore(q, far))
		if nearScore <= farScore {
			t.Fatalf("%s: expected search near (%v) > far (%v)", d, nearScore, farScore)
		}
	}
}

func TestNormalizeDistance_Values(t *testing.T) {
	if got := Cosine.NormalizeDistance(0.25); got != 0.75 {
		t.Fatalf("cosine: got %v", got)
	}
	if got := Dot.NormalizeDistance(-3); got != 3 {
		t.Fatalf("dot: got %v", got)
	}
	if got := Euclidean.NormalizeDistance(1); got != 0.5 {
		t.Fatalf("euclidean: got %v", got)
	}
	if got := EuclideanSquared.NormalizeDistance(0); got != 1 {
		t.Fatalf("euclidean_squared: got %v", got)
	}
}

func TestAccept_Inclusive(t *testing.T) {
	if !Accept(0.8, 0.8) {
		t.Fatalf("expected similarity equal to threshold to pass")
	}
	if Accept(0.79999, 0.8) {
		t.Fatalf("expected similarity below threshold to fail")
	}
}

func TestMatchesIndexSimilarity(t *testing.T) {
	if !Euclidean.matchesIndexSimilarity("L2") {
		t.Fatalf("L2 should match euclidean")
	}
	if !EuclideanSquared.matchesIndexSimilarity("L2_SQUARED") {
		t.Fatalf("L2_SQUARED should match euclidean_squared")
	}
	if Cosine.matchesIndexSimilarity("DOT") {
		t.Fatalf("DOT should not match cosine")
	}
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := SquaredEuclidean([]float32{1}, []float32{1, 2}); !math.IsInf(got, 1) {
		t.Fatalf("expected +Inf for mismatched lengths, got %v", got)
	}
}
