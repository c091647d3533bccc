package stats_test

import (
	"math"
	"testing"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/stats"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestQuantileLinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	tests := []struct {
		q    float64
		want float64
	}{
		{q: 0, want: 1},
		{q: 0.25, want: 1.75},
		{q: 0.5, want: 2.5},
		{q: 0.75, want: 3.25},
		{q: 1, want: 4},
	}
	for _, tt := range tests {
		if got := stats.Quantile(sorted, tt.q); !almost(got, tt.want) {
			t.Fatalf("Quantile(%v, %g)=%g want=%g", sorted, tt.q, got, tt.want)
		}
	}
}

func TestQuantileEdgeCases(t *testing.T) {
	if got := stats.Quantile(nil, 0.5); got != 0 {
		t.Fatalf("empty quantile=%g want 0", got)
	}
	if got := stats.Quantile([]float64{7}, 0.25); got != 7 {
		t.Fatalf("single quantile=%g want 7", got)
	}
}

func TestDescriptive(t *testing.T) {
	x := []float64{4, 1, 3, 2}
	if got := stats.Mean(x); !almost(got, 2.5) {
		t.Fatalf("Mean=%g", got)
	}
	if got := stats.Median(x); !almost(got, 2.5) {
		t.Fatalf("Median=%g", got)
	}
	if got := stats.Variance(x); !almost(got, 1.25) {
		t.Fatalf("Variance=%g", got)
	}
	lo, hi := stats.MinMax(x)
	if lo != 1 || hi != 4 {
		t.Fatalf("MinMax=(%g,%g)", lo, hi)
	}
	if x[0] != 4 {
		t.Fatalf("Median must not reorder its input: %v", x)
	}
	q1, q3 := stats.Quartiles(x)
	if !almost(q1, 1.75) || !almost(q3, 3.25) {
		t.Fatalf("Quartiles=(%g,%g)", q1, q3)
	}
}
