package koopman

import (
	"math"
	"testing"
)

func svdReconstruct(dec svdResult, rows, cols int) [][]float64 {
	out := zeros(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var s float64
			for k := range dec.S {
				s += dec.U[i][k] * dec.S[k] * dec.V[j][k]
			}
			out[i][j] = s
		}
	}
	return out
}

func maxAbsDiff(a, b [][]float64) float64 {
	worst := 0.0
	for i := range a {
		for j := range a[i] {
			if d := math.Abs(a[i][j] - b[i][j]); d > worst {
				worst = d
			}
		}
	}
	return worst
}

func TestSVDReconstruction(t *testing.T) {
	a := [][]float64{
		{2, 1},
		{1, 2},
		{0, 1},
	}
	dec := svd(a)
	if len(dec.S) != 2 {
		t.Fatalf("expected 2 singular values, got %d", len(dec.S))
	}
	if dec.S[0] < dec.S[1] {
		t.Fatalf("singular values not descending: %v", dec.S)
	}
	rec := svdReconstruct(dec, 3, 2)
	if d := maxAbsDiff(rec, a); d > 1e-9 {
		t.Fatalf("reconstruction off by %g", d)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			var udot, vdot float64
			for r := 0; r < 3; r++ {
				udot += dec.U[r][i] * dec.U[r][j]
			}
			for r := 0; r < 2; r++ {
				vdot += dec.V[r][i] * dec.V[r][j]
			}
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(udot-want) > 1e-9 {
				t.Errorf("U columns %d,%d dot %g, want %g", i, j, udot, want)
			}
			if math.Abs(vdot-want) > 1e-9 {
				t.Errorf("V columns %d,%d dot %g, want %g", i, j, vdot, want)
			}
		}
	}
}

func TestSVDWideMatrix(t *testing.T) {
	a := [][]float64{
		{1, 0, 2, 0},
		{0, 3, 0, 1},
	}
	dec := svd(a)
	if len(dec.S) != 2 {
		t.Fatalf("expected thin rank 2, got %d", len(dec.S))
	}
	rec := svdReconstruct(dec, 2, 4)
	if d := maxAbsDiff(rec, a); d > 1e-9 {
		t.Fatalf("reconstruction off by %g", d)
	}
}

func TestSVDRankDeficient(t *testing.T) {
	a := [][]float64{
		{1, 2},
		{2, 4},
	}
	dec := svd(a)
	if math.Abs(dec.S[0]-5) > 1e-9 {
		t.Fatalf("leading singular value %g, want 5", dec.S[0])
	}
	if dec.S[1] > 1e-9 {
		t.Fatalf("trailing singular value %g, want 0", dec.S[1])
	}
	rec := svdReconstruct(dec, 2, 2)
	if d := maxAbsDiff(rec, a); d > 1e-9 {
		t.Fatalf("reconstruction off by %g", d)
	}
}

func TestColumnMeansAndCentering(t *testing.T) {
	m := [][]float64{
		{1, 3},
		{2, 6},
	}
	means := columnMeans(m)
	if math.Abs(means[0]-2) > 1e-12 || math.Abs(means[1]-4) > 1e-12 {
		t.Fatalf("means %v, want [2 4]", means)
	}
	subtractFromColumns(m, means)
	want := [][]float64{{-1, 1}, {-2, 2}}
	if d := maxAbsDiff(m, want); d > 1e-12 {
		t.Fatalf("centered matrix off by %g", d)
	}
}
