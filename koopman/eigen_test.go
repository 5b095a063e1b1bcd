package koopman

import (
	"math"
	"math/cmplx"
	"sort"
	"testing"
)

func eigenResidual(a [][]float64, lambda complex128, v []complex128) float64 {
	worst := 0.0
	for i := range a {
		var sum complex128
		for j := range a[i] {
			sum += complex(a[i][j], 0) * v[j]
		}
		if r := cmplx.Abs(sum - lambda*v[i]); r > worst {
			worst = r
		}
	}
	return worst
}

func sortedRealParts(values []complex128) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = real(v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

func TestEigenOneByOne(t *testing.T) {
	values, vectors, ok := eigen([][]float64{{5}})
	if !ok {
		t.Fatal("eigen failed on 1x1")
	}
	if cmplx.Abs(values[0]-5) > 1e-12 {
		t.Fatalf("eigenvalue %v, want 5", values[0])
	}
	if cmplx.Abs(vectors[0][0]-1) > 1e-12 {
		t.Fatalf("eigenvector %v, want [1]", vectors[0])
	}
}

func TestEigenDiagonal(t *testing.T) {
	a := [][]float64{
		{3, 0, 0},
		{0, 1, 0},
		{0, 0, 2},
	}
	values, vectors, ok := eigen(a)
	if !ok {
		t.Fatal("eigen failed on diagonal matrix")
	}
	got := sortedRealParts(values)
	want := []float64{3, 2, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-10 {
			t.Fatalf("eigenvalues %v, want %v", got, want)
		}
	}
	for i := range values {
		if r := eigenResidual(a, values[i], vectors[i]); r > 1e-10 {
			t.Errorf("residual %g for eigenvalue %v", r, values[i])
		}
	}
}

func TestEigenSymmetric(t *testing.T) {
	a := [][]float64{
		{2, 1},
		{1, 2},
	}
	values, vectors, ok := eigen(a)
	if !ok {
		t.Fatal("eigen failed")
	}
	got := sortedRealParts(values)
	if math.Abs(got[0]-3) > 1e-9 || math.Abs(got[1]-1) > 1e-9 {
		t.Fatalf("eigenvalues %v, want [3 1]", got)
	}
	for i := range values {
		if math.Abs(imag(values[i])) > 1e-9 {
			t.Errorf("eigenvalue %v has spurious imaginary part", values[i])
		}
		if r := eigenResidual(a, values[i], vectors[i]); r > 1e-9 {
			t.Errorf("residual %g for eigenvalue %v", r, values[i])
		}
		var norm float64
		for _, c := range vectors[i] {
			norm += real(c)*real(c) + imag(c)*imag(c)
		}
		if math.Abs(norm-1) > 1e-9 {
			t.Errorf("eigenvector norm² %g, want 1", norm)
		}
	}
}

func TestEigenComplexPair(t *testing.T) {
	rho, theta := 0.95, 0.3
	a := [][]float64{
		{rho * math.Cos(theta), -rho * math.Sin(theta)},
		{rho * math.Sin(theta), rho * math.Cos(theta)},
	}
	values, vectors, ok := eigen(a)
	if !ok {
		t.Fatal("eigen failed")
	}
	sawPositive, sawNegative := false, false
	for i, v := range values {
		if math.Abs(cmplx.Abs(v)-rho) > 1e-9 {
			t.Errorf("eigenvalue magnitude %g, want %g", cmplx.Abs(v), rho)
		}
		phase := cmplx.Phase(v)
		if math.Abs(math.Abs(phase)-theta) > 1e-9 {
			t.Errorf("eigenvalue phase %g, want ±%g", phase, theta)
		}
		if phase > 0 {
			sawPositive = true
		} else {
			sawNegative = true
		}
		if r := eigenResidual(a, v, vectors[i]); r > 1e-9 {
			t.Errorf("residual %g for eigenvalue %v", r, v)
		}
	}
	if !sawPositive || !sawNegative {
		t.Fatalf("eigenvalues %v do not form a conjugate pair", values)
	}
}

func TestEigenSymmetricTridiagonal(t *testing.T) {
	a := [][]float64{
		{4, 1, 0},
		{1, 3, 1},
		{0, 1, 2},
	}
	values, vectors, ok := eigen(a)
	if !ok {
		t.Fatal("eigen failed")
	}
	var sum float64
	product := complex(1, 0)
	for i, v := range values {
		if math.Abs(imag(v)) > 1e-9 {
			t.Errorf("eigenvalue %v has spurious imaginary part", v)
		}
		sum += real(v)
		product *= v
		if r := eigenResidual(a, v, vectors[i]); r > 1e-8 {
			t.Errorf("residual %g for eigenvalue %v", r, v)
		}
	}
	if math.Abs(sum-9) > 1e-8 {
		t.Errorf("eigenvalue sum %g, want trace 9", sum)
	}
	if cmplx.Abs(product-18) > 1e-8 {
		t.Errorf("eigenvalue product %v, want determinant 18", product)
	}
}

func TestEigenJordanBlock(t *testing.T) {
	a := [][]float64{
		{1, 1},
		{0, 1},
	}
	values, _, ok := eigen(a)
	if !ok {
		t.Fatal("eigen failed")
	}
	for _, v := range values {
		if cmplx.Abs(v-1) > 1e-8 {
			t.Errorf("eigenvalue %v, want 1", v)
		}
	}
}

func TestSolveComplexLeavesSystemIntact(t *testing.T) {
	a := [][]complex128{
		{complex(2, 0), complex(1, 0)},
		{complex(1, 0), complex(3, 0)},
	}
	b := []complex128{complex(5, 0), complex(10, 0)}
	x := solveComplex(a, b)
	// 2x + y = 5, x + 3y = 10 has solution x = 1, y = 3.
	if cmplx.Abs(x[0]-1) > 1e-12 || cmplx.Abs(x[1]-3) > 1e-12 {
		t.Fatalf("solution %v, want [1 3]", x)
	}
	if a[0][0] != 2 || a[1][1] != 3 {
		t.Fatal("solve mutated the coefficient matrix")
	}
}
