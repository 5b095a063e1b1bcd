package koopman

import (
	"math"
	"sort"
)

// Dense real matrix helpers. Matrices are [][]float64 with row-major
// indexing: m[i][j] is row i, column j.

// zeros allocates an r×c matrix of zeros.
func zeros(r, c int) [][]float64 {
	m := make([][]float64, r)
	for i := range m {
		m[i] = make([]float64, c)
	}
	return m
}

// identity allocates the n×n identity.
func identity(n int) [][]float64 {
	m := zeros(n, n)
	for i := 0; i < n; i++ {
		m[i][i] = 1
	}
	return m
}

// cloneMatrix deep-copies a matrix.
func cloneMatrix(a [][]float64) [][]float64 {
	out := make([][]float64, len(a))
	for i, row := range a {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

// matMul returns a·b.
func matMul(a, b [][]float64) [][]float64 {
	rows, inner, cols := len(a), len(b), len(b[0])
	out := zeros(rows, cols)
	for i := 0; i < rows; i++ {
		for k := 0; k < inner; k++ {
			aik := a[i][k]
			if aik == 0 {
				continue
			}
			for j := 0; j < cols; j++ {
				out[i][j] += aik * b[k][j]
			}
		}
	}
	return out
}

// frobenius returns the Frobenius norm of a matrix.
func frobenius(a [][]float64) float64 {
	var sum float64
	for _, row := range a {
		for _, v := range row {
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}

// columnMeans returns the mean of each row across columns, which is the mean
// snapshot when columns are samples.
func columnMeans(a [][]float64) []float64 {
	means := make([]float64, len(a))
	if len(a) == 0 || len(a[0]) == 0 {
		return means
	}
	cols := float64(len(a[0]))
	for i, row := range a {
		var sum float64
		for _, v := range row {
			sum += v
		}
		means[i] = sum / cols
	}
	return means
}

// subtractFromColumns subtracts v from every column of a in place.
func subtractFromColumns(a [][]float64, v []float64) {
	for i := range a {
		for j := range a[i] {
			a[i][j] -= v[i]
		}
	}
}

// svdResult holds a thin singular value decomposition a = U·diag(S)·Vᵗ with
// singular values in descending order. U is rows×rank, V is cols×rank.
// Columns of U belonging to zero singular values are zero vectors.
type svdResult struct {
	U [][]float64
	S []float64
	V [][]float64
}

const (
	svdTolerance = 1e-12
	svdMaxSweeps = 60
)

// svd computes a thin SVD by one-sided Jacobi rotations: columns of a working
// copy are orthogonalized pairwise while the rotations accumulate into V.
// Robust for the small dense systems handled here and needs no external
// factorization routine.
func svd(a [][]float64) svdResult {
	rows := len(a)
	cols := len(a[0])

	w := cloneMatrix(a)
	v := identity(cols)

	colDot := func(m [][]float64, p, q int) float64 {
		var sum float64
		for i := range m {
			sum += m[i][p] * m[i][q]
		}
		return sum
	}
	rotate := func(m [][]float64, p, q int, c, s float64) {
		for i := range m {
			mp, mq := m[i][p], m[i][q]
			m[i][p] = c*mp - s*mq
			m[i][q] = s*mp + c*mq
		}
	}

	for sweep := 0; sweep < svdMaxSweeps; sweep++ {
		rotated := false
		for p := 0; p < cols-1; p++ {
			for q := p + 1; q < cols; q++ {
				alpha := colDot(w, p, p)
				beta := colDot(w, q, q)
				gamma := colDot(w, p, q)
				if gamma == 0 {
					continue
				}
				if gamma*gamma <= svdTolerance*svdTolerance*alpha*beta {
					continue
				}
				zeta := (beta - alpha) / (2 * gamma)
				t := math.Copysign(1, zeta) / (math.Abs(zeta) + math.Sqrt(1+zeta*zeta))
				c := 1 / math.Sqrt(1+t*t)
				s := c * t
				rotate(w, p, q, c, s)
				rotate(v, p, q, c, s)
				rotated = true
			}
		}
		if !rotated {
			break
		}
	}

	// Column norms are the singular values; sort descending.
	type col struct {
		norm  float64
		index int
	}
	norms := make([]col, cols)
	for j := 0; j < cols; j++ {
		norms[j] = col{math.Sqrt(colDot(w, j, j)), j}
	}
	sort.Slice(norms, func(i, j int) bool { return norms[i].norm > norms[j].norm })

	rank := rows
	if cols < rank {
		rank = cols
	}
	u := zeros(rows, rank)
	s := make([]float64, rank)
	vOut := zeros(cols, rank)
	for k := 0; k < rank; k++ {
		j := norms[k].index
		s[k] = norms[k].norm
		if s[k] > 0 {
			for i := 0; i < rows; i++ {
				u[i][k] = w[i][j] / s[k]
			}
		}
		for i := 0; i < cols; i++ {
			vOut[i][k] = v[i][j]
		}
	}
	return svdResult{U: u, S: s, V: vOut}
}
