package koopman

import (
	"math"
	"math/cmplx"
)

// Complex dense helpers and a general (non-symmetric) eigensolver. Oscillatory
// modes come in complex conjugate pairs, so the decomposition runs in complex
// arithmetic throughout: Householder reduction to Hessenberg form, then
// single-shift QR with accumulated Schur vectors, then eigenvectors by back
// substitution on the triangular factor.

func czeros(r, c int) [][]complex128 {
	m := make([][]complex128, r)
	for i := range m {
		m[i] = make([]complex128, c)
	}
	return m
}

func cidentity(n int) [][]complex128 {
	m := czeros(n, n)
	for i := 0; i < n; i++ {
		m[i][i] = 1
	}
	return m
}

func toComplex(a [][]float64) [][]complex128 {
	out := czeros(len(a), len(a[0]))
	for i, row := range a {
		for j, v := range row {
			out[i][j] = complex(v, 0)
		}
	}
	return out
}

// cmatVec returns a·x.
func cmatVec(a [][]complex128, x []complex128) []complex128 {
	out := make([]complex128, len(a))
	for i, row := range a {
		var sum complex128
		for j, v := range row {
			sum += v * x[j]
		}
		out[i] = sum
	}
	return out
}

// solveComplex solves a·x = b by Gaussian elimination with partial pivoting.
// Near-singular pivots are perturbed to machine scale so a defective fit
// degrades instead of dividing by zero; the caller screens results for
// non-finite values.
func solveComplex(a [][]complex128, b []complex128) []complex128 {
	n := len(a)
	m := czeros(n, n+1)
	scale := 0.0
	for i := 0; i < n; i++ {
		copy(m[i], a[i])
		m[i][n] = b[i]
		for _, v := range a[i] {
			if av := cmplx.Abs(v); av > scale {
				scale = av
			}
		}
	}
	if scale == 0 {
		scale = 1
	}
	tiny := complex(1e-300+1e-14*scale, 0)

	for col := 0; col < n; col++ {
		pivot := col
		best := cmplx.Abs(m[col][col])
		for r := col + 1; r < n; r++ {
			if v := cmplx.Abs(m[r][col]); v > best {
				best = v
				pivot = r
			}
		}
		m[col], m[pivot] = m[pivot], m[col]
		if best == 0 {
			m[col][col] = tiny
		}
		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			if f == 0 {
				continue
			}
			for c := col; c <= n; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}
	x := make([]complex128, n)
	for i := n - 1; i >= 0; i-- {
		sum := m[i][n]
		for j := i + 1; j < n; j++ {
			sum -= m[i][j] * x[j]
		}
		x[i] = sum / m[i][i]
	}
	return x
}

const (
	eigenEps     = 1e-13
	eigenMaxIter = 40
)

// eigen computes eigenvalues and unit-norm right eigenvectors of a real
// square matrix. vectors[k] is the eigenvector for values[k]. ok reports
// whether the QR iteration converged; callers treat failure as numerical
// degeneracy.
func eigen(a [][]float64) (values []complex128, vectors [][]complex128, ok bool) {
	n := len(a)
	if n == 0 {
		return nil, nil, false
	}
	if n == 1 {
		return []complex128{complex(a[0][0], 0)}, [][]complex128{{1}}, true
	}

	h := toComplex(a)
	q := cidentity(n)
	hessenberg(h, q)
	if !schur(h, q) {
		return nil, nil, false
	}

	values = make([]complex128, n)
	for i := 0; i < n; i++ {
		values[i] = h[i][i]
	}
	vectors = triangularVectors(h, q)
	return values, vectors, true
}

// hessenberg reduces h to upper Hessenberg form in place by Householder
// reflections, accumulating the similarity transform into q.
func hessenberg(h, q [][]complex128) {
	n := len(h)
	for k := 0; k < n-2; k++ {
		// Householder vector zeroing h[k+2..n-1][k].
		var norm float64
		for i := k + 1; i < n; i++ {
			norm += real(h[i][k])*real(h[i][k]) + imag(h[i][k])*imag(h[i][k])
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		alpha := complex(-norm, 0)
		if h[k+1][k] != 0 {
			alpha = -h[k+1][k] / complex(cmplx.Abs(h[k+1][k]), 0) * complex(norm, 0)
		}
		v := make([]complex128, n-k-1)
		for i := range v {
			v[i] = h[k+1+i][k]
		}
		v[0] -= alpha
		var vnorm float64
		for _, vi := range v {
			vnorm += real(vi)*real(vi) + imag(vi)*imag(vi)
		}
		if vnorm == 0 {
			continue
		}
		vnorm = math.Sqrt(vnorm)
		for i := range v {
			v[i] /= complex(vnorm, 0)
		}

		// Left: rows k+1..n-1 of h gain -2 v (v* h).
		for j := k; j < n; j++ {
			var w complex128
			for i := range v {
				w += cmplx.Conj(v[i]) * h[k+1+i][j]
			}
			w *= 2
			for i := range v {
				h[k+1+i][j] -= v[i] * w
			}
		}
		// Right: columns k+1..n-1 of h gain -2 (h v) v*.
		for i := 0; i < n; i++ {
			var w complex128
			for j := range v {
				w += h[i][k+1+j] * v[j]
			}
			w *= 2
			for j := range v {
				h[i][k+1+j] -= w * cmplx.Conj(v[j])
			}
		}
		// Accumulate q·P.
		for i := 0; i < n; i++ {
			var w complex128
			for j := range v {
				w += q[i][k+1+j] * v[j]
			}
			w *= 2
			for j := range v {
				q[i][k+1+j] -= w * cmplx.Conj(v[j])
			}
		}
	}
}

// givensRotation returns c (real) and s with [c s; -conj(s) c]·[f g]ᵗ = [r 0]ᵗ.
func givensRotation(f, g complex128) (c float64, s, r complex128) {
	if g == 0 {
		return 1, 0, f
	}
	if f == 0 {
		return 0, cmplx.Conj(g) / complex(cmplx.Abs(g), 0), complex(cmplx.Abs(g), 0)
	}
	af := cmplx.Abs(f)
	norm := math.Hypot(af, cmplx.Abs(g))
	phase := f / complex(af, 0)
	c = af / norm
	s = phase * cmplx.Conj(g) / complex(norm, 0)
	r = phase * complex(norm, 0)
	return c, s, r
}

// schur reduces an upper Hessenberg h to upper triangular form in place by
// shifted QR iterations, accumulating transforms into q so that the original
// matrix equals q·h·q*. Returns false if an eigenvalue fails to converge.
func schur(h, q [][]complex128) bool {
	n := len(h)
	hi := n - 1
	for hi > 0 {
		iter := 0
		for {
			// Deflation scan.
			l := hi
			for l > 0 {
				small := cmplx.Abs(h[l-1][l-1]) + cmplx.Abs(h[l][l])
				if small == 0 {
					small = 1
				}
				if cmplx.Abs(h[l][l-1]) <= eigenEps*small {
					h[l][l-1] = 0
					break
				}
				l--
			}
			if l == hi {
				hi--
				break
			}
			iter++
			if iter > eigenMaxIter {
				return false
			}

			mu := wilkinsonShift(h, hi)
			if iter%10 == 0 {
				// Exceptional shift to break limit cycles.
				mu = h[hi][hi] + complex(0.75*cmplx.Abs(h[hi][hi-1]), 0)
			}

			for i := l; i <= hi; i++ {
				h[i][i] -= mu
			}
			cs := make([]float64, hi)
			sn := make([]complex128, hi)
			for k := l; k < hi; k++ {
				c, s, r := givensRotation(h[k][k], h[k+1][k])
				cs[k], sn[k] = c, s
				h[k][k] = r
				h[k+1][k] = 0
				for j := k + 1; j < n; j++ {
					t1, t2 := h[k][j], h[k+1][j]
					h[k][j] = complex(c, 0)*t1 + s*t2
					h[k+1][j] = -cmplx.Conj(s)*t1 + complex(c, 0)*t2
				}
			}
			for k := l; k < hi; k++ {
				c, s := cs[k], sn[k]
				for i := 0; i < n; i++ {
					t1, t2 := h[i][k], h[i][k+1]
					h[i][k] = complex(c, 0)*t1 + cmplx.Conj(s)*t2
					h[i][k+1] = -s*t1 + complex(c, 0)*t2
					u1, u2 := q[i][k], q[i][k+1]
					q[i][k] = complex(c, 0)*u1 + cmplx.Conj(s)*u2
					q[i][k+1] = -s*u1 + complex(c, 0)*u2
				}
			}
			for i := l; i <= hi; i++ {
				h[i][i] += mu
			}
		}
	}
	return true
}

// wilkinsonShift returns the eigenvalue of the trailing 2×2 block closest to
// its bottom-right entry.
func wilkinsonShift(h [][]complex128, hi int) complex128 {
	a := h[hi-1][hi-1]
	b := h[hi-1][hi]
	c := h[hi][hi-1]
	d := h[hi][hi]
	tr2 := (a + d) / 2
	disc := cmplx.Sqrt(((a-d)/2)*((a-d)/2) + b*c)
	mu1 := tr2 + disc
	mu2 := tr2 - disc
	if cmplx.Abs(mu1-d) < cmplx.Abs(mu2-d) {
		return mu1
	}
	return mu2
}

// triangularVectors back-substitutes eigenvectors of the triangular factor t
// and maps them through q to eigenvectors of the original matrix, normalized
// to unit Euclidean norm.
func triangularVectors(t, q [][]complex128) [][]complex128 {
	n := len(t)
	scale := 0.0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if v := cmplx.Abs(t[i][j]); v > scale {
				scale = v
			}
		}
	}
	if scale == 0 {
		scale = 1
	}
	smallnum := eigenEps * scale

	vectors := make([][]complex128, n)
	y := make([]complex128, n)
	for k := 0; k < n; k++ {
		for i := range y {
			y[i] = 0
		}
		y[k] = 1
		lambda := t[k][k]
		for i := k - 1; i >= 0; i-- {
			var sum complex128
			for j := i + 1; j <= k; j++ {
				sum += t[i][j] * y[j]
			}
			denom := t[i][i] - lambda
			if cmplx.Abs(denom) < smallnum {
				denom = complex(smallnum, 0)
			}
			y[i] = -sum / denom
		}
		x := cmatVec(q, y)
		var norm float64
		for _, xi := range x {
			norm += real(xi)*real(xi) + imag(xi)*imag(xi)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for i := range x {
				x[i] /= complex(norm, 0)
			}
		}
		vectors[k] = x
	}
	return vectors
}
