package lyapunov

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/koopman"
)

func trajectoryStates(a [][]float64, x0 []float64, steps int) [][]float64 {
	n := len(x0)
	states := make([][]float64, steps)
	cur := make([]float64, n)
	copy(cur, x0)
	for k := 0; k < steps; k++ {
		states[k] = make([]float64, n)
		copy(states[k], cur)
		next := make([]float64, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				next[i] += a[i][j] * cur[j]
			}
		}
		cur = next
	}
	return states
}

func statePairs(states [][]float64) (x, y [][]float64) {
	n := len(states[0])
	m := len(states) - 1
	x = make([][]float64, n)
	y = make([][]float64, n)
	for i := 0; i < n; i++ {
		x[i] = make([]float64, m)
		y[i] = make([]float64, m)
		for k := 0; k < m; k++ {
			x[i][k] = states[k][i]
			y[i][k] = states[k+1][i]
		}
	}
	return x, y
}

func fitLinear(t *testing.T, a [][]float64, x0 []float64, steps int) *koopman.Result {
	t.Helper()
	x, y := statePairs(trajectoryStates(a, x0, steps))
	opts := koopman.DefaultOptions()
	opts.Center = false
	res, err := koopman.Fit(x, y, 1.0, opts)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	return res
}

func stableSystem(t *testing.T) *koopman.Result {
	return fitLinear(t, [][]float64{{0.9, 0.1}, {0.0, 0.8}}, []float64{1, 0.5}, 30)
}

func TestCertificateZeroAtEquilibriumAndNonNegative(t *testing.T) {
	cert, err := FromResult(stableSystem(t), nil, DefaultOptions())
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	v, err := cert.Value([]float64{0, 0})
	if err != nil {
		t.Fatalf("value at origin: %v", err)
	}
	if v != 0 {
		t.Fatalf("V(0) = %g, want exactly 0", v)
	}
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		x := []float64{r.Float64()*10 - 5, r.Float64()*10 - 5}
		v, err := cert.Value(x)
		if err != nil {
			t.Fatalf("value: %v", err)
		}
		if v < 0 {
			t.Fatalf("V(%v) = %g, candidate must be non-negative", x, v)
		}
	}
}

func TestCertificateDecreasingAlongTrajectory(t *testing.T) {
	res := stableSystem(t)
	states := trajectoryStates([][]float64{{0.9, 0.1}, {0.0, 0.8}}, []float64{2, -1}, 40)

	for _, scheme := range []WeightScheme{WeightUniform, WeightLambda} {
		opts := DefaultOptions()
		opts.Weights = scheme
		cert, err := FromResult(res, nil, opts)
		if err != nil {
			t.Fatalf("%s certificate: %v", scheme, err)
		}
		ok, err := cert.Decreasing(states, 1e-9)
		if err != nil {
			t.Fatalf("%s decreasing: %v", scheme, err)
		}
		if !ok {
			t.Errorf("%s candidate increases along a contracting trajectory", scheme)
		}
	}
}

func TestCertificateDetectsIncrease(t *testing.T) {
	cert, err := FromResult(stableSystem(t), nil, DefaultOptions())
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	states := trajectoryStates([][]float64{{0.9, 0.1}, {0.0, 0.8}}, []float64{2, -1}, 40)
	for i, j := 0, len(states)-1; i < j; i, j = i+1, j-1 {
		states[i], states[j] = states[j], states[i]
	}
	ok, err := cert.Decreasing(states, 1e-9)
	if err != nil {
		t.Fatalf("decreasing: %v", err)
	}
	if ok {
		t.Error("reversed trajectory should not satisfy the decrease condition")
	}
}

func TestCertificateMinModesPadding(t *testing.T) {
	res := fitLinear(t, [][]float64{{1.1, 0}, {0, 0.8}}, []float64{0.5, 1}, 30)

	cert, err := FromResult(res, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	if cert.ModeCount() != 1 {
		t.Errorf("mode count %d, want 1 contracting mode", cert.ModeCount())
	}

	opts := DefaultOptions()
	opts.MinModes = 2
	cert, err = FromResult(res, nil, opts)
	if err != nil {
		t.Fatalf("padded certificate: %v", err)
	}
	if cert.ModeCount() != 2 {
		t.Errorf("mode count %d, want padding up to 2", cert.ModeCount())
	}

	opts.MinModes = len(res.Modes) + 1
	if _, err := FromResult(res, nil, opts); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Fatalf("min modes beyond the fit: expected ErrInvalidConfig, got %v", err)
	}
}

func TestCertificateLambdaWeights(t *testing.T) {
	opts := DefaultOptions()
	opts.Weights = WeightLambda
	cert, err := FromResult(stableSystem(t), nil, opts)
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	got := cert.Weights()
	if len(got) != 2 {
		t.Fatalf("weight count %d, want 2", len(got))
	}
	if s := got[0] + got[1]; math.Abs(s-1) > 1e-9 {
		t.Errorf("weights sum to %g, want 1", s)
	}
	// Contraction rates -log 0.8 and -log 0.9, normalized.
	rates := []float64{-math.Log(0.8), -math.Log(0.9)}
	sum := rates[0] + rates[1]
	want := []float64{rates[0] / sum, rates[1] / sum}
	sort.Sort(sort.Reverse(sort.Float64Slice(got)))
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Errorf("weight %d = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestCertificateRejectsDegenerate(t *testing.T) {
	x := make([][]float64, 2)
	y := make([][]float64, 2)
	for i := range x {
		x[i] = []float64{1, 1, 1, 1, 1}
		y[i] = []float64{1, 1, 1, 1, 1}
	}
	res, _ := koopman.Fit(x, y, 1.0, koopman.DefaultOptions())
	if _, err := FromResult(res, nil, DefaultOptions()); !errors.Is(err, oscilla.ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate, got %v", err)
	}
	if _, err := FromResult(nil, nil, DefaultOptions()); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Fatalf("nil result: expected ErrInvalidConfig, got %v", err)
	}
}

func TestCertificateGradient(t *testing.T) {
	cert, err := FromResult(stableSystem(t), nil, DefaultOptions())
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	g, err := cert.Gradient([]float64{0, 0})
	if err != nil {
		t.Fatalf("gradient: %v", err)
	}
	for j, v := range g {
		if math.Abs(v) > 1e-12 {
			t.Errorf("gradient[%d] = %g at the minimum, want 0", j, v)
		}
	}

	x := []float64{1.2, -0.4}
	g, err = cert.Gradient(x)
	if err != nil {
		t.Fatalf("gradient: %v", err)
	}
	v0, _ := cert.Value(x)
	ahead := make([]float64, len(x))
	for j := range x {
		ahead[j] = x[j] + 1e-3*g[j]
	}
	v1, _ := cert.Value(ahead)
	if v1 <= v0 {
		t.Errorf("stepping along the gradient should increase V: %g -> %g", v0, v1)
	}
}

func TestCertificateLifted(t *testing.T) {
	states := trajectoryStates([][]float64{{0.9, 0.1}, {0.0, 0.8}}, []float64{1, 0.5}, 40)
	x, y := statePairs(states)
	dict, err := koopman.NewRBFDictionary([][]float64{{0, 0}, {0.5, 0.2}, {-0.3, 0.4}}, 2.0)
	if err != nil {
		t.Fatalf("dictionary: %v", err)
	}
	res, err := koopman.FitLifted(x, y, 1.0, dict, koopman.LiftedOptions())
	if err != nil {
		t.Fatalf("lifted fit: %v", err)
	}

	if _, err := FromResult(res, nil, DefaultOptions()); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Fatalf("lifted result without dictionary: expected ErrInvalidConfig, got %v", err)
	}

	cert, err := FromResult(res, dict, DefaultOptions())
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	if cert.InputDim() != 2 {
		t.Fatalf("input dimension %d, want 2", cert.InputDim())
	}
	v, err := cert.Value([]float64{0, 0})
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != 0 {
		t.Fatalf("V at equilibrium = %g, want exactly 0", v)
	}
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		p := []float64{r.Float64()*4 - 2, r.Float64()*4 - 2}
		v, err := cert.Value(p)
		if err != nil {
			t.Fatalf("value: %v", err)
		}
		if v < 0 {
			t.Fatalf("V(%v) = %g, want non-negative", p, v)
		}
	}
	if _, err := cert.Value([]float64{1, 2, 3}); !errors.Is(err, oscilla.ErrDimensionMismatch) {
		t.Errorf("wrong dimension: expected ErrDimensionMismatch, got %v", err)
	}
}
