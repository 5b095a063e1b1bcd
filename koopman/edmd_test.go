package koopman

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/buffer"
)

// linearTrajectory iterates x_{k+1} = A x_k and returns the snapshots as
// columns.
func linearTrajectory(a [][]float64, x0 []float64, steps int) [][]float64 {
	n := len(x0)
	out := zeros(n, steps)
	cur := make([]float64, n)
	copy(cur, x0)
	next := make([]float64, n)
	for k := 0; k < steps; k++ {
		for i := 0; i < n; i++ {
			out[i][k] = cur[i]
		}
		for i := 0; i < n; i++ {
			var s float64
			for j := 0; j < n; j++ {
				s += a[i][j] * cur[j]
			}
			next[i] = s
		}
		cur, next = next, cur
	}
	return out
}

// snapshotPairs splits a trajectory into (X, Y) with Y one step ahead.
func snapshotPairs(traj [][]float64) (x, y [][]float64) {
	n := len(traj)
	m := len(traj[0]) - 1
	x = zeros(n, m)
	y = zeros(n, m)
	for i := 0; i < n; i++ {
		copy(x[i], traj[i][:m])
		copy(y[i], traj[i][1:])
	}
	return x, y
}

func rotationMatrix(rho, theta float64) [][]float64 {
	return [][]float64{
		{rho * math.Cos(theta), -rho * math.Sin(theta)},
		{rho * math.Sin(theta), rho * math.Cos(theta)},
	}
}

func TestFitRecoversLinearSystem(t *testing.T) {
	a := [][]float64{
		{0.9, 0.1},
		{0.0, 0.8},
	}
	traj := linearTrajectory(a, []float64{1, 0.5}, 30)
	x, y := snapshotPairs(traj)

	opts := DefaultOptions()
	opts.Center = false
	res, err := Fit(x, y, 1.0, opts)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if res.Degenerate {
		t.Fatal("fit reported degenerate on clean linear data")
	}
	if res.ID == "" {
		t.Error("result has no id")
	}
	if res.EffectiveRank != 2 {
		t.Errorf("effective rank %d, want 2", res.EffectiveRank)
	}
	if res.Dictionary != "direct" {
		t.Errorf("dictionary %q, want direct", res.Dictionary)
	}
	if len(res.Modes) != 2 {
		t.Fatalf("expected 2 modes, got %d", len(res.Modes))
	}

	got := make([]float64, 0, 2)
	for _, m := range res.Modes {
		if math.Abs(imag(m.Eigenvalue)) > 1e-8 {
			t.Errorf("eigenvalue %v has spurious imaginary part", m.Eigenvalue)
		}
		got = append(got, real(m.Eigenvalue))
		if !m.Stable {
			t.Errorf("mode with eigenvalue %v classified unstable", m.Eigenvalue)
		}
	}
	hi, lo := got[0], got[1]
	if hi < lo {
		hi, lo = lo, hi
	}
	if math.Abs(hi-0.9) > 1e-6 || math.Abs(lo-0.8) > 1e-6 {
		t.Errorf("eigenvalues %v, want [0.9 0.8]", got)
	}

	if res.StableModeCount() != 2 {
		t.Errorf("stable mode count %d, want 2", res.StableModeCount())
	}
	if res.ReconstructionError > 1e-8 {
		t.Errorf("reconstruction error %g on exact data", res.ReconstructionError)
	}
	wantIndex := -math.Tanh(math.Log(0.9))
	if math.Abs(res.StabilityIndex-wantIndex) > 1e-6 {
		t.Errorf("stability index %g, want %g", res.StabilityIndex, wantIndex)
	}
}

func TestFitComplexPairMetrics(t *testing.T) {
	rho, theta, dt := 0.95, 0.3, 0.1
	traj := linearTrajectory(rotationMatrix(rho, theta), []float64{1, 0}, 40)
	x, y := snapshotPairs(traj)

	opts := DefaultOptions()
	opts.Center = false
	res, err := Fit(x, y, dt, opts)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	clog := complex(math.Log(rho), theta)
	wantGrowth := real(clog) / dt
	wantFreq := imag(clog) / (2 * math.Pi * dt)
	wantDamping := -real(clog) / cmplx.Abs(clog)

	for _, m := range res.Modes {
		if math.Abs(m.GrowthRate-wantGrowth) > 1e-6 {
			t.Errorf("growth rate %g, want %g", m.GrowthRate, wantGrowth)
		}
		if math.Abs(m.Frequency-wantFreq) > 1e-6 {
			t.Errorf("frequency %g, want %g", m.Frequency, wantFreq)
		}
		if math.Abs(m.DampingRatio-wantDamping) > 1e-6 {
			t.Errorf("damping ratio %g, want %g", m.DampingRatio, wantDamping)
		}
		if !m.Stable {
			t.Errorf("contracting mode %v classified unstable", m.Eigenvalue)
		}
	}
	wantIndex := -math.Tanh(wantGrowth)
	if math.Abs(res.StabilityIndex-wantIndex) > 1e-6 {
		t.Errorf("stability index %g, want %g", res.StabilityIndex, wantIndex)
	}
}

func TestFitCenteredOscillation(t *testing.T) {
	// Rotation by π/10 has period 20, so 40 sample columns cover exactly
	// two periods and the column mean equals the offset.
	theta := math.Pi / 10
	rot := rotationMatrix(1.0, theta)
	offset := []float64{1.5, -0.7}
	traj := linearTrajectory(rot, []float64{0.6, 0.2}, 41)
	for i := range traj {
		for j := range traj[i] {
			traj[i][j] += offset[i]
		}
	}
	x, y := snapshotPairs(traj)

	res, err := Fit(x, y, 1.0, DefaultOptions())
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	for _, m := range res.Modes {
		if math.Abs(cmplx.Abs(m.Eigenvalue)-1) > 1e-9 {
			t.Errorf("eigenvalue magnitude %g, want 1", cmplx.Abs(m.Eigenvalue))
		}
		if math.Abs(m.Frequency-theta/(2*math.Pi)) > 1e-6 {
			t.Errorf("frequency %g, want %g", m.Frequency, theta/(2*math.Pi))
		}
	}
	if math.Abs(res.StabilityIndex) > 1e-6 {
		t.Errorf("stability index %g for a marginal oscillation, want 0", res.StabilityIndex)
	}
	if res.ReconstructionError > 1e-8 {
		t.Errorf("reconstruction error %g on exact data", res.ReconstructionError)
	}
	for i := range offset {
		if math.Abs(res.Mean[i]-offset[i]) > 1e-9 {
			t.Errorf("Mean[%d] = %g, want %g", i, res.Mean[i], offset[i])
		}
	}

	// Without centering the offset leaks into the fit and the rotation is no
	// longer recovered exactly.
	raw := DefaultOptions()
	raw.Center = false
	resRaw, err := Fit(x, y, 1.0, raw)
	if err != nil {
		t.Fatalf("uncentered fit failed: %v", err)
	}
	if resRaw.ReconstructionError < 1e-3 {
		t.Errorf("uncentered reconstruction error %g, expected the offset to spoil the fit",
			resRaw.ReconstructionError)
	}
}

func TestFitLiftedFourierLinearizesPhase(t *testing.T) {
	// A uniformly advancing wrapped phase is nonlinear in state but exactly
	// a rotation in sin/cos observables.
	omega, dt := 1.3, 0.1
	steps := 50
	phases := zeros(1, steps)
	for k := 0; k < steps; k++ {
		phases[0][k] = math.Mod(omega*dt*float64(k), 2*math.Pi)
	}
	x, y := snapshotPairs(phases)

	dict, err := NewFourierDictionary(1, 1, 1.0)
	if err != nil {
		t.Fatalf("dictionary: %v", err)
	}
	res, err := FitLifted(x, y, dt, dict, LiftedOptions())
	if err != nil {
		t.Fatalf("lifted fit failed: %v", err)
	}
	if res.Dictionary != "fourier" {
		t.Errorf("dictionary %q, want fourier", res.Dictionary)
	}
	if res.Dim != 2 {
		t.Errorf("lifted dimension %d, want 2", res.Dim)
	}
	wantFreq := omega / (2 * math.Pi)
	for _, m := range res.Modes {
		if math.Abs(m.GrowthRate) > 1e-6 {
			t.Errorf("growth rate %g, want 0", m.GrowthRate)
		}
		if math.Abs(m.Frequency-wantFreq) > 1e-6 {
			t.Errorf("frequency %g, want %g", m.Frequency, wantFreq)
		}
	}
	if res.ReconstructionError > 1e-8 {
		t.Errorf("reconstruction error %g on exact data", res.ReconstructionError)
	}
}

func TestFitInsufficientData(t *testing.T) {
	x := [][]float64{{1}, {2}}
	y := [][]float64{{1}, {2}}
	opts := DefaultOptions()
	if _, err := Fit(x, y, 1.0, opts); !errors.Is(err, oscilla.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestFitDegenerateFlatData(t *testing.T) {
	x := zeros(2, 10)
	y := zeros(2, 10)
	for j := 0; j < 10; j++ {
		x[0][j], x[1][j] = 1, 1
		y[0][j], y[1][j] = 1, 1
	}
	res, err := Fit(x, y, 1.0, DefaultOptions())
	if !errors.Is(err, oscilla.ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate, got %v", err)
	}
	if res == nil {
		t.Fatal("degenerate fit returned no diagnostic result")
	}
	if !res.Degenerate {
		t.Error("result not flagged degenerate")
	}
	if res.EffectiveRank != 0 {
		t.Errorf("effective rank %d, want 0", res.EffectiveRank)
	}
	if !math.IsNaN(res.StabilityIndex) {
		t.Errorf("stability index %g, want NaN", res.StabilityIndex)
	}
}

func TestFitDegenerateNilpotent(t *testing.T) {
	a := [][]float64{
		{0, 1},
		{0, 0},
	}
	traj := linearTrajectory(a, []float64{0, 1}, 6)
	x, y := snapshotPairs(traj)

	opts := DefaultOptions()
	opts.Center = false
	res, err := Fit(x, y, 1.0, opts)
	if !errors.Is(err, oscilla.ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate for nilpotent dynamics, got %v", err)
	}
	if res == nil || !res.Degenerate {
		t.Fatal("nilpotent fit should return a degenerate result")
	}
	if !math.IsNaN(res.StabilityIndex) {
		t.Errorf("stability index %g, want NaN", res.StabilityIndex)
	}
	for _, m := range res.Modes {
		if cmplx.Abs(m.Eigenvalue) > 1e-10 {
			t.Errorf("eigenvalue %v, want 0", m.Eigenvalue)
		}
	}
}

func TestFitValidation(t *testing.T) {
	good := zeros(2, 5)
	opts := DefaultOptions()

	ragged := [][]float64{make([]float64, 5), make([]float64, 4)}
	if _, err := Fit(ragged, good, 1.0, opts); !errors.Is(err, oscilla.ErrDimensionMismatch) {
		t.Errorf("ragged rows: expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := Fit(good, zeros(3, 5), 1.0, opts); !errors.Is(err, oscilla.ErrDimensionMismatch) {
		t.Errorf("row count mismatch: expected ErrDimensionMismatch, got %v", err)
	}

	withNaN := zeros(2, 5)
	withNaN[1][3] = math.NaN()
	if _, err := Fit(withNaN, good, 1.0, opts); !errors.Is(err, oscilla.ErrInsufficientData) {
		t.Errorf("NaN sample: expected ErrInsufficientData, got %v", err)
	}

	if _, err := Fit(good, good, 0, opts); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Errorf("zero dt: expected ErrInvalidConfig, got %v", err)
	}

	bad := opts
	bad.RegParam = 0
	if _, err := Fit(good, good, 1.0, bad); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Errorf("zero regularization: expected ErrInvalidConfig, got %v", err)
	}
	bad = opts
	bad.DominantK = -1
	if _, err := Fit(good, good, 1.0, bad); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Errorf("negative dominant count: expected ErrInvalidConfig, got %v", err)
	}
}

func TestFitDominantSelection(t *testing.T) {
	a := [][]float64{
		{0.9, 0.1},
		{0.0, 0.8},
	}
	traj := linearTrajectory(a, []float64{1, 0.5}, 30)
	x, y := snapshotPairs(traj)

	opts := DefaultOptions()
	opts.Center = false
	opts.DominantK = 1
	res, err := Fit(x, y, 1.0, opts)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if !res.Modes[0].Dominant || res.Modes[1].Dominant {
		t.Errorf("dominance flags %v %v, want exactly the leading mode",
			res.Modes[0].Dominant, res.Modes[1].Dominant)
	}
	if got := res.DominantModes(); len(got) != 1 {
		t.Errorf("dominant mode count %d, want 1", len(got))
	}
}

func rotationBuffer(t *testing.T, rho, theta, dt float64, steps int) *buffer.Buffer {
	t.Helper()
	buf, err := buffer.New(steps)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	traj := linearTrajectory(rotationMatrix(rho, theta), []float64{1, 0}, steps)
	for k := 0; k < steps; k++ {
		if err := buf.Add([]float64{traj[0][k], traj[1][k]}, dt*float64(k)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	return buf
}

func TestEstimatorAnalyze(t *testing.T) {
	rho, theta, dt := 0.95, 0.3, 0.1
	buf := rotationBuffer(t, rho, theta, dt, 40)

	opts := DefaultOptions()
	opts.Center = false
	est := NewEstimator(opts)
	res, err := est.Analyze(buf)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if math.Abs(res.Dt-dt) > 1e-9 {
		t.Errorf("inferred dt %g, want %g", res.Dt, dt)
	}
	wantGrowth := math.Log(rho) / dt
	for _, m := range res.Modes {
		if math.Abs(m.GrowthRate-wantGrowth) > 1e-6 {
			t.Errorf("growth rate %g, want %g", m.GrowthRate, wantGrowth)
		}
	}
	if est.LastResult() != res {
		t.Error("LastResult does not return the latest fit")
	}
	if got := est.StabilityIndex(); got != res.StabilityIndex {
		t.Errorf("StabilityIndex %g, want %g", got, res.StabilityIndex)
	}
}

func TestEstimatorShiftKeepsGrowthRate(t *testing.T) {
	rho, theta, dt := 0.95, 0.3, 0.1
	buf := rotationBuffer(t, rho, theta, dt, 40)

	opts := DefaultOptions()
	opts.Center = false
	opts.Shift = 2
	est := NewEstimator(opts)
	res, err := est.Analyze(buf)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if math.Abs(res.Dt-2*dt) > 1e-9 {
		t.Errorf("effective dt %g, want %g", res.Dt, 2*dt)
	}
	// Doubling the shift squares the eigenvalues but the continuous-time
	// growth rate is unchanged.
	wantGrowth := math.Log(rho) / dt
	for _, m := range res.Modes {
		if math.Abs(m.GrowthRate-wantGrowth) > 1e-6 {
			t.Errorf("growth rate %g, want %g", m.GrowthRate, wantGrowth)
		}
	}
}

func TestEstimatorErrors(t *testing.T) {
	est := NewEstimator(DefaultOptions())
	if _, err := est.Analyze(nil); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Errorf("nil buffer: expected ErrInvalidConfig, got %v", err)
	}
	if !math.IsNaN(est.StabilityIndex()) {
		t.Error("stability index should be NaN before any fit")
	}

	buf, err := buffer.New(8)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	buf.Add([]float64{1, 0}, 0)
	buf.Add([]float64{0.9, 0.1}, 0.1)
	if _, err := est.Analyze(buf); !errors.Is(err, oscilla.ErrInsufficientData) {
		t.Errorf("two snapshots: expected ErrInsufficientData, got %v", err)
	}
	if est.LastResult() != nil {
		t.Error("failed analyze should not store a result")
	}
}

func TestEstimatorStoresDegenerateResult(t *testing.T) {
	buf, err := buffer.New(16)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	for k := 0; k < 10; k++ {
		buf.Add([]float64{1, 1}, float64(k))
	}
	est := NewEstimator(DefaultOptions())
	res, err := est.Analyze(buf)
	if !errors.Is(err, oscilla.ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate, got %v", err)
	}
	if res == nil || !res.Degenerate {
		t.Fatal("expected a degenerate diagnostic result")
	}
	if est.LastResult() != res {
		t.Error("degenerate result should still be stored for inspection")
	}
}
