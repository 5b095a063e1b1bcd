package koopman

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/google/uuid"

	oscilla "github.com/oscilla-xyz/go-oscilla"
)

// Options control a spectral fit.
type Options struct {
	// RegParam floors singular values during the pseudoinverse. Singular
	// values below it are raised to it, and only values at or above it
	// count toward the effective rank.
	RegParam float64

	// LambdaCut is the eigenvalue magnitude at or above which a mode is
	// classified unstable.
	LambdaCut float64

	// DominantK is how many modes to flag as dominant.
	DominantK int

	// Shift is the snapshot offset between paired columns. Wider shifts
	// trade temporal resolution for noise robustness.
	Shift int

	// Rank truncates the SVD to at most this many singular values.
	// Zero keeps them all.
	Rank int

	// Center subtracts the per-coordinate mean of the input snapshots
	// from both matrices before fitting.
	Center bool

	// Dt overrides the sample interval when the buffer carries no
	// usable timestamps.
	Dt float64
}

// DefaultOptions fits raw state with light regularization.
func DefaultOptions() Options {
	return Options{
		RegParam:  1e-8,
		LambdaCut: 1.0,
		DominantK: 3,
		Shift:     1,
		Center:    true,
	}
}

// HighNoiseOptions trades spectral resolution for robustness on noisy
// measurements.
func HighNoiseOptions() Options {
	opts := DefaultOptions()
	opts.RegParam = 1e-4
	return opts
}

// LiftedOptions suits dictionary-lifted fits, where observables are already
// bounded and centering would distort the basis.
func LiftedOptions() Options {
	return Options{
		RegParam:  1e-6,
		LambdaCut: 1.0,
		DominantK: 2,
		Shift:     1,
		Center:    false,
	}
}

func (o Options) validate() error {
	if o.RegParam <= 0 || math.IsNaN(o.RegParam) {
		return fmt.Errorf("koopman: regularization %g: %w", o.RegParam, oscilla.ErrInvalidConfig)
	}
	if o.LambdaCut <= 0 || math.IsNaN(o.LambdaCut) {
		return fmt.Errorf("koopman: lambda cut %g: %w", o.LambdaCut, oscilla.ErrInvalidConfig)
	}
	if o.DominantK < 0 {
		return fmt.Errorf("koopman: dominant count %d: %w", o.DominantK, oscilla.ErrInvalidConfig)
	}
	if o.Rank < 0 {
		return fmt.Errorf("koopman: rank %d: %w", o.Rank, oscilla.ErrInvalidConfig)
	}
	return nil
}

// Mode is one spectral component of the fitted operator.
type Mode struct {
	Eigenvalue   complex128
	Frequency    float64
	GrowthRate   float64
	DampingRatio float64
	Amplitude    float64
	Vector       []complex128
	Stable       bool
	Dominant     bool
}

// Result is a complete spectral analysis.
type Result struct {
	ID             string
	Modes          []Mode
	StabilityIndex float64
	// ReconstructionError is the relative Frobenius distance between the
	// snapshots and their modal reconstruction.
	ReconstructionError float64
	SingularValues      []float64
	// Mean is the per-coordinate snapshot mean removed before the fit, nil
	// when centering was disabled. Forecasts must re-apply it.
	Mean []float64
	EffectiveRank       int
	Dim                 int
	Samples             int
	Dt                  float64
	Dictionary          string
	Degenerate          bool
}

// StableModeCount reports how many modes are classified stable.
func (r *Result) StableModeCount() int {
	n := 0
	for _, m := range r.Modes {
		if m.Stable {
			n++
		}
	}
	return n
}

// DominantModes returns the modes flagged dominant, in score order.
func (r *Result) DominantModes() []Mode {
	out := make([]Mode, 0, len(r.Modes))
	for _, m := range r.Modes {
		if m.Dominant {
			out = append(out, m)
		}
	}
	return out
}

// EigenfunctionRows returns the rows of the inverse mode matrix, one per
// mode in Modes order. Row i dotted with an observable vector evaluates the
// i-th approximate Koopman eigenfunction.
func (r *Result) EigenfunctionRows() ([][]complex128, error) {
	n := len(r.Modes)
	if n == 0 {
		return nil, fmt.Errorf("koopman: result has no modes: %w", oscilla.ErrDegenerate)
	}
	phi := czeros(n, n)
	for j, m := range r.Modes {
		if len(m.Vector) != n {
			return nil, fmt.Errorf("koopman: mode vector length %d, want %d: %w",
				len(m.Vector), n, oscilla.ErrDimensionMismatch)
		}
		for i := 0; i < n; i++ {
			phi[i][j] = m.Vector[i]
		}
	}
	rows := czeros(n, n)
	e := make([]complex128, n)
	for j := 0; j < n; j++ {
		e[j] = 1
		col := solveComplex(phi, e)
		e[j] = 0
		for i := 0; i < n; i++ {
			rows[i][j] = col[i]
		}
	}
	return rows, nil
}

// Fit estimates the Koopman operator from snapshot pairs. Column c of y must
// be the system state one interval of dt after column c of x. When the data
// cannot support a spectrum the returned result carries the diagnostics that
// are still meaningful, Degenerate is set, and the error wraps ErrDegenerate.
func Fit(x, y [][]float64, dt float64, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if dt <= 0 || math.IsNaN(dt) {
		return nil, fmt.Errorf("koopman: sample interval %g: %w", dt, oscilla.ErrInvalidConfig)
	}
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, fmt.Errorf("koopman: snapshot matrices %dx? and %dx?: %w",
			n, len(y), oscilla.ErrDimensionMismatch)
	}
	m := len(x[0])
	for i := 0; i < n; i++ {
		if len(x[i]) != m || len(y[i]) != m {
			return nil, fmt.Errorf("koopman: ragged snapshot row %d: %w",
				i, oscilla.ErrDimensionMismatch)
		}
	}
	if m < 2 {
		return nil, fmt.Errorf("koopman: %d snapshot pairs, need at least 2: %w",
			m, oscilla.ErrInsufficientData)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if !isFinite(x[i][j]) || !isFinite(y[i][j]) {
				return nil, fmt.Errorf("koopman: non-finite sample at (%d,%d): %w",
					i, j, oscilla.ErrInsufficientData)
			}
		}
	}

	xc := cloneMatrix(x)
	yc := cloneMatrix(y)
	var means []float64
	if opts.Center {
		means = columnMeans(xc)
		subtractFromColumns(xc, means)
		subtractFromColumns(yc, means)
	}

	dec := svd(xc)
	rank := len(dec.S)
	if opts.Rank > 0 && opts.Rank < rank {
		rank = opts.Rank
	}
	sv := make([]float64, rank)
	copy(sv, dec.S[:rank])

	res := &Result{
		ID:             uuid.NewString(),
		StabilityIndex: math.NaN(),
		SingularValues: sv,
		Mean:           means,
		Dim:            n,
		Samples:        m,
		Dt:             dt,
		Dictionary:     "direct",
	}
	for _, s := range sv {
		if s >= opts.RegParam {
			res.EffectiveRank++
		}
	}
	if res.EffectiveRank == 0 {
		res.Degenerate = true
		return res, fmt.Errorf("koopman: no singular value reaches %g: %w",
			opts.RegParam, oscilla.ErrDegenerate)
	}

	// K = Y V Σ⁻¹ Uᵗ with floored singular values.
	w := zeros(m, rank)
	for i := 0; i < m; i++ {
		for j := 0; j < rank; j++ {
			w[i][j] = dec.V[i][j] / math.Max(sv[j], opts.RegParam)
		}
	}
	yw := matMul(yc, w)
	ut := zeros(rank, n)
	for i := 0; i < n; i++ {
		for j := 0; j < rank; j++ {
			ut[j][i] = dec.U[i][j]
		}
	}
	k := matMul(yw, ut)

	values, vectors, ok := eigen(k)
	if !ok {
		res.Degenerate = true
		return res, fmt.Errorf("koopman: eigendecomposition did not converge: %w",
			oscilla.ErrDegenerate)
	}

	// Modal amplitudes from the initial snapshot.
	phi := czeros(n, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			phi[i][j] = vectors[j][i]
		}
	}
	x0 := make([]complex128, n)
	for i := 0; i < n; i++ {
		x0[i] = complex(xc[i][0], 0)
	}
	amps := solveComplex(phi, x0)

	modes := make([]Mode, n)
	for i := 0; i < n; i++ {
		lam := values[i]
		mode := Mode{
			Eigenvalue: lam,
			Amplitude:  cmplx.Abs(amps[i]),
			Vector:     vectors[i],
		}
		if cmplx.Abs(lam) == 0 {
			mode.GrowthRate = math.Inf(-1)
			mode.DampingRatio = 1
		} else {
			clog := cmplx.Log(lam)
			mode.GrowthRate = real(clog) / dt
			mode.Frequency = math.Abs(imag(clog)) / (2 * math.Pi * dt)
			mag := cmplx.Abs(clog)
			if mag > 0 {
				mode.DampingRatio = -real(clog) / mag
			}
		}
		mode.Stable = mode.GrowthRate <= 0 && cmplx.Abs(lam) < opts.LambdaCut
		modes[i] = mode
	}

	maxGrowth := math.Inf(-1)
	finiteGrowth := false
	for _, mo := range modes {
		if isFinite(mo.GrowthRate) {
			finiteGrowth = true
			if mo.GrowthRate > maxGrowth {
				maxGrowth = mo.GrowthRate
			}
		}
	}

	maxAmp := 0.0
	for _, mo := range modes {
		if mo.Amplitude > maxAmp {
			maxAmp = mo.Amplitude
		}
	}
	scores := make([]float64, n)
	for i, mo := range modes {
		var ampScore, growthScore float64
		if maxAmp > 0 {
			ampScore = mo.Amplitude / maxAmp
		}
		if finiteGrowth {
			growthScore = math.Exp(mo.GrowthRate - maxGrowth)
		}
		scores[i] = 0.7*ampScore + 0.3*growthScore
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	sorted := make([]Mode, n)
	for rankPos, idx := range order {
		sorted[rankPos] = modes[idx]
		if rankPos < opts.DominantK {
			sorted[rankPos].Dominant = true
		}
	}
	res.Modes = sorted

	res.ReconstructionError = reconstructionError(phi, values, amps, xc)

	if !finiteGrowth {
		res.Degenerate = true
		return res, fmt.Errorf("koopman: no mode has a finite growth rate: %w",
			oscilla.ErrDegenerate)
	}
	res.StabilityIndex = -math.Tanh(maxGrowth)
	return res, nil
}

// FitLifted runs the fit in a dictionary's observable space.
func FitLifted(x, y [][]float64, dt float64, dict Dictionary, opts Options) (*Result, error) {
	if dict == nil {
		return nil, fmt.Errorf("koopman: nil dictionary: %w", oscilla.ErrInvalidConfig)
	}
	if len(x) != dict.InputDim() {
		return nil, fmt.Errorf("koopman: %d state rows, dictionary expects %d: %w",
			len(x), dict.InputDim(), oscilla.ErrDimensionMismatch)
	}
	res, err := Fit(liftColumns(dict, x), liftColumns(dict, y), dt, opts)
	if res != nil {
		res.Dictionary = dict.Name()
	}
	return res, err
}

// reconstructionError advances the modal expansion from the first snapshot
// and measures the relative Frobenius distance against the data.
func reconstructionError(phi [][]complex128, values []complex128, amps []complex128, x [][]float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	m := len(x[0])
	pow := make([]complex128, n)
	for i := range pow {
		pow[i] = 1
	}
	term := make([]complex128, n)
	var num, den float64
	for c := 0; c < m; c++ {
		for i := 0; i < n; i++ {
			term[i] = pow[i] * amps[i]
		}
		rec := cmatVec(phi, term)
		for i := 0; i < n; i++ {
			diff := real(rec[i]) - x[i][c]
			num += diff*diff + imag(rec[i])*imag(rec[i])
			den += x[i][c] * x[i][c]
		}
		for i := 0; i < n; i++ {
			pow[i] *= values[i]
		}
	}
	if den == 0 {
		return 0
	}
	return math.Sqrt(num / den)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
