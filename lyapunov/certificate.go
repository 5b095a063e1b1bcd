// Package lyapunov synthesizes Lyapunov candidate functions from fitted
// Koopman spectra. The candidate sums squared magnitudes of approximate
// Koopman eigenfunctions over the contracting modes, so it vanishes at the
// equilibrium and shrinks along trajectories the fit explains.
package lyapunov

import (
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"sort"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/koopman"
)

// WeightScheme selects how modes are weighted inside the candidate.
type WeightScheme string

const (
	// WeightUniform gives every selected mode weight 1.
	WeightUniform WeightScheme = "uniform"
	// WeightLambda weights each mode by its contraction rate -Re(log λ)/dt,
	// normalized so the retained weights sum to one.
	WeightLambda WeightScheme = "lambda"
)

// Options configure certificate synthesis.
type Options struct {
	// MinModes is the least number of modes the certificate must carry.
	// When fewer modes are contracting the least-expanding ones fill the
	// gap and a warning is logged.
	MinModes int

	// Weights selects the mode weighting scheme.
	Weights WeightScheme

	// GradStep is the central-difference step for Gradient.
	GradStep float64

	// Equilibrium is the state the candidate vanishes at. Nil means the
	// origin.
	Equilibrium []float64

	Logger *slog.Logger
}

// DefaultOptions carries uniform weights and a single-mode floor.
func DefaultOptions() Options {
	return Options{
		MinModes: 1,
		Weights:  WeightUniform,
		GradStep: 1e-6,
	}
}

// Certificate is a Lyapunov candidate V(x) ≥ 0 with V(equilibrium) = 0.
type Certificate struct {
	dict     koopman.Dictionary
	rows     [][]complex128
	lambdas  []complex128
	weights  []float64
	psi0     []float64
	inputDim int
	obsDim   int
	step     float64
	logger   *slog.Logger
}

// FromResult builds a certificate from a spectral fit. For lifted fits pass
// the dictionary the fit was made with; pass nil for direct fits.
func FromResult(res *koopman.Result, dict koopman.Dictionary, opts Options) (*Certificate, error) {
	if res == nil {
		return nil, fmt.Errorf("lyapunov: nil result: %w", oscilla.ErrInvalidConfig)
	}
	if res.Degenerate {
		return nil, fmt.Errorf("lyapunov: cannot certify a degenerate fit: %w", oscilla.ErrDegenerate)
	}
	if dict == nil && res.Dictionary != "direct" {
		return nil, fmt.Errorf("lyapunov: result was lifted through %q, pass its dictionary: %w",
			res.Dictionary, oscilla.ErrInvalidConfig)
	}
	if dict != nil && dict.Dim() != res.Dim {
		return nil, fmt.Errorf("lyapunov: dictionary lifts to %d observables, fit has %d: %w",
			dict.Dim(), res.Dim, oscilla.ErrDimensionMismatch)
	}
	if opts.MinModes < 1 {
		opts.MinModes = 1
	}
	if opts.MinModes > len(res.Modes) {
		return nil, fmt.Errorf("lyapunov: min modes %d exceeds the %d fitted modes: %w",
			opts.MinModes, len(res.Modes), oscilla.ErrInvalidConfig)
	}
	if opts.GradStep <= 0 || math.IsNaN(opts.GradStep) {
		opts.GradStep = 1e-6
	}
	if opts.Weights == "" {
		opts.Weights = WeightUniform
	}
	if opts.Weights != WeightUniform && opts.Weights != WeightLambda {
		return nil, fmt.Errorf("lyapunov: unknown weight scheme %q: %w",
			opts.Weights, oscilla.ErrInvalidConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inputDim := res.Dim
	if dict != nil {
		inputDim = dict.InputDim()
	}
	eq := opts.Equilibrium
	if eq == nil {
		eq = make([]float64, inputDim)
	}
	if len(eq) != inputDim {
		return nil, fmt.Errorf("lyapunov: equilibrium has %d coordinates, want %d: %w",
			len(eq), inputDim, oscilla.ErrDimensionMismatch)
	}

	allRows, err := res.EigenfunctionRows()
	if err != nil {
		return nil, err
	}

	var selected []int
	var rest []int
	for i, m := range res.Modes {
		if m.Stable {
			selected = append(selected, i)
		} else {
			rest = append(rest, i)
		}
	}
	if len(selected) < opts.MinModes {
		sort.SliceStable(rest, func(a, b int) bool {
			return res.Modes[rest[a]].GrowthRate < res.Modes[rest[b]].GrowthRate
		})
		need := opts.MinModes - len(selected)
		logger.Warn("padding certificate with non-contracting modes",
			"stable", len(selected), "min_modes", opts.MinModes, "padded", need)
		selected = append(selected, rest[:need]...)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("lyapunov: no usable modes: %w", oscilla.ErrDegenerate)
	}

	cert := &Certificate{
		dict:     dict,
		rows:     make([][]complex128, 0, len(selected)),
		lambdas:  make([]complex128, 0, len(selected)),
		weights:  make([]float64, 0, len(selected)),
		inputDim: inputDim,
		obsDim:   res.Dim,
		step:     opts.GradStep,
		logger:   logger,
	}
	weights := make([]float64, len(selected))
	if opts.Weights == WeightLambda {
		// Contraction-rate weighting: each retained mode gets -Re(log λ)/dt,
		// normalized to sum one. Padded non-contracting modes get zero.
		var sum float64
		for k, i := range selected {
			w := -res.Modes[i].GrowthRate
			switch {
			case w < 0 || math.IsNaN(w):
				w = 0
			case math.IsInf(w, 1):
				// λ = 0 contracts in a single step.
				w = 1e6
			}
			weights[k] = w
			sum += w
		}
		for k := range weights {
			if sum > 0 {
				weights[k] /= sum
			} else {
				weights[k] = 1 / float64(len(weights))
			}
		}
	} else {
		for k := range weights {
			weights[k] = 1
		}
	}
	for k, i := range selected {
		cert.rows = append(cert.rows, allRows[i])
		cert.lambdas = append(cert.lambdas, res.Modes[i].Eigenvalue)
		cert.weights = append(cert.weights, weights[k])
	}
	cert.psi0 = cert.lift(eq)
	return cert, nil
}

func (c *Certificate) lift(x []float64) []float64 {
	if c.dict != nil {
		return c.dict.Lift(x)
	}
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

// Value evaluates the candidate at a state.
func (c *Certificate) Value(x []float64) (float64, error) {
	if len(x) != c.inputDim {
		return 0, fmt.Errorf("lyapunov: state has %d coordinates, want %d: %w",
			len(x), c.inputDim, oscilla.ErrDimensionMismatch)
	}
	obs := c.lift(x)
	var v float64
	for i, row := range c.rows {
		var z complex128
		for j := 0; j < c.obsDim; j++ {
			z += row[j] * complex(obs[j]-c.psi0[j], 0)
		}
		mag := cmplx.Abs(z)
		v += c.weights[i] * mag * mag
	}
	return v, nil
}

// Gradient approximates ∇V by central differences.
func (c *Certificate) Gradient(x []float64) ([]float64, error) {
	if len(x) != c.inputDim {
		return nil, fmt.Errorf("lyapunov: state has %d coordinates, want %d: %w",
			len(x), c.inputDim, oscilla.ErrDimensionMismatch)
	}
	g := make([]float64, c.inputDim)
	probe := make([]float64, c.inputDim)
	copy(probe, x)
	for j := 0; j < c.inputDim; j++ {
		orig := probe[j]
		probe[j] = orig + c.step
		hi, err := c.Value(probe)
		if err != nil {
			return nil, err
		}
		probe[j] = orig - c.step
		lo, err := c.Value(probe)
		if err != nil {
			return nil, err
		}
		probe[j] = orig
		g[j] = (hi - lo) / (2 * c.step)
	}
	return g, nil
}

// Decreasing reports whether the candidate is non-increasing along the given
// state sequence, allowing slack of tol per step.
func (c *Certificate) Decreasing(states [][]float64, tol float64) (bool, error) {
	if tol < 0 {
		tol = 0
	}
	prev := math.Inf(1)
	for k, x := range states {
		v, err := c.Value(x)
		if err != nil {
			return false, err
		}
		if k > 0 && v > prev+tol {
			return false, nil
		}
		prev = v
	}
	return true, nil
}

// ModeCount reports how many modes the certificate sums over.
func (c *Certificate) ModeCount() int { return len(c.rows) }

// Eigenvalues returns the eigenvalues of the selected modes.
func (c *Certificate) Eigenvalues() []complex128 {
	out := make([]complex128, len(c.lambdas))
	copy(out, c.lambdas)
	return out
}

// Weights returns the per-mode weights.
func (c *Certificate) Weights() []float64 {
	out := make([]float64, len(c.weights))
	copy(out, c.weights)
	return out
}

// InputDim reports the state dimension the certificate evaluates on.
func (c *Certificate) InputDim() int { return c.inputDim }
