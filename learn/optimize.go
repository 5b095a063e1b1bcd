package learn

import (
	"fmt"
	"log/slog"
	"math"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/solver"
)

// FitOptions configures the parameter fitting process.
type FitOptions struct {
	MaxIters      int     // Maximum number of iterations
	Tolerance     float64 // Convergence tolerance for loss
	Method        string  // Optimization method: "nelder-mead", "coordinate-descent"
	StepSize      float64 // Initial step size (for coordinate descent)
	SolverMethod  *solver.Solver
	SolverOptions *solver.Options
	Logger        *slog.Logger // Progress at debug level; nil uses slog.Default
}

// DefaultFitOptions returns default fitting options.
func DefaultFitOptions() *FitOptions {
	return &FitOptions{
		MaxIters:      1000,
		Tolerance:     1e-4,
		Method:        "nelder-mead",
		StepSize:      0.01,
		SolverMethod:  solver.Tsit5(),
		SolverOptions: solver.SweepOptions(),
	}
}

// FitResult contains the results of parameter fitting.
type FitResult struct {
	Params      []float64         // Final flat parameter vector
	Indices     map[string][2]int // Group name -> [start, end) in Params
	InitialLoss float64           // Loss before optimization
	FinalLoss   float64           // Loss after optimization
	Iterations  int               // Number of iterations performed
	Converged   bool              // Whether the optimization converged
}

// GroupParams returns the fitted parameters of one group.
func (r *FitResult) GroupParams(name string) []float64 {
	idx, ok := r.Indices[name]
	if !ok {
		return nil
	}
	out := make([]float64, idx[1]-idx[0])
	copy(out, r.Params[idx[0]:idx[1]])
	return out
}

// Fit optimizes the parameters of a CalibrationProblem to minimize the loss
// on a dataset. The problem's groups hold the fitted values afterward.
func Fit(prob *CalibrationProblem, data *Dataset, lossFunc LossFunc, opts *FitOptions) (*FitResult, error) {
	if opts == nil {
		opts = DefaultFitOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	initialParams, indices := prob.GetAllParams()
	if len(initialParams) == 0 {
		return nil, fmt.Errorf("learn: no learnable parameters: %w", oscilla.ErrInvalidConfig)
	}

	sol := prob.Solve(opts.SolverMethod, opts.SolverOptions)
	initialLoss := lossFunc(sol, data)
	logger.Debug("calibration start", "loss", initialLoss, "params", len(initialParams))

	objective := func(params []float64) float64 {
		prob.SetAllParams(params, indices)
		sol := prob.Solve(opts.SolverMethod, opts.SolverOptions)
		return lossFunc(sol, data)
	}

	var finalParams []float64
	var finalLoss float64
	var iters int
	var converged bool

	switch opts.Method {
	case "nelder-mead":
		finalParams, finalLoss, iters, converged = nelderMead(objective, initialParams, opts)
	case "coordinate-descent":
		finalParams, finalLoss, iters, converged = coordinateDescent(objective, initialParams, opts)
	default:
		return nil, fmt.Errorf("learn: unknown optimization method %q: %w",
			opts.Method, oscilla.ErrInvalidConfig)
	}

	prob.SetAllParams(finalParams, indices)
	logger.Debug("calibration done", "loss", finalLoss, "iterations", iters, "converged", converged)

	return &FitResult{
		Params:      finalParams,
		Indices:     indices,
		InitialLoss: initialLoss,
		FinalLoss:   finalLoss,
		Iterations:  iters,
		Converged:   converged,
	}, nil
}

// coordinateDescent implements simple coordinate descent optimization.
func coordinateDescent(f func([]float64) float64, x0 []float64, opts *FitOptions) ([]float64, float64, int, bool) {
	x := make([]float64, len(x0))
	copy(x, x0)

	bestLoss := f(x)
	stepSize := opts.StepSize

	for iter := 0; iter < opts.MaxIters; iter++ {
		improved := false

		for i := 0; i < len(x); i++ {
			oldVal := x[i]

			x[i] = oldVal + stepSize
			posLoss := f(x)

			x[i] = oldVal - stepSize
			negLoss := f(x)

			if posLoss < bestLoss {
				x[i] = oldVal + stepSize
				bestLoss = posLoss
				improved = true
			} else if negLoss < bestLoss {
				x[i] = oldVal - stepSize
				bestLoss = negLoss
				improved = true
			} else {
				x[i] = oldVal
			}
		}

		if !improved {
			stepSize *= 0.5
			if stepSize < 1e-10 {
				return x, bestLoss, iter, true
			}
		}

		if bestLoss < opts.Tolerance {
			return x, bestLoss, iter, true
		}
	}

	return x, bestLoss, opts.MaxIters, false
}

// nelderMead implements the Nelder-Mead simplex algorithm.
func nelderMead(f func([]float64) float64, x0 []float64, opts *FitOptions) ([]float64, float64, int, bool) {
	n := len(x0)

	alpha := 1.0 // reflection
	gamma := 2.0 // expansion
	rho := 0.5   // contraction
	sigma := 0.5 // shrink

	simplex := make([][]float64, n+1)
	values := make([]float64, n+1)

	simplex[0] = make([]float64, n)
	copy(simplex[0], x0)
	values[0] = f(simplex[0])

	// Initial simplex perturbs each coordinate in turn.
	for i := 0; i < n; i++ {
		simplex[i+1] = make([]float64, n)
		copy(simplex[i+1], x0)
		simplex[i+1][i] += 0.05 * (1.0 + math.Abs(x0[i]))
		values[i+1] = f(simplex[i+1])
	}

	for iter := 0; iter < opts.MaxIters; iter++ {
		sortSimplex(simplex, values)

		if values[n]-values[0] < opts.Tolerance {
			return simplex[0], values[0], iter, true
		}

		// Centroid of the best n points.
		centroid := make([]float64, n)
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += simplex[j][i]
			}
			centroid[i] = sum / float64(n)
		}

		// Reflection.
		reflected := make([]float64, n)
		for i := 0; i < n; i++ {
			reflected[i] = centroid[i] + alpha*(centroid[i]-simplex[n][i])
		}
		reflectedVal := f(reflected)

		if values[0] <= reflectedVal && reflectedVal < values[n-1] {
			simplex[n] = reflected
			values[n] = reflectedVal
			continue
		}

		// Expansion.
		if reflectedVal < values[0] {
			expanded := make([]float64, n)
			for i := 0; i < n; i++ {
				expanded[i] = centroid[i] + gamma*(reflected[i]-centroid[i])
			}
			expandedVal := f(expanded)

			if expandedVal < reflectedVal {
				simplex[n] = expanded
				values[n] = expandedVal
			} else {
				simplex[n] = reflected
				values[n] = reflectedVal
			}
			continue
		}

		// Contraction.
		contracted := make([]float64, n)
		if reflectedVal < values[n] {
			for i := 0; i < n; i++ {
				contracted[i] = centroid[i] + rho*(reflected[i]-centroid[i])
			}
		} else {
			for i := 0; i < n; i++ {
				contracted[i] = centroid[i] + rho*(simplex[n][i]-centroid[i])
			}
		}
		contractedVal := f(contracted)

		if contractedVal < math.Min(reflectedVal, values[n]) {
			simplex[n] = contracted
			values[n] = contractedVal
			continue
		}

		// Shrink toward the best point.
		for i := 1; i <= n; i++ {
			for j := 0; j < n; j++ {
				simplex[i][j] = simplex[0][j] + sigma*(simplex[i][j]-simplex[0][j])
			}
			values[i] = f(simplex[i])
		}
	}

	sortSimplex(simplex, values)
	return simplex[0], values[0], opts.MaxIters, false
}

// sortSimplex sorts the simplex points by their function values.
func sortSimplex(simplex [][]float64, values []float64) {
	n := len(values)
	for i := 1; i < n; i++ {
		val := values[i]
		point := simplex[i]
		j := i - 1
		for j >= 0 && values[j] > val {
			values[j+1] = values[j]
			simplex[j+1] = simplex[j]
			j--
		}
		values[j+1] = val
		simplex[j+1] = point
	}
}
