// Package solver integrates phase-network dynamics as ordinary differential
// equations using explicit Runge-Kutta methods with embedded error
// estimators.
package solver

import (
	"fmt"
	"math"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/phase"
	"github.com/oscilla-xyz/go-oscilla/stateutil"
)

// ODEFunc computes the derivative du/dt given time t and labeled state u.
type ODEFunc func(t float64, u map[string]float64) map[string]float64

// vecODEFunc computes derivatives using dense arrays instead of maps.
type vecODEFunc func(t float64, u []float64) []float64

// edgeEntry holds one pre-indexed coupling term for vectorized evaluation.
type edgeEntry struct {
	src, dst int
	weight   float64
	offset   float64
}

// Problem represents an initial value problem, either over a phase network
// or over a custom derivative function.
type Problem struct {
	Net   *phase.Network
	U0    map[string]float64
	Tspan [2]float64
	F     ODEFunc

	stateLabels []string
	stateIndex  map[string]int
	vecU0       []float64
	vecF        vecODEFunc
}

// NewProblem builds the initial value problem for a network's current state.
// Coupling, feedback, frequencies and edge weights are captured at build
// time; later changes to the network do not affect the problem. Phases are
// integrated on the real line without wrapping.
func NewProblem(net *phase.Network, tspan [2]float64) (*Problem, error) {
	if net == nil || len(net.Nodes) == 0 {
		return nil, fmt.Errorf("solver: empty network: %w", oscilla.ErrInvalidConfig)
	}
	if !(tspan[1] > tspan[0]) {
		return nil, fmt.Errorf("solver: time span [%g, %g]: %w",
			tspan[0], tspan[1], oscilla.ErrInvalidConfig)
	}

	u0 := net.Snapshot()
	prob := &Problem{
		Net:   net,
		U0:    u0,
		Tspan: tspan,
	}
	prob.indexState(u0)

	n := len(prob.stateLabels)
	freqs := make([]float64, n)
	for i, label := range prob.stateLabels {
		freqs[i] = net.Nodes[label].Freq
	}
	gain := net.Coupling() * net.Feedback()
	entries := make([]edgeEntry, 0, len(net.Edges))
	for _, e := range net.Edges {
		src, okSrc := prob.stateIndex[e.Source]
		dst, okDst := prob.stateIndex[e.Target]
		if !okSrc || !okDst {
			continue
		}
		entries = append(entries, edgeEntry{
			src:    src,
			dst:    dst,
			weight: e.Weight,
			offset: e.Offset,
		})
	}

	prob.vecF = func(_ float64, u []float64) []float64 {
		du := make([]float64, n)
		copy(du, freqs)
		for i := range entries {
			e := &entries[i]
			du[e.dst] += gain * e.weight * math.Sin(u[e.src]-u[e.dst]-e.offset)
		}
		return du
	}
	prob.F = prob.mapAdapter()
	return prob, nil
}

// NewCustomProblem builds a problem from an arbitrary derivative function.
func NewCustomProblem(u0 map[string]float64, tspan [2]float64, f ODEFunc) (*Problem, error) {
	if len(u0) == 0 {
		return nil, fmt.Errorf("solver: empty initial state: %w", oscilla.ErrInvalidConfig)
	}
	if !(tspan[1] > tspan[0]) {
		return nil, fmt.Errorf("solver: time span [%g, %g]: %w",
			tspan[0], tspan[1], oscilla.ErrInvalidConfig)
	}
	if f == nil {
		return nil, fmt.Errorf("solver: nil derivative function: %w", oscilla.ErrInvalidConfig)
	}

	prob := &Problem{
		U0:    stateutil.Copy(u0),
		Tspan: tspan,
		F:     f,
	}
	prob.indexState(u0)
	n := len(prob.stateLabels)
	prob.vecF = func(t float64, u []float64) []float64 {
		du := f(t, vecToState(u, prob.stateLabels))
		out := make([]float64, n)
		for i, label := range prob.stateLabels {
			out[i] = du[label]
		}
		return out
	}
	return prob, nil
}

// indexState fixes the label ordering and dense initial vector. Labels are
// sorted so runs are reproducible regardless of map iteration order.
func (p *Problem) indexState(u0 map[string]float64) {
	p.stateLabels = stateutil.SortedKeys(u0)
	p.stateIndex = make(map[string]int, len(p.stateLabels))
	p.vecU0 = make([]float64, len(p.stateLabels))
	for i, label := range p.stateLabels {
		p.stateIndex[label] = i
		p.vecU0[i] = u0[label]
	}
}

// mapAdapter exposes the vectorized derivative as a labeled ODEFunc.
func (p *Problem) mapAdapter() ODEFunc {
	return func(t float64, u map[string]float64) map[string]float64 {
		vec := make([]float64, len(p.stateLabels))
		for i, label := range p.stateLabels {
			vec[i] = u[label]
		}
		return vecToState(p.vecF(t, vec), p.stateLabels)
	}
}

// StateLabels returns the fixed state ordering.
func (p *Problem) StateLabels() []string {
	out := make([]string, len(p.stateLabels))
	copy(out, p.stateLabels)
	return out
}

// vecToState converts a dense vector back to a labeled state map.
func vecToState(v []float64, labels []string) map[string]float64 {
	m := make(map[string]float64, len(labels))
	for i, label := range labels {
		m[label] = v[i]
	}
	return m
}

// Solution holds an integrated trajectory.
type Solution struct {
	T           []float64
	U           []map[string]float64
	StateLabels []string
}

// GetVariable extracts the time series for one state variable. index is
// either an int position in StateLabels or the label itself.
func (s *Solution) GetVariable(index interface{}) []float64 {
	var label string
	switch t := index.(type) {
	case int:
		if t < 0 || t >= len(s.StateLabels) {
			return nil
		}
		label = s.StateLabels[t]
	case string:
		label = t
	default:
		return nil
	}
	out := make([]float64, 0, len(s.U))
	for _, st := range s.U {
		out = append(out, st[label])
	}
	return out
}

// GetFinalState returns the last state of the trajectory.
func (s *Solution) GetFinalState() map[string]float64 {
	if len(s.U) == 0 {
		return nil
	}
	return s.U[len(s.U)-1]
}

// GetState returns the state at time point i.
func (s *Solution) GetState(i int) map[string]float64 {
	if i < 0 || i >= len(s.U) {
		return nil
	}
	return s.U[i]
}

// ApplyFinalState writes the final integrated phases back into a network,
// wrapped into [0, 2π).
func (s *Solution) ApplyFinalState(net *phase.Network) error {
	final := s.GetFinalState()
	if final == nil {
		return fmt.Errorf("solver: empty solution: %w", oscilla.ErrInsufficientData)
	}
	for _, label := range s.StateLabels {
		if err := net.SetPhase(label, stateutil.WrapPhase(final[label])); err != nil {
			return err
		}
	}
	return nil
}

// Options contains solver configuration parameters.
type Options struct {
	Dt       float64 // Initial time step
	Dtmin    float64 // Minimum time step
	Dtmax    float64 // Maximum time step
	Abstol   float64 // Absolute error tolerance
	Reltol   float64 // Relative error tolerance
	Maxiters int     // Maximum number of accepted steps
	Adaptive bool    // Use adaptive step size control
}

// DefaultOptions returns balanced settings suitable for most networks.
func DefaultOptions() *Options {
	return &Options{
		Dt:       0.01,
		Dtmin:    1e-6,
		Dtmax:    0.1,
		Abstol:   1e-6,
		Reltol:   1e-3,
		Maxiters: 100000,
		Adaptive: true,
	}
}

// FastOptions trades precision for speed. Use for interactive exploration
// or when many simulations are needed quickly.
func FastOptions() *Options {
	return &Options{
		Dt:       0.1,
		Dtmin:    1e-4,
		Dtmax:    1.0,
		Abstol:   1e-2,
		Reltol:   1e-2,
		Maxiters: 1000,
		Adaptive: true,
	}
}

// AccurateOptions returns options for high-precision trajectories, for
// example when the output feeds a spectral fit that should not see
// integration noise.
func AccurateOptions() *Options {
	return &Options{
		Dt:       0.001,
		Dtmin:    1e-8,
		Dtmax:    0.1,
		Abstol:   1e-9,
		Reltol:   1e-6,
		Maxiters: 1000000,
		Adaptive: true,
	}
}

// SweepOptions suits parameter sweeps where each individual run only needs
// coarse accuracy.
func SweepOptions() *Options {
	return &Options{
		Dt:       0.05,
		Dtmin:    1e-4,
		Dtmax:    0.5,
		Abstol:   1e-4,
		Reltol:   1e-3,
		Maxiters: 20000,
		Adaptive: true,
	}
}

// LongRunOptions returns options for extended integrations, such as slow
// locking studies near the critical coupling.
func LongRunOptions() *Options {
	return &Options{
		Dt:       0.1,
		Dtmin:    1e-4,
		Dtmax:    5.0,
		Abstol:   1e-5,
		Reltol:   1e-3,
		Maxiters: 500000,
		Adaptive: true,
	}
}

// Solver represents an explicit Runge-Kutta method.
type Solver struct {
	Name  string
	Order int
	C     []float64   // Runge-Kutta nodes
	A     [][]float64 // Runge-Kutta matrix
	B     []float64   // Solution weights
	Bhat  []float64   // Error estimate weights
}

// Solve integrates the problem with the given method and options. Nil method
// or options select Tsit5 and DefaultOptions.
func Solve(prob *Problem, solver *Solver, opts *Options) *Solution {
	tOut, uOut, _, _ := integrate(prob, solver, opts, nil)
	return newSolution(prob, tOut, uOut)
}

func newSolution(prob *Problem, tOut []float64, uOut [][]float64) *Solution {
	states := make([]map[string]float64, len(uOut))
	for i, v := range uOut {
		states[i] = vecToState(v, prob.stateLabels)
	}
	labels := make([]string, len(prob.stateLabels))
	copy(labels, prob.stateLabels)
	return &Solution{T: tOut, U: states, StateLabels: labels}
}

// integrate runs the Runge-Kutta loop. After every accepted step onStep is
// called with the new time, the new state and the derivative at the start of
// the step; returning true stops the integration early.
func integrate(prob *Problem, solver *Solver, opts *Options, onStep func(t float64, u, du []float64) bool) (tOut []float64, uOut [][]float64, nsteps int, stopped bool) {
	if solver == nil {
		solver = Tsit5()
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	t0 := prob.Tspan[0]
	tf := prob.Tspan[1]
	f := prob.vecF
	n := len(prob.vecU0)
	numStages := len(solver.C)

	tOut = []float64{t0}
	uOut = [][]float64{append([]float64(nil), prob.vecU0...)}
	tcur := t0
	ucur := append([]float64(nil), prob.vecU0...)
	dtcur := opts.Dt

	for tcur < tf && nsteps < opts.Maxiters {
		if tcur+dtcur > tf {
			dtcur = tf - tcur
		}

		k := make([][]float64, numStages)
		k[0] = f(tcur, ucur)
		for stage := 1; stage < numStages; stage++ {
			tstage := tcur + solver.C[stage]*dtcur
			ustage := append([]float64(nil), ucur...)
			for j := 0; j < stage; j++ {
				aj := 0.0
				if len(solver.A) > stage && len(solver.A[stage]) > j {
					aj = solver.A[stage][j]
				}
				if aj != 0 {
					scale := dtcur * aj
					for i := 0; i < n; i++ {
						ustage[i] += scale * k[j][i]
					}
				}
			}
			k[stage] = f(tstage, ustage)
		}

		unext := append([]float64(nil), ucur...)
		for j := 0; j < len(solver.B); j++ {
			if solver.B[j] != 0 {
				scale := dtcur * solver.B[j]
				for i := 0; i < n; i++ {
					unext[i] += scale * k[j][i]
				}
			}
		}

		stepErr := 0.0
		if opts.Adaptive {
			for i := 0; i < n; i++ {
				errest := 0.0
				for j := 0; j < len(solver.Bhat); j++ {
					errest += dtcur * solver.Bhat[j] * k[j][i]
				}
				scale := opts.Abstol + opts.Reltol*math.Max(math.Abs(ucur[i]), math.Abs(unext[i]))
				if scale == 0 {
					scale = opts.Abstol
				}
				if val := math.Abs(errest) / scale; val > stepErr {
					stepErr = val
				}
			}
		}

		if !opts.Adaptive || stepErr <= 1.0 || dtcur <= opts.Dtmin {
			tcur += dtcur
			ucur = unext
			tOut = append(tOut, tcur)
			uOut = append(uOut, append([]float64(nil), ucur...))
			nsteps++

			if onStep != nil && onStep(tcur, ucur, k[0]) {
				return tOut, uOut, nsteps, true
			}

			if opts.Adaptive && stepErr > 0 {
				factor := 0.9 * math.Pow(1.0/stepErr, 1.0/float64(solver.Order+1))
				factor = math.Min(factor, 5.0)
				dtcur = math.Min(opts.Dtmax, math.Max(opts.Dtmin, dtcur*factor))
			}
		} else {
			factor := 0.9 * math.Pow(1.0/stepErr, 1.0/float64(solver.Order+1))
			factor = math.Max(factor, 0.1)
			dtcur = math.Max(opts.Dtmin, dtcur*factor)
		}
	}
	return tOut, uOut, nsteps, false
}
