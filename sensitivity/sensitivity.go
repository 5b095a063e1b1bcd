// Package sensitivity measures how synchronization and spectral stability
// respond to changes in edge weights and the global coupling constant. This
// includes disable-one-edge impact analysis, weight sweeps, and gradient
// estimation.
package sensitivity

import (
	"math"
	"sort"
	"sync"

	"github.com/oscilla-xyz/go-oscilla/koopman"
	"github.com/oscilla-xyz/go-oscilla/phase"
	"github.com/oscilla-xyz/go-oscilla/solver"
	"github.com/oscilla-xyz/go-oscilla/stateutil"
)

// Coupling is the parameter name for the global coupling constant in sweeps
// and grid searches. Every other parameter name is an edge key "src->dst".
const Coupling = "coupling"

// EdgeKey names the weight parameter of a directed edge.
func EdgeKey(src, dst string) string {
	return src + "->" + dst
}

// Scorer evaluates one perturbed run and returns a score. The network is the
// perturbed copy the run integrated and may be mutated freely.
type Scorer func(net *phase.Network, sol *solver.Solution) float64

// FinalStateScorer creates a Scorer that evaluates the final phase state.
func FinalStateScorer(f func(state map[string]float64) float64) Scorer {
	return func(_ *phase.Network, sol *solver.Solution) float64 {
		return f(sol.GetFinalState())
	}
}

// SyncScorer creates a Scorer that returns the edge-weighted synchronization
// ratio at the end of the run.
func SyncScorer() Scorer {
	return func(net *phase.Network, sol *solver.Solution) float64 {
		if err := sol.ApplyFinalState(net); err != nil {
			return math.NaN()
		}
		return net.SyncRatio()
	}
}

// OrderScorer creates a Scorer that returns the Kuramoto order parameter of
// the final state.
func OrderScorer() Scorer {
	return func(_ *phase.Network, sol *solver.Solution) float64 {
		r, _ := stateutil.Resultant(sol.GetFinalState())
		return r
	}
}

// StabilityScorer creates a Scorer that fits the trajectory spectrally and
// returns the stability index. The trajectory is resampled onto a uniform
// grid of m points before the fit. Runs whose fit is degenerate score NaN,
// a distinguishable signal rather than a neutral reading.
func StabilityScorer(m int, opts koopman.Options) Scorer {
	return func(_ *phase.Network, sol *solver.Solution) float64 {
		if m < 3 || len(sol.T) < 3 {
			return math.NaN()
		}
		cols, dt := resampleUniform(sol, m)
		x := make([][]float64, len(sol.StateLabels))
		y := make([][]float64, len(sol.StateLabels))
		for i := range cols {
			x[i] = cols[i][:m-1]
			y[i] = cols[i][1:]
		}
		res, err := koopman.Fit(x, y, dt, opts)
		if err != nil {
			return math.NaN()
		}
		return res.StabilityIndex
	}
}

// resampleUniform linearly interpolates every state variable onto m evenly
// spaced times and returns the per-variable series plus the grid spacing.
func resampleUniform(sol *solver.Solution, m int) ([][]float64, float64) {
	t0 := sol.T[0]
	tf := sol.T[len(sol.T)-1]
	dt := (tf - t0) / float64(m-1)
	out := make([][]float64, len(sol.StateLabels))
	for vi, label := range sol.StateLabels {
		series := sol.GetVariable(label)
		vals := make([]float64, m)
		k := 0
		for i := 0; i < m; i++ {
			t := t0 + float64(i)*dt
			for k < len(sol.T)-2 && sol.T[k+1] < t {
				k++
			}
			span := sol.T[k+1] - sol.T[k]
			if span == 0 {
				vals[i] = series[k]
				continue
			}
			alpha := (t - sol.T[k]) / span
			if alpha < 0 {
				alpha = 0
			} else if alpha > 1 {
				alpha = 1
			}
			vals[i] = series[k]*(1-alpha) + series[k+1]*alpha
		}
		out[vi] = vals
	}
	return out, dt
}

// Result holds the result of a sensitivity analysis.
type Result struct {
	Baseline float64            // Score with original weights
	Scores   map[string]float64 // Score when each edge is disabled
	Impact   map[string]float64 // Change from baseline (Score - Baseline)
	Ranking  []RankedParam      // Parameters sorted by absolute impact
}

// RankedParam represents a parameter and its impact.
type RankedParam struct {
	Name   string
	Impact float64
}

// Analyzer perturbs a phase network and scores the resulting runs. The base
// network is never mutated; every run integrates a fresh clone.
type Analyzer struct {
	net    *phase.Network
	tspan  [2]float64
	opts   *solver.Options
	scorer Scorer
}

// NewAnalyzer creates a sensitivity analyzer over the network's current
// state, coupling and feedback.
func NewAnalyzer(net *phase.Network, scorer Scorer) *Analyzer {
	return &Analyzer{
		net:    net,
		tspan:  [2]float64{0, 10},
		opts:   solver.SweepOptions(),
		scorer: scorer,
	}
}

// WithTimeSpan sets the simulation time span.
func (a *Analyzer) WithTimeSpan(t0, tf float64) *Analyzer {
	a.tspan = [2]float64{t0, tf}
	return a
}

// WithOptions sets the solver options.
func (a *Analyzer) WithOptions(opts *solver.Options) *Analyzer {
	a.opts = opts
	return a
}

// simulate clones the base network, applies the perturbation, integrates,
// and returns the score.
func (a *Analyzer) simulate(mutate func(net *phase.Network)) float64 {
	net := a.net.Clone()
	if mutate != nil {
		mutate(net)
	}
	prob, err := solver.NewProblem(net, a.tspan)
	if err != nil {
		return math.NaN()
	}
	sol := solver.Solve(prob, solver.Tsit5(), a.opts)
	return a.scorer(net, sol)
}

// setParam applies one named parameter to a network clone.
func setParam(net *phase.Network, name string, value float64) {
	if name == Coupling {
		_ = net.SetCoupling(value)
		return
	}
	for _, e := range net.Edges {
		if EdgeKey(e.Source, e.Target) == name {
			e.Weight = value
			return
		}
	}
}

// AnalyzeWeights tests the impact of disabling each edge (weight=0).
func (a *Analyzer) AnalyzeWeights() *Result {
	result := &Result{
		Scores: make(map[string]float64),
		Impact: make(map[string]float64),
	}
	result.Baseline = a.simulate(nil)

	for _, e := range a.net.Edges {
		key := EdgeKey(e.Source, e.Target)
		score := a.simulate(func(net *phase.Network) {
			setParam(net, key, 0)
		})
		result.Scores[key] = score
		result.Impact[key] = score - result.Baseline
	}

	result.Ranking = rankByImpact(result.Impact)
	return result
}

// AnalyzeWeightsParallel tests the impact of disabling each edge in parallel.
func (a *Analyzer) AnalyzeWeightsParallel() *Result {
	result := &Result{
		Scores: make(map[string]float64),
		Impact: make(map[string]float64),
	}
	result.Baseline = a.simulate(nil)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, e := range a.net.Edges {
		key := EdgeKey(e.Source, e.Target)
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			score := a.simulate(func(net *phase.Network) {
				setParam(net, key, 0)
			})
			mu.Lock()
			result.Scores[key] = score
			result.Impact[key] = score - result.Baseline
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	result.Ranking = rankByImpact(result.Impact)
	return result
}

// rankByImpact sorts parameters by absolute impact (descending). NaN impacts
// from degenerate runs sort last.
func rankByImpact(impact map[string]float64) []RankedParam {
	ranking := make([]RankedParam, 0, len(impact))
	for name, imp := range impact {
		ranking = append(ranking, RankedParam{Name: name, Impact: imp})
	}
	sort.Slice(ranking, func(i, j int) bool {
		a, b := math.Abs(ranking[i].Impact), math.Abs(ranking[j].Impact)
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		if math.IsNaN(a) {
			return false
		}
		return a > b
	})
	return ranking
}

// SweepResult holds results from a parameter sweep.
type SweepResult struct {
	Parameter string
	Values    []float64
	Scores    []float64
	Best      struct {
		Value float64
		Score float64
	}
	Worst struct {
		Value float64
		Score float64
	}
}

// Sweep tests a range of values for one parameter, either an edge key or
// Coupling.
func (a *Analyzer) Sweep(name string, values []float64) *SweepResult {
	result := &SweepResult{
		Parameter: name,
		Values:    values,
		Scores:    make([]float64, len(values)),
	}

	bestScore := math.Inf(-1)
	worstScore := math.Inf(1)
	for i, val := range values {
		v := val
		score := a.simulate(func(net *phase.Network) {
			setParam(net, name, v)
		})
		result.Scores[i] = score

		if score > bestScore {
			bestScore = score
			result.Best.Value = val
			result.Best.Score = score
		}
		if score < worstScore {
			worstScore = score
			result.Worst.Value = val
			result.Worst.Score = score
		}
	}
	return result
}

// SweepRange tests evenly spaced values in [min, max].
func (a *Analyzer) SweepRange(name string, min, max float64, steps int) *SweepResult {
	return a.Sweep(name, linspace(min, max, steps))
}

// Gradient estimates the score gradient with respect to one parameter using
// a central difference (f(x+h) - f(x-h)) / 2h. Edge weights are floored at
// zero on the backward evaluation.
func (a *Analyzer) Gradient(name string, h float64) float64 {
	orig := a.paramValue(name)
	if h == 0 {
		h = 0.01 * orig
		if h == 0 {
			h = 0.01
		}
	}

	scorePlus := a.simulate(func(net *phase.Network) {
		setParam(net, name, orig+h)
	})
	lo := orig - h
	if lo < 0 && name != Coupling {
		lo = 0
	}
	scoreMinus := a.simulate(func(net *phase.Network) {
		setParam(net, name, lo)
	})

	return (scorePlus - scoreMinus) / (2 * h)
}

// paramValue reads the current value of a named parameter.
func (a *Analyzer) paramValue(name string) float64 {
	if name == Coupling {
		return a.net.Coupling()
	}
	for _, e := range a.net.Edges {
		if EdgeKey(e.Source, e.Target) == name {
			return e.Weight
		}
	}
	return 0
}

// AllGradients computes gradients for every edge weight.
func (a *Analyzer) AllGradients(h float64) map[string]float64 {
	gradients := make(map[string]float64)
	for _, e := range a.net.Edges {
		key := EdgeKey(e.Source, e.Target)
		gradients[key] = a.Gradient(key, h)
	}
	return gradients
}

// AllGradientsParallel computes gradients for every edge weight in parallel.
func (a *Analyzer) AllGradientsParallel(h float64) map[string]float64 {
	gradients := make(map[string]float64)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, e := range a.net.Edges {
		key := EdgeKey(e.Source, e.Target)
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			grad := a.Gradient(key, h)
			mu.Lock()
			gradients[key] = grad
			mu.Unlock()
		}(key)
	}
	wg.Wait()
	return gradients
}

// GridSearch performs a grid search over multiple parameters.
type GridSearch struct {
	analyzer   *Analyzer
	parameters map[string][]float64
}

// NewGridSearch creates a new grid search.
func NewGridSearch(analyzer *Analyzer) *GridSearch {
	return &GridSearch{
		analyzer:   analyzer,
		parameters: make(map[string][]float64),
	}
}

// AddParameter adds a parameter to sweep with specific values.
func (g *GridSearch) AddParameter(name string, values []float64) *GridSearch {
	g.parameters[name] = values
	return g
}

// AddParameterRange adds a parameter to sweep with evenly spaced values.
func (g *GridSearch) AddParameterRange(name string, min, max float64, steps int) *GridSearch {
	g.parameters[name] = linspace(min, max, steps)
	return g
}

// GridResult holds results from a grid search.
type GridResult struct {
	Combinations []map[string]float64
	Scores       []float64
	Best         struct {
		Parameters map[string]float64
		Score      float64
		Index      int
	}
}

// Run executes the grid search.
func (g *GridSearch) Run() *GridResult {
	combinations := g.generateCombinations()

	result := &GridResult{
		Combinations: combinations,
		Scores:       make([]float64, len(combinations)),
	}

	bestScore := math.Inf(-1)
	for i, combo := range combinations {
		c := combo
		score := g.analyzer.simulate(func(net *phase.Network) {
			for name, val := range c {
				setParam(net, name, val)
			}
		})
		result.Scores[i] = score

		if score > bestScore {
			bestScore = score
			result.Best.Parameters = combo
			result.Best.Score = score
			result.Best.Index = i
		}
	}
	return result
}

// generateCombinations generates all parameter combinations.
func (g *GridSearch) generateCombinations() []map[string]float64 {
	params := make([]string, 0, len(g.parameters))
	for p := range g.parameters {
		params = append(params, p)
	}
	sort.Strings(params)

	total := 1
	for _, p := range params {
		total *= len(g.parameters[p])
	}

	combinations := make([]map[string]float64, total)
	for i := 0; i < total; i++ {
		combo := make(map[string]float64)
		idx := i
		for _, p := range params {
			values := g.parameters[p]
			combo[p] = values[idx%len(values)]
			idx /= len(values)
		}
		combinations[i] = combo
	}
	return combinations
}

func linspace(min, max float64, steps int) []float64 {
	if steps == 1 {
		return []float64{min}
	}
	values := make([]float64, steps)
	for i := 0; i < steps; i++ {
		values[i] = min + (max-min)*float64(i)/float64(steps-1)
	}
	return values
}
