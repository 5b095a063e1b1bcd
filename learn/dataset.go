package learn

import (
	"fmt"
	"math"
	"sort"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/solver"
	"github.com/oscilla-xyz/go-oscilla/stateutil"
)

// Dataset holds observed phase trajectories for training.
type Dataset struct {
	Times        []float64            // Time points
	Observations map[string][]float64 // Node id -> phase at each time
	Nodes        []string             // Observed node ids, sorted
}

// NewDataset creates a dataset from time points and per-node observations.
func NewDataset(times []float64, observations map[string][]float64) (*Dataset, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("learn: empty time vector: %w", oscilla.ErrInsufficientData)
	}
	for id, values := range observations {
		if len(values) != len(times) {
			return nil, fmt.Errorf("learn: node %s has %d observations for %d times: %w",
				id, len(values), len(times), oscilla.ErrDimensionMismatch)
		}
	}

	nodes := make([]string, 0, len(observations))
	for id := range observations {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	return &Dataset{
		Times:        times,
		Observations: observations,
		Nodes:        nodes,
	}, nil
}

// FromSolution samples a solved trajectory at uniform times. Used to build
// synthetic calibration targets.
func FromSolution(sol *solver.Solution, n int) (*Dataset, error) {
	if len(sol.T) < 2 {
		return nil, fmt.Errorf("learn: solution has %d points: %w",
			len(sol.T), oscilla.ErrInsufficientData)
	}
	times := GenerateUniformTimes(sol.T[0], sol.T[len(sol.T)-1], n)
	obs := make(map[string][]float64, len(sol.StateLabels))
	for _, label := range sol.StateLabels {
		obs[label] = InterpolateSolution(sol, times, label)
	}
	return NewDataset(times, obs)
}

// LossFunc computes the loss between a solution and observed data.
type LossFunc func(sol *solver.Solution, data *Dataset) float64

// MSELoss computes mean squared error between simulated and observed
// trajectories. Suitable when observations are unwrapped phases.
func MSELoss(sol *solver.Solution, data *Dataset) float64 {
	totalError := 0.0
	numPoints := 0

	for _, id := range data.Nodes {
		obsValues := data.Observations[id]
		simValues := InterpolateSolution(sol, data.Times, id)
		for i := range data.Times {
			diff := simValues[i] - obsValues[i]
			totalError += diff * diff
			numPoints++
		}
	}

	if numPoints == 0 {
		return 0.0
	}
	return totalError / float64(numPoints)
}

// RMSELoss computes root mean squared error.
func RMSELoss(sol *solver.Solution, data *Dataset) float64 {
	return math.Sqrt(MSELoss(sol, data))
}

// CircularMSELoss measures mismatch through the shortest angular distance,
// so observations wrapped into [0, 2π) compare correctly against unwrapped
// simulated phases.
func CircularMSELoss(sol *solver.Solution, data *Dataset) float64 {
	totalError := 0.0
	numPoints := 0

	for _, id := range data.Nodes {
		obsValues := data.Observations[id]
		simValues := InterpolateSolution(sol, data.Times, id)
		for i := range data.Times {
			diff := stateutil.CircularDiff(simValues[i], obsValues[i])
			totalError += diff * diff
			numPoints++
		}
	}

	if numPoints == 0 {
		return 0.0
	}
	return totalError / float64(numPoints)
}

// InterpolateSolution interpolates a solution at given time points using
// linear interpolation between solution time points.
func InterpolateSolution(sol *solver.Solution, times []float64, id string) []float64 {
	result := make([]float64, len(times))
	solValues := sol.GetVariable(id)
	for i, t := range times {
		result[i] = interpolateAt(sol.T, solValues, t)
	}
	return result
}

// interpolateAt performs linear interpolation at a single time point.
func interpolateAt(times []float64, values []float64, t float64) float64 {
	if t <= times[0] {
		return values[0]
	}
	if t >= times[len(times)-1] {
		return values[len(values)-1]
	}

	for i := 0; i < len(times)-1; i++ {
		if times[i] <= t && t <= times[i+1] {
			dt := times[i+1] - times[i]
			if dt == 0 {
				return values[i]
			}
			alpha := (t - times[i]) / dt
			return values[i]*(1-alpha) + values[i+1]*alpha
		}
	}
	return values[len(values)-1]
}

// GenerateUniformTimes generates n uniformly spaced time points in [t0, tf].
func GenerateUniformTimes(t0, tf float64, n int) []float64 {
	times := make([]float64, n)
	if n == 1 {
		times[0] = t0
		return times
	}
	dt := (tf - t0) / float64(n-1)
	for i := 0; i < n; i++ {
		times[i] = t0 + float64(i)*dt
	}
	return times
}
