// Package stateutil provides utility functions for manipulating labeled state
// maps and circular (phase) quantities. These operations are shared by the
// phase network, the simulation engine, and the calibration and sensitivity
// packages, which all pass oscillator state around as map[string]float64.
package stateutil

import (
	"math"
	"sort"
)

// TwoPi is the phase wrap period.
const TwoPi = 2 * math.Pi

// Copy creates a deep copy of a state map.
func Copy(state map[string]float64) map[string]float64 {
	if state == nil {
		return nil
	}
	out := make(map[string]float64, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// Apply creates a new state by copying base and applying updates.
// The original is never modified, which makes it safe for building
// hypothetical states during calibration and sensitivity sweeps.
func Apply(base map[string]float64, updates map[string]float64) map[string]float64 {
	out := Copy(base)
	for k, v := range updates {
		out[k] = v
	}
	return out
}

// SortedKeys returns the keys of a state map in sorted order.
// Label-ordered vectorization depends on this being deterministic.
func SortedKeys(state map[string]float64) []string {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EqualTol returns true if two states have the same keys and values within
// tolerance. Useful for comparing simulation results where small numerical
// differences are expected.
func EqualTol(a, b map[string]float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if math.Abs(v-bv) > tol {
			return false
		}
	}
	return true
}

// Sum returns the sum of all values in the state.
func Sum(state map[string]float64) float64 {
	total := 0.0
	for _, v := range state {
		total += v
	}
	return total
}

// Scale returns a new state with all values multiplied by factor.
func Scale(state map[string]float64, factor float64) map[string]float64 {
	out := make(map[string]float64, len(state))
	for k, v := range state {
		out[k] = v * factor
	}
	return out
}

// WrapPhase maps an angle onto [0, 2π). Negative inputs wrap upward, so the
// result is always a valid phase.
func WrapPhase(theta float64) float64 {
	wrapped := math.Mod(theta, TwoPi)
	if wrapped < 0 {
		wrapped += TwoPi
	}
	return wrapped
}

// CircularDiff returns the signed smallest angular difference a-b,
// in (-π, π]. Two nearly aligned phases on opposite sides of the wrap
// point produce a small value, not one near 2π.
func CircularDiff(a, b float64) float64 {
	d := math.Mod(a-b, TwoPi)
	if d > math.Pi {
		d -= TwoPi
	} else if d <= -math.Pi {
		d += TwoPi
	}
	return d
}

// Resultant computes the mean resultant vector of a set of phases:
// r is its magnitude in [0, 1] (the Kuramoto order parameter) and psi
// its angle (the mean phase). An empty input returns r=0, psi=0.
func Resultant(phases map[string]float64) (r, psi float64) {
	if len(phases) == 0 {
		return 0, 0
	}
	var sumSin, sumCos float64
	for _, p := range phases {
		sumSin += math.Sin(p)
		sumCos += math.Cos(p)
	}
	n := float64(len(phases))
	sumSin /= n
	sumCos /= n
	r = math.Hypot(sumSin, sumCos)
	psi = math.Atan2(sumSin, sumCos)
	return r, psi
}
