package koopman

import (
	"fmt"
	"math"

	"github.com/cdipaolo/goml/cluster"

	oscilla "github.com/oscilla-xyz/go-oscilla"
)

// Dictionary lifts a raw state vector into observable space. The direct
// dictionary keeps EDMD on plain state; radial-basis and Fourier dictionaries
// enrich the observable space for certificate synthesis over nonlinear
// dynamics.
type Dictionary interface {
	// Lift maps a state vector of InputDim values to Dim observables.
	Lift(x []float64) []float64
	Dim() int
	InputDim() int
	Name() string
}

// DirectDictionary is the identity lift.
type DirectDictionary struct {
	dim int
}

// NewDirectDictionary returns the identity dictionary for dim-dimensional
// state.
func NewDirectDictionary(dim int) (*DirectDictionary, error) {
	if dim < 1 {
		return nil, fmt.Errorf("koopman: direct dictionary dimension %d: %w",
			dim, oscilla.ErrInvalidConfig)
	}
	return &DirectDictionary{dim: dim}, nil
}

func (d *DirectDictionary) Lift(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

func (d *DirectDictionary) Dim() int      { return d.dim }
func (d *DirectDictionary) InputDim() int { return d.dim }
func (d *DirectDictionary) Name() string  { return "direct" }

// RBFDictionary lifts through Gaussian radial basis functions, one observable
// per center: exp(-‖x-c‖²/(2σ²)).
type RBFDictionary struct {
	centers [][]float64
	sigma   float64
}

// NewRBFDictionary builds a radial-basis dictionary over the given centers.
func NewRBFDictionary(centers [][]float64, sigma float64) (*RBFDictionary, error) {
	if len(centers) == 0 {
		return nil, fmt.Errorf("koopman: rbf dictionary needs centers: %w",
			oscilla.ErrInvalidConfig)
	}
	if sigma <= 0 || math.IsNaN(sigma) {
		return nil, fmt.Errorf("koopman: rbf sigma %f: %w", sigma, oscilla.ErrInvalidConfig)
	}
	dim := len(centers[0])
	own := make([][]float64, len(centers))
	for i, c := range centers {
		if len(c) != dim {
			return nil, fmt.Errorf("koopman: rbf center %d has %d coordinates, want %d: %w",
				i, len(c), dim, oscilla.ErrDimensionMismatch)
		}
		own[i] = make([]float64, dim)
		copy(own[i], c)
	}
	return &RBFDictionary{centers: own, sigma: sigma}, nil
}

func (d *RBFDictionary) Lift(x []float64) []float64 {
	out := make([]float64, len(d.centers))
	inv := 1 / (2 * d.sigma * d.sigma)
	for i, c := range d.centers {
		var dist float64
		for j, cj := range c {
			diff := x[j] - cj
			dist += diff * diff
		}
		out[i] = math.Exp(-dist * inv)
	}
	return out
}

func (d *RBFDictionary) Dim() int      { return len(d.centers) }
func (d *RBFDictionary) InputDim() int { return len(d.centers[0]) }
func (d *RBFDictionary) Name() string  { return "rbf" }

// KMeansCenters clusters sample rows into k centers for RBF placement.
// Centers adapt to where the trajectory actually lives instead of gridding
// the whole domain.
func KMeansCenters(samples [][]float64, k, maxIterations int) ([][]float64, error) {
	if k < 1 {
		return nil, fmt.Errorf("koopman: center count %d: %w", k, oscilla.ErrInvalidConfig)
	}
	if len(samples) < k {
		return nil, fmt.Errorf("koopman: %d samples for %d centers: %w",
			len(samples), k, oscilla.ErrInsufficientData)
	}
	if maxIterations < 1 {
		maxIterations = 50
	}
	model := cluster.NewKMeans(k, maxIterations, samples)
	if err := model.Learn(); err != nil {
		return nil, fmt.Errorf("koopman: k-means clustering: %w", err)
	}
	return model.Centroids, nil
}

// SnapshotsAsSamples transposes a (dim × count) snapshot matrix into rows of
// samples for clustering.
func SnapshotsAsSamples(x [][]float64) [][]float64 {
	if len(x) == 0 {
		return nil
	}
	out := make([][]float64, len(x[0]))
	for c := range out {
		row := make([]float64, len(x))
		for r := range x {
			row[r] = x[r][c]
		}
		out[c] = row
	}
	return out
}

// FourierDictionary lifts each coordinate through sin/cos pairs at
// n frequencies evenly spaced up to maxFreq.
type FourierDictionary struct {
	inputDim int
	freqs    []float64
}

// NewFourierDictionary builds a Fourier feature dictionary.
func NewFourierDictionary(inputDim, nFrequencies int, maxFreq float64) (*FourierDictionary, error) {
	if inputDim < 1 {
		return nil, fmt.Errorf("koopman: fourier input dimension %d: %w",
			inputDim, oscilla.ErrInvalidConfig)
	}
	if nFrequencies < 1 {
		return nil, fmt.Errorf("koopman: fourier frequency count %d: %w",
			nFrequencies, oscilla.ErrInvalidConfig)
	}
	if maxFreq <= 0 || math.IsNaN(maxFreq) {
		return nil, fmt.Errorf("koopman: fourier max frequency %f: %w",
			maxFreq, oscilla.ErrInvalidConfig)
	}
	freqs := make([]float64, nFrequencies)
	for j := range freqs {
		freqs[j] = float64(j+1) * maxFreq / float64(nFrequencies)
	}
	return &FourierDictionary{inputDim: inputDim, freqs: freqs}, nil
}

func (d *FourierDictionary) Lift(x []float64) []float64 {
	out := make([]float64, 0, 2*len(d.freqs)*d.inputDim)
	for _, w := range d.freqs {
		for i := 0; i < d.inputDim; i++ {
			out = append(out, math.Sin(w*x[i]), math.Cos(w*x[i]))
		}
	}
	return out
}

func (d *FourierDictionary) Dim() int      { return 2 * len(d.freqs) * d.inputDim }
func (d *FourierDictionary) InputDim() int { return d.inputDim }
func (d *FourierDictionary) Name() string  { return "fourier" }

// liftColumns lifts every column of a (inputDim × count) matrix, producing a
// (Dim × count) observable matrix.
func liftColumns(d Dictionary, x [][]float64) [][]float64 {
	if len(x) == 0 {
		return nil
	}
	cols := len(x[0])
	out := zeros(d.Dim(), cols)
	col := make([]float64, len(x))
	for c := 0; c < cols; c++ {
		for r := range x {
			col[r] = x[r][c]
		}
		lifted := d.Lift(col)
		for r, v := range lifted {
			out[r][c] = v
		}
	}
	return out
}
