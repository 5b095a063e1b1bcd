// Package learn calibrates phase-network parameters against recorded
// trajectories. The network topology stays fixed as a structural prior while
// natural frequencies, edge weights and the global coupling constant become
// learnable parameter groups fitted with gradient-free optimization.
//
// # Key Components
//
// ParamGroup interface: a named slice of the network's parameters that can be
// read, overwritten and applied to a network copy.
//
// Concrete implementations:
//   - CouplingParam: the global coupling constant K₀
//   - FreqParams: natural frequencies of selected nodes
//   - WeightParams: weights of selected edges (floored at zero)
//
// CalibrationProblem: network template plus parameter groups, integrates with
// solver.
//
// Dataset: observed per-node trajectories for training.
//
// Optimization: gradient-free methods (Nelder-Mead, coordinate descent).
//
// # Example Usage
//
//	net, _ := phase.Ring(4, 1.0, 1.0)
//	prob := learn.NewCalibrationProblem(net, [2]float64{0, 20},
//	    learn.NewCouplingParam(0.1),
//	    learn.NewFreqParams(net.NodeIDs(), nil))
//	data, _ := learn.NewDataset(times, observations)
//	result, _ := learn.Fit(prob, data, learn.MSELoss, learn.DefaultFitOptions())
package learn

import (
	"sort"

	"github.com/oscilla-xyz/go-oscilla/phase"
)

// ParamGroup is a named set of learnable network parameters.
type ParamGroup interface {
	// Apply writes the current parameter values into the network.
	Apply(net *phase.Network)

	// GetParams returns the current parameter vector.
	GetParams() []float64

	// SetParams updates the parameter vector.
	SetParams(params []float64)

	// NumParams returns the number of parameters.
	NumParams() int

	// Name identifies the group in fit results.
	Name() string
}

// CouplingParam makes the global coupling constant learnable.
type CouplingParam struct {
	k float64
}

// NewCouplingParam creates a learnable coupling constant starting at k0.
func NewCouplingParam(k0 float64) *CouplingParam {
	return &CouplingParam{k: k0}
}

func (p *CouplingParam) Apply(net *phase.Network) {
	k := p.k
	if k < 0 {
		k = 0
	}
	_ = net.SetCoupling(k)
}

func (p *CouplingParam) GetParams() []float64       { return []float64{p.k} }
func (p *CouplingParam) SetParams(params []float64) { p.k = params[0] }
func (p *CouplingParam) NumParams() int             { return 1 }
func (p *CouplingParam) Name() string               { return "coupling" }

// FreqParams makes the natural frequencies of selected nodes learnable.
type FreqParams struct {
	ids    []string
	params []float64
}

// NewFreqParams creates learnable frequencies for the given node ids,
// in sorted id order. If initial is nil all frequencies start at zero;
// otherwise it must have one entry per id.
func NewFreqParams(ids []string, initial []float64) *FreqParams {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	params := make([]float64, len(sorted))
	if initial != nil {
		copy(params, initial)
	}
	return &FreqParams{ids: sorted, params: params}
}

func (p *FreqParams) Apply(net *phase.Network) {
	for i, id := range p.ids {
		if node, ok := net.Nodes[id]; ok {
			node.Freq = p.params[i]
		}
	}
}

func (p *FreqParams) GetParams() []float64 {
	out := make([]float64, len(p.params))
	copy(out, p.params)
	return out
}

func (p *FreqParams) SetParams(params []float64) { copy(p.params, params) }
func (p *FreqParams) NumParams() int             { return len(p.params) }
func (p *FreqParams) Name() string               { return "freq" }

// IDs returns the node ids in parameter order.
func (p *FreqParams) IDs() []string {
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// WeightParams makes the weights of selected edges learnable. Negative
// candidate weights are floored at zero when applied, which keeps the
// optimizer unconstrained while the network stays valid.
type WeightParams struct {
	src, dst []string
	params   []float64
}

// NewWeightParams creates learnable weights for the listed edges of the
// template network, in edge order. Edges not listed keep their weights.
func NewWeightParams(net *phase.Network, keys []string) *WeightParams {
	p := &WeightParams{}
	for _, e := range net.Edges {
		key := e.Source + "->" + e.Target
		for _, want := range keys {
			if key == want {
				p.src = append(p.src, e.Source)
				p.dst = append(p.dst, e.Target)
				p.params = append(p.params, e.Weight)
				break
			}
		}
	}
	return p
}

func (p *WeightParams) Apply(net *phase.Network) {
	for i := range p.src {
		w := p.params[i]
		if w < 0 {
			w = 0
		}
		_ = net.SetWeight(p.src[i], p.dst[i], w)
	}
}

func (p *WeightParams) GetParams() []float64 {
	out := make([]float64, len(p.params))
	copy(out, p.params)
	return out
}

func (p *WeightParams) SetParams(params []float64) { copy(p.params, params) }
func (p *WeightParams) NumParams() int             { return len(p.params) }
func (p *WeightParams) Name() string               { return "weight" }
