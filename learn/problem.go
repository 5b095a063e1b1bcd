package learn

import (
	"sort"

	"github.com/oscilla-xyz/go-oscilla/phase"
	"github.com/oscilla-xyz/go-oscilla/solver"
)

// CalibrationProblem pairs a network template with learnable parameter
// groups. The template is never mutated; every evaluation integrates a fresh
// clone with the candidate parameters applied.
type CalibrationProblem struct {
	Net    *phase.Network
	Tspan  [2]float64
	Groups []ParamGroup
}

// NewCalibrationProblem creates a calibration problem over the network's
// current state.
func NewCalibrationProblem(net *phase.Network, tspan [2]float64, groups ...ParamGroup) *CalibrationProblem {
	return &CalibrationProblem{
		Net:    net,
		Tspan:  tspan,
		Groups: groups,
	}
}

// Solve integrates the template with the current parameter values.
func (p *CalibrationProblem) Solve(solverMethod *solver.Solver, opts *solver.Options) *solver.Solution {
	net := p.Net.Clone()
	for _, g := range p.Groups {
		g.Apply(net)
	}
	prob, err := solver.NewProblem(net, p.Tspan)
	if err != nil {
		return &solver.Solution{}
	}
	return solver.Solve(prob, solverMethod, opts)
}

// GetAllParams extracts all group parameters as one flat vector. It returns
// the vector and a mapping from group name to [start, end) indices.
func (p *CalibrationProblem) GetAllParams() ([]float64, map[string][2]int) {
	params := []float64{}
	indices := make(map[string][2]int)

	names := make([]string, 0, len(p.Groups))
	byName := make(map[string]ParamGroup, len(p.Groups))
	for _, g := range p.Groups {
		names = append(names, g.Name())
		byName[g.Name()] = g
	}
	sort.Strings(names)

	offset := 0
	for _, name := range names {
		groupParams := byName[name].GetParams()
		indices[name] = [2]int{offset, offset + len(groupParams)}
		params = append(params, groupParams...)
		offset += len(groupParams)
	}
	return params, indices
}

// SetAllParams distributes a flat vector back into the parameter groups.
func (p *CalibrationProblem) SetAllParams(params []float64, indices map[string][2]int) {
	for _, g := range p.Groups {
		if idx, ok := indices[g.Name()]; ok {
			g.SetParams(params[idx[0]:idx[1]])
		}
	}
}

// NumParams returns the total number of learnable parameters.
func (p *CalibrationProblem) NumParams() int {
	total := 0
	for _, g := range p.Groups {
		total += g.NumParams()
	}
	return total
}
