// Package phase implements a weighted directed network of coupled oscillators.
// Nodes carry a phase in [0, 2π) and a natural frequency; edges couple a
// source to a target with a weight and a desired phase offset. Step advances
// all phases with a Kuramoto-style rule; SyncRatio and OrderParameter report
// how aligned the network currently is.
package phase

import (
	"fmt"
	"math"
	"sort"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/stateutil"
)

// Node is one oscillator.
type Node struct {
	ID    string
	Phase float64 // current phase, kept in [0, 2π)
	Freq  float64 // natural frequency, rad per unit time
}

// Edge couples Source to Target: each Step the target's phase velocity gains
// coupling·Weight·feedback·sin(phase[Source]-phase[Target]-Offset).
type Edge struct {
	Source string
	Target string
	Weight float64
	Offset float64
}

// Network is the oscillator graph. Mutation is not safe for concurrent use;
// callers serialize access.
type Network struct {
	Nodes map[string]*Node
	Edges []*Edge

	coupling float64
	feedback float64
}

// NewNetwork creates an empty network with the given global coupling
// constant. Feedback starts at the neutral 1.0.
func NewNetwork(coupling float64) *Network {
	return &Network{
		Nodes:    make(map[string]*Node),
		Edges:    make([]*Edge, 0),
		coupling: coupling,
		feedback: 1.0,
	}
}

// AddNode registers an oscillator. Re-adding an existing id replaces its
// phase and frequency.
func (n *Network) AddNode(id string, phase, freq float64) *Node {
	node := &Node{ID: id, Phase: stateutil.WrapPhase(phase), Freq: freq}
	n.Nodes[id] = node
	return node
}

// AddEdge couples src to dst, creating missing endpoints with zero phase and
// frequency. Negative weights are invalid. Self-loops are permitted; with a
// zero offset they contribute nothing.
func (n *Network) AddEdge(src, dst string, weight, offset float64) (*Edge, error) {
	if weight < 0 {
		return nil, fmt.Errorf("phase: edge %s->%s weight %f is negative: %w",
			src, dst, weight, oscilla.ErrInvalidConfig)
	}
	if _, ok := n.Nodes[src]; !ok {
		n.AddNode(src, 0, 0)
	}
	if _, ok := n.Nodes[dst]; !ok {
		n.AddNode(dst, 0, 0)
	}
	e := &Edge{Source: src, Target: dst, Weight: weight, Offset: offset}
	n.Edges = append(n.Edges, e)
	return e, nil
}

// Clone returns a deep copy of the network, including coupling and feedback.
// Sweeps and calibration runs mutate the copy and leave the original alone.
func (n *Network) Clone() *Network {
	out := &Network{
		Nodes:    make(map[string]*Node, len(n.Nodes)),
		Edges:    make([]*Edge, len(n.Edges)),
		coupling: n.coupling,
		feedback: n.feedback,
	}
	for id, node := range n.Nodes {
		cp := *node
		out.Nodes[id] = &cp
	}
	for i, e := range n.Edges {
		cp := *e
		out.Edges[i] = &cp
	}
	return out
}

// SetPhase overwrites one oscillator's phase, wrapped into [0, 2π).
func (n *Network) SetPhase(id string, phase float64) error {
	node, ok := n.Nodes[id]
	if !ok {
		return fmt.Errorf("phase: unknown node %q", id)
	}
	node.Phase = stateutil.WrapPhase(phase)
	return nil
}

// SetWeight updates the weight of the first edge from src to dst. Used by
// perturbation experiments and sensitivity sweeps.
func (n *Network) SetWeight(src, dst string, weight float64) error {
	if weight < 0 {
		return fmt.Errorf("phase: edge %s->%s weight %f is negative: %w",
			src, dst, weight, oscilla.ErrInvalidConfig)
	}
	for _, e := range n.Edges {
		if e.Source == src && e.Target == dst {
			e.Weight = weight
			return nil
		}
	}
	return fmt.Errorf("phase: no edge %s->%s", src, dst)
}

// SetCoupling replaces the global coupling constant.
func (n *Network) SetCoupling(coupling float64) error {
	if coupling < 0 || math.IsNaN(coupling) || math.IsInf(coupling, 0) {
		return fmt.Errorf("phase: coupling %f invalid: %w", coupling, oscilla.ErrInvalidConfig)
	}
	n.coupling = coupling
	return nil
}

// Coupling returns the global coupling constant.
func (n *Network) Coupling() float64 { return n.coupling }

// SetFeedback stores the feedback multiplier, clamped to [0.0, 2.0]. It
// affects the next Step only. Non-finite values are ignored so a degenerate
// analysis can never push NaN into the dynamics.
func (n *Network) SetFeedback(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if v < 0 {
		v = 0
	} else if v > 2 {
		v = 2
	}
	n.feedback = v
}

// Feedback returns the current feedback multiplier.
func (n *Network) Feedback() float64 { return n.feedback }

// Step advances every phase by dt. All phase velocities are computed from
// the phases as they were before the step, so the result does not depend on
// node or edge iteration order.
func (n *Network) Step(dt float64) {
	if len(n.Nodes) == 0 {
		return
	}
	dPhase := make(map[string]float64, len(n.Nodes))
	for id, node := range n.Nodes {
		dPhase[id] = node.Freq
	}
	gain := n.coupling * n.feedback
	for _, e := range n.Edges {
		diff := n.Nodes[e.Source].Phase - n.Nodes[e.Target].Phase - e.Offset
		dPhase[e.Target] += gain * e.Weight * math.Sin(diff)
	}
	for id, node := range n.Nodes {
		node.Phase = stateutil.WrapPhase(node.Phase + dPhase[id]*dt)
	}
}

// SyncRatio reports alignment in [0, 1]: per edge the error sin²(diff/2),
// weight-averaged across edges, returned as 1 minus the average. A network
// with at most one node or no effective coupling is vacuously synchronized
// and returns exactly 1.0.
func (n *Network) SyncRatio() float64 {
	if len(n.Nodes) <= 1 || len(n.Edges) == 0 {
		return 1.0
	}
	var weighted, total float64
	for _, e := range n.Edges {
		diff := n.Nodes[e.Source].Phase - n.Nodes[e.Target].Phase - e.Offset
		s := math.Sin(diff / 2)
		weighted += e.Weight * s * s
		total += e.Weight
	}
	if total == 0 {
		return 1.0
	}
	return 1.0 - weighted/total
}

// OrderParameter returns the Kuramoto order parameter r in [0, 1], the
// magnitude of the mean unit phasor over all nodes.
func (n *Network) OrderParameter() float64 {
	r, _ := stateutil.Resultant(n.Snapshot())
	return r
}

// MeanPhase returns the circular mean phase of all nodes.
func (n *Network) MeanPhase() float64 {
	_, psi := stateutil.Resultant(n.Snapshot())
	return stateutil.WrapPhase(psi)
}

// Snapshot returns a copy of the current id→phase map.
func (n *Network) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(n.Nodes))
	for id, node := range n.Nodes {
		out[id] = node.Phase
	}
	return out
}

// NodeIDs returns all node ids in sorted order.
func (n *Network) NodeIDs() []string {
	ids := make([]string, 0, len(n.Nodes))
	for id := range n.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PhaseVector returns the phases in sorted id order.
func (n *Network) PhaseVector() []float64 {
	ids := n.NodeIDs()
	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = n.Nodes[id].Phase
	}
	return out
}

// FreqVector returns the natural frequencies in sorted id order.
func (n *Network) FreqVector() []float64 {
	ids := n.NodeIDs()
	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = n.Nodes[id].Freq
	}
	return out
}

// Stats summarizes the network for reports.
type Stats struct {
	NodeCount      int
	EdgeCount      int
	SyncRatio      float64
	OrderParameter float64
	MeanFrequency  float64
	Feedback       float64
}

// CurrentStats computes a summary of the network as it stands.
func (n *Network) CurrentStats() Stats {
	var meanFreq float64
	if len(n.Nodes) > 0 {
		for _, node := range n.Nodes {
			meanFreq += node.Freq
		}
		meanFreq /= float64(len(n.Nodes))
	}
	return Stats{
		NodeCount:      len(n.Nodes),
		EdgeCount:      len(n.Edges),
		SyncRatio:      n.SyncRatio(),
		OrderParameter: n.OrderParameter(),
		MeanFrequency:  meanFreq,
		Feedback:       n.feedback,
	}
}
