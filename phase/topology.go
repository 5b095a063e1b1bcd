package phase

import (
	"fmt"

	oscilla "github.com/oscilla-xyz/go-oscilla"
)

// Topology constructors for common coupling graphs. Nodes are named
// "n0".."n{n-1}" with zero initial phase and the given uniform natural
// frequency; callers spread phases or detune frequencies afterwards with
// SetPhase and AddNode. All constructors create reciprocal edges so coupling
// acts in both directions.

// Ring wires n oscillators in a cycle, each coupled to both neighbors.
func Ring(n int, weight, freq float64) (*Network, error) {
	net, err := topologyBase(n, weight, freq)
	if err != nil || n <= 0 {
		return net, err
	}
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		if i == j {
			continue
		}
		net.AddEdge(nodeID(i), nodeID(j), weight, 0)
		net.AddEdge(nodeID(j), nodeID(i), weight, 0)
	}
	return net, nil
}

// Chain wires n oscillators in a path.
func Chain(n int, weight, freq float64) (*Network, error) {
	net, err := topologyBase(n, weight, freq)
	if err != nil {
		return nil, err
	}
	for i := 0; i+1 < n; i++ {
		net.AddEdge(nodeID(i), nodeID(i+1), weight, 0)
		net.AddEdge(nodeID(i+1), nodeID(i), weight, 0)
	}
	return net, nil
}

// Complete wires every pair of n oscillators.
func Complete(n int, weight, freq float64) (*Network, error) {
	net, err := topologyBase(n, weight, freq)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			net.AddEdge(nodeID(i), nodeID(j), weight, 0)
			net.AddEdge(nodeID(j), nodeID(i), weight, 0)
		}
	}
	return net, nil
}

// Star wires n-1 spokes to a hub at "n0".
func Star(n int, weight, freq float64) (*Network, error) {
	net, err := topologyBase(n, weight, freq)
	if err != nil {
		return nil, err
	}
	for i := 1; i < n; i++ {
		net.AddEdge(nodeID(0), nodeID(i), weight, 0)
		net.AddEdge(nodeID(i), nodeID(0), weight, 0)
	}
	return net, nil
}

// topologyBase validates the shared weight up front so the edge loops in the
// constructors cannot fail partway through.
func topologyBase(n int, weight, freq float64) (*Network, error) {
	if weight < 0 {
		return nil, fmt.Errorf("phase: topology edge weight %g is negative: %w",
			weight, oscilla.ErrInvalidConfig)
	}
	net := NewNetwork(0.15)
	for i := 0; i < n; i++ {
		net.AddNode(nodeID(i), 0, freq)
	}
	return net, nil
}

func nodeID(i int) string {
	return fmt.Sprintf("n%d", i)
}
