package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/oscilla-xyz/go-oscilla/monitoring"
	"github.com/oscilla-xyz/go-oscilla/solver"
)

func forecast(args []string) error {
	fs := flag.NewFlagSet("forecast", flag.ExitOnError)
	topology := fs.String("topology", "ring", "Network topology: ring, chain, complete, star")
	nodes := fs.Int("nodes", 8, "Number of oscillators")
	coupling := fs.Float64("coupling", 0.5, "Coupling constant")
	spread := fs.Float64("spread", 0.05, "Std dev of natural frequencies around 1.0")
	seed := fs.Int64("seed", 42, "Random seed for frequencies")
	horizon := fs.Float64("horizon", 100.0, "How far ahead to simulate")
	accurate := fs.Bool("accurate", false, "Use tighter solver tolerances")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: oscilla forecast [options]

Simulate a network forward and report whether it will synchronize.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Will an 8-node ring at K=0.2 lock?
  oscilla forecast --topology ring --nodes 8 --coupling 0.2

  # Longer horizon, tighter tolerances
  oscilla forecast --coupling 0.1 --horizon 500 --accurate
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	net, err := buildNetwork(*topology, *nodes, *coupling, *spread, *seed)
	if err != nil {
		return err
	}

	pred := monitoring.NewPredictor()
	if *accurate {
		pred = pred.WithSolverOptions(solver.AccurateOptions())
	}

	fc, err := pred.ForecastSync(net, *horizon)
	if err != nil {
		return err
	}

	fmt.Printf("Network: %s with %d nodes, K=%.3f\n", *topology, *nodes, *coupling)
	fmt.Printf("Horizon: %.1f\n", fc.Horizon)
	if fc.WillSync {
		fmt.Printf("Synchronizes: yes, at t=%.2f\n", fc.TimeToSync)
	} else {
		fmt.Println("Synchronizes: no")
	}
	fmt.Printf("Final order parameter: %.4f\n", fc.FinalOrder)
	fmt.Printf("Final sync ratio: %.4f\n", fc.FinalSyncRatio)

	return nil
}
