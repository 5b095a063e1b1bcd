package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		if err := run(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "analyze":
		if err := analyze(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "summary":
		if err := summary(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "sweep":
		if err := sweep(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "forecast":
		if err := forecast(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "calibrate":
		if err := calibrate(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "runs":
		if err := listRuns(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "export":
		if err := exportRun(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "init":
		if err := initConfig(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Println("oscilla version 1.0.0")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`oscilla - coupled-oscillator stability engine

Usage:
  oscilla <command> [options]

Commands:
  run       Run a closed loop and write a report
  analyze   Compute insights from a run report
  summary   Display quick summary of a report
  sweep     Sweep the coupling constant and rank the variants
  forecast  Predict whether a network will synchronize
  calibrate Fit network parameters to observed trajectories
  runs      List recorded runs in a database
  export    Export a recorded run as JSON
  init      Write a default config file
  help      Show this help message
  version   Show version information

Examples:
  # Run a closed loop on an 8-node ring
  oscilla run --topology ring --nodes 8 --ticks 500 --output run.json

  # Run with a config file and record to SQLite
  oscilla run --config loop.yaml --db runs.db --output run.json

  # Sweep the coupling constant
  oscilla sweep --topology ring --nodes 8 --min 0.05 --max 1.0 --steps 10 --output sweep.json

  # Inspect a finished run
  oscilla summary run.json

  # Recover the coupling constant from observed trajectories
  oscilla calibrate --data observed.json --topology ring

For command-specific help, run:
  oscilla <command> --help`)
}
