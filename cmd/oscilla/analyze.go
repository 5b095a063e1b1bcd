package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/oscilla-xyz/go-oscilla/results"
)

func analyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	recompute := fs.Bool("recompute", false, "Recompute analysis even if present")
	saveOutput := fs.String("save", "", "Save updated report with analysis to file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: oscilla analyze <report.json> [options]

Display analysis and insights from a run report.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Show analysis
  oscilla analyze run.json

  # Recompute and save
  oscilla analyze run.json --recompute --save updated.json
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("report file required")
	}

	report, err := results.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	if *recompute || report.Analysis == nil {
		report.Analysis = results.NewAnalyzer(report).ComputeAll()

		if *saveOutput != "" {
			if err := results.WriteFile(report, *saveOutput); err != nil {
				return fmt.Errorf("save report: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Saved updated report to %s\n\n", *saveOutput)
		}
	}

	printAnalysis(report)

	return nil
}

func printAnalysis(report *results.Report) {
	fmt.Printf("=== Analysis: %s ===\n\n", report.Network.Name)

	fmt.Printf("Status: %s\n", report.Metadata.Status)
	if report.Metadata.Error != "" {
		fmt.Printf("Error: %s\n", report.Metadata.Error)
		return
	}

	a := report.Analysis
	if a == nil {
		fmt.Println("No analysis available")
		return
	}

	if a.Lock != nil {
		if a.Lock.Locked {
			fmt.Printf("Phase lock: at t=%.2f (threshold %.2f)\n", a.Lock.Time, a.Lock.Threshold)
		} else {
			fmt.Printf("Phase lock: not reached (threshold %.2f)\n", a.Lock.Threshold)
		}
	}

	if a.SteadyState != nil {
		if a.SteadyState.Reached {
			fmt.Printf("Steady state: at t=%.2f\n", a.SteadyState.Time)
		} else {
			fmt.Println("Steady state: not reached")
		}
	}

	if len(a.Statistics) > 0 {
		fmt.Println("\nChannel statistics:")
		names := make([]string, 0, len(a.Statistics))
		for name := range a.Statistics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := a.Statistics[name]
			fmt.Printf("  %-16s min=%.4f max=%.4f mean=%.4f std=%.4f\n",
				name, s.Min, s.Max, s.Mean, s.Std)
		}
	}

	if len(a.Peaks) > 0 {
		fmt.Printf("\nPeaks: %d", len(a.Peaks))
		best := a.Peaks[0]
		for _, p := range a.Peaks {
			if p.Prominence > best.Prominence {
				best = p
			}
		}
		fmt.Printf(" (most prominent: %s at t=%.2f, value %.4f)\n", best.Channel, best.Time, best.Value)
	}

	if len(report.Spectral) > 0 {
		last := report.Spectral[len(report.Spectral)-1]
		fmt.Printf("\nLast spectral fit (tick %d):\n", last.Tick)
		fmt.Printf("  Stability index: %.4f\n", last.StabilityIndex)
		fmt.Printf("  Effective rank: %d\n", last.EffectiveRank)
		fmt.Printf("  Reconstruction error: %.2e\n", last.ReconstructionError)
		fmt.Printf("  Modes: %d\n", len(last.Modes))
	}

	if len(report.Alerts) > 0 {
		fmt.Printf("\nAlerts: %d\n", len(report.Alerts))
		for _, al := range report.Alerts {
			fmt.Printf("  [%s] t=%.2f %s: %s\n", al.Severity, al.Time, al.Type, al.Message)
		}
	}
}

func summary(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: oscilla summary <report.json>

Display quick summary of a run report.

Examples:
  oscilla summary run.json
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("report file required")
	}

	report, err := results.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	fmt.Printf("Run: %s\n", report.Metadata.ID)
	if report.Network.Name != "" {
		fmt.Printf("Network: %s\n", report.Network.Name)
	}
	fmt.Printf("Status: %s\n", report.Metadata.Status)

	if report.Metadata.Error != "" {
		fmt.Printf("Error: %s\n", report.Metadata.Error)
		return nil
	}

	fmt.Printf("Nodes: %d, edges: %d, coupling: %.3f\n",
		len(report.Network.Nodes), report.Network.Edges, report.Network.Coupling)
	fmt.Printf("Ticks: %d at dt=%.3f (%.3fs compute)\n",
		report.Run.Ticks, report.Run.Dt, report.Metadata.ComputeTime)

	s := report.Series.Summary
	fmt.Printf("\nFinal state at t=%.2f:\n", s.FinalTime)
	fmt.Printf("  Sync ratio: %.4f\n", s.FinalSyncRatio)
	fmt.Printf("  Order parameter: %.4f\n", s.FinalOrder)
	fmt.Printf("  Stability index: %.4f\n", s.FinalStability)
	fmt.Printf("  Feedback gain: %.4f\n", s.FinalFeedback)

	fmt.Printf("\nSpectral analyses: %d\n", len(report.Spectral))

	return nil
}
