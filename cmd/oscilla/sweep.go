package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/oscilla-xyz/go-oscilla/config"
	"github.com/oscilla-xyz/go-oscilla/engine"
	"github.com/oscilla-xyz/go-oscilla/results"
)

func sweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file (YAML, optional)")
	topology := fs.String("topology", "ring", "Network topology: ring, chain, complete, star")
	nodes := fs.Int("nodes", 8, "Number of oscillators")
	spread := fs.Float64("spread", 0.05, "Std dev of natural frequencies around 1.0")
	seed := fs.Int64("seed", 42, "Random seed for frequencies")
	ticks := fs.Int("ticks", 400, "Loop ticks per variant")
	minK := fs.Float64("min", 0.05, "Lowest coupling value")
	maxK := fs.Float64("max", 1.0, "Highest coupling value")
	steps := fs.Int("steps", 10, "Number of coupling values")
	objective := fs.String("objective", "maximize_sync", "Objective: maximize_sync, maximize_stability, minimize_time_to_lock, minimize_time_to_steady")
	output := fs.String("output", "", "Output file for the sweep report (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: oscilla sweep [options]

Sweep the coupling constant, run the closed loop once per value and rank
the variants by the chosen objective.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return fmt.Errorf("--output required")
	}
	if *steps < 2 {
		return fmt.Errorf("--steps must be at least 2")
	}

	objFunc, ok := results.Objectives[*objective]
	if !ok {
		return fmt.Errorf("unknown objective %q", *objective)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return err
	}

	sweepReport := &results.SweepReport{
		Version:     results.SchemaVersion,
		BaseNetwork: fmt.Sprintf("%s-%d", *topology, *nodes),
		Objective:   *objective,
	}

	values := make([]float64, *steps)
	for i := range values {
		values[i] = *minK + (*maxK-*minK)*float64(i)/float64(*steps-1)
	}
	sweepReport.Parameters = []results.ParameterSweep{{
		Name:   "coupling",
		Type:   "coupling",
		Values: values,
		Min:    *minK,
		Max:    *maxK,
	}}

	succeeded := 0
	for i, k := range values {
		report, err := runVariant(cfg, *topology, *nodes, k, *spread, *seed, *ticks)
		if err != nil {
			fmt.Fprintf(os.Stderr, "variant %d (K=%.3f) failed: %v\n", i, k, err)
			continue
		}
		succeeded++

		score, err := objFunc(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "variant %d (K=%.3f) not scorable: %v\n", i, k, err)
			continue
		}

		sweepReport.Variants = append(sweepReport.Variants, results.VariantResult{
			ID:         i,
			Parameters: map[string]float64{"coupling": k},
			Metrics:    results.ExtractMetrics(report),
			Score:      score,
		})
		fmt.Fprintf(os.Stderr, "K=%.3f  sync=%.4f  stability=%.4f  score=%.4f\n",
			k, report.Series.Summary.FinalSyncRatio,
			report.Series.Summary.FinalStability, score)
	}

	if len(sweepReport.Variants) == 0 {
		return fmt.Errorf("no variant succeeded")
	}

	results.RankVariants(sweepReport.Variants)
	sweepReport.Best = &sweepReport.Variants[0]
	sweepReport.Worst = &sweepReport.Variants[len(sweepReport.Variants)-1]
	sweepReport.Summary = results.SweepSummary{
		TotalVariants: *steps,
		SuccessCount:  succeeded,
		FailureCount:  *steps - succeeded,
		BestScore:     sweepReport.Best.Score,
		WorstScore:    sweepReport.Worst.Score,
		ScoreRange:    sweepReport.Worst.Score - sweepReport.Best.Score,
	}
	sweepReport.Recommended = results.GenerateRecommendations(sweepReport)

	data, err := json.MarshalIndent(sweepReport, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sweep report: %w", err)
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		return fmt.Errorf("write sweep report: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\nSweep complete: best K=%.3f (score %.4f)\n",
		sweepReport.Best.Parameters["coupling"], sweepReport.Best.Score)
	fmt.Fprintf(os.Stderr, "Output: %s\n", *output)

	return nil
}

// runVariant runs one closed loop with the given coupling and returns its
// analyzed report.
func runVariant(cfg *config.Config, topology string, nodes int, coupling, spread float64, seed int64, ticks int) (*results.Report, error) {
	net, err := buildNetwork(topology, nodes, coupling, spread, seed)
	if err != nil {
		return nil, err
	}

	estOpts := cfg.EstimatorOptions()
	ctrlOpts := cfg.ControllerOptions()
	eng, err := engine.New(net, engine.Options{
		Dt:               cfg.Network.Dt,
		AnalysisInterval: cfg.Estimator.AnalysisInterval,
		BufferCapacity:   cfg.Buffer.Capacity,
		Estimator:        &estOpts,
		Controller:       &ctrlOpts,
	})
	if err != nil {
		return nil, err
	}

	builder := results.NewBuilder().
		WithNetwork(net, fmt.Sprintf("%s-%d K=%.3f", topology, nodes, coupling)).
		WithRun(cfg.Network.Dt, cfg.Estimator.AnalysisInterval)

	start := time.Now()
	for i := 0; i < ticks; i++ {
		if err := eng.Tick(); err != nil {
			return nil, err
		}
		st := eng.Status()
		builder.AddSample(results.Sample{
			Tick:           st.Tick,
			Time:           st.Time,
			SyncRatio:      st.SyncRatio,
			OrderParameter: st.OrderParameter,
			StabilityIndex: st.StabilityIndex,
			Feedback:       st.Feedback,
		})
	}
	if res := eng.LastResult(); res != nil {
		st := eng.Status()
		builder.AddAnalysis(res, st.Tick, st.Time)
	}

	report := builder.Build(time.Since(start).Seconds(), 200)
	report.Analysis = results.NewAnalyzer(report).ComputeAll()
	return report, nil
}
