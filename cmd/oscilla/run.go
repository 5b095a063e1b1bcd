package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/oscilla-xyz/go-oscilla/config"
	"github.com/oscilla-xyz/go-oscilla/engine"
	"github.com/oscilla-xyz/go-oscilla/results"
	"github.com/oscilla-xyz/go-oscilla/storage"
)

func run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file (YAML, optional)")
	topology := fs.String("topology", "ring", "Network topology: ring, chain, complete, star")
	nodes := fs.Int("nodes", 8, "Number of oscillators")
	coupling := fs.Float64("coupling", -1, "Override the coupling constant")
	spread := fs.Float64("spread", 0.05, "Std dev of natural frequencies around 1.0")
	seed := fs.Int64("seed", 42, "Random seed for frequencies")
	ticks := fs.Int("ticks", 500, "Number of loop ticks")
	output := fs.String("output", "", "Output file for the report (required)")
	name := fs.String("name", "", "Run name (optional)")
	dbPath := fs.String("db", "", "Record the run into this SQLite database")
	doAnalyze := fs.Bool("analyze", true, "Compute automatic analysis")
	downsample := fs.Int("downsample", 150, "Target number of points for downsampled output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: oscilla run [options]

Run the closed loop: integrate the network, fit the spectrum on a sliding
window and adjust the feedback gain from the stability index.

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

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return err
	}
	if *coupling >= 0 {
		cfg.Network.Coupling = *coupling
	}

	net, err := buildNetwork(*topology, *nodes, cfg.Network.Coupling, *spread, *seed)
	if err != nil {
		return err
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
		return err
	}

	builder := results.NewBuilder().
		WithNetwork(net, *name).
		WithRun(cfg.Network.Dt, cfg.Estimator.AnalysisInterval)

	var store *storage.Store
	path := *dbPath
	if path == "" && cfg.Storage.Enabled {
		path = cfg.Storage.Path
	}
	if path != "" {
		store, err = storage.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		if err := store.CreateRun(builder.RunID(), string(cfgJSON)); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
	}

	start := time.Now()
	lastAnalysisID := ""
	for i := 0; i < *ticks; i++ {
		if err := eng.Tick(); err != nil {
			builder.WithError(err)
			break
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
		if store != nil {
			if err := store.RecordSample(&storage.Sample{
				RunID:      builder.RunID(),
				Tick:       st.Tick,
				T:          st.Time,
				SyncRatio:  st.SyncRatio,
				OrderParam: st.OrderParameter,
				Stability:  st.StabilityIndex,
				Feedback:   st.Feedback,
			}); err != nil {
				return fmt.Errorf("record sample: %w", err)
			}
		}

		if res := eng.LastResult(); res != nil && res.ID != lastAnalysisID {
			lastAnalysisID = res.ID
			builder.AddAnalysis(res, st.Tick, st.Time)
			if store != nil {
				sp := results.NewSpectra(res, st.Tick, st.Time)
				spJSON, err := json.Marshal(sp)
				if err != nil {
					return fmt.Errorf("marshal analysis: %w", err)
				}
				if err := store.RecordAnalysis(builder.RunID(), st.Tick, string(spJSON)); err != nil {
					return fmt.Errorf("record analysis: %w", err)
				}
			}
		}
	}
	elapsed := time.Since(start).Seconds()

	final := eng.Status()
	status := "success"
	if !math.IsNaN(final.StabilityIndex) && final.StabilityIndex < 0 {
		status = "unstable"
		builder.WithStatus(status)
	}

	report := builder.Build(elapsed, *downsample)
	if *doAnalyze {
		report.Analysis = results.NewAnalyzer(report).ComputeAll()
	}

	if err := results.WriteFile(report, *output); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if store != nil {
		if err := store.FinishRun(builder.RunID(), status); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "Run complete\n")
	fmt.Fprintf(os.Stderr, "  Run ID: %s\n", report.Metadata.ID)
	fmt.Fprintf(os.Stderr, "  Ticks: %d\n", report.Run.Ticks)
	fmt.Fprintf(os.Stderr, "  Final sync ratio: %.4f\n", report.Series.Summary.FinalSyncRatio)
	fmt.Fprintf(os.Stderr, "  Final stability: %.4f\n", report.Series.Summary.FinalStability)
	fmt.Fprintf(os.Stderr, "  Final feedback: %.4f\n", report.Series.Summary.FinalFeedback)
	fmt.Fprintf(os.Stderr, "  Compute time: %.3fs\n", elapsed)
	fmt.Fprintf(os.Stderr, "  Output: %s\n", *output)

	return nil
}
