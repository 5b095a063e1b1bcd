package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/oscilla-xyz/go-oscilla/config"
	"github.com/oscilla-xyz/go-oscilla/storage"
)

func listRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "oscilla.db", "SQLite database path")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: oscilla runs [options]

List recorded runs, most recent first.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.RecentRuns(*limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-10s\n", "ID", "STARTED", "STATUS")
	for _, r := range runs {
		fmt.Printf("%-36s  %-20s  %-10s\n",
			r.ID, r.Started.Format("2006-01-02 15:04:05"), r.Status)
	}

	return nil
}

func exportRun(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", "oscilla.db", "SQLite database path")
	output := fs.String("output", "", "Output file (default: stdout)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: oscilla export <run-id> [options]

Export a recorded run with its samples and analyses as JSON.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("run id required")
	}

	store, err := storage.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := store.ExportRunJSON(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("export run: %w", err)
	}

	if *output == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Exported to %s\n", *output)

	return nil
}

func initConfig(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	output := fs.String("output", "oscilla.yaml", "Config file to write")
	force := fs.Bool("force", false, "Overwrite an existing file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: oscilla init [options]

Write the default configuration to a YAML file.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*output); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", *output)
		}
	}

	if err := config.Default().Save(*output); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", *output)

	return nil
}
