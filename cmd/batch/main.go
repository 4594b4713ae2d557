package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batch-orchestrator/core/dispatch"
	"batch-orchestrator/core/models"
	"batch-orchestrator/core/report"
	"batch-orchestrator/core/spec"
)

func main() {
	var (
		specFile = flag.String("spec", "", "YAML batch spec file (generated inputs when empty)")
		baseURL  = flag.String("base-url", "http://localhost:5000", "job service base URL")
		endpoint = flag.String("endpoint", "test-endpoint", "endpoint id")
		jobs     = flag.Int("jobs", 10, "number of generated jobs")
		workers  = flag.Int("workers", 5, "concurrency limit")
		minWait  = flag.Float64("min-wait", 1, "minimum generated wait time (seconds)")
		maxWait  = flag.Float64("max-wait", 3, "maximum generated wait time (seconds)")
		poll     = flag.Duration("poll", 500*time.Millisecond, "poll interval")
		timeout  = flag.Duration("timeout", 5*time.Minute, "per-job timeout")
		outDir   = flag.String("out", "results", "report output directory")
		baseline = flag.Bool("baseline", false, "also run sequentially (workers=1) and report speedup")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(logger, *specFile, *baseURL, *endpoint, *jobs, *workers, *minWait, *maxWait, *poll, *timeout, *outDir, *baseline); err != nil {
		logger.Error("batch run failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, specFile, baseURL, endpoint string, jobs, workers int,
	minWait, maxWait float64, poll, timeout time.Duration, outDir string, baseline bool) error {

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("cancelling batch")
		cancel()
	}()

	inputs := make([]models.JobInput, 0, jobs)
	opts := dispatch.Options{Workers: workers, PollInterval: poll, JobTimeout: timeout}

	if specFile != "" {
		batch, err := spec.LoadBatchSpec(specFile)
		if err != nil {
			return err
		}
		inputs = batch.Inputs
		endpoint = batch.Endpoint
		opts.Workers = batch.Workers
		if batch.PollInterval > 0 {
			opts.PollInterval = batch.PollInterval
		}
		if batch.Timeout > 0 {
			opts.JobTimeout = batch.Timeout
		}
	} else {
		inputs = generateInputs(jobs, minWait, maxWait)
	}

	client := dispatch.NewClient(logger, baseURL, endpoint)

	var baselineWall time.Duration
	if baseline {
		logger.Info("running sequential baseline", "jobs", len(inputs))
		seq := dispatch.New(logger, client, dispatch.Options{
			Workers:      1,
			PollInterval: opts.PollInterval,
			JobTimeout:   opts.JobTimeout,
		})
		start := time.Now()
		if _, err := seq.Run(ctx, inputs); err != nil {
			return fmt.Errorf("baseline run: %w", err)
		}
		baselineWall = time.Since(start)
	}

	dispatcher := dispatch.New(logger, client, opts)
	results, err := dispatcher.Run(ctx, inputs)
	if err != nil {
		return err
	}

	summary := report.Summarize(results, opts.Workers, baselineWall)
	agg := report.New(logger, outDir)
	for _, werr := range agg.WriteReports(results) {
		logger.Warn("report write failed", "error", werr)
	}
	if err := agg.WriteSummary(summary, results); err != nil {
		logger.Warn("summary write failed", "error", err)
	}

	printSummary(summary, opts.Workers, baselineWall)
	return nil
}

func generateInputs(jobs int, minWait, maxWait float64) []models.JobInput {
	inputs := make([]models.JobInput, jobs)
	for i := range inputs {
		wait := minWait
		if maxWait > minWait {
			wait = minWait + rand.Float64()*(maxWait-minWait)
		}
		inputs[i] = models.JobInput{
			"task_name": fmt.Sprintf("task_%03d", i+1),
			"wait_time": float64(int(wait*100)) / 100,
			"batch":     fmt.Sprintf("batch_%d", i/10+1),
			"index":     i + 1,
		}
	}
	return inputs
}

func printSummary(s models.BatchSummary, workers int, baseline time.Duration) {
	fmt.Printf("\nbatch summary\n")
	fmt.Printf("  jobs:        %d (%d ok, %d failed)\n", s.Total, s.Successful, s.Failed)
	fmt.Printf("  wall time:   %.2fs\n", s.WallTime.Seconds())
	fmt.Printf("  wait time:   total %.2fs, mean %.2fs, median %.2fs\n",
		s.TotalWait.Seconds(), s.MeanWait.Seconds(), s.MedianWait.Seconds())
	if baseline > 0 {
		fmt.Printf("  baseline:    %.2fs sequential\n", baseline.Seconds())
		fmt.Printf("  speedup:     %.2fx (efficiency %.1f%% over %d workers)\n",
			s.Speedup, s.Efficiency*100, workers)
	}
}
