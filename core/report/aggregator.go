// Package report turns a batch's results into statistics and persisted
// reports: one text report per job plus a JSON batch summary.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"batch-orchestrator/core/models"
)

// Aggregator computes batch statistics and writes reports to a directory.
type Aggregator struct {
	logger *slog.Logger
	outDir string
}

// New creates an aggregator writing under outDir.
func New(logger *slog.Logger, outDir string) *Aggregator {
	return &Aggregator{
		logger: logger,
		outDir: outDir,
	}
}

// Summarize computes the batch summary. baseline is the wall time of a
// sequential reference run; pass zero when none exists and the speedup
// fields stay unset. workers is the concurrency limit the batch ran with.
func Summarize(results []models.JobResult, workers int, baseline time.Duration) models.BatchSummary {
	summary := models.BatchSummary{Total: len(results)}
	if len(results) == 0 {
		return summary
	}

	var (
		waits    []float64
		minStart = results[0].SubmittedAt
		maxEnd   = results[0].FinishedAt
	)
	for _, res := range results {
		if res.Success {
			summary.Successful++
			waits = append(waits, res.WaitTime.Seconds())
			summary.TotalWait += res.WaitTime
		} else {
			summary.Failed++
		}
		if res.SubmittedAt.Before(minStart) {
			minStart = res.SubmittedAt
		}
		if res.FinishedAt.After(maxEnd) {
			maxEnd = res.FinishedAt
		}
	}
	summary.WallTime = maxEnd.Sub(minStart)

	if len(waits) > 0 {
		sort.Float64s(waits)
		summary.MeanWait = summary.TotalWait / time.Duration(len(waits))
		summary.MedianWait = time.Duration(median(waits) * float64(time.Second))
	}

	if baseline > 0 && summary.WallTime > 0 && workers > 0 {
		summary.Speedup = baseline.Seconds() / summary.WallTime.Seconds()
		summary.Efficiency = summary.Speedup / float64(workers)
	}
	return summary
}

// WriteReports persists one text report per result. A failed write never
// aborts the remaining items; every failure is returned, wrapped as a
// report-write error and keyed by the result's index in its message.
func (a *Aggregator) WriteReports(results []models.JobResult) []error {
	if err := os.MkdirAll(a.outDir, 0755); err != nil {
		return []error{fmt.Errorf("create %s: %v: %w", a.outDir, err, models.ErrReportWrite)}
	}

	var errs []error
	for _, res := range results {
		name := fmt.Sprintf("result_%03d_%s.txt", res.Index, shortID(res.JobID))
		path := filepath.Join(a.outDir, name)

		if err := os.WriteFile(path, []byte(reportBody(res)), 0644); err != nil {
			a.logger.Warn("failed to write job report", "index", res.Index, "path", path, "error", err)
			errs = append(errs, fmt.Errorf("result %d (%s): %v: %w", res.Index, path, err, models.ErrReportWrite))
			continue
		}
	}
	a.logger.Info("job reports written", "count", len(results)-len(errs), "failed", len(errs), "dir", a.outDir)
	return errs
}

// summaryFile is the on-disk shape of the batch summary.
type summaryFile struct {
	Timestamp  string             `json:"timestamp"`
	TotalJobs  int                `json:"total_jobs"`
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
	WallTimeS  float64            `json:"wall_time_s"`
	Results    []models.JobResult `json:"results"`
}

// WriteSummary persists the batch summary as summary.json, with results
// re-sorted by their original input index.
func (a *Aggregator) WriteSummary(summary models.BatchSummary, results []models.JobResult) error {
	if err := os.MkdirAll(a.outDir, 0755); err != nil {
		return fmt.Errorf("create %s: %v: %w", a.outDir, err, models.ErrReportWrite)
	}

	ordered := make([]models.JobResult, len(results))
	copy(ordered, results)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	data, err := json.MarshalIndent(summaryFile{
		Timestamp:  time.Now().Format(time.RFC3339),
		TotalJobs:  summary.Total,
		Successful: summary.Successful,
		Failed:     summary.Failed,
		WallTimeS:  summary.WallTime.Seconds(),
		Results:    ordered,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %v: %w", err, models.ErrReportWrite)
	}

	path := filepath.Join(a.outDir, "summary.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %v: %w", path, err, models.ErrReportWrite)
	}
	a.logger.Info("batch summary written", "path", path)
	return nil
}

func reportBody(res models.JobResult) string {
	if res.Success && res.Output != nil {
		return res.Output.ResultText
	}
	return fmt.Sprintf(`job failure report
==================
job id: %s
input index: %d
error: %s
elapsed: %.2fs
==================
`, res.JobID, res.Index, res.Error, res.TotalTime.Seconds())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "unsubmitted"
	}
	return id
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
