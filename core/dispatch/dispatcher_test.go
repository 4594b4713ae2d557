package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"batch-orchestrator/api/rest/routes"
	"batch-orchestrator/core/events"
	"batch-orchestrator/core/models"
	"batch-orchestrator/core/runner"
	"batch-orchestrator/core/store"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBackend spins up the full server stack in-process.
func newBackend(t *testing.T, cfg runner.Config) (*httptest.Server, *store.Store) {
	t.Helper()
	logger := testLogger()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := store.New()
	hub := events.NewHub(logger)
	go hub.Run(ctx)

	run := runner.New(logger, st, cfg)
	run.Start(ctx)

	r := mux.NewRouter()
	routes.SetupRoutes(r, logger, st, run, hub)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func fixedInputs(n int, waitSeconds float64) []models.JobInput {
	inputs := make([]models.JobInput, n)
	for i := range inputs {
		inputs[i] = models.JobInput{
			"task_name": fmt.Sprintf("task_%03d", i),
			"wait_time": waitSeconds,
		}
	}
	return inputs
}

func newDispatcher(srv *httptest.Server, opts Options) *Dispatcher {
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	client := NewClient(testLogger(), srv.URL, "test-endpoint")
	return New(testLogger(), client, opts)
}

func TestRun_OneResultPerInput(t *testing.T) {
	srv, _ := newBackend(t, runner.Config{MinDuration: time.Millisecond, MaxDuration: 5 * time.Millisecond})

	inputs := fixedInputs(8, 0.02)
	d := newDispatcher(srv, Options{Workers: 3})

	results, err := d.Run(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, results, len(inputs))

	indexes := make(map[int]bool)
	for _, res := range results {
		assert.True(t, res.Success, "job %d: %s", res.Index, res.Error)
		assert.NotEmpty(t, res.JobID)
		assert.False(t, indexes[res.Index], "duplicate index %d", res.Index)
		assert.GreaterOrEqual(t, res.Index, 0)
		assert.Less(t, res.Index, len(inputs))
		indexes[res.Index] = true
	}
	assert.Len(t, indexes, len(inputs))
}

func TestRun_BoundedConcurrency(t *testing.T) {
	srv, st := newBackend(t, runner.Config{MinDuration: time.Millisecond, MaxDuration: 5 * time.Millisecond})

	const workers = 3
	inputs := fixedInputs(12, 0.05)

	// Sample the registry while the batch runs; at no instant may more than
	// `workers` submitted jobs be non-terminal.
	var peak int64
	sampleCtx, stopSampling := context.WithCancel(context.Background())
	defer stopSampling()
	go func() {
		for {
			select {
			case <-sampleCtx.Done():
				return
			case <-time.After(2 * time.Millisecond):
			}
			inFlight := int64(0)
			for _, job := range st.List() {
				if !job.Status.Terminal() {
					inFlight++
				}
			}
			for {
				old := atomic.LoadInt64(&peak)
				if inFlight <= old || atomic.CompareAndSwapInt64(&peak, old, inFlight) {
					break
				}
			}
		}
	}()

	d := newDispatcher(srv, Options{Workers: workers})
	results, err := d.Run(context.Background(), inputs)
	stopSampling()
	require.NoError(t, err)
	require.Len(t, results, len(inputs))

	observed := atomic.LoadInt64(&peak)
	assert.LessOrEqual(t, observed, int64(workers))
	assert.Greater(t, observed, int64(0))
}

// Five jobs of equal duration with five workers should take about one job's
// duration, not five.
func TestRun_FullParallelismWallTime(t *testing.T) {
	srv, _ := newBackend(t, runner.Config{MinDuration: time.Millisecond, MaxDuration: 5 * time.Millisecond})

	inputs := fixedInputs(5, 0.2)
	d := newDispatcher(srv, Options{Workers: 5})

	start := time.Now()
	results, err := d.Run(context.Background(), inputs)
	elapsed := time.Since(start)
	require.NoError(t, err)

	for _, res := range results {
		assert.True(t, res.Success, "job %d: %s", res.Index, res.Error)
	}
	assert.Less(t, elapsed, 600*time.Millisecond, "5 parallel 200ms jobs should finish in ~200ms")
}

func TestRun_ParallelBeatsSequential(t *testing.T) {
	srv, _ := newBackend(t, runner.Config{MinDuration: time.Millisecond, MaxDuration: 5 * time.Millisecond})

	inputs := fixedInputs(6, 0.15)

	seq := newDispatcher(srv, Options{Workers: 1})
	start := time.Now()
	seqResults, err := seq.Run(context.Background(), inputs)
	seqTime := time.Since(start)
	require.NoError(t, err)
	require.Len(t, seqResults, len(inputs))

	par := newDispatcher(srv, Options{Workers: 6})
	start = time.Now()
	parResults, err := par.Run(context.Background(), inputs)
	parTime := time.Since(start)
	require.NoError(t, err)
	require.Len(t, parResults, len(inputs))

	assert.Less(t, parTime, seqTime)
	speedup := seqTime.Seconds() / parTime.Seconds()
	assert.GreaterOrEqual(t, speedup, 1.5, "sequential %.2fs vs parallel %.2fs", seqTime.Seconds(), parTime.Seconds())
}

func TestRun_JobTimeout(t *testing.T) {
	srv, _ := newBackend(t, runner.Config{MinDuration: time.Millisecond, MaxDuration: 5 * time.Millisecond})

	inputs := []models.JobInput{{"task_name": "slow", "wait_time": 10.0}}
	d := newDispatcher(srv, Options{Workers: 1, JobTimeout: 150 * time.Millisecond})

	start := time.Now()
	results, err := d.Run(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.False(t, res.Success)
	assert.True(t, res.TimedOut)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second, "timeout must not wait for the job")
}

func TestRun_EmptyBatch(t *testing.T) {
	srv, _ := newBackend(t, runner.Config{MinDuration: time.Millisecond, MaxDuration: 5 * time.Millisecond})

	d := newDispatcher(srv, Options{Workers: 2})
	_, err := d.Run(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRun_UnreachableServiceFailsBeforeSubmitting(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(testLogger(), srv.URL, "test-endpoint")
	client.backoff = time.Millisecond
	d := New(testLogger(), client, Options{Workers: 2, PollInterval: 10 * time.Millisecond})

	_, err := d.Run(context.Background(), fixedInputs(3, 0.01))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestRun_SubmitExhaustionYieldsFailedResult(t *testing.T) {
	// Healthy service whose /run always breaks: every input must still
	// produce exactly one (failed) result.
	handler := http.NewServeMux()
	handler.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	handler.HandleFunc("/v2/test-endpoint/run", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	client := NewClient(testLogger(), srv.URL, "test-endpoint")
	client.backoff = time.Millisecond
	d := New(testLogger(), client, Options{Workers: 2, PollInterval: 10 * time.Millisecond})

	results, err := d.Run(context.Background(), fixedInputs(3, 0.01))
	require.NoError(t, err, "individual job failures must not fail the batch")
	require.Len(t, results, 3)
	for _, res := range results {
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "submit failed")
	}
}

func TestRun_SubmitRetriesTransientFailures(t *testing.T) {
	backend, _ := newBackend(t, runner.Config{MinDuration: time.Millisecond, MaxDuration: 5 * time.Millisecond})

	// Proxy that drops the first two /run attempts.
	var failures int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/test-endpoint/run" && atomic.AddInt32(&failures, 1) <= 2 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		req, err := http.NewRequestWithContext(r.Context(), r.Method, backend.URL+r.URL.Path, r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		req.Header = r.Header
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}))
	defer proxy.Close()

	client := NewClient(testLogger(), proxy.URL, "test-endpoint")
	client.backoff = time.Millisecond
	d := New(testLogger(), client, Options{Workers: 1, PollInterval: 10 * time.Millisecond})

	results, err := d.Run(context.Background(), fixedInputs(1, 0.02))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, "submit should succeed on the third attempt: %s", results[0].Error)
}

func TestRun_BatchCancellation(t *testing.T) {
	srv, _ := newBackend(t, runner.Config{MinDuration: time.Millisecond, MaxDuration: 5 * time.Millisecond})

	inputs := fixedInputs(6, 0.4)
	d := newDispatcher(srv, Options{Workers: 2, JobTimeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	results, err := d.Run(ctx, inputs)
	require.NoError(t, err)
	require.Len(t, results, len(inputs), "cancellation must not drop inputs")

	cancelled := 0
	for _, res := range results {
		if res.CancelRequested {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0, "some results should reflect the cancellation")
}
