package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"churn-dashboard/internal/dataset"
	"churn-dashboard/internal/observability"
)

const defaultMaxReports = 16

// Listener is notified when reports enter or leave the registry. Events are
// delivered one at a time in registry order, so a report's eviction never
// reaches a listener before its arrival. Callbacks must not call back into
// the registry.
type Listener interface {
	ReportStored(r *Report)
	ReportEvicted(id string)
}

type Options struct {
	Load       dataset.Options
	Run        RunOptions
	MaxReports int
	Logger     *slog.Logger
}

// Analytics keeps the reports of recent uploads. Every upload is analysed on
// its own copy of the data; the registry only shares finished, immutable
// reports.
type Analytics struct {
	mu sync.RWMutex
	// notifyMu is taken before mu is released so events leave in the
	// order the registry changed.
	notifyMu   sync.Mutex
	reports    map[string]*Report
	order      []string
	maxReports int
	listeners  []Listener

	loadOpts dataset.Options
	runOpts  RunOptions

	datasetsProcessed atomic.Int64
	recordsProcessed  atomic.Int64
	logger            *slog.Logger
}

func NewAnalytics(opts Options) *Analytics {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxReports <= 0 {
		opts.MaxReports = defaultMaxReports
	}
	opts.Load.Logger = logger
	opts.Run.Logger = logger

	return &Analytics{
		reports:    make(map[string]*Report),
		maxReports: opts.MaxReports,
		loadOpts:   opts.Load,
		runOpts:    opts.Run,
		logger:     logger,
	}
}

func (a *Analytics) Subscribe(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// AnalyzeFile loads the dataset at path and analyses it.
func (a *Analytics) AnalyzeFile(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	return a.Analyze(ctx, f, filepath.Base(path))
}

// Analyze loads an uploaded file, runs the pipeline and stores the report.
// Loading failures abort the run before anything is stored.
func (a *Analytics) Analyze(ctx context.Context, r io.Reader, filename string) (*Report, error) {
	ctx, span := observability.StartSpan(ctx, "analytics.analyze")
	defer span.FinishAndLog(a.logger)
	span.SetTag("filename", filename)

	start := time.Now()
	a.logger.Info("processing dataset", "filename", filename)

	ds, err := dataset.Load(ctx, r, filename, a.loadOpts)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	report, err := Run(ctx, ds, a.runOpts)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	a.Store(report)

	a.datasetsProcessed.Add(1)
	a.recordsProcessed.Add(int64(report.RecordCount))
	a.logger.Info("dataset processing complete",
		"dataset_id", report.ID,
		"filename", filename,
		"rows", len(ds.Rows),
		"records", report.RecordCount,
		"revenue_columns", len(ds.RevenueColumns),
		"coercion_warnings", len(ds.Warnings),
		"duration", time.Since(start),
	)
	return report, nil
}

// Store adds a report, evicting the oldest ones beyond the registry limit.
func (a *Analytics) Store(report *Report) {
	a.mu.Lock()
	a.reports[report.ID] = report
	a.order = append(a.order, report.ID)

	var evicted []string
	for len(a.order) > a.maxReports {
		id := a.order[0]
		a.order = a.order[1:]
		delete(a.reports, id)
		evicted = append(evicted, id)
	}
	listeners := slices.Clone(a.listeners)
	a.notifyMu.Lock()
	a.mu.Unlock()
	defer a.notifyMu.Unlock()

	for _, l := range listeners {
		l.ReportStored(report)
		for _, id := range evicted {
			l.ReportEvicted(id)
		}
	}
	for _, id := range evicted {
		a.logger.Debug("report evicted", "dataset_id", id)
	}
}

func (a *Analytics) Report(id string) (*Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.reports[id]
	return r, ok
}

// Latest returns the most recently stored report.
func (a *Analytics) Latest() (*Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.order) == 0 {
		return nil, false
	}
	return a.reports[a.order[len(a.order)-1]], true
}

// Summaries lists the stored reports, newest first.
func (a *Analytics) Summaries() []ReportSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]ReportSummary, 0, len(a.order))
	for i := len(a.order) - 1; i >= 0; i-- {
		out = append(out, a.reports[a.order[i]].Summary())
	}
	return out
}

// Stats is used by the admin endpoint.
func (a *Analytics) Stats() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return map[string]any{
		"reports":            len(a.reports),
		"max_reports":        a.maxReports,
		"datasets_processed": a.datasetsProcessed.Load(),
		"records_processed":  a.recordsProcessed.Load(),
	}
}
