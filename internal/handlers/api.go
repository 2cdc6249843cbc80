package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"churn-dashboard/internal/dataset"
	"churn-dashboard/internal/errors"
	"churn-dashboard/internal/observability"
	"churn-dashboard/internal/qa"
	"churn-dashboard/internal/services"
)

const (
	uploadField     = "file"
	multipartMemory = 8 << 20
	latestReport    = "latest"
)

// QA answers questions about a stored report.
type QA interface {
	Ask(ctx context.Context, reportID, question string, maxTokens int) (*qa.Answer, error)
	Stats() map[string]any
}

type APIHandlers struct {
	analytics   *services.Analytics
	qa          QA
	maxUpload   int64
	loadTimeout time.Duration
	logger      *slog.Logger
}

type APIOptions struct {
	MaxUploadBytes int64
	LoadTimeout    time.Duration
}

func NewAPIHandlers(analytics *services.Analytics, qa QA, opts APIOptions, logger *slog.Logger) *APIHandlers {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	return &APIHandlers{
		analytics:   analytics,
		qa:          qa,
		maxUpload:   opts.MaxUploadBytes,
		loadTimeout: opts.LoadTimeout,
		logger:      logger,
	}
}

// report resolves the {id} path value; "latest" names the newest report.
func (h *APIHandlers) report(r *http.Request) (*services.Report, error) {
	id := r.PathValue("id")
	if id == latestReport {
		if report, ok := h.analytics.Latest(); ok {
			return report, nil
		}
		return nil, errors.NotFound("No dataset has been uploaded yet")
	}
	if report, ok := h.analytics.Report(id); ok {
		return report, nil
	}
	return nil, errors.NotFound("Dataset not found").WithDetails(id)
}

func (h *APIHandlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())
	if r.ContentLength > h.maxUpload {
		errors.WriteError(w, h.logger, errors.PayloadTooLarge(h.maxUpload), requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	if err := r.ParseMultipartForm(min(h.maxUpload, multipartMemory)); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.WriteError(w, h.logger, errors.PayloadTooLarge(tooLarge.Limit), requestID)
			return
		}
		errors.WriteError(w, h.logger, errors.BadRequestWrap(err, "Expected a multipart form upload"), requestID)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		errors.WriteError(w, h.logger, errors.BadRequestWrap(err, fmt.Sprintf("Missing %q file field", uploadField)), requestID)
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(r.Context(), h.loadTimeout)
	defer cancel()

	report, err := h.analytics.Analyze(ctx, file, header.Filename)
	if err != nil {
		errors.WriteError(w, h.logger, analysisError(err), requestID)
		return
	}

	errors.WriteStatus(w, http.StatusCreated, report.Summary())
}

// analysisError maps loader and pipeline failures to client errors.
func analysisError(err error) error {
	var schemaErr *dataset.SchemaError
	switch {
	case stderrors.As(err, &schemaErr):
		return errors.Schema(schemaErr)
	case stderrors.Is(err, dataset.ErrUnsupportedFormat):
		return errors.BadRequestWrap(err, "Unsupported file format, upload an .xlsx or .csv file")
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.ServiceUnavailableWrap(err, "Dataset analysis timed out")
	default:
		return errors.InternalWrap(err, "Failed to analyse dataset")
	}
}

func (h *APIHandlers) HandleListDatasets(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccess(w, h.analytics.Summaries())
}

func (h *APIHandlers) HandleDataset(w http.ResponseWriter, r *http.Request) {
	report, err := h.report(r)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}
	errors.WriteSuccess(w, report.Summary())
}

func (h *APIHandlers) table(r *http.Request) (*services.Report, string, error) {
	report, err := h.report(r)
	if err != nil {
		return nil, "", err
	}
	name := r.PathValue("table")
	if _, ok := report.Table(name); !ok {
		return nil, "", errors.NotFound("Table not found").WithDetails(name)
	}
	return report, name, nil
}

func (h *APIHandlers) HandleTable(w http.ResponseWriter, r *http.Request) {
	report, name, err := h.table(r)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}
	table, _ := report.Table(name)

	// Reports never change once stored.
	errors.WriteSuccessWithHeaders(w, table, map[string]string{
		"Cache-Control": "private, max-age=300",
	})
}

func (h *APIHandlers) HandleTableCSV(w http.ResponseWriter, r *http.Request) {
	report, name, err := h.table(r)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}
	table, _ := report.Table(name)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", table.Name+".csv"))

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(table.Records()); err != nil {
		h.logger.Error("write csv", "table", name, "dataset_id", report.ID, "error", err)
	}
}

type askRequest struct {
	Question         string `json:"question"`
	MaxContextTokens int    `json:"max_context_tokens"`
}

func (h *APIHandlers) HandleAsk(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	report, err := h.report(r)
	if err != nil {
		errors.WriteError(w, h.logger, err, requestID)
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, h.logger, errors.BadRequestWrap(err, "Invalid JSON body"), requestID)
		return
	}
	if req.MaxContextTokens < 0 {
		errors.WriteError(w, h.logger, errors.Validation("max_context_tokens must not be negative"), requestID)
		return
	}

	if h.qa == nil {
		errors.WriteError(w, h.logger, askError(qa.ErrNoAPIKey), requestID)
		return
	}
	answer, err := h.qa.Ask(r.Context(), report.ID, req.Question, req.MaxContextTokens)
	if err != nil {
		errors.WriteError(w, h.logger, askError(err), requestID)
		return
	}
	errors.WriteSuccess(w, answer)
}

// askError maps question answering failures. None of them affect the
// stored report.
func askError(err error) error {
	var upstream *qa.UpstreamError
	switch {
	case stderrors.Is(err, qa.ErrEmptyQuestion):
		return errors.Validation("Question must not be empty")
	case stderrors.Is(err, qa.ErrNoAPIKey):
		return errors.Unauthorized("Question answering requires a language model API key")
	case stderrors.Is(err, qa.ErrNotIndexed):
		return errors.ServiceUnavailableWrap(err, "Dataset is not indexed for questions yet")
	case stderrors.As(err, &upstream):
		return errors.ServiceUnavailableWrap(err, "Language model request failed").WithDetails(fmt.Sprintf("upstream status %d", upstream.StatusCode))
	default:
		return errors.ServiceUnavailableWrap(err, "Language model request failed")
	}
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.analytics.Stats()
	if h.qa != nil {
		stats["qa"] = h.qa.Stats()
	}

	errors.WriteSuccess(w, stats)
}
