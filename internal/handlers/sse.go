package handlers

import (
	"encoding/json"
	stderrors "errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/starfederation/datastar-go/datastar"

	"churn-dashboard/internal/errors"
	"churn-dashboard/internal/models"
	"churn-dashboard/internal/qa"
	"churn-dashboard/internal/services"
)

const maxTableRows = 100

var tablesTemplate = template.Must(template.New("tables").Parse(`
<div id="tables-content">
{{range .Tables}}<section class="result-table" id="table-{{.Name}}">
<h3>{{.Title}}</h3>
<a class="download" href="/api/datasets/{{$.ID}}/tables/{{.Name}}/csv">CSV</a>
<table class="modern-table">
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{else}}<tr><td colspan="{{len .Columns}}">No rows</td></tr>
{{end}}</tbody>
</table>
{{if .Truncated}}<p class="truncated">Showing {{len .Rows}} of {{.Total}} rows</p>{{end}}
</section>
{{end}}</div>`))

var answerTemplate = template.Must(template.New("answer").Parse(
	`<div id="answer" class="{{.Class}}">{{.Text}}{{if .Tokens}}<small>{{.Tokens}} context tokens</small>{{end}}</div>`))

type SSEHandlers struct {
	api    *APIHandlers
	logger *slog.Logger
}

func NewSSEHandlers(api *APIHandlers, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		api:    api,
		logger: logger,
	}
}

type tableView struct {
	models.Table
	Truncated bool
	Total     int
}

func renderTables(id string, tables []models.Table) (string, error) {
	views := make([]tableView, 0, len(tables))
	for _, t := range tables {
		v := tableView{Table: t, Total: len(t.Rows)}
		if len(t.Rows) > maxTableRows {
			v.Rows = t.Rows[:maxTableRows]
			v.Truncated = true
		}
		views = append(views, v)
	}

	var buf strings.Builder
	err := tablesTemplate.Execute(&buf, struct {
		ID     string
		Tables []tableView
	}{ID: id, Tables: views})
	return buf.String(), err
}

func renderAnswer(class, text string, tokens int) (string, error) {
	var buf strings.Builder
	err := answerTemplate.Execute(&buf, struct {
		Class  string
		Text   string
		Tokens int
	}{Class: class, Text: text, Tokens: tokens})
	return buf.String(), err
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// HandleTables patches every result table of the report and publishes its
// summary as signals.
func (h *SSEHandlers) HandleTables(w http.ResponseWriter, r *http.Request) {
	report, err := h.api.report(r)
	sse := datastar.NewSSE(w, r)
	if err != nil {
		sse.PatchElements(`<div id="tables-content"><p class="empty">No dataset loaded. Upload a workbook to begin.</p></div>`)
		flush(w)
		return
	}

	html, err := renderTables(report.ID, report.Tables())
	if err != nil {
		h.logger.Error("render tables", "dataset_id", report.ID, "error", err)
		return
	}
	sse.PatchElements(html)

	signals, err := json.Marshal(map[string]any{
		"datasetId": report.ID,
		"summary":   summarySignal(report),
	})
	if err != nil {
		h.logger.Error("marshal summary signals", "error", err)
		return
	}
	sse.PatchSignals(signals)
	flush(w)
}

func summarySignal(r *services.Report) map[string]any {
	s := r.Summary()
	return map[string]any{
		"source":        s.Source,
		"records":       s.RecordCount,
		"revenueTotal":  s.RevenueTotal,
		"primaryChurn":  s.PrimaryChurn,
		"warnings":      len(s.Warnings),
		"skippedRows":   s.SkippedRows,
		"hasRegion":     s.HasRegion,
		"ignoredFields": s.IgnoredColumns,
	}
}

type askSignals struct {
	Question         string `json:"question"`
	MaxContextTokens int    `json:"maxContextTokens"`
}

// HandleAsk reads the question signal and patches the answer element.
func (h *SSEHandlers) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var signals askSignals
	readErr := datastar.ReadSignals(r, &signals)

	report, err := h.api.report(r)
	sse := datastar.NewSSE(w, r)
	defer flush(w)

	fail := func(message string) {
		html, err := renderAnswer("answer-error", message, 0)
		if err != nil {
			h.logger.Error("render answer", "error", err)
			return
		}
		sse.PatchElements(html)
		sse.PatchSignals([]byte(`{"asking":false}`))
	}

	switch {
	case readErr != nil:
		fail("Could not read the question.")
		return
	case err != nil:
		fail("Upload a dataset before asking questions.")
		return
	case h.api.qa == nil:
		fail(messageOf(askError(qa.ErrNoAPIKey)))
		return
	}

	answer, err := h.api.qa.Ask(r.Context(), report.ID, signals.Question, signals.MaxContextTokens)
	if err != nil {
		h.logger.Warn("question failed", "dataset_id", report.ID, "error", err)
		fail(messageOf(askError(err)))
		return
	}

	html, err := renderAnswer("answer", answer.Answer, answer.ContextTokens)
	if err != nil {
		h.logger.Error("render answer", "error", err)
		return
	}
	sse.PatchElements(html)
	sse.PatchSignals([]byte(`{"asking":false}`))
}

func messageOf(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return "Something went wrong."
}
