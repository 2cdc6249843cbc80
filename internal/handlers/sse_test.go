package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"churn-dashboard/internal/models"
	"churn-dashboard/internal/qa"
	"churn-dashboard/internal/services"
)

func newTestSSE(t *testing.T, asker QA) (*SSEHandlers, *services.Report) {
	t.Helper()
	api, report := newTestAPI(t, asker)
	return NewSSEHandlers(api, quietLogger()), report
}

func assertSSE(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("expected content-type to contain 'text/event-stream', got %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected cache-control 'no-cache', got %q", cc)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event:") || !strings.Contains(body, "data:") {
		t.Error("response should contain SSE event format")
	}
	return body
}

func TestRenderTables(t *testing.T) {
	tables := []models.Table{{
		Name:    "churn-set-difference",
		Title:   "Churn Summary",
		Columns: []string{"From", "To", "Lost Clients"},
		Rows:    [][]string{{"Q1", "Q2", "1"}},
	}, {
		Name:    "revenue-q2",
		Title:   "Q2 Revenue",
		Columns: []string{"Entity grouped", "Q2_Revenue"},
		Rows:    [][]string{},
	}}

	html, err := renderTables("abc", tables)
	if err != nil {
		t.Fatalf("renderTables() error = %v", err)
	}

	for _, want := range []string{
		`<div id="tables-content">`,
		`<th>Lost Clients</th>`,
		`<td>Q1</td>`,
		`/api/datasets/abc/tables/churn-set-difference/csv`,
		`<td colspan="2">No rows</td>`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expected HTML to contain %q", want)
		}
	}
}

func TestRenderTables_Truncates(t *testing.T) {
	rows := make([][]string, maxTableRows+25)
	for i := range rows {
		rows[i] = []string{"x"}
	}
	html, err := renderTables("id", []models.Table{{Name: "t", Columns: []string{"c"}, Rows: rows}})
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Count(html, "<td>x</td>"); got != maxTableRows {
		t.Errorf("rendered %d rows, want %d", got, maxTableRows)
	}
	if !strings.Contains(html, "Showing 100 of 125 rows") {
		t.Error("truncated table should say how many rows are shown")
	}
}

func TestRenderAnswer_Escapes(t *testing.T) {
	html, err := renderAnswer("answer", "<script>alert(1)</script>", 12)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("answer must be escaped: %s", html)
	}
	if !strings.Contains(html, "12 context tokens") {
		t.Errorf("html = %s", html)
	}
}

func TestSSEHandlers_HandleTables(t *testing.T) {
	h, report := newTestSSE(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/sse/datasets/latest/tables", nil)
	req.SetPathValue("id", "latest")
	w := httptest.NewRecorder()
	h.HandleTables(w, req)

	body := assertSSE(t, w)
	if !strings.Contains(body, "<table") {
		t.Error("response should contain HTML tables")
	}
	if !strings.Contains(body, "datasetId") || !strings.Contains(body, report.ID) {
		t.Error("response should publish the dataset id signal")
	}
	if !strings.Contains(body, "Client LTV") {
		t.Error("response should contain every result table")
	}
}

func TestSSEHandlers_HandleTables_NoDataset(t *testing.T) {
	h, _ := newTestSSE(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/sse/datasets/nope/tables", nil)
	req.SetPathValue("id", "nope")
	w := httptest.NewRecorder()
	h.HandleTables(w, req)

	body := assertSSE(t, w)
	if !strings.Contains(body, "No dataset loaded") {
		t.Errorf("body = %s", body)
	}
}

func askSSERequest(id, signals string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/sse/datasets/"+id+"/ask?datastar="+url.QueryEscape(signals), nil)
	req.SetPathValue("id", id)
	return req
}

func TestSSEHandlers_HandleAsk(t *testing.T) {
	asker := &fakeQA{answer: "Beta churned in Q2."}
	h, _ := newTestSSE(t, asker)

	w := httptest.NewRecorder()
	h.HandleAsk(w, askSSERequest("latest", `{"question":"Who churned?","maxContextTokens":300}`))

	body := assertSSE(t, w)
	if !strings.Contains(body, "Beta churned in Q2.") {
		t.Errorf("body should contain the answer: %s", body)
	}
	if !strings.Contains(body, `"asking":false`) {
		t.Error("asking signal should be reset")
	}
	if len(asker.questions) != 1 || asker.questions[0] != "Who churned?" {
		t.Errorf("questions = %v", asker.questions)
	}
}

func TestSSEHandlers_HandleAsk_Failures(t *testing.T) {
	tests := []struct {
		name  string
		asker QA
		id    string
		want  string
	}{
		{"no api key", &fakeQA{err: qa.ErrNoAPIKey}, "latest", "requires a language model API key"},
		{"no qa service", nil, "latest", "requires a language model API key"},
		{"upstream", &fakeQA{err: &qa.UpstreamError{StatusCode: 500}}, "latest", "Language model request failed"},
		{"unknown dataset", &fakeQA{}, "missing", "Upload a dataset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestSSE(t, tt.asker)
			w := httptest.NewRecorder()
			h.HandleAsk(w, askSSERequest(tt.id, `{"question":"q"}`))

			body := assertSSE(t, w)
			if !strings.Contains(body, tt.want) {
				t.Errorf("body should contain %q: %s", tt.want, body)
			}
			if !strings.Contains(body, "answer-error") {
				t.Error("failure should use the error style")
			}
		})
	}
}
