package templates

import (
	"context"
	"strings"
	"testing"
)

func render(t *testing.T, props DashboardProps) string {
	t.Helper()
	var b strings.Builder
	if err := Dashboard(props).Render(context.Background(), &b); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return b.String()
}

func TestDashboard(t *testing.T) {
	html := render(t, DashboardProps{MaxUploadBytes: 20 << 20, QAEnabled: true})

	for _, want := range []string{
		"<title>Client Revenue &amp; Churn</title>",
		`name="file"`,
		"up to 20 MB",
		`id="tables-content"`,
		"/sse/datasets/",
		`id="answer"`,
		"&#34;datasetId&#34;:&#34;latest&#34;",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("dashboard should contain %q", want)
		}
	}
}

func TestDashboard_WithoutQA(t *testing.T) {
	html := render(t, DashboardProps{DatasetID: "abc"})

	if strings.Contains(html, `id="answer"`) {
		t.Error("question box should be hidden when question answering is disabled")
	}
	if !strings.Contains(html, "&#34;abc&#34;") {
		t.Error("initial dataset id should be embedded in the signals")
	}
}
