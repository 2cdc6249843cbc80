package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"churn-dashboard/internal/dataset"
)

const inputCSV = `Customer Name,Entity grouped,Region,Jan-24,Apr-24,Jul-24,Oct-24,Q1 Sum
Acme,EU,North,100,150,,,100
Beta,US,South,50,,20,n/a,50
`

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	cmd := newRootCmd(&stdout)
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return stdout.String(), err
}

func TestAnalyze_CSV(t *testing.T) {
	out := t.TempDir()
	stdout, err := execute(t, "--file", writeInput(t, inputCSV), "--out", out)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}

	for _, name := range []string{"revenue-q1.csv", "churn-set-difference.csv", "churn-by-region.csv", "quarter-movers.csv"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if !strings.Contains(stdout, `warning: row 3 column "Oct-24"`) {
		t.Errorf("coercion warning should be reported, stdout = %q", stdout)
	}

	f, err := os.Open(filepath.Join(out, "entity-total-revenue.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[1][0] != "EU" || records[1][1] != "250.00" {
		t.Errorf("entity totals = %v", records)
	}
}

func TestAnalyze_JSON(t *testing.T) {
	out := t.TempDir()
	if _, err := execute(t, "-f", writeInput(t, inputCSV), "-o", out, "--format", "json"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(out, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Summary struct {
			RecordCount int `json:"record_count"`
		} `json:"summary"`
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Summary.RecordCount != 5 || len(doc.Tables) == 0 {
		t.Errorf("report = %+v", doc)
	}
}

func TestAnalyze_SchemaError(t *testing.T) {
	_, err := execute(t, "--file", writeInput(t, "Customer Name,Entity grouped,Jan-24\nAcme,EU,1\n"), "--out", t.TempDir(), "--require-region")

	var schemaErr *dataset.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Errorf("expected SchemaError, got %v", err)
	}
}

func TestAnalyze_Flags(t *testing.T) {
	if _, err := execute(t, "--out", t.TempDir()); err == nil {
		t.Error("--file is required")
	}
	if _, err := execute(t, "--file", writeInput(t, inputCSV), "--format", "xml"); err == nil {
		t.Error("unknown format should fail")
	}
	if _, err := execute(t, "--file", writeInput(t, inputCSV), "--churn-method", "both"); err == nil {
		t.Error("unknown churn method should fail")
	}
}
