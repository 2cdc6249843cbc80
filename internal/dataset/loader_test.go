package dataset

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestParseMonth(t *testing.T) {
	tests := []struct {
		label string
		want  time.Time
		ok    bool
	}{
		{"Jan-24", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"feb-24", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024-04-01 00:00:00", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), true},
		{"May 2024", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"45292", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{" Dec-23 ", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024-01-01T00:00:00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"Sept-24", time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), true},
		{"sept 2024", time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), true},
		{"September 2024", time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), true},
		{"01/2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"7/2024", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024", time.Time{}, false},
		{"Notes", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseMonth(tt.label)
			if ok != tt.ok {
				t.Fatalf("ParseMonth(%q) ok = %v, want %v", tt.label, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseMonth(%q) = %v, want %v", tt.label, got, tt.want)
			}
		})
	}
}

func TestParseRevenue(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		present bool
		ok      bool
	}{
		{"100", "100", true, true},
		{"1,234.50", "1234.5", true, true},
		{"$ 75", "75", true, true},
		{"(20)", "-20", true, true},
		{"-", "0", true, true},
		{"", "0", false, true},
		{"   ", "0", false, true},
		{"n/a", "0", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, present, ok := parseRevenue(tt.raw)
			if present != tt.present || ok != tt.ok {
				t.Fatalf("parseRevenue(%q) present=%v ok=%v, want present=%v ok=%v", tt.raw, present, ok, tt.present, tt.ok)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("parseRevenue(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParse_MissingColumns(t *testing.T) {
	tests := []struct {
		name        string
		header      []string
		opts        Options
		wantMissing []string
	}{
		{
			name:        "no customer",
			header:      []string{"Entity grouped", "Jan-24"},
			wantMissing: []string{ColumnCustomer},
		},
		{
			name:        "no customer or entity",
			header:      []string{"Client", "Jan-24"},
			wantMissing: []string{ColumnCustomer, ColumnEntity},
		},
		{
			name:        "region required",
			header:      []string{"Customer Name", "Entity grouped", "Jan-24"},
			opts:        Options{RequireRegion: true},
			wantMissing: []string{ColumnRegion},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([][]string{tt.header}, "test.csv", tt.opts)
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
			if strings.Join(schemaErr.Missing, ",") != strings.Join(tt.wantMissing, ",") {
				t.Errorf("Missing = %v, want %v", schemaErr.Missing, tt.wantMissing)
			}
		})
	}
}

func TestParse_NoRevenueColumns(t *testing.T) {
	records := [][]string{
		{"Customer Name", "Entity grouped", "q1 sum", "Notes"},
		{"Acme", "EU", "100", "x"},
	}

	_, err := Parse(records, "test.csv", Options{})
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if schemaErr.Error() != "no monthly revenue columns found" {
		t.Errorf("unexpected message %q", schemaErr.Error())
	}
}

func TestParse_ColumnsAndCells(t *testing.T) {
	records := [][]string{
		{"Customer Name", "Entity grouped", "Region", "Feb-24", "Jan-24", "q1 sum", "Comment"},
		{"Acme", "EU", "North", "20", "10", "30", "ok"},
		{"Beta", "US", "South", "", "-", "0", ""},
		{"", "", "", "", "", "", ""},
		{"", "US", "South", "5", "5", "", ""},
		{"Gamma", "US", "South", "abc", "7"},
	}

	ds, err := Parse(records, "test.csv", Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !ds.HasRegion {
		t.Error("expected region-aware dataset")
	}
	if len(ds.RevenueColumns) != 2 {
		t.Fatalf("expected 2 revenue columns, got %d", len(ds.RevenueColumns))
	}
	if ds.RevenueColumns[0].Label != "Jan-24" || ds.RevenueColumns[1].Label != "Feb-24" {
		t.Errorf("revenue columns should be chronological, got %v", ds.RevenueColumns)
	}
	if len(ds.IgnoredColumns) != 1 || ds.IgnoredColumns[0] != "Comment" {
		t.Errorf("IgnoredColumns = %v", ds.IgnoredColumns)
	}
	if len(ds.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(ds.Rows))
	}
	if ds.SkippedRows != 1 {
		t.Errorf("SkippedRows = %d, want 1", ds.SkippedRows)
	}

	acme := ds.Rows[0]
	if !acme.Cells[0].Value.Equal(decimal.NewFromInt(10)) || !acme.Cells[1].Value.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Acme cells not aligned with sorted columns: %+v", acme.Cells)
	}

	beta := ds.Rows[1]
	if !beta.Cells[0].Present || beta.Cells[1].Present {
		t.Errorf("Beta: dash should be present zero, blank should be missing: %+v", beta.Cells)
	}

	if len(ds.Warnings) != 1 {
		t.Fatalf("expected 1 coercion warning, got %d", len(ds.Warnings))
	}
	if w := ds.Warnings[0]; w.Row != 6 || w.Column != "Feb-24" || w.Value != "abc" {
		t.Errorf("unexpected warning %+v", w)
	}
	gamma := ds.Rows[2]
	if !gamma.Cells[1].Present || !gamma.Cells[1].Value.IsZero() {
		t.Errorf("Gamma non-numeric cell should be a present zero: %+v", gamma.Cells[1])
	}
}

func TestLoad_Workbook(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Customer Name", "Entity grouped", "Jan-24", "Apr-24"},
		{"Acme", "EU", 100, 150.5},
		{"Beta", "US", 50, nil},
	})

	ds, err := Load(context.Background(), buf, "revenue.xlsx", Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.HasRegion {
		t.Error("dataset without Region column should not be region-aware")
	}
	if len(ds.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(ds.Rows))
	}
	if !ds.Rows[0].Cells[1].Value.Equal(decimal.RequireFromString("150.5")) {
		t.Errorf("Acme Apr-24 = %s, want 150.5", ds.Rows[0].Cells[1].Value)
	}
	if ds.Rows[1].Cells[1].Present {
		t.Error("Beta Apr-24 should be missing")
	}
}

func TestLoad_WorkbookDateHeader(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Customer Name", "Entity grouped", 45292},
		{"Acme", "EU", 10},
	})

	ds, err := Load(context.Background(), buf, "serial.xlsx", Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := ds.RevenueColumns[0].Month; got.Year() != 2024 || got.Month() != time.January {
		t.Errorf("serial header parsed as %v", got)
	}
}

func TestLoad_CSV(t *testing.T) {
	content := "\xef\xbb\xbfCustomer Name,Entity grouped,Jan-24\nAcme,EU,\"1,000\"\n"

	ds, err := Load(context.Background(), strings.NewReader(content), "data.CSV", Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !ds.Rows[0].Cells[0].Value.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("value = %s, want 1000", ds.Rows[0].Cells[0].Value)
	}
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	_, err := Load(context.Background(), strings.NewReader(""), "data.pdf", Options{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoad_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Load(ctx, strings.NewReader("Customer Name,Entity grouped,Jan-24\nAcme,EU,1\n"), "data.csv", Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
