package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	ColumnCustomer = "Customer Name"
	ColumnEntity   = "Entity grouped"
	ColumnRegion   = "Region"
)

// DefaultReservedColumns are summary columns some exports carry next to the
// monthly figures. They are never read as revenue.
var DefaultReservedColumns = []string{"q1 sum", "q2 sum", "q3 sum", "q4 sum", "total"}

var ErrUnsupportedFormat = errors.New("unsupported file format")

// Column is a recognised monthly revenue column.
type Column struct {
	Index int       `json:"index"`
	Label string    `json:"label"`
	Month time.Time `json:"month"`
}

// Cell is a revenue observation. Present is false for blank cells.
type Cell struct {
	Value   decimal.Decimal
	Present bool
}

// Row is one customer row of the wide table. Cells is aligned with
// Dataset.RevenueColumns.
type Row struct {
	Customer string
	Entity   string
	Region   string
	Cells    []Cell
}

// Dataset is the validated wide table: identifying columns located, revenue
// columns typed and sorted chronologically.
type Dataset struct {
	Name           string
	HasRegion      bool
	RevenueColumns []Column
	IgnoredColumns []string
	Rows           []Row
	SkippedRows    int
	Warnings       []CoercionWarning
}

type Options struct {
	// RequireRegion makes the Region column mandatory.
	RequireRegion   bool
	ReservedColumns []string
	// Sheet selects the worksheet of an xlsx file; the first sheet is used
	// when empty.
	Sheet  string
	Logger *slog.Logger
}

func (o Options) reserved() []string {
	if o.ReservedColumns == nil {
		return DefaultReservedColumns
	}
	return o.ReservedColumns
}

// Load decodes an xlsx or csv file, chosen by the extension of filename, and
// validates its header. The context is checked once the file has been read,
// so a deadline that passes while decoding stops the run before parsing.
func Load(ctx context.Context, r io.Reader, filename string, opts Options) (*Dataset, error) {
	var (
		records [][]string
		err     error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		records, err = readWorkbook(r, opts.Sheet)
	case ".csv":
		records, err = readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", filename, err)
	}

	return Parse(records, filename, opts)
}

func readWorkbook(r io.Reader, sheet string) ([][]string, error) {
	xl, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer xl.Close()

	if sheet == "" {
		sheet = xl.GetSheetName(0)
	}
	// Raw values keep numbers unformatted and leave date-typed header cells
	// as serial numbers, which ParseMonth understands.
	rows, err := xl.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return records, nil
}

// Parse builds a Dataset from a header row followed by data rows.
func Parse(records [][]string, name string, opts Options) (*Dataset, error) {
	if len(records) == 0 {
		return nil, &SchemaError{Reason: "file has no header row"}
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}

	customerIdx := findColumn(header, ColumnCustomer)
	entityIdx := findColumn(header, ColumnEntity)
	regionIdx := findColumn(header, ColumnRegion)

	var missing []string
	if customerIdx < 0 {
		missing = append(missing, ColumnCustomer)
	}
	if entityIdx < 0 {
		missing = append(missing, ColumnEntity)
	}
	if opts.RequireRegion && regionIdx < 0 {
		missing = append(missing, ColumnRegion)
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	ds := &Dataset{
		Name:      name,
		HasRegion: regionIdx >= 0,
	}

	reserved := opts.reserved()
	for i, label := range header {
		if i == customerIdx || i == entityIdx || i == regionIdx || label == "" {
			continue
		}
		if slices.ContainsFunc(reserved, func(r string) bool { return strings.EqualFold(r, label) }) {
			continue
		}
		month, ok := ParseMonth(label)
		if !ok {
			ds.IgnoredColumns = append(ds.IgnoredColumns, label)
			continue
		}
		ds.RevenueColumns = append(ds.RevenueColumns, Column{Index: i, Label: label, Month: month})
	}

	if len(ds.RevenueColumns) == 0 {
		return nil, &SchemaError{Reason: "no monthly revenue columns found"}
	}

	slices.SortStableFunc(ds.RevenueColumns, func(a, b Column) int {
		return a.Month.Compare(b.Month)
	})

	for i, rec := range records[1:] {
		sheetRow := i + 2
		if isBlank(rec) {
			continue
		}

		customer := field(rec, customerIdx)
		if customer == "" {
			ds.SkippedRows++
			continue
		}

		row := Row{
			Customer: customer,
			Entity:   field(rec, entityIdx),
			Cells:    make([]Cell, len(ds.RevenueColumns)),
		}
		if ds.HasRegion {
			row.Region = field(rec, regionIdx)
		}

		for j, col := range ds.RevenueColumns {
			raw := field(rec, col.Index)
			value, present, ok := parseRevenue(raw)
			if !ok {
				w := CoercionWarning{Row: sheetRow, Column: col.Label, Value: raw}
				ds.Warnings = append(ds.Warnings, w)
				if opts.Logger != nil {
					opts.Logger.Warn("non-numeric revenue cell coerced to zero",
						"dataset", name,
						"row", w.Row,
						"column", w.Column,
						"value", w.Value,
					)
				}
			}
			row.Cells[j] = Cell{Value: value, Present: present}
		}
		ds.Rows = append(ds.Rows, row)
	}

	if opts.Logger != nil && len(ds.IgnoredColumns) > 0 {
		opts.Logger.Warn("ignored columns without a month label",
			"dataset", name,
			"columns", ds.IgnoredColumns,
		)
	}

	return ds, nil
}

func findColumn(header []string, name string) int {
	return slices.IndexFunc(header, func(h string) bool { return strings.EqualFold(h, name) })
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
