package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"churn-dashboard/internal/config"
	"churn-dashboard/internal/dataset"
	"churn-dashboard/internal/models"
	"churn-dashboard/internal/observability"
	"churn-dashboard/internal/services"
)

const exitSchemaError = 2

type options struct {
	file          string
	out           string
	format        string
	sheet         string
	churnMethod   string
	requireRegion bool
	logLevel      string
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the revenue and churn pipeline over a workbook",
		Long: "Load an .xlsx or .csv file of monthly customer revenue, compute the quarterly " +
			"rollups, churn tables, lifetime values and movers, and write every table to --out.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, stdout)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "dataset to analyse (.xlsx, .xlsm or .csv)")
	f.StringVarP(&opts.out, "out", "o", "out", "output directory")
	f.StringVar(&opts.format, "format", "csv", "output format: csv or json")
	f.StringVar(&opts.sheet, "sheet", "", "worksheet name (default: first sheet)")
	f.StringVar(&opts.churnMethod, "churn-method", string(services.ChurnSetDifference), "primary churn method: set-difference or presence-span")
	f.BoolVar(&opts.requireRegion, "require-region", false, "fail when the Region column is missing")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	cmd.MarkFlagRequired("file")

	return cmd
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	if opts.format != "csv" && opts.format != "json" {
		return fmt.Errorf("unknown format %q, must be csv or json", opts.format)
	}
	method, err := services.ParseChurnMethod(opts.churnMethod)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(config.LoggerConfig{Level: opts.logLevel, Format: "text"}, os.Stderr)
	analytics := services.NewAnalytics(services.Options{
		Load: dataset.Options{
			RequireRegion: opts.requireRegion,
			Sheet:         opts.sheet,
		},
		Run:    services.RunOptions{PrimaryChurn: method},
		Logger: logger,
	})

	report, err := analytics.AnalyzeFile(ctx, opts.file)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var written []string
	if opts.format == "json" {
		path := filepath.Join(opts.out, "report.json")
		if err := writeJSON(path, report); err != nil {
			return err
		}
		written = append(written, path)
	} else {
		for _, t := range report.Tables() {
			path := filepath.Join(opts.out, t.Name+".csv")
			if err := writeCSV(path, t); err != nil {
				return err
			}
			written = append(written, path)
		}
	}

	for _, w := range report.Warnings {
		fmt.Fprintln(stdout, "warning:", w)
	}
	for _, path := range written {
		fmt.Fprintln(stdout, path)
	}
	return nil
}

func writeCSV(path string, t models.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := csv.NewWriter(f).WriteAll(t.Records()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeJSON(path string, r *services.Report) error {
	data, err := json.MarshalIndent(struct {
		Summary services.ReportSummary `json:"summary"`
		Tables  []models.Table         `json:"tables"`
	}{r.Summary(), r.Tables()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func main() {
	if err := newRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		var schemaErr *dataset.SchemaError
		if errors.As(err, &schemaErr) {
			slog.Error("dataset rejected", "error", err)
			os.Exit(exitSchemaError)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
