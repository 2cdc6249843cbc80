package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"churn-dashboard/internal/dataset"
	"churn-dashboard/internal/models"
	"churn-dashboard/internal/observability"
)

const maxRegionWorkers = 8

type RunOptions struct {
	// PrimaryChurn decides which churn table is listed first. Both methods
	// are always computed.
	PrimaryChurn ChurnMethod
	MoversLimit  int
	Logger       *slog.Logger
}

// Report is the full result of one analysis run. It is immutable once Run
// returns and is safe to share between goroutines.
type Report struct {
	ID             string
	Source         string
	CreatedAt      time.Time
	HasRegion      bool
	RevenueColumns []string
	IgnoredColumns []string
	Warnings       []dataset.CoercionWarning
	SkippedRows    int
	RecordCount    int
	RevenueTotal   decimal.Decimal
	PrimaryChurn   ChurnMethod

	QuarterRevenue    QuarterTables
	EntityTotals      []models.EntityTotal
	Churn             []models.ChurnEdge
	RegionalChurn     []models.ChurnEdge
	PresenceSpanChurn []models.ChurnEdge
	LifetimeValues    []models.ClientLifetimeValue
	MonthlyTrend      []models.MonthlyRevenue
	Movers            []models.QuarterMovers

	tables []models.Table
}

type TableRef struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

type ReportSummary struct {
	ID             string                    `json:"id"`
	Source         string                    `json:"source"`
	CreatedAt      time.Time                 `json:"created_at"`
	HasRegion      bool                      `json:"has_region"`
	RevenueColumns []string                  `json:"revenue_columns"`
	IgnoredColumns []string                  `json:"ignored_columns,omitempty"`
	Warnings       []dataset.CoercionWarning `json:"warnings,omitempty"`
	SkippedRows    int                       `json:"skipped_rows"`
	RecordCount    int                       `json:"record_count"`
	RevenueTotal   string                    `json:"revenue_total"`
	PrimaryChurn   ChurnMethod               `json:"primary_churn"`
	Tables         []TableRef                `json:"tables"`
}

// Run executes the whole pipeline over a loaded dataset. The independent
// rollups are computed concurrently; none of them mutates shared state.
func Run(ctx context.Context, ds *dataset.Dataset, opts RunOptions) (*Report, error) {
	if opts.PrimaryChurn == "" {
		opts.PrimaryChurn = ChurnSetDifference
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.run")
	defer span.FinishAndLog(logger)
	span.SetTag("dataset", ds.Name)

	records := Reshape(ds)
	report := &Report{
		ID:             uuid.NewString(),
		Source:         ds.Name,
		CreatedAt:      time.Now().UTC(),
		HasRegion:      ds.HasRegion,
		IgnoredColumns: ds.IgnoredColumns,
		Warnings:       ds.Warnings,
		SkippedRows:    ds.SkippedRows,
		RecordCount:    len(records),
		PrimaryChurn:   opts.PrimaryChurn,
	}
	for _, col := range ds.RevenueColumns {
		report.RevenueColumns = append(report.RevenueColumns, col.Label)
	}
	total := decimal.Zero
	for _, rec := range records {
		total = total.Add(rec.Revenue)
	}
	report.RevenueTotal = total.Round(revenuePlaces)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.QuarterRevenue = RevenueByQuarter(records, ds.HasRegion)
		report.EntityTotals = EntityTotals(records)
		return nil
	})
	g.Go(func() error {
		report.Churn = SetDifferenceChurn(records)
		report.PresenceSpanChurn = PresenceSpanChurn(ds)
		return nil
	})
	g.Go(func() error {
		report.LifetimeValues = ClientLifetimeValues(ds)
		report.MonthlyTrend = MonthlyTrend(ds)
		report.Movers = TopMovers(ds, opts.MoversLimit)
		return nil
	})
	if ds.HasRegion {
		g.Go(func() error {
			edges, err := regionalChurn(gctx, records)
			report.RegionalChurn = edges
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("run pipeline: %w", err)
	}

	report.tables = report.buildTables()

	logger.Debug("pipeline finished",
		"dataset_id", report.ID,
		"dataset", ds.Name,
		"records", report.RecordCount,
		"regions", len(report.RegionalChurn)/len(models.AdjacentQuarters()),
		"duration", time.Since(span.StartTime),
	)
	return report, nil
}

func regionalChurn(ctx context.Context, records []models.RevenueRecord) ([]models.ChurnEdge, error) {
	regions := Regions(records)
	perRegion := make([][]models.ChurnEdge, len(regions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxRegionWorkers)
	for i, region := range regions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perRegion[i] = RegionChurn(records, region)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	edges := make([]models.ChurnEdge, 0, len(regions)*len(models.AdjacentQuarters()))
	for _, e := range perRegion {
		edges = append(edges, e...)
	}
	return edges, nil
}

// Tables returns every result table in display order.
func (r *Report) Tables() []models.Table {
	return r.tables
}

// Table looks a result table up by name.
func (r *Report) Table(name string) (models.Table, bool) {
	for _, t := range r.tables {
		if t.Name == name {
			return t, true
		}
	}
	return models.Table{}, false
}

func (r *Report) Summary() ReportSummary {
	refs := make([]TableRef, 0, len(r.tables))
	for _, t := range r.tables {
		refs = append(refs, TableRef{Name: t.Name, Title: t.Title})
	}
	return ReportSummary{
		ID:             r.ID,
		Source:         r.Source,
		CreatedAt:      r.CreatedAt,
		HasRegion:      r.HasRegion,
		RevenueColumns: r.RevenueColumns,
		IgnoredColumns: r.IgnoredColumns,
		Warnings:       r.Warnings,
		SkippedRows:    r.SkippedRows,
		RecordCount:    r.RecordCount,
		RevenueTotal:   money(r.RevenueTotal),
		PrimaryChurn:   r.PrimaryChurn,
		Tables:         refs,
	}
}

func (r *Report) buildTables() []models.Table {
	tables := make([]models.Table, 0, 12)
	for _, q := range models.Quarters {
		tables = append(tables, quarterTable(q, r.QuarterRevenue[q], r.HasRegion))
	}
	tables = append(tables, entityTable(r.EntityTotals))

	setDiff := setDifferenceTable(r.Churn)
	span := presenceSpanTable(r.PresenceSpanChurn)
	if r.PrimaryChurn == ChurnPresenceSpan {
		tables = append(tables, span, setDiff)
	} else {
		tables = append(tables, setDiff, span)
	}
	if r.HasRegion {
		tables = append(tables, regionChurnTable(r.RegionalChurn))
	}

	tables = append(tables,
		lifetimeTable(r.LifetimeValues),
		trendTable(r.MonthlyTrend),
		moversTable(r.Movers),
	)
	return tables
}

func money(d decimal.Decimal) string {
	return d.StringFixed(revenuePlaces)
}

func quarterTable(q models.Quarter, rows []models.QuarterRevenue, byRegion bool) models.Table {
	t := models.Table{
		Name:  "revenue-" + strings.ToLower(string(q)),
		Title: "Revenue " + string(q),
		Rows:  make([][]string, 0, len(rows)),
	}
	revenueCol := string(q) + "_Revenue"
	if byRegion {
		t.Columns = []string{dataset.ColumnEntity, dataset.ColumnRegion, revenueCol}
	} else {
		t.Columns = []string{dataset.ColumnEntity, revenueCol}
	}
	for _, row := range rows {
		if byRegion {
			t.Rows = append(t.Rows, []string{row.Entity, row.Region, money(row.Revenue)})
		} else {
			t.Rows = append(t.Rows, []string{row.Entity, money(row.Revenue)})
		}
	}
	return t
}

func entityTable(totals []models.EntityTotal) models.Table {
	t := models.Table{
		Name:    "entity-total-revenue",
		Title:   "Entity Total Revenue",
		Columns: []string{dataset.ColumnEntity, "Total Revenue"},
		Rows:    make([][]string, 0, len(totals)),
	}
	for _, e := range totals {
		t.Rows = append(t.Rows, []string{e.Entity, money(e.TotalRevenue)})
	}
	return t
}

func setDifferenceTable(edges []models.ChurnEdge) models.Table {
	t := models.Table{
		Name:    "churn-set-difference",
		Title:   "Churn Analysis",
		Columns: []string{"From", "To", "Lost Clients", "New Clients", "Revenue Lost", "Revenue Gained"},
		Rows:    make([][]string, 0, len(edges)),
	}
	for _, e := range edges {
		t.Rows = append(t.Rows, []string{
			string(e.From), string(e.To),
			strconv.Itoa(e.LostClients), strconv.Itoa(e.NewClients),
			money(e.RevenueLost), money(e.RevenueGained),
		})
	}
	return t
}

func regionChurnTable(edges []models.ChurnEdge) models.Table {
	t := models.Table{
		Name:    "churn-by-region",
		Title:   "Churn by Region",
		Columns: []string{"From", "To", dataset.ColumnRegion, "Lost Clients", "New Clients", "Revenue Lost", "Revenue Gained"},
		Rows:    make([][]string, 0, len(edges)),
	}
	for _, e := range edges {
		t.Rows = append(t.Rows, []string{
			string(e.From), string(e.To), e.Region,
			strconv.Itoa(e.LostClients), strconv.Itoa(e.NewClients),
			money(e.RevenueLost), money(e.RevenueGained),
		})
	}
	return t
}

func presenceSpanTable(edges []models.ChurnEdge) models.Table {
	t := models.Table{
		Name:    "churn-presence-span",
		Title:   "Overall Churn Summary",
		Columns: []string{"From Quarter", "To Quarter", "New Clients", "Revenue Gained", "Lost Clients", "Revenue Lost"},
		Rows:    make([][]string, 0, len(edges)),
	}
	for _, e := range edges {
		t.Rows = append(t.Rows, []string{
			string(e.From), string(e.To),
			strconv.Itoa(e.NewClients), money(e.RevenueGained),
			strconv.Itoa(e.LostClients), money(e.RevenueLost),
		})
	}
	return t
}

func lifetimeTable(values []models.ClientLifetimeValue) models.Table {
	t := models.Table{
		Name:    "client-lifetime-value",
		Title:   "Client LTV",
		Columns: []string{dataset.ColumnCustomer, "Lifetime Revenue"},
		Rows:    make([][]string, 0, len(values)),
	}
	for _, v := range values {
		t.Rows = append(t.Rows, []string{v.Customer, money(v.LifetimeRevenue)})
	}
	return t
}

func trendTable(trend []models.MonthlyRevenue) models.Table {
	t := models.Table{
		Name:    "monthly-revenue-trend",
		Title:   "Monthly Revenue Trend",
		Columns: []string{"Month", "Total Revenue"},
		Rows:    make([][]string, 0, len(trend)),
	}
	for _, m := range trend {
		t.Rows = append(t.Rows, []string{m.Month.Format(time.DateOnly), money(m.TotalRevenue)})
	}
	return t
}

func moversTable(movers []models.QuarterMovers) models.Table {
	t := models.Table{
		Name:    "quarter-movers",
		Title:   "Top Gaining and Losing Clients",
		Columns: []string{"From", "To", "Direction", dataset.ColumnCustomer, "Prev_Quarter_Revenue", "Curr_Quarter_Revenue", "Change"},
		Rows:    [][]string{},
	}
	add := func(m models.QuarterMovers, direction string, rows []models.ClientMovement) {
		for _, c := range rows {
			t.Rows = append(t.Rows, []string{
				string(m.From), string(m.To), direction, c.Customer,
				money(c.PreviousRevenue), money(c.CurrentRevenue), money(c.Change),
			})
		}
	}
	for _, m := range movers {
		add(m, "gainer", m.TopGainers)
		add(m, "loser", m.TopLosers)
	}
	return t
}
