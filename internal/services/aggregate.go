package services

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"churn-dashboard/internal/dataset"
	"churn-dashboard/internal/models"
)

const revenuePlaces = 2

// QuarterTables holds one grouped revenue table per quarter. Every quarter
// key is always present; a quarter without records maps to an empty slice.
type QuarterTables map[models.Quarter][]models.QuarterRevenue

type groupKey struct {
	entity string
	region string
}

// RevenueByQuarter sums revenue per quarter grouped by entity, or by entity
// and region when byRegion is set. Sums are rounded only after accumulation.
func RevenueByQuarter(records []models.RevenueRecord, byRegion bool) QuarterTables {
	sums := make(map[models.Quarter]map[groupKey]decimal.Decimal, len(models.Quarters))
	for _, q := range models.Quarters {
		sums[q] = make(map[groupKey]decimal.Decimal)
	}

	for _, rec := range records {
		key := groupKey{entity: rec.Entity}
		if byRegion {
			key.region = rec.Region
		}
		sums[rec.Quarter][key] = sums[rec.Quarter][key].Add(rec.Revenue)
	}

	tables := make(QuarterTables, len(models.Quarters))
	for _, q := range models.Quarters {
		rows := make([]models.QuarterRevenue, 0, len(sums[q]))
		for key, total := range sums[q] {
			rows = append(rows, models.QuarterRevenue{
				Entity:  key.entity,
				Region:  key.region,
				Revenue: total.Round(revenuePlaces),
			})
		}
		slices.SortFunc(rows, func(a, b models.QuarterRevenue) int {
			return cmp.Or(cmp.Compare(a.Entity, b.Entity), cmp.Compare(a.Region, b.Region))
		})
		tables[q] = rows
	}
	return tables
}

// EntityTotals sums revenue per entity across all quarters and regions.
func EntityTotals(records []models.RevenueRecord) []models.EntityTotal {
	sums := make(map[string]decimal.Decimal)
	for _, rec := range records {
		sums[rec.Entity] = sums[rec.Entity].Add(rec.Revenue)
	}

	totals := make([]models.EntityTotal, 0, len(sums))
	for entity, total := range sums {
		totals = append(totals, models.EntityTotal{Entity: entity, TotalRevenue: total.Round(revenuePlaces)})
	}
	slices.SortFunc(totals, func(a, b models.EntityTotal) int {
		return cmp.Compare(a.Entity, b.Entity)
	})
	return totals
}

// ClientLifetimeValues sums every monthly column per customer straight from
// the wide table, ranked by revenue descending. Customers spread over several
// rows are combined.
func ClientLifetimeValues(ds *dataset.Dataset) []models.ClientLifetimeValue {
	sums := make(map[string]decimal.Decimal)
	for _, row := range ds.Rows {
		total := sums[row.Customer]
		for _, cell := range row.Cells {
			total = total.Add(cell.Value)
		}
		sums[row.Customer] = total
	}

	values := make([]models.ClientLifetimeValue, 0, len(sums))
	for customer, total := range sums {
		values = append(values, models.ClientLifetimeValue{Customer: customer, LifetimeRevenue: total.Round(revenuePlaces)})
	}
	slices.SortFunc(values, func(a, b models.ClientLifetimeValue) int {
		return cmp.Or(b.LifetimeRevenue.Cmp(a.LifetimeRevenue), cmp.Compare(a.Customer, b.Customer))
	})
	return values
}

// MonthlyTrend totals each monthly column over all customers, in
// chronological order.
func MonthlyTrend(ds *dataset.Dataset) []models.MonthlyRevenue {
	trend := make([]models.MonthlyRevenue, len(ds.RevenueColumns))
	for i, col := range ds.RevenueColumns {
		total := decimal.Zero
		for _, row := range ds.Rows {
			total = total.Add(row.Cells[i].Value)
		}
		trend[i] = models.MonthlyRevenue{
			Month:        col.Month,
			Label:        col.Label,
			TotalRevenue: total.Round(revenuePlaces),
		}
	}
	return trend
}
