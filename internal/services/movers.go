package services

import (
	"cmp"
	"slices"

	"churn-dashboard/internal/dataset"
	"churn-dashboard/internal/models"
)

const defaultMoversLimit = 5

// TopMovers ranks customers by the change of their quarter revenue for each
// adjacent quarter pair, computed from the wide table. Customers absent from
// a quarter count as zero there. A pair is skipped when either quarter has
// no monthly columns.
func TopMovers(ds *dataset.Dataset, limit int) []models.QuarterMovers {
	if limit <= 0 {
		limit = defaultMoversLimit
	}

	columnsByQuarter := make(map[models.Quarter][]int, len(models.Quarters))
	for i, col := range ds.RevenueColumns {
		q := models.QuarterOf(col.Month.Month())
		columnsByQuarter[q] = append(columnsByQuarter[q], i)
	}

	var result []models.QuarterMovers
	for _, pair := range models.AdjacentQuarters() {
		prevCols, currCols := columnsByQuarter[pair.From], columnsByQuarter[pair.To]
		if len(prevCols) == 0 || len(currCols) == 0 {
			continue
		}

		byCustomer := make(map[string]*models.ClientMovement)
		for _, row := range ds.Rows {
			m, ok := byCustomer[row.Customer]
			if !ok {
				m = &models.ClientMovement{Customer: row.Customer}
				byCustomer[row.Customer] = m
			}
			for _, i := range prevCols {
				m.PreviousRevenue = m.PreviousRevenue.Add(row.Cells[i].Value)
			}
			for _, i := range currCols {
				m.CurrentRevenue = m.CurrentRevenue.Add(row.Cells[i].Value)
			}
		}

		movements := make([]models.ClientMovement, 0, len(byCustomer))
		for _, m := range byCustomer {
			m.Change = m.CurrentRevenue.Sub(m.PreviousRevenue).Round(revenuePlaces)
			m.PreviousRevenue = m.PreviousRevenue.Round(revenuePlaces)
			m.CurrentRevenue = m.CurrentRevenue.Round(revenuePlaces)
			movements = append(movements, *m)
		}

		gainers := slices.Clone(movements)
		slices.SortFunc(gainers, func(a, b models.ClientMovement) int {
			return cmp.Or(b.Change.Cmp(a.Change), cmp.Compare(a.Customer, b.Customer))
		})
		losers := slices.Clone(movements)
		slices.SortFunc(losers, func(a, b models.ClientMovement) int {
			return cmp.Or(a.Change.Cmp(b.Change), cmp.Compare(a.Customer, b.Customer))
		})

		result = append(result, models.QuarterMovers{
			From:       pair.From,
			To:         pair.To,
			TopGainers: gainers[:min(limit, len(gainers))],
			TopLosers:  losers[:min(limit, len(losers))],
		})
	}
	return result
}

