package services

import (
	"churn-dashboard/internal/dataset"
	"churn-dashboard/internal/models"
)

// Reshape turns the wide table into one RevenueRecord per customer row and
// monthly column. Blank cells are dropped: a missing observation is not a
// zero.
func Reshape(ds *dataset.Dataset) []models.RevenueRecord {
	records := make([]models.RevenueRecord, 0, len(ds.Rows)*len(ds.RevenueColumns))
	for _, row := range ds.Rows {
		for i, col := range ds.RevenueColumns {
			cell := row.Cells[i]
			if !cell.Present {
				continue
			}
			records = append(records, models.RevenueRecord{
				CustomerID: row.Customer,
				Entity:     row.Entity,
				Region:     row.Region,
				Month:      col.Month,
				Quarter:    models.QuarterOf(col.Month.Month()),
				Revenue:    cell.Value,
			})
		}
	}
	return records
}
