package services

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"churn-dashboard/internal/dataset"
	"churn-dashboard/internal/models"
)

// ChurnMethod names one of the two churn metrics. They measure different
// things and are reported as separate tables.
type ChurnMethod string

const (
	// ChurnSetDifference compares the sets of customers with revenue records
	// in two adjacent quarters.
	ChurnSetDifference ChurnMethod = "set-difference"
	// ChurnPresenceSpan classifies customers by the quarters of their first
	// and last strictly positive month.
	ChurnPresenceSpan ChurnMethod = "presence-span"
)

func ParseChurnMethod(s string) (ChurnMethod, error) {
	switch m := ChurnMethod(s); m {
	case ChurnSetDifference, ChurnPresenceSpan:
		return m, nil
	default:
		return "", fmt.Errorf("unknown churn method %q", s)
	}
}

// clientRevenue is the per-quarter, per-customer revenue table.
type clientRevenue map[models.Quarter]map[string]decimal.Decimal

func clientRevenueByQuarter(records []models.RevenueRecord) clientRevenue {
	table := make(clientRevenue, len(models.Quarters))
	for _, q := range models.Quarters {
		table[q] = make(map[string]decimal.Decimal)
	}
	for _, rec := range records {
		table[rec.Quarter][rec.CustomerID] = table[rec.Quarter][rec.CustomerID].Add(rec.Revenue)
	}
	return table
}

// SetDifferenceChurn computes one edge per adjacent quarter pair. A customer
// is lost when present in the earlier quarter only, new when present in the
// later quarter only. Customers present in both quarters do not contribute.
func SetDifferenceChurn(records []models.RevenueRecord) []models.ChurnEdge {
	table := clientRevenueByQuarter(records)

	edges := make([]models.ChurnEdge, 0, len(models.Quarters)-1)
	for _, pair := range models.AdjacentQuarters() {
		edges = append(edges, churnEdge(pair, table[pair.From], table[pair.To]))
	}
	return edges
}

func churnEdge(pair models.QuarterPair, before, after map[string]decimal.Decimal) models.ChurnEdge {
	edge := models.ChurnEdge{
		From:          pair.From,
		To:            pair.To,
		RevenueLost:   decimal.Zero,
		RevenueGained: decimal.Zero,
	}

	for customer, revenue := range before {
		if _, retained := after[customer]; !retained {
			edge.LostClients++
			edge.RevenueLost = edge.RevenueLost.Add(revenue)
		}
	}
	for customer, revenue := range after {
		if _, retained := before[customer]; !retained {
			edge.NewClients++
			edge.RevenueGained = edge.RevenueGained.Add(revenue)
		}
	}

	edge.RevenueLost = edge.RevenueLost.Round(revenuePlaces)
	edge.RevenueGained = edge.RevenueGained.Round(revenuePlaces)
	return edge
}

// Regions returns the distinct region values of records in sorted order.
func Regions(records []models.RevenueRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		seen[rec.Region] = struct{}{}
	}
	regions := make([]string, 0, len(seen))
	for r := range seen {
		regions = append(regions, r)
	}
	slices.Sort(regions)
	return regions
}

// RegionChurn runs SetDifferenceChurn over the records of a single region
// and tags each edge with it.
func RegionChurn(records []models.RevenueRecord, region string) []models.ChurnEdge {
	filtered := make([]models.RevenueRecord, 0, len(records))
	for _, rec := range records {
		if rec.Region == region {
			filtered = append(filtered, rec)
		}
	}

	edges := SetDifferenceChurn(filtered)
	for i := range edges {
		edges[i].Region = region
	}
	return edges
}

// PresenceSpanChurn classifies every customer by the quarters of the first
// and last months with strictly positive revenue. A customer is new on the
// edge into its start quarter and lost on the edge out of its end quarter.
// Revenue is the customer's total over all months, not only the boundary
// quarter. Customers without any positive month are never counted.
func PresenceSpanChurn(ds *dataset.Dataset) []models.ChurnEdge {
	type span struct {
		start, end int
		total      decimal.Decimal
	}

	spans := make(map[string]*span)
	order := make([]string, 0, len(ds.Rows))
	for _, row := range ds.Rows {
		s, ok := spans[row.Customer]
		if !ok {
			s = &span{start: -1, end: -1}
			spans[row.Customer] = s
			order = append(order, row.Customer)
		}
		for i, cell := range row.Cells {
			s.total = s.total.Add(cell.Value)
			if !cell.Value.IsPositive() {
				continue
			}
			if s.start < 0 || i < s.start {
				s.start = i
			}
			if i > s.end {
				s.end = i
			}
		}
	}

	edges := make([]models.ChurnEdge, 0, len(models.Quarters)-1)
	for _, pair := range models.AdjacentQuarters() {
		edge := models.ChurnEdge{From: pair.From, To: pair.To, RevenueLost: decimal.Zero, RevenueGained: decimal.Zero}
		for _, customer := range order {
			s := spans[customer]
			if s.start < 0 {
				continue
			}
			startQ := models.QuarterOf(ds.RevenueColumns[s.start].Month.Month())
			endQ := models.QuarterOf(ds.RevenueColumns[s.end].Month.Month())
			if startQ == pair.To {
				edge.NewClients++
				edge.RevenueGained = edge.RevenueGained.Add(s.total)
			}
			if endQ == pair.From {
				edge.LostClients++
				edge.RevenueLost = edge.RevenueLost.Add(s.total)
			}
		}
		edge.RevenueLost = edge.RevenueLost.Round(revenuePlaces)
		edge.RevenueGained = edge.RevenueGained.Round(revenuePlaces)
		edges = append(edges, edge)
	}
	return edges
}
