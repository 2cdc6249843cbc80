package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quarter is one of four fixed three-month buckets. Years are ignored, so a
// multi-year dataset collapses into the same four buckets.
type Quarter string

const (
	Q1 Quarter = "Q1"
	Q2 Quarter = "Q2"
	Q3 Quarter = "Q3"
	Q4 Quarter = "Q4"
)

// Quarters is the fixed quarter order used by every rollup and churn edge.
var Quarters = []Quarter{Q1, Q2, Q3, Q4}

// QuarterOf maps a calendar month to its quarter.
func QuarterOf(m time.Month) Quarter {
	switch {
	case m <= time.March:
		return Q1
	case m <= time.June:
		return Q2
	case m <= time.September:
		return Q3
	default:
		return Q4
	}
}

// QuarterPair is a transition between two adjacent quarters.
type QuarterPair struct {
	From Quarter
	To   Quarter
}

// AdjacentQuarters returns Q1->Q2, Q2->Q3 and Q3->Q4. It never wraps from Q4
// back to Q1.
func AdjacentQuarters() []QuarterPair {
	pairs := make([]QuarterPair, 0, len(Quarters)-1)
	for i := 0; i+1 < len(Quarters); i++ {
		pairs = append(pairs, QuarterPair{From: Quarters[i], To: Quarters[i+1]})
	}
	return pairs
}

// RevenueRecord is one row of the normalized long table.
type RevenueRecord struct {
	CustomerID string
	Entity     string
	Region     string
	Month      time.Time
	Quarter    Quarter
	Revenue    decimal.Decimal
}

type QuarterRevenue struct {
	Entity  string          `json:"entity"`
	Region  string          `json:"region,omitempty"`
	Revenue decimal.Decimal `json:"revenue"`
}

type EntityTotal struct {
	Entity       string          `json:"entity"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

type ClientLifetimeValue struct {
	Customer        string          `json:"customer"`
	LifetimeRevenue decimal.Decimal `json:"lifetime_revenue"`
}

type MonthlyRevenue struct {
	Month        time.Time       `json:"month"`
	Label        string          `json:"label"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

// ChurnEdge is the client population change between two adjacent quarters.
// Region is empty for edges computed over the whole dataset.
type ChurnEdge struct {
	From          Quarter         `json:"from"`
	To            Quarter         `json:"to"`
	Region        string          `json:"region,omitempty"`
	LostClients   int             `json:"lost_clients"`
	NewClients    int             `json:"new_clients"`
	RevenueLost   decimal.Decimal `json:"revenue_lost"`
	RevenueGained decimal.Decimal `json:"revenue_gained"`
}

type ClientMovement struct {
	Customer        string          `json:"customer"`
	PreviousRevenue decimal.Decimal `json:"previous_revenue"`
	CurrentRevenue  decimal.Decimal `json:"current_revenue"`
	Change          decimal.Decimal `json:"change"`
}

// QuarterMovers lists the customers whose revenue moved the most between two
// adjacent quarters.
type QuarterMovers struct {
	From       Quarter          `json:"from"`
	To         Quarter          `json:"to"`
	TopGainers []ClientMovement `json:"top_gainers"`
	TopLosers  []ClientMovement `json:"top_losers"`
}
