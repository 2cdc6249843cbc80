package models

// Table is the presentation form of a result: a header row plus string cells.
// It is what gets exported as CSV, rendered on the dashboard and indexed for
// question answering.
type Table struct {
	Name    string     `json:"name"`
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Records returns the header followed by the rows, the shape encoding/csv
// expects.
func (t Table) Records() [][]string {
	out := make([][]string, 0, len(t.Rows)+1)
	out = append(out, t.Columns)
	out = append(out, t.Rows...)
	return out
}
