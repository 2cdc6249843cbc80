package dataset

import (
	"fmt"
	"strings"
)

// SchemaError reports a file whose header cannot be analysed: a required
// column is missing or no monthly revenue column could be recognised.
type SchemaError struct {
	Missing []string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
	}
	return e.Reason
}

// CoercionWarning records a revenue cell that was not numeric and was read as
// zero.
type CoercionWarning struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

func (w CoercionWarning) String() string {
	return fmt.Sprintf("row %d column %q: non-numeric value %q read as 0", w.Row, w.Column, w.Value)
}
