package dataset

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Serial numbers outside this window are treated as plain numbers rather
// than Excel dates (roughly 1954 to 2119).
const (
	minDateSerial = 20000
	maxDateSerial = 80000
)

var monthLayouts = []string{
	"Jan-06",
	"Jan 06",
	"Jan'06",
	"Jan-2006",
	"Jan 2006",
	"January-06",
	"January 06",
	"January-2006",
	"January 2006",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01",
	"2006/01/02",
	"2006/01",
	"01/2006",
	"1/2006",
	"01-2006",
	"01-02-06",
	"1/2/06",
	"1/2/06 15:04",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-06",
	"2-Jan-06",
	"02-Jan-2006",
	"2-Jan-2006",
}

// ParseMonth reports whether a column label names a calendar month. Labels
// may be text such as "Jan-24" or "2024-01-01", or the raw serial number an
// xlsx file stores for a date-typed header cell. The result is normalized to
// the first day of the month in UTC.
func ParseMonth(label string) (time.Time, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return time.Time{}, false
	}

	if serial, err := strconv.ParseFloat(label, 64); err == nil {
		if serial < minDateSerial || serial > maxDateSerial {
			return time.Time{}, false
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return firstOfMonth(t), true
	}

	label = shortenSept(label)
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, label); err == nil {
			return firstOfMonth(t), true
		}
	}
	return time.Time{}, false
}

// shortenSept rewrites the "Sept" abbreviation, which time.Parse does not
// know, to "Sep". "September" is left alone.
func shortenSept(label string) string {
	if len(label) < 4 || !strings.EqualFold(label[:4], "sept") {
		return label
	}
	if len(label) > 4 && unicode.IsLetter(rune(label[4])) {
		return label
	}
	return label[:3] + label[4:]
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

var placeholders = map[string]bool{
	"-": true,
	"–": true,
	"—": true,
}

var amountReplacer = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "₹", "", " ", "", " ", "")

// parseRevenue reads one revenue cell. A blank cell is a missing
// observation; a dash placeholder is an explicit zero. Anything else that
// does not parse as a number is coerced to zero with ok=false.
func parseRevenue(raw string) (value decimal.Decimal, present bool, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false, true
	}
	if placeholders[s] {
		return decimal.Zero, true, true
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = amountReplacer.Replace(s)
	if placeholders[s] {
		return decimal.Zero, true, true
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, true, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true, true
}
