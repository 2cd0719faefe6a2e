package shared

import (
	"errors"
	"fmt"
	"time"
)

// PeriodsPerYear is the number of fiscal periods in a fiscal year.
const PeriodsPerYear = 12

// ErrInvalidFiscalPeriod indicates a malformed fiscal period literal.
var ErrInvalidFiscalPeriod = errors.New("accounting: invalid fiscal period")

// FiscalPeriod identifies a monthly period within a fiscal year.
type FiscalPeriod struct {
	Year   int `json:"fiscal_year"`
	Period int `json:"fiscal_period"`
}

// NewFiscalPeriod validates and builds a FiscalPeriod.
func NewFiscalPeriod(year, period int) (FiscalPeriod, error) {
	fp := FiscalPeriod{Year: year, Period: period}
	if !fp.Valid() {
		return FiscalPeriod{}, fmt.Errorf("%w: %d-%02d", ErrInvalidFiscalPeriod, year, period)
	}
	return fp, nil
}

// ParseFiscalPeriod parses the "YYYY-PP" form produced by String.
func ParseFiscalPeriod(s string) (FiscalPeriod, error) {
	var year, period int
	if _, err := fmt.Sscanf(s, "%d-%d", &year, &period); err != nil {
		return FiscalPeriod{}, fmt.Errorf("%w: %q", ErrInvalidFiscalPeriod, s)
	}
	return NewFiscalPeriod(year, period)
}

// Valid reports whether the period number is within the fiscal year.
func (p FiscalPeriod) Valid() bool {
	return p.Year > 0 && p.Period >= 1 && p.Period <= PeriodsPerYear
}

// IsZero reports whether p is unset.
func (p FiscalPeriod) IsZero() bool {
	return p.Year == 0 && p.Period == 0
}

func (p FiscalPeriod) ordinal() int {
	return p.Year*PeriodsPerYear + (p.Period - 1)
}

func fromOrdinal(n int) FiscalPeriod {
	return FiscalPeriod{Year: n / PeriodsPerYear, Period: n%PeriodsPerYear + 1}
}

// Next returns the following fiscal period.
func (p FiscalPeriod) Next() FiscalPeriod {
	return fromOrdinal(p.ordinal() + 1)
}

// Prev returns the preceding fiscal period.
func (p FiscalPeriod) Prev() FiscalPeriod {
	return fromOrdinal(p.ordinal() - 1)
}

// Before reports whether p is earlier than o.
func (p FiscalPeriod) Before(o FiscalPeriod) bool {
	return p.ordinal() < o.ordinal()
}

// After reports whether p is later than o.
func (p FiscalPeriod) After(o FiscalPeriod) bool {
	return p.ordinal() > o.ordinal()
}

// Compare returns -1, 0 or 1.
func (p FiscalPeriod) Compare(o FiscalPeriod) int {
	switch {
	case p.Before(o):
		return -1
	case p.After(o):
		return 1
	default:
		return 0
	}
}

func (p FiscalPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Period)
}

// MarshalText encodes the period as YYYY-MM.
func (p FiscalPeriod) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a YYYY-MM period.
func (p *FiscalPeriod) UnmarshalText(text []byte) error {
	parsed, err := ParseFiscalPeriod(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// FiscalCalendar maps calendar dates to fiscal periods. The fiscal year is
// named after the calendar year in which it starts.
type FiscalCalendar struct {
	StartMonth time.Month
}

// DefaultCalendar is a January-start fiscal calendar.
var DefaultCalendar = FiscalCalendar{StartMonth: time.January}

func (c FiscalCalendar) start() time.Month {
	if c.StartMonth < time.January || c.StartMonth > time.December {
		return time.January
	}
	return c.StartMonth
}

// PeriodOf returns the fiscal period containing date.
func (c FiscalCalendar) PeriodOf(date time.Time) FiscalPeriod {
	start := int(c.start())
	month := int(date.Month())
	year := date.Year()
	if month < start {
		year--
	}
	offset := (month - start + PeriodsPerYear) % PeriodsPerYear
	return FiscalPeriod{Year: year, Period: offset + 1}
}

// Bounds returns the first and last calendar day of the fiscal period.
func (c FiscalCalendar) Bounds(p FiscalPeriod) (time.Time, time.Time) {
	first := time.Date(p.Year, c.start()+time.Month(p.Period-1), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first, last
}

// DateOnly truncates t to a calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
