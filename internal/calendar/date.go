// internal/calendar/date.go
package calendar

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	layout = "2006-01-02"

	minYear = 1
	maxYear = 9999
)

// ErrOutOfRange is returned for dates that YYYY-MM-DD cannot represent.
var ErrOutOfRange = errors.New("date out of range")

// Date is a civil date without a time of day or zone. Loan, due and return
// dates are days, so all arithmetic is done on whole days in UTC.
type Date struct {
	t time.Time
}

// New returns the date for the given year, month and day. Out of range
// values are normalized the same way time.Date does.
func New(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Of returns the calendar day of t in t's own location.
func Of(t time.Time) Date {
	y, m, d := t.Date()
	return New(y, m, d)
}

// Parse reads a YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool { return d.t.IsZero() }

// InRange reports whether d has a four-digit year and so survives a
// round trip through String and Parse.
func (d Date) InRange() bool {
	y := d.t.Year()
	return y >= minYear && y <= maxYear
}

func (d Date) Time() time.Time { return d.t }

func (d Date) String() string { return d.t.Format(layout) }

// AddDays returns d shifted by n days (n may be negative).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// DaysUntil returns the signed number of days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.t.Sub(d.t).Hours() / 24)
}

func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

func (d Date) After(other Date) bool { return d.t.After(other.t) }

func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

// Value stores the date as YYYY-MM-DD, which Postgres accepts for DATE
// columns and which SQLite compares correctly as text.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	if !d.InRange() {
		return nil, fmt.Errorf("calendar: %w: year %d", ErrOutOfRange, d.t.Year())
	}
	return d.String(), nil
}

// Scan accepts the representations the supported drivers hand back for a
// DATE column.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = New(v.Year(), v.Month(), v.Day())
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	default:
		return fmt.Errorf("calendar: cannot scan %T into Date", src)
	}
}

func (d *Date) scanString(s string) error {
	if len(s) < len(layout) {
		return fmt.Errorf("calendar: cannot scan %q into Date", s)
	}
	parsed, err := Parse(s[:len(layout)])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(strings.Trim(s, `"`))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
