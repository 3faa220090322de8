package record

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

// Date is a calendar day without time zone.
type Date struct {
	Year  uint16 `json:"year"`
	Month uint8  `json:"month"`
	Day   uint8  `json:"day"`
}

func NewDate(year, month, day int) Date {
	return Date{Year: uint16(year), Month: uint8(month), Day: uint8(day)}
}

// DateOf returns calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, errors.NotValidf("date=%q", s)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

// Valid reports whether d names an existing calendar day.
func (d Date) Valid() bool {
	if d.Year == 0 || d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	return d.time().Day() == int(d.Day)
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }

func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return sign(int(d.Year) - int(other.Year))
	case d.Month != other.Month:
		return sign(int(d.Month) - int(other.Month))
	default:
		return sign(int(d.Day) - int(other.Day))
	}
}

// AddDays normalizes across month and year boundaries.
func (d Date) AddDays(n int) Date {
	return DateOf(d.time().AddDate(0, 0, n))
}

func (d Date) MonthOf() Month { return Month{Year: d.Year, Month: d.Month} }

func (d Date) String() string { return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day) }

func (d Date) time() time.Time {
	return time.Date(int(d.Year), time.Month(d.Month), int(d.Day), 12, 0, 0, 0, time.UTC)
}

// Month is a calendar month without time zone.
type Month struct {
	Year  uint16 `json:"year"`
	Month uint8  `json:"month"`
}

func NewMonth(year, month int) Month { return Month{Year: uint16(year), Month: uint8(month)} }

func MonthOfTime(t time.Time) Month { return DateOf(t).MonthOf() }

func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, errors.NotValidf("month=%q", s)
	}
	return MonthOfTime(t), nil
}

func (m Month) IsZero() bool { return m == Month{} }
func (m Month) Valid() bool  { return m.Year != 0 && m.Month >= 1 && m.Month <= 12 }

func (m Month) Compare(other Month) int {
	if m.Year != other.Year {
		return sign(int(m.Year) - int(other.Year))
	}
	return sign(int(m.Month) - int(other.Month))
}

func (m Month) Before(other Month) bool { return m.Compare(other) < 0 }

// Prev steps back one calendar month, month 0 wraps to December of previous year.
func (m Month) Prev() Month {
	if m.Month <= 1 {
		return Month{Year: m.Year - 1, Month: 12}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

func (m Month) Next() Month {
	if m.Month >= 12 {
		return Month{Year: m.Year + 1, Month: 1}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

func (m Month) FirstDay() Date { return Date{Year: m.Year, Month: m.Month, Day: 1} }

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, m.Month) }

func sign(x int) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	}
	return 0
}
