// Package datekey computes the deterministic calendar dimension key and its
// derived attributes. The key is the 8-digit YYYYMMDD encoding of the date,
// so the same calendar date always maps to the same surrogate key without a
// lookup step.
package datekey

import (
	"time"

	"github.com/gyeh/caremart/internal/model"
)

// FromDate returns the YYYYMMDD key for a calendar date.
func FromDate(t time.Time) int32 {
	return int32(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// ToDate decodes a YYYYMMDD key back into a UTC midnight date.
func ToDate(key int32) time.Time {
	y := int(key) / 10000
	m := time.Month(int(key) / 100 % 100)
	d := int(key) % 100
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Row builds the full calendar dimension row for a date. All attributes are
// a fixed function of the date itself; no external calendar service.
func Row(t time.Time) model.DateDim {
	day := t.Weekday()
	return model.DateDim{
		DateKey:    FromDate(t),
		FullDate:   time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
		DayOfMonth: int32(t.Day()),
		MonthNum:   int32(t.Month()),
		MonthName:  t.Month().String(),
		Quarter:    (int32(t.Month())-1)/3 + 1,
		Year:       int32(t.Year()),
		IsWeekend:  day == time.Saturday || day == time.Sunday,
	}
}
