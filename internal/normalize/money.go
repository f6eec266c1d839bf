package normalize

import "math"

// Cents converts a dollar amount to integer cents. Uses math.Round to avoid
// truncation bias on amounts like 19.985.
func Cents(v float64) int64 {
	return int64(math.Round(v * 100))
}

// CentsPtr converts a nullable dollar amount to nullable integer cents.
func CentsPtr(v *float64) *int64 {
	if v == nil {
		return nil
	}
	c := Cents(*v)
	return &c
}
