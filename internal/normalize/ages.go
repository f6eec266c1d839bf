package normalize

import "time"

// Age bands used for the patient age_group attribute. Age group is a
// derived attribute refreshed in place on the current patient version; a
// band transition alone does not open a new version.
type AgeBand struct {
	Name   string
	MinAge int
}

// DefaultAgeBands lists the bands in ascending age order.
var DefaultAgeBands = []AgeBand{
	{Name: "Child", MinAge: 0},
	{Name: "Adult", MinAge: 18},
	{Name: "Middle Age", MinAge: 40},
	{Name: "Senior", MinAge: 65},
}

// AgeYears computes whole years of age as of the given date. Returns -1 for
// a nil date of birth.
func AgeYears(dob *time.Time, asOf time.Time) int {
	if dob == nil {
		return -1
	}
	years := asOf.Year() - dob.Year()
	anniversary := time.Date(asOf.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)
	if asOf.Before(anniversary) {
		years--
	}
	return years
}

// AgeGroup returns the band name for a date of birth as of the given date,
// using the provided bands (DefaultAgeBands when nil). Unknown dates of
// birth map to "Unknown".
func AgeGroup(dob *time.Time, asOf time.Time, bands []AgeBand) string {
	age := AgeYears(dob, asOf)
	if age < 0 {
		return "Unknown"
	}
	if bands == nil {
		bands = DefaultAgeBands
	}
	name := "Unknown"
	for _, b := range bands {
		if age >= b.MinAge {
			name = b.Name
		}
	}
	return name
}
