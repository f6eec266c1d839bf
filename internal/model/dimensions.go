package model

import "time"

// SentinelEnd is the open-ended effective_end for current SCD versions.
// Interval containment treats it as "no known expiry": a version is valid
// for timestamps in [effective_start, effective_end).
var SentinelEnd = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// DimKind identifies one dimension of the star schema.
type DimKind string

const (
	DimDate          DimKind = "date"
	DimSpecialty     DimKind = "specialty"
	DimDepartment    DimKind = "department"
	DimEncounterType DimKind = "encounter_type"
	DimDiagnosis     DimKind = "diagnosis"
	DimProcedure     DimKind = "procedure"
	DimPatient       DimKind = "patient"
	DimProvider      DimKind = "provider"
)

// SimpleDimKinds lists the overwrite-in-place dimensions in load order.
// The date dimension is excluded: its key is deterministic and it has its
// own loader.
var SimpleDimKinds = []DimKind{
	DimSpecialty,
	DimDepartment,
	DimEncounterType,
	DimDiagnosis,
	DimProcedure,
}

// Versioned reports whether the kind keeps history as time-bounded versions.
func (k DimKind) Versioned() bool {
	return k == DimPatient || k == DimProvider
}

// SimpleDim is one row of a single-attribute overwrite dimension
// (specialty, department, encounter type, diagnosis, procedure).
type SimpleDim struct {
	Key        int64
	NaturalKey string
	Name       string
}

// DateDim is one row of the calendar dimension. DateKey is the 8-digit
// YYYYMMDD encoding of FullDate, so repeated loads are naturally idempotent.
type DateDim struct {
	DateKey    int32
	FullDate   time.Time
	DayOfMonth int32
	MonthNum   int32
	MonthName  string
	Quarter    int32
	Year       int32
	IsWeekend  bool
}

// PatientVersion is one time-bounded version of a patient. FirstName,
// LastName, Gender and MRN are history-tracked; DateOfBirth and AgeGroup
// are refreshed in place on the current version.
type PatientVersion struct {
	PatientKey     int64
	PatientID      string
	FirstName      string
	LastName       string
	Gender         string
	MRN            string
	DateOfBirth    *time.Time
	AgeGroup       string
	EffectiveStart time.Time
	EffectiveEnd   time.Time
	IsCurrent      bool
}

// TrackedEquals compares only the history-tracked attributes.
func (v *PatientVersion) TrackedEquals(o *PatientVersion) bool {
	return v.FirstName == o.FirstName &&
		v.LastName == o.LastName &&
		v.Gender == o.Gender &&
		v.MRN == o.MRN
}

// UntrackedEquals compares the attributes refreshed without versioning.
func (v *PatientVersion) UntrackedEquals(o *PatientVersion) bool {
	return v.AgeGroup == o.AgeGroup && timePtrEqual(v.DateOfBirth, o.DateOfBirth)
}

// ProviderVersion is one time-bounded version of a provider. FullName and
// Credential are history-tracked; SpecialtyID is refreshed in place.
type ProviderVersion struct {
	ProviderKey    int64
	ProviderID     string
	FullName       string
	Credential     string
	SpecialtyID    string
	EffectiveStart time.Time
	EffectiveEnd   time.Time
	IsCurrent      bool
}

// TrackedEquals compares only the history-tracked attributes.
func (v *ProviderVersion) TrackedEquals(o *ProviderVersion) bool {
	return v.FullName == o.FullName && v.Credential == o.Credential
}

// UntrackedEquals compares the attributes refreshed without versioning.
func (v *ProviderVersion) UntrackedEquals(o *ProviderVersion) bool {
	return v.SpecialtyID == o.SpecialtyID
}

// Covers reports whether the version's [effective_start, effective_end)
// interval contains the given reference time.
func Covers(start, end, at time.Time) bool {
	return !at.Before(start) && at.Before(end)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
