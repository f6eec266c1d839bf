package model

// EncounterMetrics holds the derived measures computed per encounter.
// Money sums are integer cents and default to zero when no billing lines
// exist, never to a null.
type EncounterMetrics struct {
	DiagnosisCount          int32
	ProcedureCount          int32
	TotalAllowedAmountCents int64
	TotalClaimAmountCents   int64
	LengthOfStayDays        *int32
	IsReadmissionCandidate  bool
}

// Equals compares measures by value, including the nullable stay length.
func (m EncounterMetrics) Equals(o EncounterMetrics) bool {
	if m.LengthOfStayDays == nil || o.LengthOfStayDays == nil {
		if m.LengthOfStayDays != o.LengthOfStayDays {
			return false
		}
	} else if *m.LengthOfStayDays != *o.LengthOfStayDays {
		return false
	}
	return m.DiagnosisCount == o.DiagnosisCount &&
		m.ProcedureCount == o.ProcedureCount &&
		m.TotalAllowedAmountCents == o.TotalAllowedAmountCents &&
		m.TotalClaimAmountCents == o.TotalClaimAmountCents &&
		m.IsReadmissionCandidate == o.IsReadmissionCandidate
}

// FactRow is one row of fact_encounter, one per encounter natural key.
// Dimension keys are set at first insert and never rewritten; the embedded
// metrics refresh on every run.
type FactRow struct {
	EncounterKey     int64
	EncounterID      string
	DateKey          int32
	DischargeDateKey *int32
	PatientKey       int64
	ProviderKey      int64
	SpecialtyKey     int64
	DepartmentKey    int64
	EncounterTypeKey int64
	Metrics          EncounterMetrics
}

// DiagnosisBridge is one row of bridge_encounter_diagnosis. The composite
// (EncounterKey, DiagnosisKey) is the primary key.
type DiagnosisBridge struct {
	EncounterKey int64
	DiagnosisKey int64
	Sequence     int32
	IsPrimary    bool
}

// ProcedureBridge is one row of bridge_encounter_procedure. The composite
// (EncounterKey, ProcedureKey) is the primary key.
type ProcedureBridge struct {
	EncounterKey     int64
	ProcedureKey     int64
	ProcedureDateKey int32
}
