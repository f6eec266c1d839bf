package model

import "time"

// Source entities mirror the OLTP snapshot handed to a run. Natural keys are
// the source system's own identifiers; the engine never writes back.

// Patient is a source patient record.
type Patient struct {
	PatientID   string
	FirstName   string
	LastName    string
	Gender      string
	MRN         string
	DateOfBirth *time.Time
}

// Provider is a source provider record.
type Provider struct {
	ProviderID  string
	FullName    string
	Credential  string
	SpecialtyID string
}

// Specialty is a source specialty record.
type Specialty struct {
	SpecialtyID string
	Name        string
}

// Department is a source department record.
type Department struct {
	DepartmentID string
	Name         string
}

// Encounter is a source encounter record, the grain of the fact table.
type Encounter struct {
	EncounterID   string
	PatientID     string
	ProviderID    string
	DepartmentID  string
	EncounterType string
	EncounterDate time.Time
	DischargeDate *time.Time
}

// Diagnosis is a source diagnosis code record.
type Diagnosis struct {
	DiagnosisCode string
	Description   string
}

// Procedure is a source procedure code record.
type Procedure struct {
	ProcedureCode string
	Description   string
}

// EncounterDiagnosis links an encounter to a diagnosis with its sequence.
// Sequence 1 marks the primary diagnosis.
type EncounterDiagnosis struct {
	EncounterID   string
	DiagnosisCode string
	Sequence      int32
}

// EncounterProcedure links an encounter to a procedure performed on a date.
type EncounterProcedure struct {
	EncounterID   string
	ProcedureCode string
	ProcedureDate time.Time
}

// Billing is a source billing line for an encounter. Amounts are integer
// cents, converted from source decimals during extraction.
type Billing struct {
	BillingID          string
	EncounterID        string
	ClaimAmountCents   int64
	AllowedAmountCents int64
	BillDate           *time.Time
}

// Snapshot is the full read-only source dataset for one run.
type Snapshot struct {
	Patients            []Patient
	Providers           []Provider
	Specialties         []Specialty
	Departments         []Department
	Encounters          []Encounter
	Diagnoses           []Diagnosis
	Procedures          []Procedure
	EncounterDiagnoses  []EncounterDiagnosis
	EncounterProcedures []EncounterProcedure
	Billings            []Billing
}

// DiagnosesByEncounter groups diagnosis links by encounter natural key.
func (s *Snapshot) DiagnosesByEncounter() map[string][]EncounterDiagnosis {
	out := make(map[string][]EncounterDiagnosis)
	for _, d := range s.EncounterDiagnoses {
		out[d.EncounterID] = append(out[d.EncounterID], d)
	}
	return out
}

// ProceduresByEncounter groups procedure links by encounter natural key.
func (s *Snapshot) ProceduresByEncounter() map[string][]EncounterProcedure {
	out := make(map[string][]EncounterProcedure)
	for _, p := range s.EncounterProcedures {
		out[p.EncounterID] = append(out[p.EncounterID], p)
	}
	return out
}

// BillingsByEncounter groups billing lines by encounter natural key.
func (s *Snapshot) BillingsByEncounter() map[string][]Billing {
	out := make(map[string][]Billing)
	for _, b := range s.Billings {
		out[b.EncounterID] = append(out[b.EncounterID], b)
	}
	return out
}

// ProvidersByID indexes providers by natural key for specialty resolution.
func (s *Snapshot) ProvidersByID() map[string]Provider {
	out := make(map[string]Provider, len(s.Providers))
	for _, p := range s.Providers {
		out[p.ProviderID] = p
	}
	return out
}
