package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/normalize"
)

// Snapshot file names expected inside a --source-dir directory.
const (
	PatientsFile            = "patients.parquet"
	ProvidersFile           = "providers.parquet"
	SpecialtiesFile         = "specialties.parquet"
	DepartmentsFile         = "departments.parquet"
	EncountersFile          = "encounters.parquet"
	DiagnosesFile           = "diagnoses.parquet"
	ProceduresFile          = "procedures.parquet"
	EncounterDiagnosesFile  = "encounter_diagnoses.parquet"
	EncounterProceduresFile = "encounter_procedures.parquet"
	BillingFile             = "billing.parquet"
)

// Parquet record mirrors. Dates travel as canonical YYYY-MM-DD strings and
// money as float64 dollars, matching how OLTP extract jobs dump tables;
// both get normalized while building the snapshot.

type PatientRecord struct {
	PatientID   string `parquet:"patient_id"`
	FirstName   string `parquet:"first_name"`
	LastName    string `parquet:"last_name"`
	Gender      string `parquet:"gender"`
	MRN         string `parquet:"mrn"`
	DateOfBirth string `parquet:"date_of_birth"`
}

type ProviderRecord struct {
	ProviderID  string `parquet:"provider_id"`
	FullName    string `parquet:"full_name"`
	Credential  string `parquet:"credential"`
	SpecialtyID string `parquet:"specialty_id"`
}

type SpecialtyRecord struct {
	SpecialtyID string `parquet:"specialty_id"`
	Name        string `parquet:"name"`
}

type DepartmentRecord struct {
	DepartmentID string `parquet:"department_id"`
	Name         string `parquet:"name"`
}

type EncounterRecord struct {
	EncounterID   string `parquet:"encounter_id"`
	PatientID     string `parquet:"patient_id"`
	ProviderID    string `parquet:"provider_id"`
	DepartmentID  string `parquet:"department_id"`
	EncounterType string `parquet:"encounter_type"`
	EncounterDate string `parquet:"encounter_date"`
	DischargeDate string `parquet:"discharge_date"`
}

type DiagnosisRecord struct {
	DiagnosisCode string `parquet:"diagnosis_code"`
	Description   string `parquet:"description"`
}

type ProcedureRecord struct {
	ProcedureCode string `parquet:"procedure_code"`
	Description   string `parquet:"description"`
}

type EncounterDiagnosisRecord struct {
	EncounterID   string `parquet:"encounter_id"`
	DiagnosisCode string `parquet:"diagnosis_code"`
	Sequence      int32  `parquet:"seq"`
}

type EncounterProcedureRecord struct {
	EncounterID   string `parquet:"encounter_id"`
	ProcedureCode string `parquet:"procedure_code"`
	ProcedureDate string `parquet:"procedure_date"`
}

type BillingRecord struct {
	BillingID     string  `parquet:"billing_id"`
	EncounterID   string  `parquet:"encounter_id"`
	ClaimAmount   float64 `parquet:"claim_amount"`
	AllowedAmount float64 `parquet:"allowed_amount"`
	BillDate      string  `parquet:"bill_date"`
}

// ParquetDir reads the source snapshot from one Parquet file per entity.
type ParquetDir struct {
	dir string
}

// NewParquetDir creates a reader over a snapshot directory.
func NewParquetDir(dir string) *ParquetDir {
	return &ParquetDir{dir: dir}
}

// Snapshot reads every entity file. A missing or malformed file, or an
// unparseable required date, fails the whole snapshot.
func (p *ParquetDir) Snapshot(_ context.Context) (*model.Snapshot, error) {
	snap := &model.Snapshot{}

	patients, err := readAll[PatientRecord](filepath.Join(p.dir, PatientsFile))
	if err != nil {
		return nil, err
	}
	for _, r := range patients {
		snap.Patients = append(snap.Patients, model.Patient{
			PatientID:   r.PatientID,
			FirstName:   normalize.CleanName(r.FirstName),
			LastName:    normalize.CleanName(r.LastName),
			Gender:      r.Gender,
			MRN:         r.MRN,
			DateOfBirth: normalize.ParseDate(r.DateOfBirth),
		})
	}

	providers, err := readAll[ProviderRecord](filepath.Join(p.dir, ProvidersFile))
	if err != nil {
		return nil, err
	}
	for _, r := range providers {
		snap.Providers = append(snap.Providers, model.Provider{
			ProviderID:  r.ProviderID,
			FullName:    normalize.CleanName(r.FullName),
			Credential:  r.Credential,
			SpecialtyID: r.SpecialtyID,
		})
	}

	specialties, err := readAll[SpecialtyRecord](filepath.Join(p.dir, SpecialtiesFile))
	if err != nil {
		return nil, err
	}
	for _, r := range specialties {
		snap.Specialties = append(snap.Specialties, model.Specialty{SpecialtyID: r.SpecialtyID, Name: r.Name})
	}

	departments, err := readAll[DepartmentRecord](filepath.Join(p.dir, DepartmentsFile))
	if err != nil {
		return nil, err
	}
	for _, r := range departments {
		snap.Departments = append(snap.Departments, model.Department{DepartmentID: r.DepartmentID, Name: r.Name})
	}

	encounters, err := readAll[EncounterRecord](filepath.Join(p.dir, EncountersFile))
	if err != nil {
		return nil, err
	}
	for _, r := range encounters {
		encDate := normalize.ParseDate(r.EncounterDate)
		if encDate == nil {
			return nil, fmt.Errorf("encounter %s: unparseable encounter_date %q", r.EncounterID, r.EncounterDate)
		}
		snap.Encounters = append(snap.Encounters, model.Encounter{
			EncounterID:   r.EncounterID,
			PatientID:     r.PatientID,
			ProviderID:    r.ProviderID,
			DepartmentID:  r.DepartmentID,
			EncounterType: r.EncounterType,
			EncounterDate: *encDate,
			DischargeDate: normalize.ParseDate(r.DischargeDate),
		})
	}

	diagnoses, err := readAll[DiagnosisRecord](filepath.Join(p.dir, DiagnosesFile))
	if err != nil {
		return nil, err
	}
	for _, r := range diagnoses {
		snap.Diagnoses = append(snap.Diagnoses, model.Diagnosis{
			DiagnosisCode: normalize.CleanCode(r.DiagnosisCode),
			Description:   r.Description,
		})
	}

	procedures, err := readAll[ProcedureRecord](filepath.Join(p.dir, ProceduresFile))
	if err != nil {
		return nil, err
	}
	for _, r := range procedures {
		snap.Procedures = append(snap.Procedures, model.Procedure{
			ProcedureCode: normalize.CleanCode(r.ProcedureCode),
			Description:   r.Description,
		})
	}

	encDiags, err := readAll[EncounterDiagnosisRecord](filepath.Join(p.dir, EncounterDiagnosesFile))
	if err != nil {
		return nil, err
	}
	for _, r := range encDiags {
		snap.EncounterDiagnoses = append(snap.EncounterDiagnoses, model.EncounterDiagnosis{
			EncounterID:   r.EncounterID,
			DiagnosisCode: normalize.CleanCode(r.DiagnosisCode),
			Sequence:      r.Sequence,
		})
	}

	encProcs, err := readAll[EncounterProcedureRecord](filepath.Join(p.dir, EncounterProceduresFile))
	if err != nil {
		return nil, err
	}
	for _, r := range encProcs {
		procDate := normalize.ParseDate(r.ProcedureDate)
		if procDate == nil {
			return nil, fmt.Errorf("encounter %s procedure %s: unparseable procedure_date %q",
				r.EncounterID, r.ProcedureCode, r.ProcedureDate)
		}
		snap.EncounterProcedures = append(snap.EncounterProcedures, model.EncounterProcedure{
			EncounterID:   r.EncounterID,
			ProcedureCode: normalize.CleanCode(r.ProcedureCode),
			ProcedureDate: *procDate,
		})
	}

	billing, err := readAll[BillingRecord](filepath.Join(p.dir, BillingFile))
	if err != nil {
		return nil, err
	}
	for _, r := range billing {
		snap.Billings = append(snap.Billings, model.Billing{
			BillingID:          r.BillingID,
			EncounterID:        r.EncounterID,
			ClaimAmountCents:   normalize.Cents(r.ClaimAmount),
			AllowedAmountCents: normalize.Cents(r.AllowedAmount),
			BillDate:           normalize.ParseDate(r.BillDate),
		})
	}

	return snap, nil
}

// readAll streams every record of one entity file.
func readAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat snapshot file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", filepath.Base(path), err)
	}

	reader := parquet.NewGenericReader[T](pf)
	defer reader.Close()

	var out []T
	buf := make([]T, 256)
	for {
		n, readErr := reader.Read(buf)
		out = append(out, buf[:n]...)
		if readErr == io.EOF {
			return out, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("read parquet %s: %w", filepath.Base(path), readErr)
		}
	}
}

// WriteAll writes records to one entity file, used by fixture generation.
func WriteAll[T any](path string, records []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}

	writer := parquet.NewGenericWriter[T](f)
	if _, err := writer.Write(records); err != nil {
		f.Close()
		return fmt.Errorf("write parquet %s: %w", filepath.Base(path), err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
