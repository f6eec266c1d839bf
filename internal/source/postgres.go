package source

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/normalize"
)

// Postgres reads the source snapshot from the OLTP "production" schema.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connection pool to the source store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Snapshot reads every source table. Any single read failure aborts the
// whole snapshot so a run never proceeds on partial input.
func (p *Postgres) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	snap := &model.Snapshot{}

	var err error
	if snap.Patients, err = p.patients(ctx); err != nil {
		return nil, fmt.Errorf("read patients: %w", err)
	}
	if snap.Providers, err = p.providers(ctx); err != nil {
		return nil, fmt.Errorf("read providers: %w", err)
	}
	if snap.Specialties, err = p.specialties(ctx); err != nil {
		return nil, fmt.Errorf("read specialties: %w", err)
	}
	if snap.Departments, err = p.departments(ctx); err != nil {
		return nil, fmt.Errorf("read departments: %w", err)
	}
	if snap.Encounters, err = p.encounters(ctx); err != nil {
		return nil, fmt.Errorf("read encounters: %w", err)
	}
	if snap.Diagnoses, err = p.diagnoses(ctx); err != nil {
		return nil, fmt.Errorf("read diagnoses: %w", err)
	}
	if snap.Procedures, err = p.procedures(ctx); err != nil {
		return nil, fmt.Errorf("read procedures: %w", err)
	}
	if snap.EncounterDiagnoses, err = p.encounterDiagnoses(ctx); err != nil {
		return nil, fmt.Errorf("read encounter diagnoses: %w", err)
	}
	if snap.EncounterProcedures, err = p.encounterProcedures(ctx); err != nil {
		return nil, fmt.Errorf("read encounter procedures: %w", err)
	}
	if snap.Billings, err = p.billings(ctx); err != nil {
		return nil, fmt.Errorf("read billing: %w", err)
	}
	return snap, nil
}

func (p *Postgres) patients(ctx context.Context) ([]model.Patient, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT patient_id, first_name, last_name, gender, mrn, date_of_birth
		   FROM production.patients`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Patient, error) {
		var m model.Patient
		err := row.Scan(&m.PatientID, &m.FirstName, &m.LastName, &m.Gender, &m.MRN, &m.DateOfBirth)
		m.FirstName = normalize.CleanName(m.FirstName)
		m.LastName = normalize.CleanName(m.LastName)
		return m, err
	})
}

func (p *Postgres) providers(ctx context.Context) ([]model.Provider, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT provider_id, full_name, credential, specialty_id
		   FROM production.providers`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Provider, error) {
		var m model.Provider
		err := row.Scan(&m.ProviderID, &m.FullName, &m.Credential, &m.SpecialtyID)
		m.FullName = normalize.CleanName(m.FullName)
		return m, err
	})
}

func (p *Postgres) specialties(ctx context.Context) ([]model.Specialty, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT specialty_id, name FROM production.specialties`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Specialty, error) {
		var m model.Specialty
		err := row.Scan(&m.SpecialtyID, &m.Name)
		return m, err
	})
}

func (p *Postgres) departments(ctx context.Context) ([]model.Department, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT department_id, name FROM production.departments`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Department, error) {
		var m model.Department
		err := row.Scan(&m.DepartmentID, &m.Name)
		return m, err
	})
}

func (p *Postgres) encounters(ctx context.Context) ([]model.Encounter, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT encounter_id, patient_id, provider_id, department_id,
		        encounter_type, encounter_date, discharge_date
		   FROM production.encounters`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Encounter, error) {
		var m model.Encounter
		err := row.Scan(&m.EncounterID, &m.PatientID, &m.ProviderID, &m.DepartmentID,
			&m.EncounterType, &m.EncounterDate, &m.DischargeDate)
		return m, err
	})
}

func (p *Postgres) diagnoses(ctx context.Context) ([]model.Diagnosis, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT diagnosis_code, description FROM production.diagnoses`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Diagnosis, error) {
		var m model.Diagnosis
		err := row.Scan(&m.DiagnosisCode, &m.Description)
		m.DiagnosisCode = normalize.CleanCode(m.DiagnosisCode)
		return m, err
	})
}

func (p *Postgres) procedures(ctx context.Context) ([]model.Procedure, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT procedure_code, description FROM production.procedures`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Procedure, error) {
		var m model.Procedure
		err := row.Scan(&m.ProcedureCode, &m.Description)
		m.ProcedureCode = normalize.CleanCode(m.ProcedureCode)
		return m, err
	})
}

func (p *Postgres) encounterDiagnoses(ctx context.Context) ([]model.EncounterDiagnosis, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT encounter_id, diagnosis_code, seq
		   FROM production.encounter_diagnoses`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EncounterDiagnosis, error) {
		var m model.EncounterDiagnosis
		err := row.Scan(&m.EncounterID, &m.DiagnosisCode, &m.Sequence)
		m.DiagnosisCode = normalize.CleanCode(m.DiagnosisCode)
		return m, err
	})
}

func (p *Postgres) encounterProcedures(ctx context.Context) ([]model.EncounterProcedure, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT encounter_id, procedure_code, procedure_date
		   FROM production.encounter_procedures`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EncounterProcedure, error) {
		var m model.EncounterProcedure
		err := row.Scan(&m.EncounterID, &m.ProcedureCode, &m.ProcedureDate)
		m.ProcedureCode = normalize.CleanCode(m.ProcedureCode)
		return m, err
	})
}

func (p *Postgres) billings(ctx context.Context) ([]model.Billing, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT billing_id, encounter_id, claim_amount::float8,
		        allowed_amount::float8, bill_date
		   FROM production.billing`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Billing, error) {
		var m model.Billing
		var claim, allowed float64
		err := row.Scan(&m.BillingID, &m.EncounterID, &claim, &allowed, &m.BillDate)
		m.ClaimAmountCents = normalize.Cents(claim)
		m.AllowedAmountCents = normalize.Cents(allowed)
		return m, err
	})
}
