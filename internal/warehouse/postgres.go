package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyeh/caremart/internal/model"
)

// simpleDimSpec maps a Type-1 dimension kind onto its table and columns.
type simpleDimSpec struct {
	table      string
	keyCol     string
	naturalCol string
	nameCol    string
}

var simpleDims = map[model.DimKind]simpleDimSpec{
	model.DimSpecialty:     {"star.dim_specialty", "specialty_key", "specialty_id", "name"},
	model.DimDepartment:    {"star.dim_department", "department_key", "department_id", "name"},
	model.DimEncounterType: {"star.dim_encounter_type", "encounter_type_key", "encounter_type", "name"},
	model.DimDiagnosis:     {"star.dim_diagnosis", "diagnosis_key", "diagnosis_code", "description"},
	model.DimProcedure:     {"star.dim_procedure", "procedure_key", "procedure_code", "description"},
}

// Postgres implements Store against the star/meta schemas.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connection pool to the target store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

func (p *Postgres) InsertDateIfAbsent(ctx context.Context, row model.DateDim) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO star.dim_date
		   (date_key, full_date, day_of_month, month_num, month_name, quarter, year, is_weekend)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (date_key) DO NOTHING`,
		row.DateKey, row.FullDate, row.DayOfMonth, row.MonthNum,
		row.MonthName, row.Quarter, row.Year, row.IsWeekend)
	if err != nil {
		return false, fmt.Errorf("insert dim_date %d: %w", row.DateKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) GetSimpleDim(ctx context.Context, kind model.DimKind, naturalKey string) (*model.SimpleDim, error) {
	spec, ok := simpleDims[kind]
	if !ok {
		return nil, fmt.Errorf("unknown simple dimension kind %q", kind)
	}
	var row model.SimpleDim
	err := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s, %s, %s FROM %s WHERE %s = $1`,
		spec.keyCol, spec.naturalCol, spec.nameCol, spec.table, spec.naturalCol),
		naturalKey).Scan(&row.Key, &row.NaturalKey, &row.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %q: %w", kind, naturalKey, err)
	}
	return &row, nil
}

func (p *Postgres) InsertSimpleDim(ctx context.Context, kind model.DimKind, row model.SimpleDim) (int64, error) {
	spec, ok := simpleDims[kind]
	if !ok {
		return 0, fmt.Errorf("unknown simple dimension kind %q", kind)
	}
	var key int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s, %s) VALUES ($1, $2) RETURNING %s`,
		spec.table, spec.naturalCol, spec.nameCol, spec.keyCol),
		row.NaturalKey, row.Name).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("insert %s %q: %w", kind, row.NaturalKey, err)
	}
	return key, nil
}

func (p *Postgres) UpdateSimpleDim(ctx context.Context, kind model.DimKind, row model.SimpleDim) error {
	spec, ok := simpleDims[kind]
	if !ok {
		return fmt.Errorf("unknown simple dimension kind %q", kind)
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET %s = $2 WHERE %s = $1`,
		spec.table, spec.nameCol, spec.keyCol),
		row.Key, row.Name)
	if err != nil {
		return fmt.Errorf("update %s %q: %w", kind, row.NaturalKey, err)
	}
	return nil
}

func (p *Postgres) SimpleDimKey(ctx context.Context, kind model.DimKind, naturalKey string) (int64, error) {
	spec, ok := simpleDims[kind]
	if !ok {
		return 0, fmt.Errorf("unknown simple dimension kind %q", kind)
	}
	var key int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s = $1`, spec.keyCol, spec.table, spec.naturalCol),
		naturalKey).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve %s %q: %w", kind, naturalKey, err)
	}
	return key, nil
}

func (p *Postgres) CurrentPatient(ctx context.Context, patientID string) (*model.PatientVersion, error) {
	var v model.PatientVersion
	err := p.pool.QueryRow(ctx,
		`SELECT patient_key, patient_id, first_name, last_name, gender, mrn,
		        date_of_birth, age_group, effective_start, effective_end, is_current
		   FROM star.dim_patient
		  WHERE patient_id = $1 AND is_current`,
		patientID).Scan(&v.PatientKey, &v.PatientID, &v.FirstName, &v.LastName,
		&v.Gender, &v.MRN, &v.DateOfBirth, &v.AgeGroup,
		&v.EffectiveStart, &v.EffectiveEnd, &v.IsCurrent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current patient %q: %w", patientID, err)
	}
	return &v, nil
}

func (p *Postgres) InsertPatientVersion(ctx context.Context, v *model.PatientVersion) (int64, error) {
	var key int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO star.dim_patient
		   (patient_id, first_name, last_name, gender, mrn, date_of_birth,
		    age_group, effective_start, effective_end, is_current)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING patient_key`,
		v.PatientID, v.FirstName, v.LastName, v.Gender, v.MRN, v.DateOfBirth,
		v.AgeGroup, v.EffectiveStart, v.EffectiveEnd, v.IsCurrent).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("insert patient version %q: %w", v.PatientID, err)
	}
	return key, nil
}

func (p *Postgres) RolloverPatientVersion(ctx context.Context, oldKey int64, end time.Time, v *model.PatientVersion) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("rollover patient version %d: %w", oldKey, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE star.dim_patient
		    SET effective_end = $2, is_current = false
		  WHERE patient_key = $1`,
		oldKey, end); err != nil {
		return 0, fmt.Errorf("close patient version %d: %w", oldKey, err)
	}
	var key int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO star.dim_patient
		   (patient_id, first_name, last_name, gender, mrn, date_of_birth,
		    age_group, effective_start, effective_end, is_current)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING patient_key`,
		v.PatientID, v.FirstName, v.LastName, v.Gender, v.MRN, v.DateOfBirth,
		v.AgeGroup, v.EffectiveStart, v.EffectiveEnd, v.IsCurrent).Scan(&key); err != nil {
		return 0, fmt.Errorf("insert patient version %q: %w", v.PatientID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("rollover patient version %d: %w", oldKey, err)
	}
	return key, nil
}

func (p *Postgres) UpdateCurrentPatient(ctx context.Context, v *model.PatientVersion) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE star.dim_patient
		    SET first_name = $2, last_name = $3, gender = $4, mrn = $5,
		        date_of_birth = $6, age_group = $7
		  WHERE patient_key = $1`,
		v.PatientKey, v.FirstName, v.LastName, v.Gender, v.MRN, v.DateOfBirth, v.AgeGroup)
	if err != nil {
		return fmt.Errorf("update current patient %q: %w", v.PatientID, err)
	}
	return nil
}

func (p *Postgres) PatientKeyAsOf(ctx context.Context, patientID string, at time.Time) (int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT patient_key FROM star.dim_patient
		  WHERE patient_id = $1 AND effective_start <= $2 AND effective_end > $2`,
		patientID, at)
	if err != nil {
		return 0, fmt.Errorf("resolve patient %q: %w", patientID, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("resolve patient %q: %w", patientID, err)
	}
	if len(keys) == 0 {
		// Reference dates before the first recorded version resolve to it.
		return p.earliestVersionKey(ctx, "patient", patientID,
			`SELECT patient_key FROM star.dim_patient
			  WHERE patient_id = $1 ORDER BY effective_start LIMIT 1`)
	}
	return pickVersionKey(keys)
}

func (p *Postgres) CurrentProvider(ctx context.Context, providerID string) (*model.ProviderVersion, error) {
	var v model.ProviderVersion
	err := p.pool.QueryRow(ctx,
		`SELECT provider_key, provider_id, full_name, credential, specialty_id,
		        effective_start, effective_end, is_current
		   FROM star.dim_provider
		  WHERE provider_id = $1 AND is_current`,
		providerID).Scan(&v.ProviderKey, &v.ProviderID, &v.FullName, &v.Credential,
		&v.SpecialtyID, &v.EffectiveStart, &v.EffectiveEnd, &v.IsCurrent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current provider %q: %w", providerID, err)
	}
	return &v, nil
}

func (p *Postgres) InsertProviderVersion(ctx context.Context, v *model.ProviderVersion) (int64, error) {
	var key int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO star.dim_provider
		   (provider_id, full_name, credential, specialty_id,
		    effective_start, effective_end, is_current)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING provider_key`,
		v.ProviderID, v.FullName, v.Credential, v.SpecialtyID,
		v.EffectiveStart, v.EffectiveEnd, v.IsCurrent).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("insert provider version %q: %w", v.ProviderID, err)
	}
	return key, nil
}

func (p *Postgres) RolloverProviderVersion(ctx context.Context, oldKey int64, end time.Time, v *model.ProviderVersion) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("rollover provider version %d: %w", oldKey, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE star.dim_provider
		    SET effective_end = $2, is_current = false
		  WHERE provider_key = $1`,
		oldKey, end); err != nil {
		return 0, fmt.Errorf("close provider version %d: %w", oldKey, err)
	}
	var key int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO star.dim_provider
		   (provider_id, full_name, credential, specialty_id,
		    effective_start, effective_end, is_current)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING provider_key`,
		v.ProviderID, v.FullName, v.Credential, v.SpecialtyID,
		v.EffectiveStart, v.EffectiveEnd, v.IsCurrent).Scan(&key); err != nil {
		return 0, fmt.Errorf("insert provider version %q: %w", v.ProviderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("rollover provider version %d: %w", oldKey, err)
	}
	return key, nil
}

func (p *Postgres) UpdateCurrentProvider(ctx context.Context, v *model.ProviderVersion) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE star.dim_provider
		    SET full_name = $2, credential = $3, specialty_id = $4
		  WHERE provider_key = $1`,
		v.ProviderKey, v.FullName, v.Credential, v.SpecialtyID)
	if err != nil {
		return fmt.Errorf("update current provider %q: %w", v.ProviderID, err)
	}
	return nil
}

func (p *Postgres) ProviderKeyAsOf(ctx context.Context, providerID string, at time.Time) (int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT provider_key FROM star.dim_provider
		  WHERE provider_id = $1 AND effective_start <= $2 AND effective_end > $2`,
		providerID, at)
	if err != nil {
		return 0, fmt.Errorf("resolve provider %q: %w", providerID, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("resolve provider %q: %w", providerID, err)
	}
	if len(keys) == 0 {
		return p.earliestVersionKey(ctx, "provider", providerID,
			`SELECT provider_key FROM star.dim_provider
			  WHERE provider_id = $1 ORDER BY effective_start LIMIT 1`)
	}
	return pickVersionKey(keys)
}

// earliestVersionKey backstops time-gated resolution for reference dates
// that predate the dimension's first effective_start.
func (p *Postgres) earliestVersionKey(ctx context.Context, what, naturalKey, query string) (int64, error) {
	var key int64
	err := p.pool.QueryRow(ctx, query, naturalKey).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve %s %q: %w", what, naturalKey, err)
	}
	return key, nil
}

func (p *Postgres) GetFact(ctx context.Context, encounterID string) (*model.FactRow, error) {
	var f model.FactRow
	err := p.pool.QueryRow(ctx,
		`SELECT encounter_key, encounter_id, date_key, discharge_date_key,
		        patient_key, provider_key, specialty_key, department_key,
		        encounter_type_key, diagnosis_count, procedure_count,
		        total_allowed_amount, total_claim_amount, length_of_stay_days,
		        is_readmission_candidate
		   FROM star.fact_encounter
		  WHERE encounter_id = $1`,
		encounterID).Scan(&f.EncounterKey, &f.EncounterID, &f.DateKey, &f.DischargeDateKey,
		&f.PatientKey, &f.ProviderKey, &f.SpecialtyKey, &f.DepartmentKey,
		&f.EncounterTypeKey, &f.Metrics.DiagnosisCount, &f.Metrics.ProcedureCount,
		&f.Metrics.TotalAllowedAmountCents, &f.Metrics.TotalClaimAmountCents,
		&f.Metrics.LengthOfStayDays, &f.Metrics.IsReadmissionCandidate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fact %q: %w", encounterID, err)
	}
	return &f, nil
}

func (p *Postgres) InsertFact(ctx context.Context, f *model.FactRow) (int64, error) {
	var key int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO star.fact_encounter
		   (encounter_id, date_key, discharge_date_key, patient_key, provider_key,
		    specialty_key, department_key, encounter_type_key, diagnosis_count,
		    procedure_count, total_allowed_amount, total_claim_amount,
		    length_of_stay_days, is_readmission_candidate)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING encounter_key`,
		f.EncounterID, f.DateKey, f.DischargeDateKey, f.PatientKey, f.ProviderKey,
		f.SpecialtyKey, f.DepartmentKey, f.EncounterTypeKey,
		f.Metrics.DiagnosisCount, f.Metrics.ProcedureCount,
		f.Metrics.TotalAllowedAmountCents, f.Metrics.TotalClaimAmountCents,
		f.Metrics.LengthOfStayDays, f.Metrics.IsReadmissionCandidate).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("insert fact %q: %w", f.EncounterID, err)
	}
	return key, nil
}

func (p *Postgres) UpdateFactMeasures(ctx context.Context, encounterKey int64, m model.EncounterMetrics) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE star.fact_encounter
		    SET diagnosis_count = $2, procedure_count = $3,
		        total_allowed_amount = $4, total_claim_amount = $5,
		        length_of_stay_days = $6, is_readmission_candidate = $7
		  WHERE encounter_key = $1`,
		encounterKey, m.DiagnosisCount, m.ProcedureCount,
		m.TotalAllowedAmountCents, m.TotalClaimAmountCents,
		m.LengthOfStayDays, m.IsReadmissionCandidate)
	if err != nil {
		return fmt.Errorf("update fact measures %d: %w", encounterKey, err)
	}
	return nil
}

func (p *Postgres) GetDiagnosisBridge(ctx context.Context, encounterKey, diagnosisKey int64) (*model.DiagnosisBridge, error) {
	var b model.DiagnosisBridge
	err := p.pool.QueryRow(ctx,
		`SELECT encounter_key, diagnosis_key, diagnosis_sequence, is_primary
		   FROM star.bridge_encounter_diagnosis
		  WHERE encounter_key = $1 AND diagnosis_key = $2`,
		encounterKey, diagnosisKey).Scan(&b.EncounterKey, &b.DiagnosisKey, &b.Sequence, &b.IsPrimary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get diagnosis bridge (%d,%d): %w", encounterKey, diagnosisKey, err)
	}
	return &b, nil
}

func (p *Postgres) InsertDiagnosisBridge(ctx context.Context, b model.DiagnosisBridge) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO star.bridge_encounter_diagnosis
		   (encounter_key, diagnosis_key, diagnosis_sequence, is_primary)
		 VALUES ($1, $2, $3, $4)`,
		b.EncounterKey, b.DiagnosisKey, b.Sequence, b.IsPrimary)
	if err != nil {
		return fmt.Errorf("insert diagnosis bridge (%d,%d): %w", b.EncounterKey, b.DiagnosisKey, err)
	}
	return nil
}

func (p *Postgres) UpdateDiagnosisBridge(ctx context.Context, b model.DiagnosisBridge) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE star.bridge_encounter_diagnosis
		    SET diagnosis_sequence = $3, is_primary = $4
		  WHERE encounter_key = $1 AND diagnosis_key = $2`,
		b.EncounterKey, b.DiagnosisKey, b.Sequence, b.IsPrimary)
	if err != nil {
		return fmt.Errorf("update diagnosis bridge (%d,%d): %w", b.EncounterKey, b.DiagnosisKey, err)
	}
	return nil
}

func (p *Postgres) GetProcedureBridge(ctx context.Context, encounterKey, procedureKey int64) (*model.ProcedureBridge, error) {
	var b model.ProcedureBridge
	err := p.pool.QueryRow(ctx,
		`SELECT encounter_key, procedure_key, procedure_date_key
		   FROM star.bridge_encounter_procedure
		  WHERE encounter_key = $1 AND procedure_key = $2`,
		encounterKey, procedureKey).Scan(&b.EncounterKey, &b.ProcedureKey, &b.ProcedureDateKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get procedure bridge (%d,%d): %w", encounterKey, procedureKey, err)
	}
	return &b, nil
}

func (p *Postgres) InsertProcedureBridge(ctx context.Context, b model.ProcedureBridge) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO star.bridge_encounter_procedure
		   (encounter_key, procedure_key, procedure_date_key)
		 VALUES ($1, $2, $3)`,
		b.EncounterKey, b.ProcedureKey, b.ProcedureDateKey)
	if err != nil {
		return fmt.Errorf("insert procedure bridge (%d,%d): %w", b.EncounterKey, b.ProcedureKey, err)
	}
	return nil
}

func (p *Postgres) UpdateProcedureBridge(ctx context.Context, b model.ProcedureBridge) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE star.bridge_encounter_procedure
		    SET procedure_date_key = $3
		  WHERE encounter_key = $1 AND procedure_key = $2`,
		b.EncounterKey, b.ProcedureKey, b.ProcedureDateKey)
	if err != nil {
		return fmt.Errorf("update procedure bridge (%d,%d): %w", b.EncounterKey, b.ProcedureKey, err)
	}
	return nil
}

func (p *Postgres) InsertRun(ctx context.Context, runID uuid.UUID, runDate time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO meta.etl_runs (run_id, run_date, status) VALUES ($1, $2, $3)`,
		runID, runDate, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

func (p *Postgres) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE meta.etl_runs SET status = $2 WHERE run_id = $1`,
		runID, status)
	if err != nil {
		return fmt.Errorf("update run %s status: %w", runID, err)
	}
	return nil
}

func (p *Postgres) FinishRun(ctx context.Context, runID uuid.UUID, status string, s *model.RunSummary) error {
	skipped := s.Dimensions.Skipped + s.Facts.Skipped + s.Bridges.Skipped
	_, err := p.pool.Exec(ctx,
		`UPDATE meta.etl_runs
		    SET status = $2, finished_at = now(),
		        facts_inserted = $3, facts_updated = $4, rows_skipped = $5
		  WHERE run_id = $1`,
		runID, status, s.Facts.Inserted, s.Facts.Updated, skipped)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// pickVersionKey maps a covering-version result set onto resolver errors.
func pickVersionKey(keys []int64) (int64, error) {
	switch len(keys) {
	case 0:
		return 0, ErrNotFound
	case 1:
		return keys[0], nil
	default:
		return 0, ErrAmbiguousVersion
	}
}
