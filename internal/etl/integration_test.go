package etl_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyeh/caremart/internal/config"
	"github.com/gyeh/caremart/internal/db"
	"github.com/gyeh/caremart/internal/etl"
	"github.com/gyeh/caremart/internal/logging"
	"github.com/gyeh/caremart/internal/source"
	"github.com/gyeh/caremart/internal/warehouse"
)

const (
	testPort     = 15433
	testDB       = "marttest"
	testUser     = "postgres"
	testPassword = "postgres"
)

var (
	testDSN string
	pg      *embeddedpostgres.EmbeddedPostgres
)

func TestMain(m *testing.M) {
	testDSN = fmt.Sprintf("postgresql://%s:%s@localhost:%d/%s?sslmode=disable",
		testUser, testPassword, testPort, testDB)

	pg = embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(uint32(testPort)).
			Database(testDB).
			Username(testUser).
			Password(testPassword).
			Version(embeddedpostgres.V16).
			StartTimeout(30 * time.Second),
	)

	if err := pg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start embedded postgres: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := pg.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to stop embedded postgres: %v\n", err)
	}

	os.Exit(code)
}

// setupDB creates a connection pool and applies migrations onto a clean
// target.
func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDSN)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	for _, schema := range []string{"star", "meta"} {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Fatalf("drop schema %s: %v", schema, err)
		}
	}

	log := logging.Setup("text")
	if err := db.ApplyMigrations(ctx, pool, log); err != nil {
		pool.Close()
		t.Fatalf("migrations: %v", err)
	}

	t.Cleanup(func() { pool.Close() })
	return pool
}

// writeFixtureDir dumps a small but complete snapshot the way an extract
// job would, one Parquet file per source table.
func writeFixtureDir(t *testing.T, patientLastName string) string {
	t.Helper()
	dir := t.TempDir()

	write := func(name string, err error) {
		if err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	write(source.PatientsFile, source.WriteAll(filepath.Join(dir, source.PatientsFile), []source.PatientRecord{
		{PatientID: "P1", FirstName: "Jane", LastName: patientLastName, Gender: "F", MRN: "MRN001", DateOfBirth: "1985-06-01"},
		{PatientID: "P2", FirstName: "John", LastName: "Roe", Gender: "M", MRN: "MRN002"},
	}))
	write(source.ProvidersFile, source.WriteAll(filepath.Join(dir, source.ProvidersFile), []source.ProviderRecord{
		{ProviderID: "DR1", FullName: "Gregory House", Credential: "MD", SpecialtyID: "SPC1"},
	}))
	write(source.SpecialtiesFile, source.WriteAll(filepath.Join(dir, source.SpecialtiesFile), []source.SpecialtyRecord{
		{SpecialtyID: "SPC1", Name: "Diagnostics"},
	}))
	write(source.DepartmentsFile, source.WriteAll(filepath.Join(dir, source.DepartmentsFile), []source.DepartmentRecord{
		{DepartmentID: "DEP1", Name: "Medicine"},
	}))
	write(source.EncountersFile, source.WriteAll(filepath.Join(dir, source.EncountersFile), []source.EncounterRecord{
		{EncounterID: "E1", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Inpatient", EncounterDate: "2024-01-10", DischargeDate: "2024-01-14"},
		{EncounterID: "E2", PatientID: "P2", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Outpatient", EncounterDate: "2024-01-12"},
	}))
	write(source.DiagnosesFile, source.WriteAll(filepath.Join(dir, source.DiagnosesFile), []source.DiagnosisRecord{
		{DiagnosisCode: "E11.9", Description: "Type 2 diabetes"},
		{DiagnosisCode: "I10", Description: "Essential hypertension"},
	}))
	write(source.ProceduresFile, source.WriteAll(filepath.Join(dir, source.ProceduresFile), []source.ProcedureRecord{
		{ProcedureCode: "99213", Description: "Office visit"},
	}))
	write(source.EncounterDiagnosesFile, source.WriteAll(filepath.Join(dir, source.EncounterDiagnosesFile), []source.EncounterDiagnosisRecord{
		{EncounterID: "E1", DiagnosisCode: "E11.9", Sequence: 1},
		{EncounterID: "E1", DiagnosisCode: "I10", Sequence: 2},
	}))
	write(source.EncounterProceduresFile, source.WriteAll(filepath.Join(dir, source.EncounterProceduresFile), []source.EncounterProcedureRecord{
		{EncounterID: "E1", ProcedureCode: "99213", ProcedureDate: "2024-01-11"},
	}))
	write(source.BillingFile, source.WriteAll(filepath.Join(dir, source.BillingFile), []source.BillingRecord{
		{BillingID: "B1", EncounterID: "E1", ClaimAmount: 1200.00, AllowedAmount: 950.50, BillDate: "2024-01-20"},
	}))

	return dir
}

func countRow(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

func TestMigrations_Idempotent(t *testing.T) {
	pool := setupDB(t)
	log := logging.Setup("text")

	// Everything is IF NOT EXISTS; a second pass must be a no-op.
	if err := db.ApplyMigrations(context.Background(), pool, log); err != nil {
		t.Fatalf("second ApplyMigrations: %v", err)
	}
}

func TestEndToEnd_Pipeline(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()
	log := logging.Setup("text")

	dir := writeFixtureDir(t, "Doe")
	cfg := &config.Config{SourceDir: dir, RunDate: "2024-01-15", LogFormat: "text"}

	summary, err := etl.Run(ctx, source.NewParquetDir(dir), warehouse.NewPostgres(pool), log, cfg)
	if err != nil {
		t.Fatalf("etl.Run: %v", err)
	}
	if len(summary.SkippedRows) != 0 {
		t.Fatalf("SkippedRows = %+v, want none", summary.SkippedRows)
	}

	t.Run("table_counts", func(t *testing.T) {
		checks := []struct {
			table string
			want  int64
		}{
			{"star.dim_date", 5},
			{"star.dim_specialty", 1},
			{"star.dim_department", 1},
			{"star.dim_encounter_type", 2},
			{"star.dim_diagnosis", 2},
			{"star.dim_procedure", 1},
			{"star.dim_patient", 2},
			{"star.dim_provider", 1},
			{"star.fact_encounter", 2},
			{"star.bridge_encounter_diagnosis", 2},
			{"star.bridge_encounter_procedure", 1},
		}
		for _, c := range checks {
			if got := countRow(t, pool, "SELECT count(*) FROM "+c.table); got != c.want {
				t.Errorf("%s: got %d rows, want %d", c.table, got, c.want)
			}
		}
	})

	t.Run("fact_measures", func(t *testing.T) {
		var diagCount, procCount int32
		var allowed, claim int64
		var los *int32
		var readmit bool
		err := pool.QueryRow(ctx,
			`SELECT diagnosis_count, procedure_count, total_allowed_amount,
			        total_claim_amount, length_of_stay_days, is_readmission_candidate
			 FROM star.fact_encounter WHERE encounter_id = 'E1'`).
			Scan(&diagCount, &procCount, &allowed, &claim, &los, &readmit)
		if err != nil {
			t.Fatalf("query fact: %v", err)
		}
		if diagCount != 2 || procCount != 1 {
			t.Errorf("counts = %d, %d; want 2, 1", diagCount, procCount)
		}
		if claim != 120000 || allowed != 95050 {
			t.Errorf("cents = claim %d, allowed %d; want 120000, 95050", claim, allowed)
		}
		if los == nil || *los != 4 {
			t.Errorf("length_of_stay_days = %v, want 4", los)
		}
		if !readmit {
			t.Error("inpatient encounter should be flagged as readmission candidate")
		}
	})

	t.Run("unbilled_fact_zero_sums", func(t *testing.T) {
		var allowed, claim int64
		err := pool.QueryRow(ctx,
			`SELECT total_allowed_amount, total_claim_amount
			 FROM star.fact_encounter WHERE encounter_id = 'E2'`).Scan(&allowed, &claim)
		if err != nil {
			t.Fatalf("query fact: %v", err)
		}
		if allowed != 0 || claim != 0 {
			t.Errorf("unbilled sums = %d, %d; want zeroes", allowed, claim)
		}
	})

	t.Run("current_version_open_ended", func(t *testing.T) {
		var end time.Time
		var current bool
		err := pool.QueryRow(ctx,
			`SELECT effective_end, is_current FROM star.dim_patient WHERE patient_id = 'P1'`).
			Scan(&end, &current)
		if err != nil {
			t.Fatalf("query dim_patient: %v", err)
		}
		if !current || end.Format("2006-01-02") != "9999-12-31" {
			t.Errorf("version = current %v, end %v; want an open-ended current row", current, end)
		}
	})

	t.Run("primary_diagnosis_flag", func(t *testing.T) {
		var primaries int64
		err := pool.QueryRow(ctx,
			`SELECT count(*) FROM star.bridge_encounter_diagnosis WHERE is_primary`).Scan(&primaries)
		if err != nil {
			t.Fatalf("query bridge: %v", err)
		}
		if primaries != 1 {
			t.Errorf("primary diagnosis rows = %d, want 1", primaries)
		}
	})

	t.Run("run_recorded", func(t *testing.T) {
		var status string
		var finished *time.Time
		err := pool.QueryRow(ctx,
			`SELECT status, finished_at FROM meta.etl_runs WHERE run_id = $1`, summary.RunID).
			Scan(&status, &finished)
		if err != nil {
			t.Fatalf("query etl_runs: %v", err)
		}
		if status != warehouse.RunStatusCompleted {
			t.Errorf("status = %q, want completed", status)
		}
		if finished == nil {
			t.Error("finished_at not set")
		}
	})
}

func TestEndToEnd_RerunAndHistory(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()
	log := logging.Setup("text")

	dir := writeFixtureDir(t, "Doe")
	cfg := &config.Config{SourceDir: dir, RunDate: "2024-01-15", LogFormat: "text"}
	if _, err := etl.Run(ctx, source.NewParquetDir(dir), warehouse.NewPostgres(pool), log, cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same snapshot, same run date: nothing may change.
	summary, err := etl.Run(ctx, source.NewParquetDir(dir), warehouse.NewPostgres(pool), log, cfg)
	if err != nil {
		t.Fatalf("re-run: %v", err)
	}
	if summary.Dimensions.Inserted != 0 || summary.Facts.Inserted != 0 || summary.Bridges.Inserted != 0 {
		t.Errorf("re-run inserted rows: %+v", summary)
	}
	if got := countRow(t, pool, "SELECT count(*) FROM star.dim_patient WHERE patient_id = 'P1'"); got != 1 {
		t.Fatalf("re-run duplicated patient versions: %d", got)
	}

	// A month later P1's last name changed: the run closes the old version
	// and opens a new one.
	dir2 := writeFixtureDir(t, "Smith")
	cfg2 := &config.Config{SourceDir: dir2, RunDate: "2024-02-15", LogFormat: "text"}
	if _, err := etl.Run(ctx, source.NewParquetDir(dir2), warehouse.NewPostgres(pool), log, cfg2); err != nil {
		t.Fatalf("history run: %v", err)
	}

	rows, err := pool.Query(ctx,
		`SELECT last_name, effective_start, effective_end, is_current
		 FROM star.dim_patient WHERE patient_id = 'P1' ORDER BY effective_start`)
	if err != nil {
		t.Fatalf("query versions: %v", err)
	}
	defer rows.Close()

	type version struct {
		lastName   string
		start, end string
		current    bool
	}
	var versions []version
	for rows.Next() {
		var v version
		var start, end time.Time
		if err := rows.Scan(&v.lastName, &start, &end, &v.current); err != nil {
			t.Fatalf("scan: %v", err)
		}
		v.start, v.end = start.Format("2006-01-02"), end.Format("2006-01-02")
		versions = append(versions, v)
	}
	if len(versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(versions))
	}
	if v := versions[0]; v.lastName != "Doe" || v.end != "2024-02-15" || v.current {
		t.Errorf("closed version = %+v", v)
	}
	if v := versions[1]; v.lastName != "Smith" || v.start != "2024-02-15" || v.end != "9999-12-31" || !v.current {
		t.Errorf("current version = %+v", v)
	}

	// Existing facts keep their original patient version.
	var factLastName string
	err = pool.QueryRow(ctx,
		`SELECT p.last_name FROM star.fact_encounter f
		 JOIN star.dim_patient p ON p.patient_key = f.patient_key
		 WHERE f.encounter_id = 'E1'`).Scan(&factLastName)
	if err != nil {
		t.Fatalf("query fact join: %v", err)
	}
	if factLastName != "Doe" {
		t.Errorf("fact patient version = %q, want the version valid at encounter time", factLastName)
	}
}
