// Package warehouse owns all access to the star-schema target store. The
// pipeline is the only writer during a run; loaders do explicit
// read-compare-write reconciliation through the Store interface so the
// Type-1 vs Type-2 overwrite rules live in the engine, not in SQL.
package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gyeh/caremart/internal/model"
)

// ErrNotFound reports a surrogate key lookup that matched no dimension row.
var ErrNotFound = errors.New("dimension row not found")

// ErrAmbiguousVersion reports more than one version covering a reference
// date for one natural key. The SCD invariants make this impossible unless
// a prior run corrupted the history, so callers surface it as a
// data-integrity alarm rather than an ordinary miss.
var ErrAmbiguousVersion = errors.New("multiple dimension versions cover reference date")

// Run statuses recorded in meta.etl_runs.
const (
	RunStatusRunning     = "running"
	RunStatusDimsLoaded  = "dimensions_loaded"
	RunStatusFactsLoaded = "facts_loaded"
	RunStatusCompleted   = "completed"
	RunStatusFailed      = "failed"
)

// Store is the read/write surface of the target store. Get methods return
// (nil, nil) when the row is absent; key lookups return ErrNotFound.
type Store interface {
	// Calendar dimension. The key is deterministic, so insert-if-absent is
	// all the reconciliation the date dimension needs.
	InsertDateIfAbsent(ctx context.Context, row model.DateDim) (inserted bool, err error)

	// Type-1 dimensions.
	GetSimpleDim(ctx context.Context, kind model.DimKind, naturalKey string) (*model.SimpleDim, error)
	InsertSimpleDim(ctx context.Context, kind model.DimKind, row model.SimpleDim) (int64, error)
	UpdateSimpleDim(ctx context.Context, kind model.DimKind, row model.SimpleDim) error
	SimpleDimKey(ctx context.Context, kind model.DimKind, naturalKey string) (int64, error)

	// Type-2 patient dimension. Rollover closes the old version and inserts
	// its successor in one transaction so a crash cannot leave a patient
	// with no current version.
	CurrentPatient(ctx context.Context, patientID string) (*model.PatientVersion, error)
	InsertPatientVersion(ctx context.Context, v *model.PatientVersion) (int64, error)
	RolloverPatientVersion(ctx context.Context, oldKey int64, end time.Time, v *model.PatientVersion) (int64, error)
	UpdateCurrentPatient(ctx context.Context, v *model.PatientVersion) error
	PatientKeyAsOf(ctx context.Context, patientID string, at time.Time) (int64, error)

	// Type-2 provider dimension.
	CurrentProvider(ctx context.Context, providerID string) (*model.ProviderVersion, error)
	InsertProviderVersion(ctx context.Context, v *model.ProviderVersion) (int64, error)
	RolloverProviderVersion(ctx context.Context, oldKey int64, end time.Time, v *model.ProviderVersion) (int64, error)
	UpdateCurrentProvider(ctx context.Context, v *model.ProviderVersion) error
	ProviderKeyAsOf(ctx context.Context, providerID string, at time.Time) (int64, error)

	// Fact table, one row per encounter natural key.
	GetFact(ctx context.Context, encounterID string) (*model.FactRow, error)
	InsertFact(ctx context.Context, f *model.FactRow) (int64, error)
	UpdateFactMeasures(ctx context.Context, encounterKey int64, m model.EncounterMetrics) error

	// Bridge tables.
	GetDiagnosisBridge(ctx context.Context, encounterKey, diagnosisKey int64) (*model.DiagnosisBridge, error)
	InsertDiagnosisBridge(ctx context.Context, b model.DiagnosisBridge) error
	UpdateDiagnosisBridge(ctx context.Context, b model.DiagnosisBridge) error
	GetProcedureBridge(ctx context.Context, encounterKey, procedureKey int64) (*model.ProcedureBridge, error)
	InsertProcedureBridge(ctx context.Context, b model.ProcedureBridge) error
	UpdateProcedureBridge(ctx context.Context, b model.ProcedureBridge) error

	// Run bookkeeping.
	InsertRun(ctx context.Context, runID uuid.UUID, runDate time.Time) error
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status string) error
	FinishRun(ctx context.Context, runID uuid.UUID, status string, s *model.RunSummary) error
}
