package warehouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyeh/caremart/internal/model"
)

// MemStore is an in-memory Store used by loader tests. It enforces the
// same uniqueness constraints as the Postgres schema so constraint
// behavior can be exercised without a database.
type MemStore struct {
	mu      sync.Mutex
	nextKey int64

	dates       map[int32]model.DateDim
	simple      map[model.DimKind]map[string]model.SimpleDim
	patients    []model.PatientVersion
	providers   []model.ProviderVersion
	facts       map[string]model.FactRow
	diagBridges map[[2]int64]model.DiagnosisBridge
	procBridges map[[2]int64]model.ProcedureBridge
	runs        map[uuid.UUID]string
}

// NewMemStore creates an empty in-memory target store.
func NewMemStore() *MemStore {
	simple := make(map[model.DimKind]map[string]model.SimpleDim)
	for _, kind := range model.SimpleDimKinds {
		simple[kind] = make(map[string]model.SimpleDim)
	}
	return &MemStore{
		dates:       make(map[int32]model.DateDim),
		simple:      simple,
		facts:       make(map[string]model.FactRow),
		diagBridges: make(map[[2]int64]model.DiagnosisBridge),
		procBridges: make(map[[2]int64]model.ProcedureBridge),
		runs:        make(map[uuid.UUID]string),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) nextSurrogate() int64 {
	m.nextKey++
	return m.nextKey
}

func (m *MemStore) InsertDateIfAbsent(_ context.Context, row model.DateDim) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dates[row.DateKey]; ok {
		return false, nil
	}
	m.dates[row.DateKey] = row
	return true, nil
}

// DateCount reports how many calendar rows exist, for test assertions.
func (m *MemStore) DateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dates)
}

// HasDate reports whether a calendar key was materialized.
func (m *MemStore) HasDate(key int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dates[key]
	return ok
}

func (m *MemStore) GetSimpleDim(_ context.Context, kind model.DimKind, naturalKey string) (*model.SimpleDim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.simple[kind]
	if !ok {
		return nil, fmt.Errorf("unknown simple dimension kind %q", kind)
	}
	row, ok := rows[naturalKey]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *MemStore) InsertSimpleDim(_ context.Context, kind model.DimKind, row model.SimpleDim) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.simple[kind]
	if !ok {
		return 0, fmt.Errorf("unknown simple dimension kind %q", kind)
	}
	if _, dup := rows[row.NaturalKey]; dup {
		return 0, fmt.Errorf("duplicate %s natural key %q", kind, row.NaturalKey)
	}
	row.Key = m.nextSurrogate()
	rows[row.NaturalKey] = row
	return row.Key, nil
}

func (m *MemStore) UpdateSimpleDim(_ context.Context, kind model.DimKind, row model.SimpleDim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.simple[kind]
	for nk, existing := range rows {
		if existing.Key == row.Key {
			existing.Name = row.Name
			rows[nk] = existing
			return nil
		}
	}
	return fmt.Errorf("%s key %d not found", kind, row.Key)
}

func (m *MemStore) SimpleDimKey(_ context.Context, kind model.DimKind, naturalKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.simple[kind]
	if !ok {
		return 0, fmt.Errorf("unknown simple dimension kind %q", kind)
	}
	row, ok := rows[naturalKey]
	if !ok {
		return 0, ErrNotFound
	}
	return row.Key, nil
}

// SimpleDimCount reports the row count of one Type-1 dimension.
func (m *MemStore) SimpleDimCount(kind model.DimKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.simple[kind])
}

func (m *MemStore) CurrentPatient(_ context.Context, patientID string) (*model.PatientVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.patients {
		if m.patients[i].PatientID == patientID && m.patients[i].IsCurrent {
			v := m.patients[i]
			return &v, nil
		}
	}
	return nil, nil
}

func (m *MemStore) InsertPatientVersion(_ context.Context, v *model.PatientVersion) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.patients {
		if m.patients[i].PatientID == v.PatientID {
			if m.patients[i].EffectiveStart.Equal(v.EffectiveStart) {
				return 0, fmt.Errorf("duplicate patient version (%s, %s)",
					v.PatientID, v.EffectiveStart.Format("2006-01-02"))
			}
			if m.patients[i].IsCurrent && v.IsCurrent {
				return 0, fmt.Errorf("second current version for patient %s", v.PatientID)
			}
		}
	}
	nv := *v
	nv.PatientKey = m.nextSurrogate()
	m.patients = append(m.patients, nv)
	return nv.PatientKey, nil
}

func (m *MemStore) RolloverPatientVersion(_ context.Context, oldKey int64, end time.Time, v *model.PatientVersion) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := -1
	for i := range m.patients {
		if m.patients[i].PatientKey == oldKey {
			old = i
		}
		if m.patients[i].PatientID == v.PatientID &&
			m.patients[i].EffectiveStart.Equal(v.EffectiveStart) {
			return 0, fmt.Errorf("duplicate patient version (%s, %s)",
				v.PatientID, v.EffectiveStart.Format("2006-01-02"))
		}
	}
	if old < 0 {
		return 0, fmt.Errorf("patient key %d not found", oldKey)
	}
	m.patients[old].EffectiveEnd = end
	m.patients[old].IsCurrent = false
	nv := *v
	nv.PatientKey = m.nextSurrogate()
	m.patients = append(m.patients, nv)
	return nv.PatientKey, nil
}

func (m *MemStore) UpdateCurrentPatient(_ context.Context, v *model.PatientVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.patients {
		if m.patients[i].PatientKey == v.PatientKey {
			m.patients[i].FirstName = v.FirstName
			m.patients[i].LastName = v.LastName
			m.patients[i].Gender = v.Gender
			m.patients[i].MRN = v.MRN
			m.patients[i].DateOfBirth = v.DateOfBirth
			m.patients[i].AgeGroup = v.AgeGroup
			return nil
		}
	}
	return fmt.Errorf("patient key %d not found", v.PatientKey)
}

func (m *MemStore) PatientKeyAsOf(_ context.Context, patientID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []int64
	earliest := -1
	for i := range m.patients {
		v := &m.patients[i]
		if v.PatientID != patientID {
			continue
		}
		if model.Covers(v.EffectiveStart, v.EffectiveEnd, at) {
			keys = append(keys, v.PatientKey)
		}
		if earliest < 0 || v.EffectiveStart.Before(m.patients[earliest].EffectiveStart) {
			earliest = i
		}
	}
	if len(keys) == 0 && earliest >= 0 {
		// Reference dates before the first recorded version resolve to it.
		return m.patients[earliest].PatientKey, nil
	}
	return pickVersionKey(keys)
}

// PatientVersions returns all versions for a natural key in insert order,
// for test assertions.
func (m *MemStore) PatientVersions(patientID string) []model.PatientVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PatientVersion
	for _, v := range m.patients {
		if v.PatientID == patientID {
			out = append(out, v)
		}
	}
	return out
}

func (m *MemStore) CurrentProvider(_ context.Context, providerID string) (*model.ProviderVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.providers {
		if m.providers[i].ProviderID == providerID && m.providers[i].IsCurrent {
			v := m.providers[i]
			return &v, nil
		}
	}
	return nil, nil
}

func (m *MemStore) InsertProviderVersion(_ context.Context, v *model.ProviderVersion) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.providers {
		if m.providers[i].ProviderID == v.ProviderID {
			if m.providers[i].EffectiveStart.Equal(v.EffectiveStart) {
				return 0, fmt.Errorf("duplicate provider version (%s, %s)",
					v.ProviderID, v.EffectiveStart.Format("2006-01-02"))
			}
			if m.providers[i].IsCurrent && v.IsCurrent {
				return 0, fmt.Errorf("second current version for provider %s", v.ProviderID)
			}
		}
	}
	nv := *v
	nv.ProviderKey = m.nextSurrogate()
	m.providers = append(m.providers, nv)
	return nv.ProviderKey, nil
}

func (m *MemStore) RolloverProviderVersion(_ context.Context, oldKey int64, end time.Time, v *model.ProviderVersion) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := -1
	for i := range m.providers {
		if m.providers[i].ProviderKey == oldKey {
			old = i
		}
		if m.providers[i].ProviderID == v.ProviderID &&
			m.providers[i].EffectiveStart.Equal(v.EffectiveStart) {
			return 0, fmt.Errorf("duplicate provider version (%s, %s)",
				v.ProviderID, v.EffectiveStart.Format("2006-01-02"))
		}
	}
	if old < 0 {
		return 0, fmt.Errorf("provider key %d not found", oldKey)
	}
	m.providers[old].EffectiveEnd = end
	m.providers[old].IsCurrent = false
	nv := *v
	nv.ProviderKey = m.nextSurrogate()
	m.providers = append(m.providers, nv)
	return nv.ProviderKey, nil
}

func (m *MemStore) UpdateCurrentProvider(_ context.Context, v *model.ProviderVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.providers {
		if m.providers[i].ProviderKey == v.ProviderKey {
			m.providers[i].FullName = v.FullName
			m.providers[i].Credential = v.Credential
			m.providers[i].SpecialtyID = v.SpecialtyID
			return nil
		}
	}
	return fmt.Errorf("provider key %d not found", v.ProviderKey)
}

func (m *MemStore) ProviderKeyAsOf(_ context.Context, providerID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []int64
	earliest := -1
	for i := range m.providers {
		v := &m.providers[i]
		if v.ProviderID != providerID {
			continue
		}
		if model.Covers(v.EffectiveStart, v.EffectiveEnd, at) {
			keys = append(keys, v.ProviderKey)
		}
		if earliest < 0 || v.EffectiveStart.Before(m.providers[earliest].EffectiveStart) {
			earliest = i
		}
	}
	if len(keys) == 0 && earliest >= 0 {
		return m.providers[earliest].ProviderKey, nil
	}
	return pickVersionKey(keys)
}

// ProviderVersions returns all versions for a natural key in insert order.
func (m *MemStore) ProviderVersions(providerID string) []model.ProviderVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProviderVersion
	for _, v := range m.providers {
		if v.ProviderID == providerID {
			out = append(out, v)
		}
	}
	return out
}

func (m *MemStore) GetFact(_ context.Context, encounterID string) (*model.FactRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[encounterID]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *MemStore) InsertFact(_ context.Context, f *model.FactRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.facts[f.EncounterID]; dup {
		return 0, fmt.Errorf("duplicate fact for encounter %q", f.EncounterID)
	}
	nf := *f
	nf.EncounterKey = m.nextSurrogate()
	m.facts[f.EncounterID] = nf
	return nf.EncounterKey, nil
}

func (m *MemStore) UpdateFactMeasures(_ context.Context, encounterKey int64, metrics model.EncounterMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.facts {
		if f.EncounterKey == encounterKey {
			f.Metrics = metrics
			m.facts[id] = f
			return nil
		}
	}
	return fmt.Errorf("fact key %d not found", encounterKey)
}

// FactCount reports the fact table row count.
func (m *MemStore) FactCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.facts)
}

func (m *MemStore) GetDiagnosisBridge(_ context.Context, encounterKey, diagnosisKey int64) (*model.DiagnosisBridge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.diagBridges[[2]int64{encounterKey, diagnosisKey}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *MemStore) InsertDiagnosisBridge(_ context.Context, b model.DiagnosisBridge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ck := [2]int64{b.EncounterKey, b.DiagnosisKey}
	if _, dup := m.diagBridges[ck]; dup {
		return fmt.Errorf("duplicate diagnosis bridge (%d,%d)", b.EncounterKey, b.DiagnosisKey)
	}
	m.diagBridges[ck] = b
	return nil
}

func (m *MemStore) UpdateDiagnosisBridge(_ context.Context, b model.DiagnosisBridge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ck := [2]int64{b.EncounterKey, b.DiagnosisKey}
	if _, ok := m.diagBridges[ck]; !ok {
		return fmt.Errorf("diagnosis bridge (%d,%d) not found", b.EncounterKey, b.DiagnosisKey)
	}
	m.diagBridges[ck] = b
	return nil
}

func (m *MemStore) GetProcedureBridge(_ context.Context, encounterKey, procedureKey int64) (*model.ProcedureBridge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.procBridges[[2]int64{encounterKey, procedureKey}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *MemStore) InsertProcedureBridge(_ context.Context, b model.ProcedureBridge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ck := [2]int64{b.EncounterKey, b.ProcedureKey}
	if _, dup := m.procBridges[ck]; dup {
		return fmt.Errorf("duplicate procedure bridge (%d,%d)", b.EncounterKey, b.ProcedureKey)
	}
	m.procBridges[ck] = b
	return nil
}

func (m *MemStore) UpdateProcedureBridge(_ context.Context, b model.ProcedureBridge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ck := [2]int64{b.EncounterKey, b.ProcedureKey}
	if _, ok := m.procBridges[ck]; !ok {
		return fmt.Errorf("procedure bridge (%d,%d) not found", b.EncounterKey, b.ProcedureKey)
	}
	m.procBridges[ck] = b
	return nil
}

// DiagnosisBridgeCount reports the diagnosis bridge row count.
func (m *MemStore) DiagnosisBridgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.diagBridges)
}

// ProcedureBridgeCount reports the procedure bridge row count.
func (m *MemStore) ProcedureBridgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procBridges)
}

func (m *MemStore) InsertRun(_ context.Context, runID uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.runs[runID]; dup {
		return fmt.Errorf("duplicate run %s", runID)
	}
	m.runs[runID] = RunStatusRunning
	return nil
}

func (m *MemStore) UpdateRunStatus(_ context.Context, runID uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	m.runs[runID] = status
	return nil
}

func (m *MemStore) FinishRun(ctx context.Context, runID uuid.UUID, status string, _ *model.RunSummary) error {
	return m.UpdateRunStatus(ctx, runID, status)
}

// RunStatus returns the recorded status for a run, for test assertions.
func (m *MemStore) RunStatus(runID uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[runID]
}
