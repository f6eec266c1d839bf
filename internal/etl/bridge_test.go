package etl

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/warehouse"
)

func bridgeSnapshot() *model.Snapshot {
	snap := factSnapshot()
	snap.Diagnoses = []model.Diagnosis{
		{DiagnosisCode: "E11.9", Description: "Type 2 diabetes"},
		{DiagnosisCode: "I10", Description: "Essential hypertension"},
	}
	snap.Procedures = []model.Procedure{
		{ProcedureCode: "99213", Description: "Office visit"},
	}
	snap.Encounters = []model.Encounter{
		{EncounterID: "E1", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Outpatient", EncounterDate: day(2024, 1, 10)},
	}
	snap.EncounterDiagnoses = []model.EncounterDiagnosis{
		{EncounterID: "E1", DiagnosisCode: "E11.9", Sequence: 1},
		{EncounterID: "E1", DiagnosisCode: "I10", Sequence: 2},
	}
	snap.EncounterProcedures = []model.EncounterProcedure{
		{EncounterID: "E1", ProcedureCode: "99213", ProcedureDate: day(2024, 1, 10)},
	}
	return snap
}

func loadBridgesOnce(t *testing.T, store warehouse.Store, snap *model.Snapshot, rep *report) model.StageStats {
	t.Helper()
	resolver := warehouse.NewResolver(store)
	stats, err := LoadBridges(context.Background(), store, resolver, zerolog.Nop(), snap, rep)
	if err != nil {
		t.Fatalf("LoadBridges: %v", err)
	}
	return stats
}

func TestLoadBridges_InsertAndRerun(t *testing.T) {
	store := warehouse.NewMemStore()
	ctx := context.Background()

	snap := bridgeSnapshot()
	seedDimensions(t, store, snap, day(2024, 1, 15))
	loadFactsOnce(t, store, snap, &report{})

	stats := loadBridgesOnce(t, store, snap, &report{})
	if stats.Inserted != 3 {
		t.Fatalf("Inserted = %d, want 2 diagnosis + 1 procedure links", stats.Inserted)
	}
	if store.DiagnosisBridgeCount() != 2 || store.ProcedureBridgeCount() != 1 {
		t.Fatalf("bridge counts = %d, %d; want 2, 1",
			store.DiagnosisBridgeCount(), store.ProcedureBridgeCount())
	}

	fact, err := store.GetFact(ctx, "E1")
	if err != nil || fact == nil {
		t.Fatalf("GetFact: fact=%v err=%v", fact, err)
	}
	diagKey, err := store.SimpleDimKey(ctx, model.DimDiagnosis, "E11.9")
	if err != nil {
		t.Fatalf("SimpleDimKey: %v", err)
	}
	b, err := store.GetDiagnosisBridge(ctx, fact.EncounterKey, diagKey)
	if err != nil || b == nil {
		t.Fatalf("GetDiagnosisBridge: bridge=%v err=%v", b, err)
	}
	if !b.IsPrimary || b.Sequence != 1 {
		t.Errorf("sequence-1 bridge = %+v, want primary", b)
	}

	// The composite key makes a re-run a pure no-op.
	stats = loadBridgesOnce(t, store, snap, &report{})
	if stats.Inserted != 0 || stats.Unchanged != 3 {
		t.Errorf("re-run stats = %+v, want all unchanged", stats)
	}
	if store.DiagnosisBridgeCount() != 2 || store.ProcedureBridgeCount() != 1 {
		t.Errorf("bridges duplicated on re-run")
	}
}

func TestLoadBridges_SequenceChangeUpdatesInPlace(t *testing.T) {
	store := warehouse.NewMemStore()
	ctx := context.Background()

	snap := bridgeSnapshot()
	seedDimensions(t, store, snap, day(2024, 1, 15))
	loadFactsOnce(t, store, snap, &report{})
	loadBridgesOnce(t, store, snap, &report{})

	// The source re-ranks the diagnoses: I10 becomes primary.
	snap.EncounterDiagnoses = []model.EncounterDiagnosis{
		{EncounterID: "E1", DiagnosisCode: "E11.9", Sequence: 2},
		{EncounterID: "E1", DiagnosisCode: "I10", Sequence: 1},
	}
	stats := loadBridgesOnce(t, store, snap, &report{})
	if stats.Updated != 2 {
		t.Fatalf("Updated = %d, want both links rewritten", stats.Updated)
	}
	if store.DiagnosisBridgeCount() != 2 {
		t.Fatalf("bridge count = %d, want 2 (update in place)", store.DiagnosisBridgeCount())
	}

	fact, _ := store.GetFact(ctx, "E1")
	i10Key, err := store.SimpleDimKey(ctx, model.DimDiagnosis, "I10")
	if err != nil {
		t.Fatalf("SimpleDimKey: %v", err)
	}
	b, err := store.GetDiagnosisBridge(ctx, fact.EncounterKey, i10Key)
	if err != nil || b == nil {
		t.Fatalf("GetDiagnosisBridge: bridge=%v err=%v", b, err)
	}
	if !b.IsPrimary || b.Sequence != 1 {
		t.Errorf("re-ranked bridge = %+v, want primary sequence 1", b)
	}
}

func TestLoadBridges_MissingFactSkipsLink(t *testing.T) {
	store := warehouse.NewMemStore()

	snap := bridgeSnapshot()
	seedDimensions(t, store, snap, day(2024, 1, 15))
	// Facts deliberately not loaded: every link should skip, none fail.

	rep := &report{}
	stats := loadBridgesOnce(t, store, snap, rep)

	if stats.Skipped != 3 || stats.Inserted != 0 {
		t.Fatalf("stats = %+v, want every link skipped", stats)
	}
	if len(rep.skipped) != 3 {
		t.Errorf("got %d skip diagnostics, want 3", len(rep.skipped))
	}
}
