package etl

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/warehouse"
)

// seedDimensions runs every dimension loader for a snapshot, standing in
// for the dimension stage so fact and bridge loaders can be tested alone.
func seedDimensions(t *testing.T, store warehouse.Store, snap *model.Snapshot, runDate time.Time) {
	t.Helper()
	ctx := context.Background()
	rep := &report{}
	if _, err := LoadDates(ctx, store, zerolog.Nop(), snap); err != nil {
		t.Fatalf("LoadDates: %v", err)
	}
	if _, err := LoadPatients(ctx, store, zerolog.Nop(), snap.Patients, runDate, nil, rep); err != nil {
		t.Fatalf("LoadPatients: %v", err)
	}
	if _, err := LoadProviders(ctx, store, zerolog.Nop(), snap.Providers, runDate, rep); err != nil {
		t.Fatalf("LoadProviders: %v", err)
	}
	for _, kind := range model.SimpleDimKinds {
		if _, err := LoadSimpleDim(ctx, store, zerolog.Nop(), kind, SimpleDimRows(snap, kind), rep); err != nil {
			t.Fatalf("LoadSimpleDim(%s): %v", kind, err)
		}
	}
}

// factSnapshot is a minimal consistent snapshot with one patient, one
// provider, and encounters appended by each test.
func factSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Patients: []model.Patient{
			{PatientID: "P1", FirstName: "Jane", LastName: "Doe", Gender: "F", MRN: "MRN001"},
		},
		Providers: []model.Provider{
			{ProviderID: "DR1", FullName: "Gregory House", Credential: "MD", SpecialtyID: "SPC1"},
		},
		Specialties: []model.Specialty{{SpecialtyID: "SPC1", Name: "Diagnostics"}},
		Departments: []model.Department{{DepartmentID: "DEP1", Name: "Medicine"}},
	}
}

func loadFactsOnce(t *testing.T, store warehouse.Store, snap *model.Snapshot, rep *report) model.StageStats {
	t.Helper()
	resolver := warehouse.NewResolver(store)
	stats, err := LoadFacts(context.Background(), store, resolver, zerolog.Nop(), snap, map[string]bool{"Inpatient": true}, rep)
	if err != nil {
		t.Fatalf("LoadFacts: %v", err)
	}
	return stats
}

func TestLoadFacts_ResolvesVersionByEncounterDate(t *testing.T) {
	store := warehouse.NewMemStore()
	ctx := context.Background()

	// Build patient history across two runs: Doe through January, Smith
	// from February on.
	snap := factSnapshot()
	seedDimensions(t, store, snap, day(2024, 1, 1))
	snap.Patients[0].LastName = "Smith"
	seedDimensions(t, store, snap, day(2024, 2, 1))

	versions := store.PatientVersions("P1")
	if len(versions) != 2 {
		t.Fatalf("got %d patient versions, want 2", len(versions))
	}
	doeKey, smithKey := versions[0].PatientKey, versions[1].PatientKey

	snap.Encounters = []model.Encounter{
		{EncounterID: "E1", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Outpatient", EncounterDate: day(2024, 1, 15)},
		{EncounterID: "E2", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Outpatient", EncounterDate: day(2024, 2, 10)},
	}
	seedDimensions(t, store, snap, day(2024, 2, 1))

	stats := loadFactsOnce(t, store, snap, &report{})
	if stats.Inserted != 2 {
		t.Fatalf("Inserted = %d, want 2", stats.Inserted)
	}

	f1, err := store.GetFact(ctx, "E1")
	if err != nil || f1 == nil {
		t.Fatalf("GetFact(E1): fact=%v err=%v", f1, err)
	}
	if f1.PatientKey != doeKey {
		t.Errorf("January encounter PatientKey = %d, want pre-change version %d", f1.PatientKey, doeKey)
	}
	f2, err := store.GetFact(ctx, "E2")
	if err != nil || f2 == nil {
		t.Fatalf("GetFact(E2): fact=%v err=%v", f2, err)
	}
	if f2.PatientKey != smithKey {
		t.Errorf("February encounter PatientKey = %d, want current version %d", f2.PatientKey, smithKey)
	}
	if f1.DateKey != 20240115 || f2.DateKey != 20240210 {
		t.Errorf("date keys = %d, %d; want 20240115, 20240210", f1.DateKey, f2.DateKey)
	}
}

func TestLoadFacts_MeasureRefreshKeepsDimensionKeys(t *testing.T) {
	store := warehouse.NewMemStore()
	ctx := context.Background()

	snap := factSnapshot()
	snap.Encounters = []model.Encounter{
		{EncounterID: "E1", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Inpatient", EncounterDate: day(2024, 1, 10), DischargeDate: dayPtr(2024, 1, 12)},
	}
	snap.Billings = []model.Billing{
		{BillingID: "B1", EncounterID: "E1", ClaimAmountCents: 100_00, AllowedAmountCents: 80_00},
	}
	seedDimensions(t, store, snap, day(2024, 1, 15))
	loadFactsOnce(t, store, snap, &report{})

	before, err := store.GetFact(ctx, "E1")
	if err != nil || before == nil {
		t.Fatalf("GetFact: fact=%v err=%v", before, err)
	}

	// A later run sees a corrected claim and a renamed patient. The fact
	// row must refresh its measures but keep the original dimension keys.
	snap.Patients[0].LastName = "Smith"
	snap.Billings[0].ClaimAmountCents = 150_00
	seedDimensions(t, store, snap, day(2024, 3, 1))
	stats := loadFactsOnce(t, store, snap, &report{})

	if stats.Updated != 1 || stats.Inserted != 0 {
		t.Fatalf("stats = %+v, want one measure refresh", stats)
	}
	after, err := store.GetFact(ctx, "E1")
	if err != nil || after == nil {
		t.Fatalf("GetFact: fact=%v err=%v", after, err)
	}
	if after.Metrics.TotalClaimAmountCents != 150_00 {
		t.Errorf("TotalClaimAmountCents = %d, want 15000", after.Metrics.TotalClaimAmountCents)
	}
	if after.PatientKey != before.PatientKey || after.ProviderKey != before.ProviderKey ||
		after.EncounterKey != before.EncounterKey || after.DateKey != before.DateKey {
		t.Errorf("dimension keys changed on refresh: before=%+v after=%+v", before, after)
	}
	if store.FactCount() != 1 {
		t.Errorf("FactCount = %d, want 1 (grain is one row per encounter)", store.FactCount())
	}
}

func TestLoadFacts_UnchangedMeasuresNoOp(t *testing.T) {
	store := warehouse.NewMemStore()

	snap := factSnapshot()
	snap.Encounters = []model.Encounter{
		{EncounterID: "E1", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Outpatient", EncounterDate: day(2024, 1, 10)},
	}
	seedDimensions(t, store, snap, day(2024, 1, 15))

	loadFactsOnce(t, store, snap, &report{})
	stats := loadFactsOnce(t, store, snap, &report{})

	if stats.Unchanged != 1 || stats.Updated != 0 || stats.Inserted != 0 {
		t.Errorf("re-run stats = %+v, want Unchanged=1 only", stats)
	}
}

func TestLoadFacts_UnresolvableKeySkipsRow(t *testing.T) {
	store := warehouse.NewMemStore()

	snap := factSnapshot()
	snap.Encounters = []model.Encounter{
		{EncounterID: "E1", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Outpatient", EncounterDate: day(2024, 1, 10)},
		// DEP9 never appears in the department source table.
		{EncounterID: "E2", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP9",
			EncounterType: "Outpatient", EncounterDate: day(2024, 1, 11)},
	}
	seedDimensions(t, store, snap, day(2024, 1, 15))

	rep := &report{}
	stats := loadFactsOnce(t, store, snap, rep)

	if stats.Inserted != 1 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want 1 inserted and 1 skipped", stats)
	}
	if len(rep.skipped) != 1 {
		t.Fatalf("got %d skip diagnostics, want 1", len(rep.skipped))
	}
	if rep.skipped[0].Kind != model.DimDepartment || rep.skipped[0].NaturalKey != "DEP9" {
		t.Errorf("skip diagnostic = %+v, want the missing department", rep.skipped[0])
	}
	if store.FactCount() != 1 {
		t.Errorf("FactCount = %d, want only the resolvable encounter", store.FactCount())
	}
}

func TestLoadFacts_EncounterBeforeFirstVersionUsesIt(t *testing.T) {
	store := warehouse.NewMemStore()
	ctx := context.Background()

	snap := factSnapshot()
	snap.Encounters = []model.Encounter{
		// Predates the first patient and provider versions. The first
		// version stands in for the pre-history it summarizes.
		{EncounterID: "E0", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Outpatient", EncounterDate: day(2023, 12, 1)},
	}
	seedDimensions(t, store, snap, day(2024, 1, 1))

	rep := &report{}
	stats := loadFactsOnce(t, store, snap, rep)

	if stats.Inserted != 1 || stats.Skipped != 0 {
		t.Fatalf("stats = %+v, want the encounter inserted", stats)
	}
	if len(rep.skipped) != 0 {
		t.Fatalf("skip diagnostics = %+v, want none", rep.skipped)
	}

	fact, err := store.GetFact(ctx, "E0")
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if want := store.PatientVersions("P1")[0].PatientKey; fact.PatientKey != want {
		t.Errorf("PatientKey = %d, want first version %d", fact.PatientKey, want)
	}
	if want := store.ProviderVersions("DR1")[0].ProviderKey; fact.ProviderKey != want {
		t.Errorf("ProviderKey = %d, want first version %d", fact.ProviderKey, want)
	}
}

func TestLoadFacts_AmbiguousVersionSkipsWithAlarm(t *testing.T) {
	store := warehouse.NewMemStore()
	ctx := context.Background()

	snap := factSnapshot()
	seedDimensions(t, store, snap, day(2024, 1, 1))

	// Corrupt the history by hand: a closed version whose interval still
	// overlaps the current one.
	overlap := &model.PatientVersion{
		PatientID: "P1", FirstName: "Jane", LastName: "Doe",
		EffectiveStart: day(2023, 6, 1), EffectiveEnd: day(2024, 6, 1), IsCurrent: false,
	}
	if _, err := store.InsertPatientVersion(ctx, overlap); err != nil {
		t.Fatalf("InsertPatientVersion: %v", err)
	}

	snap.Encounters = []model.Encounter{
		{EncounterID: "E1", PatientID: "P1", ProviderID: "DR1", DepartmentID: "DEP1",
			EncounterType: "Outpatient", EncounterDate: day(2024, 2, 1)},
	}
	seedDimensions(t, store, snap, day(2024, 1, 1))

	rep := &report{}
	stats := loadFactsOnce(t, store, snap, rep)

	if stats.Skipped != 1 || stats.Inserted != 0 {
		t.Fatalf("stats = %+v, want the ambiguous encounter skipped", stats)
	}
	if len(rep.skipped) != 1 || rep.skipped[0].Kind != model.DimPatient {
		t.Errorf("skip diagnostics = %+v, want an ambiguity record for the patient", rep.skipped)
	}
}
