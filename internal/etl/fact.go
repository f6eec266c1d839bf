package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/caremart/internal/datekey"
	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/warehouse"
)

// LoadFacts upserts one fact row per source encounter. The first insert
// fixes the dimension keys; later runs only refresh the measure columns, so
// historical fact rows keep the dimension version they were loaded against.
// An encounter whose required keys cannot all be resolved is skipped with a
// diagnostic and the load continues.
func LoadFacts(ctx context.Context, store warehouse.Store, resolver *warehouse.Resolver, log zerolog.Logger, snap *model.Snapshot, readmissionTypes map[string]bool, rep *report) (model.StageStats, error) {
	var stats model.StageStats
	start := time.Now()

	diagIdx := snap.DiagnosesByEncounter()
	procIdx := snap.ProceduresByEncounter()
	billIdx := snap.BillingsByEncounter()
	providers := snap.ProvidersByID()

	seen := make(map[string]bool, len(snap.Encounters))
	for _, enc := range snap.Encounters {
		if enc.EncounterID == "" || seen[enc.EncounterID] {
			continue
		}
		seen[enc.EncounterID] = true
		stats.Processed++

		metrics := ComputeEncounterMetrics(enc,
			diagIdx[enc.EncounterID], procIdx[enc.EncounterID], billIdx[enc.EncounterID],
			readmissionTypes)

		existing, err := store.GetFact(ctx, enc.EncounterID)
		if err != nil {
			return stats, err
		}
		if existing != nil {
			if existing.Metrics.Equals(metrics) {
				stats.Unchanged++
				continue
			}
			if err := store.UpdateFactMeasures(ctx, existing.EncounterKey, metrics); err != nil {
				stats.Skipped++
				rep.skip("facts", "", enc.EncounterID, err.Error())
				log.Warn().Err(err).Str("encounter_id", enc.EncounterID).Msg("fact measure refresh skipped")
				continue
			}
			stats.Updated++
			continue
		}

		fact, err := resolveFactKeys(ctx, resolver, enc, providers)
		if err != nil {
			stats.Skipped++
			var miss *keyMissError
			if errors.As(err, &miss) {
				rep.skip("facts", miss.kind, miss.naturalKey, miss.reason)
				if miss.integrity {
					log.Error().Str("encounter_id", enc.EncounterID).
						Str("kind", string(miss.kind)).Str("natural_key", miss.naturalKey).
						Msg("data integrity alarm: ambiguous dimension version")
				} else {
					log.Warn().Str("encounter_id", enc.EncounterID).
						Str("kind", string(miss.kind)).Str("natural_key", miss.naturalKey).
						Str("reason", miss.reason).Msg("encounter skipped")
				}
				continue
			}
			return stats, err
		}

		fact.Metrics = metrics
		if _, err := store.InsertFact(ctx, fact); err != nil {
			stats.Skipped++
			rep.skip("facts", "", enc.EncounterID, err.Error())
			log.Warn().Err(err).Str("encounter_id", enc.EncounterID).Msg("fact insert skipped")
			continue
		}
		stats.Inserted++
	}

	log.Info().
		Int64("processed", stats.Processed).
		Int64("inserted", stats.Inserted).
		Int64("updated", stats.Updated).
		Int64("skipped", stats.Skipped).
		Dur("duration", time.Since(start)).
		Msg("fact table loaded")

	return stats, nil
}

// keyMissError marks a per-encounter resolution failure, as opposed to a
// store-level failure that aborts the stage.
type keyMissError struct {
	kind       model.DimKind
	naturalKey string
	reason     string
	integrity  bool
}

func (e *keyMissError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.kind, e.naturalKey, e.reason)
}

// resolveFactKeys resolves every dimension key for a new fact row. The
// patient and provider lookups are gated on the encounter date, not on the
// is_current flag, so encounters that predate the latest version land on
// the version valid when they happened.
func resolveFactKeys(ctx context.Context, resolver *warehouse.Resolver, enc model.Encounter, providers map[string]model.Provider) (*model.FactRow, error) {
	fact := &model.FactRow{
		EncounterID: enc.EncounterID,
		DateKey:     datekey.FromDate(enc.EncounterDate),
	}
	if enc.DischargeDate != nil {
		k := datekey.FromDate(*enc.DischargeDate)
		fact.DischargeDateKey = &k
	}

	var err error
	fact.PatientKey, err = resolver.VersionKeyAsOf(ctx, model.DimPatient, enc.PatientID, enc.EncounterDate)
	if err != nil {
		return nil, missFrom(err, model.DimPatient, enc.PatientID, "patient not in dimension")
	}

	fact.ProviderKey, err = resolver.VersionKeyAsOf(ctx, model.DimProvider, enc.ProviderID, enc.EncounterDate)
	if err != nil {
		return nil, missFrom(err, model.DimProvider, enc.ProviderID, "provider not in dimension")
	}

	prov, ok := providers[enc.ProviderID]
	if !ok {
		return nil, &keyMissError{kind: model.DimProvider, naturalKey: enc.ProviderID, reason: "provider absent from source snapshot"}
	}
	fact.SpecialtyKey, err = resolver.SimpleKey(ctx, model.DimSpecialty, prov.SpecialtyID)
	if err != nil {
		return nil, missFrom(err, model.DimSpecialty, prov.SpecialtyID, "specialty not in dimension")
	}

	fact.DepartmentKey, err = resolver.SimpleKey(ctx, model.DimDepartment, enc.DepartmentID)
	if err != nil {
		return nil, missFrom(err, model.DimDepartment, enc.DepartmentID, "department not in dimension")
	}

	fact.EncounterTypeKey, err = resolver.SimpleKey(ctx, model.DimEncounterType, enc.EncounterType)
	if err != nil {
		return nil, missFrom(err, model.DimEncounterType, enc.EncounterType, "encounter type not in dimension")
	}

	return fact, nil
}

// missFrom classifies a resolver error: lookup misses and ambiguity become
// per-row keyMissErrors, anything else stays a stage-level failure.
func missFrom(err error, kind model.DimKind, naturalKey, reason string) error {
	switch {
	case errors.Is(err, warehouse.ErrAmbiguousVersion):
		return &keyMissError{kind: kind, naturalKey: naturalKey, reason: err.Error(), integrity: true}
	case errors.Is(err, warehouse.ErrNotFound):
		return &keyMissError{kind: kind, naturalKey: naturalKey, reason: reason}
	default:
		return err
	}
}
