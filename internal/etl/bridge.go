package etl

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/caremart/internal/datekey"
	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/warehouse"
)

// LoadBridges upserts the encounter↔diagnosis and encounter↔procedure
// bridge rows. The composite key keeps re-runs from duplicating a pair; a
// changed sequence or date updates the existing row in place. Links whose
// fact row was skipped earlier in the run are skipped here too and retried
// on the next run.
func LoadBridges(ctx context.Context, store warehouse.Store, resolver *warehouse.Resolver, log zerolog.Logger, snap *model.Snapshot, rep *report) (model.StageStats, error) {
	var stats model.StageStats
	start := time.Now()

	for _, link := range snap.EncounterDiagnoses {
		stats.Processed++

		encKey, err := resolver.FactKey(ctx, link.EncounterID)
		if err != nil {
			if skipBridgeMiss(err, &stats, rep, log, model.DimDiagnosis, link.EncounterID, "no fact row for encounter") {
				continue
			}
			return stats, err
		}
		diagKey, err := resolver.SimpleKey(ctx, model.DimDiagnosis, link.DiagnosisCode)
		if err != nil {
			if skipBridgeMiss(err, &stats, rep, log, model.DimDiagnosis, link.DiagnosisCode, "diagnosis not in dimension") {
				continue
			}
			return stats, err
		}

		desired := model.DiagnosisBridge{
			EncounterKey: encKey,
			DiagnosisKey: diagKey,
			Sequence:     link.Sequence,
			IsPrimary:    link.Sequence == 1,
		}

		existing, err := store.GetDiagnosisBridge(ctx, encKey, diagKey)
		if err != nil {
			return stats, err
		}
		switch {
		case existing == nil:
			if err := store.InsertDiagnosisBridge(ctx, desired); err != nil {
				stats.Skipped++
				rep.skip("bridges", model.DimDiagnosis, link.DiagnosisCode, err.Error())
				log.Warn().Err(err).Str("encounter_id", link.EncounterID).Msg("diagnosis bridge skipped")
				continue
			}
			stats.Inserted++
		case *existing != desired:
			if err := store.UpdateDiagnosisBridge(ctx, desired); err != nil {
				stats.Skipped++
				rep.skip("bridges", model.DimDiagnosis, link.DiagnosisCode, err.Error())
				log.Warn().Err(err).Str("encounter_id", link.EncounterID).Msg("diagnosis bridge skipped")
				continue
			}
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}

	for _, link := range snap.EncounterProcedures {
		stats.Processed++

		encKey, err := resolver.FactKey(ctx, link.EncounterID)
		if err != nil {
			if skipBridgeMiss(err, &stats, rep, log, model.DimProcedure, link.EncounterID, "no fact row for encounter") {
				continue
			}
			return stats, err
		}
		procKey, err := resolver.SimpleKey(ctx, model.DimProcedure, link.ProcedureCode)
		if err != nil {
			if skipBridgeMiss(err, &stats, rep, log, model.DimProcedure, link.ProcedureCode, "procedure not in dimension") {
				continue
			}
			return stats, err
		}

		desired := model.ProcedureBridge{
			EncounterKey:     encKey,
			ProcedureKey:     procKey,
			ProcedureDateKey: datekey.FromDate(link.ProcedureDate),
		}

		existing, err := store.GetProcedureBridge(ctx, encKey, procKey)
		if err != nil {
			return stats, err
		}
		switch {
		case existing == nil:
			if err := store.InsertProcedureBridge(ctx, desired); err != nil {
				stats.Skipped++
				rep.skip("bridges", model.DimProcedure, link.ProcedureCode, err.Error())
				log.Warn().Err(err).Str("encounter_id", link.EncounterID).Msg("procedure bridge skipped")
				continue
			}
			stats.Inserted++
		case *existing != desired:
			if err := store.UpdateProcedureBridge(ctx, desired); err != nil {
				stats.Skipped++
				rep.skip("bridges", model.DimProcedure, link.ProcedureCode, err.Error())
				log.Warn().Err(err).Str("encounter_id", link.EncounterID).Msg("procedure bridge skipped")
				continue
			}
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}

	log.Info().
		Int64("processed", stats.Processed).
		Int64("inserted", stats.Inserted).
		Int64("updated", stats.Updated).
		Int64("skipped", stats.Skipped).
		Dur("duration", time.Since(start)).
		Msg("bridge tables loaded")

	return stats, nil
}

// skipBridgeMiss handles a resolver miss for one bridge link. Returns true
// when the link was skipped; false means the error is stage-fatal.
func skipBridgeMiss(err error, stats *model.StageStats, rep *report, log zerolog.Logger, kind model.DimKind, naturalKey, reason string) bool {
	if !errors.Is(err, warehouse.ErrNotFound) {
		return false
	}
	stats.Skipped++
	rep.skip("bridges", kind, naturalKey, reason)
	log.Warn().Str("kind", string(kind)).Str("natural_key", naturalKey).Str("reason", reason).Msg("bridge link skipped")
	return true
}
