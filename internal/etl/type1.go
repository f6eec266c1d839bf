package etl

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/warehouse"
)

// SimpleDimRows extracts the distinct Type-1 dimension rows of one kind
// from a snapshot. Later source rows win when a natural key repeats, so a
// load always reflects the latest observed attributes.
func SimpleDimRows(snap *model.Snapshot, kind model.DimKind) []model.SimpleDim {
	seen := make(map[string]int)
	var out []model.SimpleDim
	put := func(naturalKey, name string) {
		if naturalKey == "" {
			return
		}
		if i, ok := seen[naturalKey]; ok {
			out[i].Name = name
			return
		}
		seen[naturalKey] = len(out)
		out = append(out, model.SimpleDim{NaturalKey: naturalKey, Name: name})
	}

	switch kind {
	case model.DimSpecialty:
		for _, s := range snap.Specialties {
			put(s.SpecialtyID, s.Name)
		}
	case model.DimDepartment:
		for _, d := range snap.Departments {
			put(d.DepartmentID, d.Name)
		}
	case model.DimEncounterType:
		// Encounter types have no source table of their own; the distinct
		// values observed on encounters are the dimension.
		for _, e := range snap.Encounters {
			put(e.EncounterType, e.EncounterType)
		}
	case model.DimDiagnosis:
		for _, d := range snap.Diagnoses {
			put(d.DiagnosisCode, d.Description)
		}
	case model.DimProcedure:
		for _, p := range snap.Procedures {
			put(p.ProcedureCode, p.Description)
		}
	}
	return out
}

// LoadSimpleDim reconciles one overwrite dimension: absent natural keys get
// a new surrogate key, existing ones have their attributes overwritten when
// they drifted. A failed write skips the one row and the load continues.
func LoadSimpleDim(ctx context.Context, store warehouse.Store, log zerolog.Logger, kind model.DimKind, rows []model.SimpleDim, rep *report) (model.StageStats, error) {
	var stats model.StageStats
	start := time.Now()

	for _, row := range rows {
		stats.Processed++

		existing, err := store.GetSimpleDim(ctx, kind, row.NaturalKey)
		if err != nil {
			return stats, err
		}

		switch {
		case existing == nil:
			if _, err := store.InsertSimpleDim(ctx, kind, row); err != nil {
				stats.Skipped++
				rep.skip("dimensions", kind, row.NaturalKey, err.Error())
				log.Warn().Err(err).Str("kind", string(kind)).Str("natural_key", row.NaturalKey).Msg("dimension row skipped")
				continue
			}
			stats.Inserted++
		case existing.Name != row.Name:
			row.Key = existing.Key
			if err := store.UpdateSimpleDim(ctx, kind, row); err != nil {
				stats.Skipped++
				rep.skip("dimensions", kind, row.NaturalKey, err.Error())
				log.Warn().Err(err).Str("kind", string(kind)).Str("natural_key", row.NaturalKey).Msg("dimension row skipped")
				continue
			}
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}

	log.Info().
		Str("kind", string(kind)).
		Int64("processed", stats.Processed).
		Int64("inserted", stats.Inserted).
		Int64("updated", stats.Updated).
		Dur("duration", time.Since(start)).
		Msg("dimension loaded")

	return stats, nil
}
