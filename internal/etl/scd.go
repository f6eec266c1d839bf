package etl

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/normalize"
	"github.com/gyeh/caremart/internal/warehouse"
)

// The history-tracked dimensions follow the same reconciliation per natural
// key: no version yet means insert one effective from the run date; a
// current version with tracked-attribute drift is rolled over, closing it
// at the run date and opening a fresh version in one atomic store call;
// untracked drift is refreshed in place on the
// current version without a new version. A current version that already
// started on the run date is corrected in place even for tracked drift, so
// a second run on the same calendar day can never open two versions with
// the same effective_start.

// LoadPatients reconciles the patient dimension against the snapshot.
func LoadPatients(ctx context.Context, store warehouse.Store, log zerolog.Logger, patients []model.Patient, runDate time.Time, ageBands []normalize.AgeBand, rep *report) (model.StageStats, error) {
	var stats model.StageStats
	start := time.Now()

	seen := make(map[string]bool, len(patients))
	for _, p := range patients {
		if p.PatientID == "" || seen[p.PatientID] {
			continue
		}
		seen[p.PatientID] = true
		stats.Processed++

		desired := model.PatientVersion{
			PatientID:      p.PatientID,
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			Gender:         p.Gender,
			MRN:            p.MRN,
			DateOfBirth:    p.DateOfBirth,
			AgeGroup:       normalize.AgeGroup(p.DateOfBirth, runDate, ageBands),
			EffectiveStart: runDate,
			EffectiveEnd:   model.SentinelEnd,
			IsCurrent:      true,
		}

		current, err := store.CurrentPatient(ctx, p.PatientID)
		if err != nil {
			return stats, err
		}

		outcome, err := reconcilePatient(ctx, store, current, &desired, runDate)
		if err != nil {
			stats.Skipped++
			rep.skip("dimensions", model.DimPatient, p.PatientID, err.Error())
			log.Warn().Err(err).Str("patient_id", p.PatientID).Msg("patient version skipped")
			continue
		}
		stats.Add(outcome)
	}

	log.Info().
		Int64("processed", stats.Processed).
		Int64("inserted", stats.Inserted).
		Int64("versioned", stats.Updated).
		Dur("duration", time.Since(start)).
		Msg("patient dimension loaded")

	return stats, nil
}

func reconcilePatient(ctx context.Context, store warehouse.Store, current, desired *model.PatientVersion, runDate time.Time) (model.StageStats, error) {
	var out model.StageStats

	if current == nil {
		if _, err := store.InsertPatientVersion(ctx, desired); err != nil {
			return out, err
		}
		out.Inserted++
		return out, nil
	}

	if !current.TrackedEquals(desired) {
		if current.EffectiveStart.Equal(runDate) {
			// Same-day correction: rewrite the version opened earlier today.
			desired.PatientKey = current.PatientKey
			if err := store.UpdateCurrentPatient(ctx, desired); err != nil {
				return out, err
			}
			out.Updated++
			return out, nil
		}
		if _, err := store.RolloverPatientVersion(ctx, current.PatientKey, runDate, desired); err != nil {
			return out, err
		}
		out.Updated++
		return out, nil
	}

	if !current.UntrackedEquals(desired) {
		desired.PatientKey = current.PatientKey
		if err := store.UpdateCurrentPatient(ctx, desired); err != nil {
			return out, err
		}
		out.Updated++
		return out, nil
	}

	out.Unchanged++
	return out, nil
}

// LoadProviders reconciles the provider dimension against the snapshot.
func LoadProviders(ctx context.Context, store warehouse.Store, log zerolog.Logger, providers []model.Provider, runDate time.Time, rep *report) (model.StageStats, error) {
	var stats model.StageStats
	start := time.Now()

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if p.ProviderID == "" || seen[p.ProviderID] {
			continue
		}
		seen[p.ProviderID] = true
		stats.Processed++

		desired := model.ProviderVersion{
			ProviderID:     p.ProviderID,
			FullName:       p.FullName,
			Credential:     p.Credential,
			SpecialtyID:    p.SpecialtyID,
			EffectiveStart: runDate,
			EffectiveEnd:   model.SentinelEnd,
			IsCurrent:      true,
		}

		current, err := store.CurrentProvider(ctx, p.ProviderID)
		if err != nil {
			return stats, err
		}

		outcome, err := reconcileProvider(ctx, store, current, &desired, runDate)
		if err != nil {
			stats.Skipped++
			rep.skip("dimensions", model.DimProvider, p.ProviderID, err.Error())
			log.Warn().Err(err).Str("provider_id", p.ProviderID).Msg("provider version skipped")
			continue
		}
		stats.Add(outcome)
	}

	log.Info().
		Int64("processed", stats.Processed).
		Int64("inserted", stats.Inserted).
		Int64("versioned", stats.Updated).
		Dur("duration", time.Since(start)).
		Msg("provider dimension loaded")

	return stats, nil
}

func reconcileProvider(ctx context.Context, store warehouse.Store, current, desired *model.ProviderVersion, runDate time.Time) (model.StageStats, error) {
	var out model.StageStats

	if current == nil {
		if _, err := store.InsertProviderVersion(ctx, desired); err != nil {
			return out, err
		}
		out.Inserted++
		return out, nil
	}

	if !current.TrackedEquals(desired) {
		if current.EffectiveStart.Equal(runDate) {
			desired.ProviderKey = current.ProviderKey
			if err := store.UpdateCurrentProvider(ctx, desired); err != nil {
				return out, err
			}
			out.Updated++
			return out, nil
		}
		if _, err := store.RolloverProviderVersion(ctx, current.ProviderKey, runDate, desired); err != nil {
			return out, err
		}
		out.Updated++
		return out, nil
	}

	if !current.UntrackedEquals(desired) {
		desired.ProviderKey = current.ProviderKey
		if err := store.UpdateCurrentProvider(ctx, desired); err != nil {
			return out, err
		}
		out.Updated++
		return out, nil
	}

	out.Unchanged++
	return out, nil
}
