package etl

import (
	"time"

	"github.com/gyeh/caremart/internal/model"
)

// ComputeEncounterMetrics derives the per-encounter measures from the
// encounter's detail rows. Counts are over distinct natural keys, and sums
// over zero billing lines are zero, never null; the fact table carries no
// null-swallowing sum semantics.
func ComputeEncounterMetrics(enc model.Encounter, diags []model.EncounterDiagnosis, procs []model.EncounterProcedure, bills []model.Billing, readmissionTypes map[string]bool) model.EncounterMetrics {
	m := model.EncounterMetrics{
		IsReadmissionCandidate: readmissionTypes[enc.EncounterType],
	}

	seenDiag := make(map[string]bool, len(diags))
	for _, d := range diags {
		if d.DiagnosisCode != "" && !seenDiag[d.DiagnosisCode] {
			seenDiag[d.DiagnosisCode] = true
			m.DiagnosisCount++
		}
	}

	seenProc := make(map[string]bool, len(procs))
	for _, p := range procs {
		if p.ProcedureCode != "" && !seenProc[p.ProcedureCode] {
			seenProc[p.ProcedureCode] = true
			m.ProcedureCount++
		}
	}

	for _, b := range bills {
		m.TotalAllowedAmountCents += b.AllowedAmountCents
		m.TotalClaimAmountCents += b.ClaimAmountCents
	}

	if enc.DischargeDate != nil {
		days := int32(midnight(*enc.DischargeDate).Sub(midnight(enc.EncounterDate)) / (24 * time.Hour))
		m.LengthOfStayDays = &days
	}

	return m
}

// midnight truncates a timestamp to its UTC calendar date so stay length
// counts whole days regardless of admission time.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
