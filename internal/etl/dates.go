package etl

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/caremart/internal/datekey"
	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/warehouse"
)

// LoadDates materializes the calendar dimension for every date any
// downstream row references: encounter and discharge dates, procedure
// dates, and billing dates. Keys are deterministic, so a re-run inserts
// nothing new for an unchanged snapshot.
func LoadDates(ctx context.Context, store warehouse.Store, log zerolog.Logger, snap *model.Snapshot) (model.StageStats, error) {
	dates := make(map[int32]time.Time)
	add := func(t *time.Time) {
		if t != nil {
			dates[datekey.FromDate(*t)] = *t
		}
	}

	for i := range snap.Encounters {
		add(&snap.Encounters[i].EncounterDate)
		add(snap.Encounters[i].DischargeDate)
	}
	for i := range snap.EncounterProcedures {
		add(&snap.EncounterProcedures[i].ProcedureDate)
	}
	for i := range snap.Billings {
		add(snap.Billings[i].BillDate)
	}

	var stats model.StageStats
	start := time.Now()
	for _, d := range dates {
		stats.Processed++
		inserted, err := store.InsertDateIfAbsent(ctx, datekey.Row(d))
		if err != nil {
			return stats, err
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Unchanged++
		}
	}

	log.Info().
		Str("kind", string(model.DimDate)).
		Int64("dates_seen", stats.Processed).
		Int64("dates_inserted", stats.Inserted).
		Dur("duration", time.Since(start)).
		Msg("date dimension loaded")

	return stats, nil
}
