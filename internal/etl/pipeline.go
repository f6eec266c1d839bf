// Package etl implements the transformation/load engine: extract a source
// snapshot, maintain the dimension tables (overwrite and history-tracked),
// then load the encounter fact and bridge tables. Stages run strictly in
// that order because later stages resolve surrogate keys committed by
// earlier ones.
package etl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gyeh/caremart/internal/config"
	"github.com/gyeh/caremart/internal/model"
	"github.com/gyeh/caremart/internal/source"
	"github.com/gyeh/caremart/internal/warehouse"
)

// StageError wraps an error with the stage where it occurred.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// report accumulates per-row skip diagnostics across loaders. Dimension
// loaders run concurrently, so it locks.
type report struct {
	mu      sync.Mutex
	skipped []model.SkippedRow
}

func (r *report) skip(stage string, kind model.DimKind, naturalKey, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, model.SkippedRow{
		Stage:      stage,
		Kind:       kind,
		NaturalKey: naturalKey,
		Reason:     reason,
	})
}

// Run executes the full pipeline: extract → dimensions → facts → bridges →
// finalize. Per-row failures are recorded and skipped; stage-wide failures
// abort the run with the run record marked failed.
func Run(ctx context.Context, src source.Reader, store warehouse.Store, log zerolog.Logger, cfg *config.Config) (*model.RunSummary, error) {
	totalStart := time.Now()

	runDate, err := cfg.ParsedRunDate()
	if err != nil {
		return nil, &StageError{Stage: "extract", Err: err}
	}
	runID := uuid.New()
	log = log.With().Stringer("run_id", runID).Str("run_date", cfg.RunDate).Logger()

	// Stage 1: Extract. A partial snapshot never reaches a loader.
	log.Info().Msg("starting extract")
	extractStart := time.Now()
	snap, err := src.Snapshot(ctx)
	if err != nil {
		return nil, &StageError{Stage: "extract", Err: err}
	}
	durExtract := time.Since(extractStart)
	log.Info().
		Int("patients", len(snap.Patients)).
		Int("providers", len(snap.Providers)).
		Int("encounters", len(snap.Encounters)).
		Int("billing_lines", len(snap.Billings)).
		Dur("duration", durExtract).
		Msg("extract complete")

	if err := store.InsertRun(ctx, runID, runDate); err != nil {
		return nil, &StageError{Stage: "register", Err: err}
	}

	rep := &report{}

	// Stage 2: Dimensions. Kinds have no cross-dependencies, so they load
	// concurrently; the stage as a whole commits before facts start.
	log.Info().Msg("starting dimension loads")
	dimStart := time.Now()
	dimStats, err := loadDimensions(ctx, store, log, snap, runDate, cfg, rep)
	if err != nil {
		_ = store.UpdateRunStatus(ctx, runID, warehouse.RunStatusFailed)
		return nil, &StageError{Stage: "dimensions", Err: err}
	}
	durDims := time.Since(dimStart)
	if err := store.UpdateRunStatus(ctx, runID, warehouse.RunStatusDimsLoaded); err != nil {
		return nil, &StageError{Stage: "dimensions", Err: err}
	}

	resolver := warehouse.NewResolver(store)

	// Stage 3: Facts.
	log.Info().Msg("starting fact load")
	factStart := time.Now()
	factStats, err := LoadFacts(ctx, store, resolver, log, snap, cfg.ReadmissionTypeSet(), rep)
	if err != nil {
		_ = store.UpdateRunStatus(ctx, runID, warehouse.RunStatusFailed)
		return nil, &StageError{Stage: "facts", Err: err}
	}
	durFacts := time.Since(factStart)
	if err := store.UpdateRunStatus(ctx, runID, warehouse.RunStatusFactsLoaded); err != nil {
		return nil, &StageError{Stage: "facts", Err: err}
	}

	// Stage 4: Bridges.
	log.Info().Msg("starting bridge load")
	bridgeStart := time.Now()
	bridgeStats, err := LoadBridges(ctx, store, resolver, log, snap, rep)
	if err != nil {
		_ = store.UpdateRunStatus(ctx, runID, warehouse.RunStatusFailed)
		return nil, &StageError{Stage: "bridges", Err: err}
	}
	durBridges := time.Since(bridgeStart)

	summary := &model.RunSummary{
		RunID:              runID,
		RunDate:            runDate,
		Dimensions:         dimStats,
		Facts:              factStats,
		Bridges:            bridgeStats,
		SkippedRows:        rep.skipped,
		DurationExtract:    durExtract,
		DurationDimensions: durDims,
		DurationFacts:      durFacts,
		DurationBridges:    durBridges,
		DurationTotal:      time.Since(totalStart),
	}

	// Stage 5: Finalize the run record.
	if err := store.FinishRun(ctx, runID, warehouse.RunStatusCompleted, summary); err != nil {
		return nil, &StageError{Stage: "finalize", Err: err}
	}

	log.Info().
		Int64("dims_inserted", summary.Dimensions.Inserted).
		Int64("dims_updated", summary.Dimensions.Updated).
		Int64("facts_inserted", summary.Facts.Inserted).
		Int64("facts_updated", summary.Facts.Updated).
		Int64("bridges_inserted", summary.Bridges.Inserted).
		Int("rows_skipped", len(summary.SkippedRows)).
		Str("total_duration", summary.DurationTotal.String()).
		Msg("pipeline run complete")

	return summary, nil
}

// loadDimensions runs every dimension loader concurrently and rolls their
// counters into one stage total.
func loadDimensions(ctx context.Context, store warehouse.Store, log zerolog.Logger, snap *model.Snapshot, runDate time.Time, cfg *config.Config, rep *report) (model.StageStats, error) {
	loaders := []func(context.Context) (model.StageStats, error){
		func(ctx context.Context) (model.StageStats, error) {
			return LoadDates(ctx, store, log, snap)
		},
		func(ctx context.Context) (model.StageStats, error) {
			return LoadPatients(ctx, store, log, snap.Patients, runDate, cfg.NormalizedAgeBands(), rep)
		},
		func(ctx context.Context) (model.StageStats, error) {
			return LoadProviders(ctx, store, log, snap.Providers, runDate, rep)
		},
	}
	for _, kind := range model.SimpleDimKinds {
		loaders = append(loaders, func(ctx context.Context) (model.StageStats, error) {
			return LoadSimpleDim(ctx, store, log, kind, SimpleDimRows(snap, kind), rep)
		})
	}

	results := make([]model.StageStats, len(loaders))
	g, gctx := errgroup.WithContext(ctx)
	for i, loader := range loaders {
		g.Go(func() error {
			stats, err := loader(gctx)
			results[i] = stats
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return model.StageStats{}, err
	}

	var total model.StageStats
	for _, s := range results {
		total.Add(s)
	}
	return total, nil
}
