package model

import (
	"time"

	"github.com/google/uuid"
)

// StageStats counts the outcomes of one pipeline stage.
type StageStats struct {
	Processed int64
	Inserted  int64
	Updated   int64
	Unchanged int64
	Skipped   int64
}

// Add merges another stage's counters in, for rolling up dimension loads.
func (s *StageStats) Add(o StageStats) {
	s.Processed += o.Processed
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.Skipped += o.Skipped
}

// SkippedRow records one per-row failure with enough context to retry the
// row on a later run.
type SkippedRow struct {
	Stage      string
	Kind       DimKind
	NaturalKey string
	Reason     string
}

// RunSummary captures metrics from a single pipeline run.
type RunSummary struct {
	RunID       uuid.UUID
	RunDate     time.Time
	Dimensions  StageStats
	Facts       StageStats
	Bridges     StageStats
	SkippedRows []SkippedRow

	DurationExtract    time.Duration
	DurationDimensions time.Duration
	DurationFacts      time.Duration
	DurationBridges    time.Duration
	DurationTotal      time.Duration
}
