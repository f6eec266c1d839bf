// Package source reads the OLTP snapshot a pipeline run consumes. Two
// implementations exist: a live Postgres reader and a Parquet snapshot-dir
// reader for extract-then-load deployments. Both are read-only.
package source

import (
	"context"

	"github.com/gyeh/caremart/internal/model"
)

// Reader produces the full source snapshot for one run. A failed read is
// fatal for the run: the engine never starts a stage on a partial snapshot.
type Reader interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
}

// Static is a Reader over an in-memory snapshot, used by tests.
type Static struct {
	Data model.Snapshot
}

// Snapshot returns the wrapped snapshot.
func (s *Static) Snapshot(context.Context) (*model.Snapshot, error) {
	return &s.Data, nil
}
