package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/gyeh/caremart/internal/model"
)

// Resolver maps natural keys to surrogate keys, memoizing hits. It is a
// pure read layer: safe to use once the dimension stage for the run has
// committed, since keys never change underneath it within a run. Misses
// are not cached so a key loaded later in the same stage still resolves.
type Resolver struct {
	store  Store
	simple map[simpleCacheKey]int64
	asOf   map[asOfCacheKey]int64
	facts  map[string]int64
}

type simpleCacheKey struct {
	kind model.DimKind
	nk   string
}

type asOfCacheKey struct {
	kind model.DimKind
	nk   string
	day  int64 // unix day of the reference date
}

// NewResolver creates a Resolver over the target store.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:  store,
		simple: make(map[simpleCacheKey]int64),
		asOf:   make(map[asOfCacheKey]int64),
		facts:  make(map[string]int64),
	}
}

// SimpleKey resolves a Type-1 dimension key with no temporal gating.
// Returns ErrNotFound when the natural key has no dimension row.
func (r *Resolver) SimpleKey(ctx context.Context, kind model.DimKind, naturalKey string) (int64, error) {
	ck := simpleCacheKey{kind, naturalKey}
	if key, ok := r.simple[ck]; ok {
		return key, nil
	}
	key, err := r.store.SimpleDimKey(ctx, kind, naturalKey)
	if err != nil {
		return 0, err
	}
	r.simple[ck] = key
	return key, nil
}

// VersionKeyAsOf resolves a Type-2 dimension key for the version whose
// [effective_start, effective_end) interval contains the reference time.
// Reference times before the first recorded version resolve to that first
// version, so facts predating the initial snapshot load still land. Returns
// ErrNotFound when the natural key has no versions at all and
// ErrAmbiguousVersion when more than one covers the reference time.
func (r *Resolver) VersionKeyAsOf(ctx context.Context, kind model.DimKind, naturalKey string, at time.Time) (int64, error) {
	if !kind.Versioned() {
		return 0, fmt.Errorf("kind %q is not a versioned dimension", kind)
	}
	ck := asOfCacheKey{kind, naturalKey, at.Unix() / 86400}
	if key, ok := r.asOf[ck]; ok {
		return key, nil
	}

	var key int64
	var err error
	if kind == model.DimPatient {
		key, err = r.store.PatientKeyAsOf(ctx, naturalKey, at)
	} else {
		key, err = r.store.ProviderKeyAsOf(ctx, naturalKey, at)
	}
	if err != nil {
		return 0, err
	}
	r.asOf[ck] = key
	return key, nil
}

// FactKey resolves the fact surrogate key for an encounter natural key.
// Returns ErrNotFound when the encounter has no fact row (for example when
// the fact stage skipped it).
func (r *Resolver) FactKey(ctx context.Context, encounterID string) (int64, error) {
	if key, ok := r.facts[encounterID]; ok {
		return key, nil
	}
	f, err := r.store.GetFact(ctx, encounterID)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, ErrNotFound
	}
	r.facts[encounterID] = f.EncounterKey
	return f.EncounterKey, nil
}
