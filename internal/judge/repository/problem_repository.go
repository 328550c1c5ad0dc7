package repository

import (
	"context"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const (
	problemMetaKeyPrefix   = "judge:problem:meta:"
	defaultProblemMetaTTL  = 5 * time.Minute
	defaultProblemEmptyTTL = 30 * time.Second
)

// ProblemRepository reads problem metadata from MySQL through a Redis cache.
type ProblemRepository struct {
	db    db.Database
	cache cache.BasicOps
	ttl   time.Duration
}

// NewProblemRepository creates a repository. cacheClient may be nil.
func NewProblemRepository(database db.Database, cacheClient cache.BasicOps, ttl time.Duration) *ProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemMetaTTL
	}
	return &ProblemRepository{db: database, cache: cacheClient, ttl: ttl}
}

// GetMeta returns the judge metadata of a problem or ProblemNotFound.
func (r *ProblemRepository) GetMeta(ctx context.Context, problemID string) (model.ProblemMeta, error) {
	if problemID == "" {
		return model.ProblemMeta{}, appErr.ValidationError("problem_id", "required")
	}
	var (
		meta model.ProblemMeta
		err  error
	)
	if r.cache == nil {
		meta, err = r.queryMeta(ctx, problemID)
	} else {
		meta, err = cache.GetWithCached(ctx, r.cache, problemMetaKeyPrefix+problemID,
			cache.Aside[model.ProblemMeta]{
				TTL:      r.ttl,
				EmptyTTL: defaultProblemEmptyTTL,
				IsEmpty:  func(m model.ProblemMeta) bool { return m.ProblemID == "" },
			},
			func(ctx context.Context) (model.ProblemMeta, error) {
				return r.queryMeta(ctx, problemID)
			},
		)
	}
	if err != nil {
		return model.ProblemMeta{}, err
	}
	if meta.ProblemID == "" {
		return model.ProblemMeta{}, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", problemID)
	}
	return meta, nil
}

// queryMeta returns a zero meta for a missing problem so the miss can be cached.
func (r *ProblemRepository) queryMeta(ctx context.Context, problemID string) (model.ProblemMeta, error) {
	var (
		meta      model.ProblemMeta
		updatedAt time.Time
	)
	err := r.db.QueryRow(ctx,
		"SELECT problem_id, version, time_limit_ms, memory_limit_kb, data_pack_key, data_pack_hash, updated_at "+
			"FROM problems WHERE problem_id = ?",
		problemID,
	).Scan(&meta.ProblemID, &meta.Version, &meta.TimeLimitMs, &meta.MemoryLimitKB, &meta.DataPackKey, &meta.DataPackHash, &updatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return model.ProblemMeta{}, nil
		}
		return model.ProblemMeta{}, appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	meta.UpdatedAt = updatedAt.Unix()
	return meta, nil
}
