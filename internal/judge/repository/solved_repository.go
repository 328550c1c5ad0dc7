package repository

import (
	"context"
	"time"

	"codejudge/internal/common/db"
	appErr "codejudge/pkg/errors"
)

// SolvedRepository records which problems a user has solved.
type SolvedRepository struct {
	db db.Database
}

// NewSolvedRepository creates a repository.
func NewSolvedRepository(database db.Database) *SolvedRepository {
	return &SolvedRepository{db: database}
}

// MarkSolved records the pair once; repeated calls are no-ops.
func (r *SolvedRepository) MarkSolved(ctx context.Context, userID, problemID string) error {
	if userID == "" || problemID == "" {
		return appErr.ValidationError("user_problem", "required")
	}
	_, err := r.db.Exec(ctx,
		"INSERT IGNORE INTO user_solved_problems (user_id, problem_id, solved_at) VALUES (?, ?, ?)",
		userID, problemID, time.Now(),
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "record solved problem failed")
	}
	return nil
}
