package repository

import (
	"context"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const submissionColumns = "submission_id, user_id, problem_id, language, code, mode, status, run_time_ms, " +
	"memory_kb, error_message, test_case_passed, total_test_cases, created_at, updated_at"

// SubmissionRepository stores submissions in MySQL.
type SubmissionRepository struct {
	db  db.Database
	now func() time.Time
}

// NewSubmissionRepository creates a repository.
func NewSubmissionRepository(database db.Database) *SubmissionRepository {
	return &SubmissionRepository{db: database, now: time.Now}
}

// Create inserts a Pending submission.
func (r *SubmissionRepository) Create(ctx context.Context, sub model.Submission) error {
	if sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if sub.Status == "" {
		sub.Status = model.StatusPending
	}
	if sub.Mode == "" {
		sub.Mode = model.ModeSubmit
	}
	now := r.now()
	_, err := r.db.Exec(ctx,
		"INSERT INTO submissions ("+submissionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, '', 0, 0, ?, ?)",
		sub.ID, sub.UserID, sub.ProblemID, string(sub.Language), sub.Code, string(sub.Mode), string(sub.Status), now, now,
	)
	if err != nil {
		if db.IsDuplicate(err) {
			return appErr.Wrapf(err, appErr.RecordAlreadyExists, "submission %s already exists", sub.ID)
		}
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "insert submission failed")
	}
	return nil
}

// Load returns a submission by id.
func (r *SubmissionRepository) Load(ctx context.Context, submissionID string) (model.Submission, error) {
	if submissionID == "" {
		return model.Submission{}, appErr.ValidationError("submission_id", "required")
	}
	row := r.db.QueryRow(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE submission_id = ?", submissionID)
	sub, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Submission{}, appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", submissionID)
		}
		return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	return sub, nil
}

// Save applies a status update in one guarded UPDATE. Rows already in a
// terminal status are never modified.
func (r *SubmissionRepository) Save(ctx context.Context, submissionID string, update model.StatusUpdate) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !update.Status.Valid() {
		return appErr.ValidationError("status", "unknown status "+string(update.Status))
	}
	active, activeArgs := db.InList(model.ActiveStatuses)
	res, err := r.db.Exec(ctx,
		"UPDATE submissions SET status = ?, run_time_ms = ?, memory_kb = ?, error_message = ?, "+
			"test_case_passed = ?, total_test_cases = ?, updated_at = ? "+
			"WHERE submission_id = ? AND status IN ("+active+")",
		append(updateArgs(submissionID, update, r.now()), activeArgs...)...,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "read affected rows failed")
	}
	if affected > 0 {
		return nil
	}

	// No row changed: either missing, terminal, or identical values.
	var status string
	if err := r.db.QueryRow(ctx, "SELECT status FROM submissions WHERE submission_id = ?", submissionID).Scan(&status); err != nil {
		if db.IsNoRows(err) {
			return appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", submissionID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "check submission status failed")
	}
	if model.Status(status).IsTerminal() {
		return appErr.Newf(appErr.SubmissionAlreadyJudged, "submission %s is already %s", submissionID, status)
	}
	return nil
}

// ListUnfinished returns ids of non-terminal submissions not updated after
// idleSince, oldest first.
func (r *SubmissionRepository) ListUnfinished(ctx context.Context, idleSince time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	active, args := db.InList(model.ActiveStatuses)
	args = append(args, string(model.ModeSubmit), idleSince, limit)
	rows, err := r.db.Query(ctx,
		"SELECT submission_id FROM submissions WHERE status IN ("+active+") AND mode = ? AND updated_at <= ? "+
			"ORDER BY created_at ASC LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list unfinished submissions failed")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission id failed")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submissions failed")
	}
	return ids, nil
}

func updateArgs(submissionID string, update model.StatusUpdate, now time.Time) []interface{} {
	return []interface{}{
		string(update.Status), update.RunTimeMs, update.MemoryKB, update.ErrorMessage,
		update.TestCasePassed, update.TotalTestCases, now, submissionID,
	}
}

func scanSubmission(row db.Row) (model.Submission, error) {
	var sub model.Submission
	var language, mode, status string
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.ProblemID, &language, &sub.Code, &mode, &status,
		&sub.RunTimeMs, &sub.MemoryKB, &sub.ErrorMessage, &sub.TestCasePassed, &sub.TotalTestCases,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return model.Submission{}, err
	}
	sub.Language = model.Language(language)
	sub.Mode = model.Mode(mode)
	sub.Status = model.Status(status)
	return sub, nil
}
