package repository

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"

	"github.com/go-sql-driver/mysql"
)

// fakeDB understands the handful of statements the repositories issue.
type fakeDB struct {
	mu          sync.Mutex
	submissions map[string]model.Submission
	problems    map[string]model.ProblemMeta
	solved      map[string]bool
	problemHits int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		submissions: make(map[string]model.Submission),
		problems:    make(map[string]model.ProblemMeta),
		solved:      make(map[string]bool),
	}
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...interface{}) (db.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.HasPrefix(query, "INSERT INTO submissions"):
		id := args[0].(string)
		if _, ok := f.submissions[id]; ok {
			return nil, &mysql.MySQLError{Number: 1062, Message: fmt.Sprintf("Duplicate entry '%s' for key 'PRIMARY'", id)}
		}
		f.submissions[id] = model.Submission{
			ID:        id,
			UserID:    args[1].(string),
			ProblemID: args[2].(string),
			Language:  model.Language(args[3].(string)),
			Code:      args[4].(string),
			Mode:      model.Mode(args[5].(string)),
			Status:    model.Status(args[6].(string)),
			CreatedAt: args[7].(time.Time),
			UpdatedAt: args[8].(time.Time),
		}
		return fakeResult(1), nil
	case strings.HasPrefix(query, "UPDATE submissions"):
		id := args[7].(string)
		sub, ok := f.submissions[id]
		if !ok || sub.Status.IsTerminal() {
			return fakeResult(0), nil
		}
		next := sub.Apply(model.StatusUpdate{
			Status:         model.Status(args[0].(string)),
			RunTimeMs:      args[1].(int64),
			MemoryKB:       args[2].(int64),
			ErrorMessage:   args[3].(string),
			TestCasePassed: args[4].(int),
			TotalTestCases: args[5].(int),
		})
		// MySQL reports matched-but-unchanged rows as unaffected.
		if next.Update() == sub.Update() {
			return fakeResult(0), nil
		}
		f.submissions[id] = next
		return fakeResult(1), nil
	case strings.HasPrefix(query, "INSERT IGNORE INTO user_solved_problems"):
		key := args[0].(string) + "/" + args[1].(string)
		if f.solved[key] {
			return fakeResult(0), nil
		}
		f.solved[key] = true
		return fakeResult(1), nil
	}
	return nil, fmt.Errorf("unexpected exec: %s", query)
}

func (f *fakeDB) QueryRow(_ context.Context, query string, args ...interface{}) db.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := args[0].(string)
	switch {
	case strings.HasPrefix(query, "SELECT status FROM submissions"):
		sub, ok := f.submissions[id]
		if !ok {
			return fakeRow{err: sql.ErrNoRows}
		}
		return fakeRow{values: []interface{}{string(sub.Status)}}
	case strings.HasPrefix(query, "SELECT submission_id"):
		sub, ok := f.submissions[id]
		if !ok {
			return fakeRow{err: sql.ErrNoRows}
		}
		return fakeRow{values: []interface{}{
			sub.ID, sub.UserID, sub.ProblemID, string(sub.Language), sub.Code, string(sub.Mode), string(sub.Status),
			sub.RunTimeMs, sub.MemoryKB, sub.ErrorMessage, sub.TestCasePassed, sub.TotalTestCases,
			sub.CreatedAt, sub.UpdatedAt,
		}}
	case strings.HasPrefix(query, "SELECT problem_id"):
		f.problemHits++
		meta, ok := f.problems[id]
		if !ok {
			return fakeRow{err: sql.ErrNoRows}
		}
		return fakeRow{values: []interface{}{
			meta.ProblemID, meta.Version, meta.TimeLimitMs, meta.MemoryLimitKB, meta.DataPackKey, meta.DataPackHash,
			time.Unix(meta.UpdatedAt, 0),
		}}
	}
	return fakeRow{err: fmt.Errorf("unexpected query: %s", query)}
}

func (f *fakeDB) Query(_ context.Context, query string, args ...interface{}) (db.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.HasPrefix(query, "SELECT submission_id FROM submissions") {
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
	limit := args[len(args)-1].(int)
	idleSince := args[len(args)-2].(time.Time)
	var subs []model.Submission
	for _, sub := range f.submissions {
		if !sub.Status.IsTerminal() && sub.Mode == model.ModeSubmit && !sub.UpdatedAt.After(idleSince) {
			subs = append(subs, sub)
		}
	}
	// Oldest first, ties broken by id for stable output.
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0; j-- {
			a, b := subs[j-1], subs[j]
			if a.CreatedAt.After(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID > b.ID) {
				subs[j-1], subs[j] = b, a
			}
		}
	}
	rows := &fakeRows{}
	for i, sub := range subs {
		if i >= limit {
			break
		}
		rows.values = append(rows.values, []interface{}{sub.ID})
	}
	return rows, nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(fakeTx{f})
}

func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }

type fakeTx struct{ *fakeDB }

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type fakeRows struct {
	values [][]interface{}
	pos    int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error { return assign(r.values[r.pos-1], dest) }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Err() error                     { return nil }

func assign(values []interface{}, dest []interface{}) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(values), len(dest))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		target.Set(reflect.ValueOf(v).Convert(target.Type()))
	}
	return nil
}
