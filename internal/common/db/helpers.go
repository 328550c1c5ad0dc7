package db

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const errDuplicateEntry = 1062

// IsNoRows reports whether err wraps sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsDuplicate reports whether err is a MySQL duplicate-entry error.
func IsDuplicate(err error) bool {
	_, ok := DuplicateKey(err)
	return ok
}

// DuplicateKey returns the index name from a duplicate-entry error,
// e.g. "submissions.PRIMARY".
func DuplicateKey(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != errDuplicateEntry {
		return "", false
	}
	_, key, found := strings.Cut(myErr.Message, "for key ")
	if !found {
		return "", true
	}
	return strings.Trim(key, " `\"'"), true
}

// InList expands values into "?, ?, ?" and the matching argument slice,
// for use in "col IN (...)" clauses.
func InList[T ~string](values []T) (string, []interface{}) {
	if len(values) == 0 {
		return "NULL", nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = string(v)
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}
