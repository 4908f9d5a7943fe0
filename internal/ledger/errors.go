package ledger

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

const (
	pgUniqueViolation = "23505"
	// sqliteConstraint is SQLITE_CONSTRAINT; extended codes keep it in the low byte.
	sqliteConstraint = 19
)

// isUniqueViolation reports whether err is a uniqueness failure from either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code()&0xff == sqliteConstraint {
		return true
	}
	return false
}
