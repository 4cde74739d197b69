package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolationCode = "23505"

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation. Stores rely on this to turn constraint races into
// "already exists, fetch and continue" behavior.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
