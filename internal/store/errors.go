package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict is returned when an insert violates a uniqueness constraint,
// e.g. a duplicate grant for (list, user) or a second pending invite for
// (receiver, list). Conflicts are definitive failures and are never retried.
var ErrConflict = errors.New("conflict")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
