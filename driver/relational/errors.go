package relational

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryableCodes are the Postgres SQLSTATE codes classified as retryable:
// serialization failure, deadlock, lock not available, and
// admin/crash shutdown/cannot-connect-now.
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

// QueryError wraps a backend error with a retryable classification. The
// driver never retries on its own; Retryable() is purely informational for
// a higher layer (here, the resolver's bounded retry).
type QueryError struct {
	Err         error
	IsRetryable bool
}

func (e *QueryError) Error() string   { return e.Err.Error() }
func (e *QueryError) Unwrap() error   { return e.Err }
func (e *QueryError) Retryable() bool { return e.IsRetryable }

// classify wraps err as a *QueryError, marking it retryable when it is a
// pgx error whose SQLSTATE code is in retryableCodes. sqlite3 and generic
// errors are always classified as fatal: sqlite has no equivalent
// concurrent-transaction failure modes that the caller can usefully retry.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &QueryError{Err: err, IsRetryable: retryableCodes[pgErr.Code]}
	}

	return &QueryError{Err: err, IsRetryable: false}
}
