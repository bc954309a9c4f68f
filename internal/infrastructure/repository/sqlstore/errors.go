package sqlstore

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/infrastructure/resilience"
)

// serializationError marks a transaction that lost a lock or
// serialization race and may be re-run from the start.
type serializationError struct{ err error }

func (e *serializationError) Error() string { return "serialization failure: " + e.err.Error() }
func (e *serializationError) Unwrap() error { return e.err }

// classify maps driver errors onto domain kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != nil {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNotFound, op, err)
	}
	switch code := sqlState(err); code {
	case "23505":
		return domain.WrapError(domain.ErrConflict, op, err)
	case "40001", "40P01":
		return domain.WrapError(domain.ErrStorage, op, &serializationError{err: err})
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return domain.WrapError(domain.ErrStorage, op, &serializationError{err: err})
		case sqlite3.SQLITE_CONSTRAINT:
			return domain.WrapError(domain.ErrConflict, op, err)
		}
	}
	return domain.WrapError(domain.ErrStorage, op, err)
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// txClassifier retries only transactions that lost a serialization race.
func txClassifier(err error) resilience.ErrorClassification {
	var ser *serializationError
	if errors.As(err, &ser) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
}
