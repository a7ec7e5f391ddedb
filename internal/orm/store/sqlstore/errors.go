package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

// classify converts a driver error into a gateway error kind.
// Anything unrecognised is treated as an unavailable store.
func classify(err error, entityType string) error {
	if err == nil {
		return nil
	}
	if _, ok := ormerrors.As(err); ok {
		return err
	}

	kind := kindOf(err)
	return ormerrors.Wrap(kind, err, "store rejected operation").ForEntity(entityType, nil)
}

func kindOf(err error) ormerrors.Kind {
	if isConnectionError(err) {
		return ormerrors.StoreUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return sqlStateKind(pgErr.Code)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return sqlStateKind(string(pqErr.Code))
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey:
			return ormerrors.ReferentialIntegrityViolation
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey,
			sqlite3.ErrConstraintNotNull, sqlite3.ErrConstraintCheck:
			return ormerrors.ValidationFailed
		}
		if liteErr.Code == sqlite3.ErrConstraint {
			return ormerrors.ValidationFailed
		}
		return ormerrors.StoreUnavailable
	}

	return ormerrors.StoreUnavailable
}

func sqlStateKind(code string) ormerrors.Kind {
	switch code {
	case "23503": // foreign_key_violation
		return ormerrors.ReferentialIntegrityViolation
	case "23505", "23502", "23514": // unique, not null, check
		return ormerrors.ValidationFailed
	case "22P02", "22003", "22007", "22008": // invalid text, out of range, datetime
		return ormerrors.ValidationFailed
	}
	if strings.HasPrefix(code, "23") {
		return ormerrors.ValidationFailed
	}
	return ormerrors.StoreUnavailable
}

// isConnectionError is true for failures that say nothing about the data
func isConnectionError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone)
}
