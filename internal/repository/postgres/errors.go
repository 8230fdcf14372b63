package postgres

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// SQLSTATE classes and codes that mean the source cannot serve the query.
const (
	classConnection     = "08"
	classResources      = "53"
	classOperator       = "57"
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
	codeUniqueViolation = "23505"
)

// sqlState extracts the SQLSTATE from either driver's error type.
func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}

// isUnavailable reports whether err means the database is unreachable or
// lacks the tables and columns the forecast reads.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	code, ok := sqlState(err)
	if !ok || len(code) < 2 {
		return false
	}
	switch {
	case code == codeUndefinedTable, code == codeUndefinedColumn:
		return true
	case code[:2] == classConnection, code[:2] == classResources, code[:2] == classOperator:
		return true
	}
	return false
}

// IsUniqueViolation reports a unique constraint violation.
func IsUniqueViolation(err error) bool {
	code, ok := sqlState(err)
	return ok && code == codeUniqueViolation
}

// classify wraps err with op, tagging it ErrDataUnavailable when it is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrDataUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
