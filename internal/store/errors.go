package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalid     = errors.New("invalid")
	ErrUnavailable = errors.New("unavailable")
	ErrInternal    = errors.New("internal")
	// ErrPrecondition is an ErrInvalid raised when a conditional write lost its precondition.
	ErrPrecondition = fmt.Errorf("%w: precondition failed", ErrInvalid)
	// ErrStale is an ErrUnavailable raised when rows changed between a reorder's read and its write.
	ErrStale = fmt.Errorf("%w: order changed since it was read", ErrUnavailable)
)

// Classified reports whether err already carries one of the store sentinels.
func Classified(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) ||
		errors.Is(err, ErrUnavailable) || errors.Is(err, ErrInternal)
}

// classify wraps a driver error with the sentinel that describes it.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, kindOf(err), err)
}

func kindOf(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return ErrUnavailable
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57"):
			return ErrUnavailable
		case strings.HasPrefix(pgErr.Code, "23"), strings.HasPrefix(pgErr.Code, "22"):
			return ErrInvalid
		default:
			return ErrInternal
		}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return ErrUnavailable
		case sqlite3.ErrConstraint:
			return ErrInvalid
		default:
			return ErrInternal
		}
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrUnavailable
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return ErrUnavailable
	case errors.As(err, &connectErr), errors.As(err, &netErr):
		return ErrUnavailable
	case pgconn.SafeToRetry(err):
		return ErrUnavailable
	}
	return ErrInternal
}
