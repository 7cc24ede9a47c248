package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: ErrInvalid},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}, want: ErrInvalid},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: ErrUnavailable},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, want: ErrUnavailable},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, want: ErrUnavailable},
		{name: "syntax", err: &pgconn.PgError{Code: "42601"}, want: ErrInternal},
		{name: "sqlite busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, want: ErrUnavailable},
		{name: "sqlite constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint}, want: ErrInvalid},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrUnavailable},
		{name: "bad conn", err: driver.ErrBadConn, want: ErrUnavailable},
		{name: "unknown", err: errors.New("boom"), want: ErrInternal},
		{name: "already classified", err: ErrNotFound, want: ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("op", tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
	if classify("op", nil) != nil {
		t.Fatal("classify(nil) must be nil")
	}
}
