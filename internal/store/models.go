package store

import "time"

// Item is one todo row, keyed by (Owner, ID).
type Item struct {
	ID        string
	Owner     string
	Text      string
	Completed bool
	Order     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assignment sets a new order value for one item.
type Assignment struct {
	ID    string
	Order int64
}

// Snapshot is the id to order view a reorder was planned from.
type Snapshot map[string]int64

// Mutation lists the fields to change; nil fields are left alone.
type Mutation struct {
	Text      *string
	Completed *bool
}

// Precondition narrows a conditional update beyond "the row exists".
type Precondition struct {
	// UnmodifiedSince rejects the update when the row changed after this instant.
	UnmodifiedSince time.Time
}

type PutMode int

const (
	// PutCreate inserts a new row and fails when (owner, id) is taken.
	PutCreate PutMode = iota
	// PutReplace overwrites an existing row and fails with ErrNotFound otherwise.
	PutReplace
)

// Now is the store clock, truncated to the precision Postgres keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
