package store

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
)

var testDBCounter atomic.Int64

// newTestStore opens an isolated in-memory SQLite database with migrations applied.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:todo-test-%d?mode=memory&_txlock=immediate", testDBCounter.Add(1))
	db, err := Open(ctx, DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrations, err := Migrations(DriverSQLite, "")
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrations); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewSQLStore(db, DriverSQLite)
}

func mustCreate(t *testing.T, s *SQLStore, owner, id, text string, order int64) Item {
	t.Helper()
	item, err := s.Put(context.Background(), Item{ID: id, Owner: owner, Text: text, Order: order}, PutCreate)
	if err != nil {
		t.Fatalf("Put(%s) error = %v", id, err)
	}
	return item
}

func orderedIDs(items []Item) []string {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})
	ids := make([]string, len(sorted))
	for i, item := range sorted {
		ids[i] = item.ID
	}
	return ids
}
