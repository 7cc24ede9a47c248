// Package reorder turns a requested display sequence into order-value writes
// and commits them as one transaction.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cebarrett/todo/internal/store"
)

// MaxSequence bounds the number of ids one reorder request may carry.
const MaxSequence = 1000

var (
	ErrEmptySequence   = fmt.Errorf("%w: reorder sequence is empty", store.ErrInvalid)
	ErrSequenceTooLong = fmt.Errorf("%w: reorder sequence exceeds %d ids", store.ErrInvalid, MaxSequence)
	ErrDuplicateID     = fmt.Errorf("%w: reorder sequence repeats an id", store.ErrInvalid)
	ErrUnownedID       = fmt.Errorf("%w: reorder sequence names an unknown id", store.ErrInvalid)
	ErrPartialSequence = fmt.Errorf("%w: reorder sequence must name every item", store.ErrInvalid)
)

// Store is the slice of the Order Store the engine needs.
type Store interface {
	ListByOwner(ctx context.Context, owner string) ([]store.Item, error)
	TransactionalReorder(ctx context.Context, owner string, assignments []store.Assignment, expect store.Snapshot) error
}

// planAttempts bounds how often a plan is rebuilt after losing to a concurrent write.
const planAttempts = 3

type Engine struct {
	store Store
}

func New(s Store) *Engine {
	return &Engine{store: s}
}

// Reorder makes the owner's list read back exactly as ids. The whole sequence is
// validated before anything is written; the store re-checks ownership and the
// planned-from order values inside the transaction.
func (e *Engine) Reorder(ctx context.Context, owner string, ids []string) ([]store.Item, error) {
	if err := checkSequence(ids); err != nil {
		return nil, err
	}
	return e.commit(ctx, owner, func([]store.Item) ([]string, error) {
		return ids, nil
	})
}

// Move shifts one item delta positions within the owner's current order.
// Moving past either end leaves the list as it is.
func (e *Engine) Move(ctx context.Context, owner, id string, delta int) ([]store.Item, error) {
	return e.commit(ctx, owner, func(current []store.Item) ([]string, error) {
		sorted := make([]store.Item, len(current))
		copy(sorted, current)
		Sort(sorted)
		return Step(IDs(sorted), id, delta)
	})
}

// commit plans against a fresh read and writes the plan guarded by that read.
// When the store reports the rows changed in between, the plan is rebuilt.
func (e *Engine) commit(ctx context.Context, owner string, sequence func([]store.Item) ([]string, error)) ([]store.Item, error) {
	var err error
	for attempt := 0; attempt < planAttempts; attempt++ {
		if err = e.try(ctx, owner, sequence); !errors.Is(err, store.ErrStale) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	stored, err := e.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	Sort(stored)
	return stored, nil
}

func (e *Engine) try(ctx context.Context, owner string, sequence func([]store.Item) ([]string, error)) error {
	current, err := e.store.ListByOwner(ctx, owner)
	if err != nil {
		return err
	}
	ids, err := sequence(current)
	if err != nil {
		return err
	}
	assignments, err := Plan(current, ids)
	if err != nil {
		return err
	}
	return e.store.TransactionalReorder(ctx, owner, assignments, SnapshotOf(current))
}

// SnapshotOf records the order values a plan is built from.
func SnapshotOf(items []store.Item) store.Snapshot {
	snapshot := make(store.Snapshot, len(items))
	for _, item := range items {
		snapshot[item.ID] = item.Order
	}
	return snapshot
}

func checkSequence(ids []string) error {
	switch {
	case len(ids) == 0:
		return ErrEmptySequence
	case len(ids) > MaxSequence:
		return ErrSequenceTooLong
	}
	return nil
}

// Plan assigns position i to ids[i] and returns only the assignments that change
// an order value. ids must name every item in current exactly once.
func Plan(current []store.Item, ids []string) ([]store.Assignment, error) {
	if err := checkSequence(ids); err != nil {
		return nil, err
	}
	orders := make(map[string]int64, len(current))
	for _, item := range current {
		orders[item.ID] = item.Order
	}

	seen := make(map[string]struct{}, len(ids))
	assignments := make([]store.Assignment, 0, len(ids))
	for position, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		order, ok := orders[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnownedID, id)
		}
		if order != int64(position) {
			assignments = append(assignments, store.Assignment{ID: id, Order: int64(position)})
		}
	}
	if len(seen) != len(orders) {
		return nil, fmt.Errorf("%w: got %d of %d", ErrPartialSequence, len(seen), len(orders))
	}
	return assignments, nil
}

// Apply returns a sorted copy of items with assignments folded in.
func Apply(items []store.Item, assignments []store.Assignment) []store.Item {
	next := make(map[string]int64, len(assignments))
	for _, a := range assignments {
		next[a.ID] = a.Order
	}
	out := make([]store.Item, len(items))
	for i, item := range items {
		if order, ok := next[item.ID]; ok {
			item.Order = order
		}
		out[i] = item
	}
	Sort(out)
	return out
}

// NextOrder is the order value for a newly created item: after every existing
// item, and derived from the clock so concurrent creates rarely tie.
func NextOrder(highest int64, found bool, now time.Time) int64 {
	candidate := now.UnixMicro()
	if found && highest+1 > candidate {
		return highest + 1
	}
	return candidate
}

// Sort orders items by order value, then id.
func Sort(items []store.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].ID < items[j].ID
	})
}

func IDs(items []store.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

var ErrNotInSequence = errors.New("id not in sequence")

// Step returns a copy of ids with id moved delta positions, clamped to the ends.
func Step(ids []string, id string, delta int) ([]string, error) {
	from := -1
	for i, candidate := range ids {
		if candidate == id {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, fmt.Errorf("%w: %w: %q", store.ErrNotFound, ErrNotInSequence, id)
	}
	to := from + delta
	if to < 0 {
		to = 0
	}
	if to > len(ids)-1 {
		to = len(ids) - 1
	}

	out := make([]string, 0, len(ids))
	out = append(out, ids[:from]...)
	out = append(out, ids[from+1:]...)
	out = append(out[:to], append([]string{id}, out[to:]...)...)
	return out, nil
}
