package reorder

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/cebarrett/todo/internal/store"
	"pgregory.net/rapid"
)

type fakeStore struct {
	items       map[string][]store.Item
	reorderErr  error
	reorderSeen [][]store.Assignment
}

func newFakeStore(owner string, ids ...string) *fakeStore {
	f := &fakeStore{items: map[string][]store.Item{}}
	for i, id := range ids {
		f.items[owner] = append(f.items[owner], store.Item{ID: id, Owner: owner, Text: id, Order: int64(i * 10)})
	}
	return f
}

func (f *fakeStore) ListByOwner(_ context.Context, owner string) ([]store.Item, error) {
	out := make([]store.Item, len(f.items[owner]))
	copy(out, f.items[owner])
	return out, nil
}

func (f *fakeStore) TransactionalReorder(_ context.Context, owner string, assignments []store.Assignment, _ store.Snapshot) error {
	f.reorderSeen = append(f.reorderSeen, assignments)
	if f.reorderErr != nil {
		return f.reorderErr
	}
	f.items[owner] = Apply(f.items[owner], assignments)
	return nil
}

func TestPlanRejectsInvalidSequences(t *testing.T) {
	current := []store.Item{{ID: "a", Order: 0}, {ID: "b", Order: 1}, {ID: "c", Order: 2}}
	tooLong := make([]string, MaxSequence+1)
	for i := range tooLong {
		tooLong[i] = fmt.Sprintf("id-%d", i)
	}

	cases := []struct {
		name string
		ids  []string
		want error
	}{
		{name: "empty", ids: nil, want: ErrEmptySequence},
		{name: "too long", ids: tooLong, want: ErrSequenceTooLong},
		{name: "duplicate", ids: []string{"a", "a", "b"}, want: ErrDuplicateID},
		{name: "unowned last", ids: []string{"c", "a", "x"}, want: ErrUnownedID},
		{name: "partial", ids: []string{"c", "a"}, want: ErrPartialSequence},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(current, tc.ids)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Plan() error = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, store.ErrInvalid) {
				t.Fatalf("Plan() error %v is not ErrInvalid", err)
			}
		})
	}
}

func TestPlanEmitsOnlyChanges(t *testing.T) {
	current := []store.Item{{ID: "a", Order: 0}, {ID: "b", Order: 1}, {ID: "c", Order: 2}}
	assignments, err := Plan(current, []string{"a", "c", "b"})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	want := []store.Assignment{{ID: "c", Order: 1}, {ID: "b", Order: 2}}
	if !reflect.DeepEqual(assignments, want) {
		t.Fatalf("Plan() = %+v, want %+v", assignments, want)
	}
}

func testPlan_Permutation_Properties(t *rapid.T) {
	n := rapid.IntRange(1, 60).Draw(t, "n")
	current := make([]store.Item, n)
	ids := make([]string, n)
	for i := range current {
		ids[i] = fmt.Sprintf("item-%02d", i)
		current[i] = store.Item{ID: ids[i], Order: rapid.Int64Range(-1000, 1000).Draw(t, "order")}
	}
	wanted := rapid.Permutation(ids).Draw(t, "wanted")

	assignments, err := Plan(current, wanted)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if got := IDs(Apply(current, assignments)); !reflect.DeepEqual(got, wanted) {
		t.Fatalf("applied order = %v, want %v", got, wanted)
	}
}

func TestPlan_Permutation_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testPlan_Permutation_Properties)
}

func testReorder_UnownedLeavesStoreUntouched_Properties(t *rapid.T) {
	n := rapid.IntRange(1, 40).Draw(t, "n")
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%02d", i)
	}
	fs := newFakeStore("owner", ids...)
	before, _ := fs.ListByOwner(context.Background(), "owner")

	wanted := rapid.Permutation(ids).Draw(t, "wanted")
	at := rapid.IntRange(0, n-1).Draw(t, "at")
	wanted[at] = "foreign"

	_, err := New(fs).Reorder(context.Background(), "owner", wanted)
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("Reorder() error = %v, want ErrInvalid", err)
	}
	if len(fs.reorderSeen) != 0 {
		t.Fatalf("store was written: %+v", fs.reorderSeen)
	}
	after, _ := fs.ListByOwner(context.Background(), "owner")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("store changed: %+v -> %+v", before, after)
	}
}

func TestReorder_UnownedLeavesStoreUntouched_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testReorder_UnownedLeavesStoreUntouched_Properties)
}

func TestEngineReorderReturnsSortedItems(t *testing.T) {
	fs := newFakeStore("owner", "a", "b", "c")
	items, err := New(fs).Reorder(context.Background(), "owner", []string{"c", "a", "b"})
	if err != nil {
		t.Fatalf("Reorder() error = %v", err)
	}
	if got := IDs(items); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("Reorder() = %v", got)
	}
}

func TestEngineReorderPropagatesStoreFailure(t *testing.T) {
	fs := newFakeStore("owner", "a", "b")
	fs.reorderErr = fmt.Errorf("reorder: %w", store.ErrUnavailable)
	_, err := New(fs).Reorder(context.Background(), "owner", []string{"b", "a"})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEngineReorderGivesUpAfterRepeatedStaleReads(t *testing.T) {
	fs := newFakeStore("owner", "a", "b")
	fs.reorderErr = fmt.Errorf("reorder: %w", store.ErrStale)
	_, err := New(fs).Reorder(context.Background(), "owner", []string{"b", "a"})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(fs.reorderSeen) != planAttempts {
		t.Fatalf("commit attempts = %d, want %d", len(fs.reorderSeen), planAttempts)
	}
}

func TestEngineMove(t *testing.T) {
	fs := newFakeStore("owner", "a", "b", "c")
	engine := New(fs)

	items, err := engine.Move(context.Background(), "owner", "c", -1)
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if got := IDs(items); !reflect.DeepEqual(got, []string{"a", "c", "b"}) {
		t.Fatalf("Move(up) = %v", got)
	}

	items, err = engine.Move(context.Background(), "owner", "a", -1)
	if err != nil {
		t.Fatalf("Move() at top error = %v", err)
	}
	if got := IDs(items); !reflect.DeepEqual(got, []string{"a", "c", "b"}) {
		t.Fatalf("Move(up) at top = %v", got)
	}

	if _, err := engine.Move(context.Background(), "owner", "zzz", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStep(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	cases := []struct {
		id    string
		delta int
		want  []string
	}{
		{id: "b", delta: -1, want: []string{"b", "a", "c", "d"}},
		{id: "b", delta: 1, want: []string{"a", "c", "b", "d"}},
		{id: "a", delta: -1, want: []string{"a", "b", "c", "d"}},
		{id: "d", delta: 1, want: []string{"a", "b", "c", "d"}},
		{id: "a", delta: 10, want: []string{"b", "c", "d", "a"}},
	}
	for _, tc := range cases {
		got, err := Step(ids, tc.id, tc.delta)
		if err != nil {
			t.Fatalf("Step(%s, %d) error = %v", tc.id, tc.delta, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Step(%s, %d) = %v, want %v", tc.id, tc.delta, got, tc.want)
		}
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c", "d"}) {
		t.Fatalf("Step mutated its input: %v", ids)
	}
}

func TestNextOrder(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	if got := NextOrder(0, false, now); got != now.UnixMicro() {
		t.Fatalf("NextOrder(empty) = %d", got)
	}
	if got := NextOrder(5, true, now); got != now.UnixMicro() {
		t.Fatalf("NextOrder(small max) = %d", got)
	}
	ahead := now.UnixMicro() + 50
	if got := NextOrder(ahead, true, now); got != ahead+1 {
		t.Fatalf("NextOrder(max ahead of clock) = %d, want %d", got, ahead+1)
	}
}
