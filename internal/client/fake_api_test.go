package client

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cebarrett/todo/internal/todo"
)

// fakeAPI is an in-memory server. fail decides, per call, whether the call is
// refused before it changes anything.
type fakeAPI struct {
	mu    sync.Mutex
	items []todo.Item
	next  int
	calls int
	fail  func(call int, op string) error
}

func (f *fakeAPI) check(op string) error {
	f.calls++
	if f.fail != nil {
		return f.fail(f.calls, op)
	}
	return nil
}

func (f *fakeAPI) List(context.Context) ([]todo.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedCopy(f.items), nil
}

func (f *fakeAPI) Create(_ context.Context, text, _ string) (todo.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("create"); err != nil {
		return todo.Item{}, err
	}
	f.next++
	var order int64
	for _, item := range f.items {
		if item.Order >= order {
			order = item.Order + 1
		}
	}
	item := todo.Item{ID: fmt.Sprintf("srv-%d", f.next), Text: text, Order: order}
	f.items = append(f.items, item)
	return item, nil
}

func (f *fakeAPI) Update(_ context.Context, id string, req UpdateRequest) (todo.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("update"); err != nil {
		return todo.Item{}, err
	}
	for i := range f.items {
		if f.items[i].ID != id {
			continue
		}
		if req.Text != nil {
			f.items[i].Text = *req.Text
		}
		if req.Completed != nil {
			f.items[i].Completed = *req.Completed
		}
		return f.items[i], nil
	}
	return todo.Item{}, &Error{Kind: KindNotFound, Status: 404, Message: "Not found"}
}

func (f *fakeAPI) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("delete"); err != nil {
		return err
	}
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeAPI) Reorder(_ context.Context, ids []string) ([]todo.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("reorder"); err != nil {
		return nil, err
	}
	if len(ids) != len(f.items) {
		return nil, &Error{Kind: KindInvalid, Status: 422, Message: "reorder sequence must name every item"}
	}
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	for _, item := range f.items {
		if _, ok := pos[item.ID]; !ok {
			return nil, &Error{Kind: KindInvalid, Status: 422, Message: "reorder sequence names an unknown id"}
		}
	}
	for i := range f.items {
		f.items[i].Order = int64(pos[f.items[i].ID])
	}
	sort.SliceStable(f.items, func(i, j int) bool { return f.items[i].Order < f.items[j].Order })
	return sortedCopy(f.items), nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []Failure
}

func (r *recordingNotifier) Notify(f Failure) {
	r.mu.Lock()
	r.failures = append(r.failures, f)
	r.mu.Unlock()
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}
