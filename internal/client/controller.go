package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/cebarrett/todo/internal/reorder"
	"github.com/cebarrett/todo/internal/todo"
	"github.com/cebarrett/todo/internal/util"
	"github.com/google/uuid"
)

// API is the slice of Client the controller drives.
type API interface {
	List(ctx context.Context) ([]todo.Item, error)
	Create(ctx context.Context, text, idempotencyKey string) (todo.Item, error)
	Update(ctx context.Context, id string, req UpdateRequest) (todo.Item, error)
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, ids []string) ([]todo.Item, error)
}

// Failure describes a mutation the server refused or never received. Its
// optimistic effect has already been withdrawn when the notifier sees it.
type Failure struct {
	Op   string
	ID   string
	Text string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s failed: %v", f.Op, f.Err)
}

type Notifier interface {
	Notify(Failure)
}

type NotifyFunc func(Failure)

func (f NotifyFunc) Notify(failure Failure) { f(failure) }

var (
	ErrUnknownItem = errors.New("no such item")
	// ErrCreateFailed marks a command that targeted an item whose create was rejected.
	ErrCreateFailed = errors.New("item was never created")
	// ErrClosed is returned by Flush once the controller has been closed with work left.
	ErrClosed = errors.New("controller closed")
)

const tempPrefix = "tmp"

type opKind int

const (
	opAdd opKind = iota
	opToggle
	opEdit
	opRemove
	opReorder
)

func (k opKind) String() string {
	return [...]string{"add", "toggle", "edit", "remove", "reorder"}[k]
}

// command is one entry of the pending log.
type command struct {
	op        opKind
	id        string
	text      string
	completed bool
	ids       []string
	key       string
}

type result struct {
	item  todo.Item
	items []todo.Item
}

type ControllerOptions struct {
	Notifier Notifier
	// OnChange receives the visible list after every local or confirmed change.
	OnChange func([]todo.Item)
}

// Controller keeps the confirmed server state and an ordered log of pending
// commands. The visible list is the pending log folded over the confirmed
// state, so a failed command is withdrawn by dropping it from the log; other
// in-flight commands keep their effect.
type Controller struct {
	api      API
	notifier Notifier
	onChange func([]todo.Item)

	mu        sync.Mutex
	confirmed []todo.Item
	pending   []*command
	aliases   map[string]string
	failed    map[string]struct{}
	idle      chan struct{}

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(api API, opts ControllerOptions) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	c := &Controller{
		api:      api,
		notifier: opts.Notifier,
		onChange: opts.OnChange,
		aliases:  make(map[string]string),
		failed:   make(map[string]struct{}),
		idle:     idle,
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

// Load replaces the confirmed state with the server's list.
func (c *Controller) Load(ctx context.Context) error {
	items, err := c.api.List(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.confirmed = sortedCopy(items)
	visible := c.visibleLocked()
	c.mu.Unlock()
	c.changed(visible)
	return nil
}

// Items returns the visible list.
func (c *Controller) Items() []todo.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked()
}

// Add shows the item at once under a temporary id and returns that id.
func (c *Controller) Add(text string) (string, error) {
	normalized, err := todo.NormalizeText(text)
	if err != nil {
		return "", &Error{Kind: KindInvalid, Message: err.Error(), Err: err}
	}
	id := util.NewID(tempPrefix)
	c.enqueue(&command{op: opAdd, id: id, text: normalized, key: uuid.NewString()})
	return id, nil
}

func (c *Controller) Toggle(id string) error {
	item, ok := c.find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	c.enqueue(&command{op: opToggle, id: item.ID, completed: !item.Completed})
	return nil
}

func (c *Controller) Edit(id, text string) error {
	normalized, err := todo.NormalizeText(text)
	if err != nil {
		return &Error{Kind: KindInvalid, Message: err.Error(), Err: err}
	}
	item, ok := c.find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	c.enqueue(&command{op: opEdit, id: item.ID, text: normalized})
	return nil
}

func (c *Controller) Remove(id string) error {
	item, ok := c.find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	c.enqueue(&command{op: opRemove, id: item.ID})
	return nil
}

// Reorder shows ids as the new sequence. It must name every visible item.
func (c *Controller) Reorder(ids []string) error {
	ids = c.resolve(ids)
	visible := reorderIDs(c.Items())
	if len(ids) != len(visible) {
		return &Error{Kind: KindInvalid, Message: "reorder must name every item"}
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if !slices.Contains(visible, id) {
			return fmt.Errorf("%w: %s", ErrUnknownItem, id)
		}
		if _, dup := seen[id]; dup {
			return &Error{Kind: KindInvalid, Message: "reorder repeats an id"}
		}
		seen[id] = struct{}{}
	}
	if slices.Equal(ids, visible) {
		return nil
	}
	c.enqueue(&command{op: opReorder, ids: slices.Clone(ids)})
	return nil
}

func (c *Controller) MoveUp(id string) error   { return c.move(id, -1) }
func (c *Controller) MoveDown(id string) error { return c.move(id, 1) }

func (c *Controller) move(id string, delta int) error {
	ids := reorderIDs(c.Items())
	next, err := reorder.Step(ids, c.resolve([]string{id})[0], delta)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return c.Reorder(next)
}

// Flush waits until every pending command has been confirmed or dropped.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	default:
	}
	select {
	case <-idle:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker. Commands still pending are abandoned without a
// failure notice, including one cut off mid-request.
func (c *Controller) Close() {
	c.cancel()
	<-c.done
}

// find looks id up in the visible list. A temporary id keeps working after its
// create is confirmed.
func (c *Controller) find(id string) (todo.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id = c.resolveLocked(id)
	for _, item := range c.visibleLocked() {
		if item.ID == id {
			return item, true
		}
	}
	return todo.Item{}, false
}

func (c *Controller) resolve(ids []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = c.resolveLocked(id)
	}
	return out
}

func (c *Controller) enqueue(cmd *command) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.idle = make(chan struct{})
	}
	c.pending = append(c.pending, cmd)
	visible := c.visibleLocked()
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	c.changed(visible)
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		cmd := c.pending[0]
		call, err := c.prepareLocked(cmd)
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		var res result
		if err == nil {
			res, err = call(ctx)
		}
		if ctx.Err() != nil {
			return
		}
		c.finish(cmd, res, err)
	}
}

// prepareLocked resolves temporary ids against confirmed creates and builds the
// request for cmd.
func (c *Controller) prepareLocked(cmd *command) (func(context.Context) (result, error), error) {
	switch cmd.op {
	case opAdd:
		return func(ctx context.Context) (result, error) {
			item, err := c.api.Create(ctx, cmd.text, cmd.key)
			return result{item: item}, err
		}, nil
	case opReorder:
		ids := make([]string, 0, len(cmd.ids))
		for _, id := range cmd.ids {
			if _, gone := c.failed[id]; gone {
				continue
			}
			ids = append(ids, c.resolveLocked(id))
		}
		return func(ctx context.Context) (result, error) {
			items, err := c.api.Reorder(ctx, ids)
			return result{items: items}, err
		}, nil
	}

	if _, gone := c.failed[cmd.id]; gone {
		return nil, ErrCreateFailed
	}
	id := c.resolveLocked(cmd.id)
	switch cmd.op {
	case opToggle:
		completed := cmd.completed
		return func(ctx context.Context) (result, error) {
			item, err := c.api.Update(ctx, id, UpdateRequest{Completed: &completed})
			return result{item: item}, err
		}, nil
	case opEdit:
		text := cmd.text
		return func(ctx context.Context) (result, error) {
			item, err := c.api.Update(ctx, id, UpdateRequest{Text: &text})
			return result{item: item}, err
		}, nil
	default:
		return func(ctx context.Context) (result, error) {
			return result{}, c.api.Delete(ctx, id)
		}, nil
	}
}

func (c *Controller) resolveLocked(id string) string {
	if durable, ok := c.aliases[id]; ok {
		return durable
	}
	return id
}

// finish removes cmd from the head of the log and folds its outcome into the
// confirmed state. Flush waiters are released only after the notifier ran.
func (c *Controller) finish(cmd *command, res result, err error) {
	c.mu.Lock()
	if len(c.pending) > 0 && c.pending[0] == cmd {
		c.pending = c.pending[1:]
	}
	if err != nil {
		if cmd.op == opAdd {
			c.failed[cmd.id] = struct{}{}
		}
	} else {
		c.confirmLocked(cmd, res)
	}
	drained := len(c.pending) == 0
	idle := c.idle
	visible := c.visibleLocked()
	c.mu.Unlock()

	c.changed(visible)
	if err != nil && c.notifier != nil {
		c.notifier.Notify(Failure{Op: cmd.op.String(), ID: cmd.id, Text: cmd.text, Err: err})
	}
	if drained {
		close(idle)
	}
}

func (c *Controller) confirmLocked(cmd *command, res result) {
	switch cmd.op {
	case opAdd:
		c.aliases[cmd.id] = res.item.ID
		c.confirmed = append(c.confirmed, res.item)
	case opToggle, opEdit:
		for i := range c.confirmed {
			if c.confirmed[i].ID == res.item.ID {
				c.confirmed[i] = res.item
			}
		}
	case opRemove:
		id := c.resolveLocked(cmd.id)
		c.confirmed = slices.DeleteFunc(c.confirmed, func(item todo.Item) bool { return item.ID == id })
	case opReorder:
		c.confirmed = res.items
	}
	c.confirmed = sortedCopy(c.confirmed)
}

// visibleLocked folds the pending log over the confirmed state.
func (c *Controller) visibleLocked() []todo.Item {
	items := slices.Clone(c.confirmed)
	for _, cmd := range c.pending {
		items = c.applyLocked(items, cmd)
	}
	if items == nil {
		items = []todo.Item{}
	}
	return items
}

func (c *Controller) applyLocked(items []todo.Item, cmd *command) []todo.Item {
	if cmd.op == opAdd {
		var order int64
		if n := len(items); n > 0 {
			order = items[n-1].Order + 1
		}
		return append(items, todo.Item{ID: cmd.id, Text: cmd.text, Order: order})
	}
	if cmd.op == opReorder {
		return c.arrangeLocked(items, cmd.ids)
	}

	id := c.resolveLocked(cmd.id)
	idx := slices.IndexFunc(items, func(item todo.Item) bool { return item.ID == id || item.ID == cmd.id })
	if idx < 0 {
		return items
	}
	switch cmd.op {
	case opToggle:
		items[idx].Completed = cmd.completed
	case opEdit:
		items[idx].Text = cmd.text
	case opRemove:
		items = slices.Delete(items, idx, idx+1)
	}
	return items
}

// arrangeLocked puts items in the order ids names them. Items the sequence does
// not mention keep their relative order after the named ones.
func (c *Controller) arrangeLocked(items []todo.Item, ids []string) []todo.Item {
	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		rank[c.resolveLocked(id)] = i
		rank[id] = i
	}
	out := slices.Clone(items)
	sort.SliceStable(out, func(i, j int) bool {
		ri, okI := rank[out[i].ID]
		rj, okJ := rank[out[j].ID]
		switch {
		case okI && okJ:
			return ri < rj
		default:
			return okI && !okJ
		}
	})
	return out
}

func (c *Controller) changed(visible []todo.Item) {
	if c.onChange != nil {
		c.onChange(visible)
	}
}

func reorderIDs(items []todo.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

func sortedCopy(items []todo.Item) []todo.Item {
	out := slices.Clone(items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}
