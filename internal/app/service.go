package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cebarrett/todo/internal/auth"
	"github.com/cebarrett/todo/internal/logging"
	"github.com/cebarrett/todo/internal/rbac"
	"github.com/cebarrett/todo/internal/reorder"
	"github.com/cebarrett/todo/internal/search"
	"github.com/cebarrett/todo/internal/store"
	"github.com/cebarrett/todo/internal/todo"
	"github.com/cebarrett/todo/internal/util"
	"github.com/charmbracelet/log"
)

// Principal is the verified caller. Owner comes only from the token.
type Principal struct {
	Owner  string
	Scopes []rbac.Scope
}

type UpdateInput struct {
	Text      *string
	Completed *bool
	// UnmodifiedSince, when set, rejects the update if the item changed after it.
	UnmodifiedSince time.Time
}

type dataStore interface {
	ListByOwner(context.Context, string) ([]store.Item, error)
	Append(context.Context, store.Item, func(int64, bool) int64) (store.Item, error)
	ConditionalUpdate(context.Context, string, string, store.Mutation, store.Precondition) (store.Item, error)
	Delete(context.Context, string, string) (bool, error)
	TransactionalReorder(context.Context, string, []store.Assignment, store.Snapshot) error
	Search(context.Context, string, string, int) ([]store.Item, error)
	Ping(context.Context) error
}

type tokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// IdempotencyStore remembers create results by client key.
type IdempotencyStore interface {
	Reserve(ctx context.Context, owner, key string) (todo.Item, bool, error)
	Complete(ctx context.Context, owner, key string, item todo.Item) error
	Release(ctx context.Context, owner, key string) error
}

type searchService interface {
	Search(context.Context, search.Query) (search.Response, error)
	IndexItem(search.Record)
	DeleteItem(string)
}

type Service struct {
	store       dataStore
	engine      *reorder.Engine
	verifier    tokenVerifier
	idempotency IdempotencyStore
	search      searchService
	logger      *log.Logger
	now         func() time.Time
}

type Option func(*Service)

// WithIdempotency enables Idempotency-Key handling for creates.
func WithIdempotency(idem IdempotencyStore) Option {
	return func(s *Service) { s.idempotency = idem }
}

// WithSearch replaces the default database-only search.
func WithSearch(svc *search.Service) Option {
	return func(s *Service) { s.search = svc }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(dataStore dataStore, verifier tokenVerifier, opts ...Option) *Service {
	s := &Service{
		store:    dataStore,
		engine:   reorder.New(dataStore),
		verifier: verifier,
		logger:   logging.Discard(),
		now:      store.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewStoreFallback(dataStore), s.logger)
	}
	return s
}

// Authenticate verifies a bearer token. Every failure looks the same to the caller.
func (s *Service) Authenticate(token string) (Principal, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.Debug("token rejected", "reason", err, "fingerprint", auth.HashToken(token)[:12])
		return Principal{}, errUnauthorized
	}
	return Principal{Owner: claims.Subject, Scopes: rbac.Normalize(claims.Scopes())}, nil
}

func (s *Service) authorize(p Principal, action rbac.Action) error {
	if p.Owner == "" {
		return errUnauthorized
	}
	if !rbac.Can(p.Scopes, action) {
		return errForbidden
	}
	return nil
}

func (s *Service) List(ctx context.Context, p Principal) ([]todo.Item, error) {
	if err := s.authorize(p, rbac.ActionRead); err != nil {
		return nil, err
	}
	items, err := s.store.ListByOwner(ctx, p.Owner)
	if err != nil {
		return nil, err
	}
	reorder.Sort(items)
	return toItems(items), nil
}

// Create adds an item at the end of the owner's list. With a non-empty key and an
// idempotency store, a repeated call returns the first result and replayed=true.
func (s *Service) Create(ctx context.Context, p Principal, text, key string) (item todo.Item, replayed bool, err error) {
	if err := s.authorize(p, rbac.ActionWrite); err != nil {
		return todo.Item{}, false, err
	}
	normalized, err := todo.NormalizeText(text)
	if err != nil {
		return todo.Item{}, false, invalid(err.Error())
	}

	key = strings.TrimSpace(key)
	if key != "" && s.idempotency != nil {
		var (
			prior    todo.Item
			reserved bool
		)
		prior, reserved, err = s.idempotency.Reserve(ctx, p.Owner, key)
		if err != nil {
			return todo.Item{}, false, err
		}
		if !reserved {
			return prior, true, nil
		}
		defer func() {
			// the request context may already be done; finish the record regardless
			finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err != nil {
				if releaseErr := s.idempotency.Release(finishCtx, p.Owner, key); releaseErr != nil {
					s.logger.Warn("release idempotency key", "err", releaseErr)
				}
				return
			}
			if completeErr := s.idempotency.Complete(finishCtx, p.Owner, key, item); completeErr != nil {
				s.logger.Warn("complete idempotency key", "err", completeErr)
			}
		}()
	}

	now := s.now()
	created, err := s.store.Append(ctx, store.Item{
		ID:    util.NewID(""),
		Owner: p.Owner,
		Text:  normalized,
	}, func(highest int64, found bool) int64 {
		return reorder.NextOrder(highest, found, now)
	})
	if err != nil {
		return todo.Item{}, false, err
	}
	s.search.IndexItem(toRecord(created))
	return toItem(created), false, nil
}

func (s *Service) Update(ctx context.Context, p Principal, id string, input UpdateInput) (todo.Item, error) {
	if err := s.authorize(p, rbac.ActionWrite); err != nil {
		return todo.Item{}, err
	}
	if input.Text == nil && input.Completed == nil {
		return todo.Item{}, invalid("nothing to update")
	}
	mutation := store.Mutation{Completed: input.Completed}
	if input.Text != nil {
		normalized, err := todo.NormalizeText(*input.Text)
		if err != nil {
			return todo.Item{}, invalid(err.Error())
		}
		mutation.Text = &normalized
	}

	updated, err := s.store.ConditionalUpdate(ctx, p.Owner, id, mutation, store.Precondition{UnmodifiedSince: input.UnmodifiedSince})
	if err != nil {
		return todo.Item{}, err
	}
	s.search.IndexItem(toRecord(updated))
	return toItem(updated), nil
}

// Delete is idempotent: removing a missing item succeeds.
func (s *Service) Delete(ctx context.Context, p Principal, id string) error {
	if err := s.authorize(p, rbac.ActionWrite); err != nil {
		return err
	}
	removed, err := s.store.Delete(ctx, p.Owner, id)
	if err != nil {
		return err
	}
	if removed {
		s.search.DeleteItem(id)
	}
	return nil
}

func (s *Service) Reorder(ctx context.Context, p Principal, ids []string) ([]todo.Item, error) {
	if err := s.authorize(p, rbac.ActionWrite); err != nil {
		return nil, err
	}
	items, err := s.engine.Reorder(ctx, p.Owner, ids)
	if err != nil {
		return nil, err
	}
	return toItems(items), nil
}

// Move shifts one item a single position; direction is "up" or "down".
func (s *Service) Move(ctx context.Context, p Principal, id, direction string) ([]todo.Item, error) {
	if err := s.authorize(p, rbac.ActionWrite); err != nil {
		return nil, err
	}
	var delta int
	switch direction {
	case "up":
		delta = -1
	case "down":
		delta = 1
	default:
		return nil, invalid(`direction must be "up" or "down"`)
	}
	items, err := s.engine.Move(ctx, p.Owner, id, delta)
	if err != nil {
		return nil, err
	}
	return toItems(items), nil
}

func (s *Service) Search(ctx context.Context, p Principal, query string, limit int) (search.Response, error) {
	if err := s.authorize(p, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if limit < 0 || limit > 100 {
		return search.Response{}, invalid("limit must be between 0 and 100")
	}
	return s.search.Search(ctx, search.Query{Owner: p.Owner, Text: query, Limit: limit})
}

// Ping verifies the database connection is alive
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SearchRecords converts stored items for a bulk reindex.
func SearchRecords(items []store.Item) []search.Record {
	records := make([]search.Record, 0, len(items))
	for _, item := range items {
		records = append(records, toRecord(item))
	}
	return records
}

func toItem(item store.Item) todo.Item {
	return todo.Item{
		ID:        item.ID,
		Text:      item.Text,
		Completed: item.Completed,
		Order:     item.Order,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

func toItems(items []store.Item) []todo.Item {
	out := make([]todo.Item, 0, len(items))
	for _, item := range items {
		out = append(out, toItem(item))
	}
	return out
}

func toRecord(item store.Item) search.Record {
	return search.Record{
		ID:        item.ID,
		OwnerID:   item.Owner,
		Text:      item.Text,
		Completed: item.Completed,
		Order:     item.Order,
	}
}

// isInternal reports whether err falls outside the expected taxonomy and
// should be logged with detail.
func isInternal(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return false
	}
	return !errors.Is(err, store.ErrInvalid) && !errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, store.ErrUnavailable)
}
