package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore keeps todos in one table partitioned by owner_id.
//
// Placeholders are written as $1..$N in order of first appearance: SQLite treats
// "$N" as a named parameter numbered by position, Postgres by its digit, and the
// two agree only when the numbering is ascending.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	if driver == "" {
		driver = DriverPostgres
	}
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

const itemColumns = `owner_id, id, text, completed, sort_order, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	if err := row.Scan(&item.Owner, &item.ID, &item.Text, &item.Completed, &item.Order, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func (s *SQLStore) ListByOwner(ctx context.Context, owner string) ([]Item, error) {
	return s.queryItems(ctx, "list todos", `SELECT `+itemColumns+` FROM todos WHERE owner_id=$1`, owner)
}

// ListAll returns every owner's items. Only the search reindex uses it.
func (s *SQLStore) ListAll(ctx context.Context) ([]Item, error) {
	return s.queryItems(ctx, "list all todos", `SELECT `+itemColumns+` FROM todos`)
}

func (s *SQLStore) queryItems(ctx context.Context, op, query string, args ...any) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, classify("scan todo", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate todos", err)
	}
	return items, nil
}

// MaxOrder returns the highest order value the owner holds; found is false for an empty collection.
func (s *SQLStore) MaxOrder(ctx context.Context, owner string) (highest int64, found bool, err error) {
	return maxOrder(ctx, s.db, owner)
}

// querier is the part of *sql.DB and *sql.Tx the single-row helpers use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func maxOrder(ctx context.Context, q querier, owner string) (int64, bool, error) {
	var value sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(sort_order) FROM todos WHERE owner_id=$1`, owner).Scan(&value); err != nil {
		return 0, false, classify("max order", err)
	}
	return value.Int64, value.Valid, nil
}

func insertItem(ctx context.Context, q querier, item Item) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO todos (owner_id, id, text, completed, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.Owner, item.ID, item.Text, item.Completed, item.Order, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return classify("insert todo", err)
	}
	return nil
}

func stamp(item Item) (Item, error) {
	if item.Owner == "" || item.ID == "" {
		return Item{}, fmt.Errorf("put todo: %w: owner and id are required", ErrInvalid)
	}
	now := Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.CreatedAt = item.CreatedAt.UTC().Truncate(time.Microsecond)
	item.UpdatedAt = now
	return item, nil
}

// Append inserts item as a new row ordered by next, which receives the owner's
// highest order value. The read and the insert run in one transaction that
// holds the owner's lock, so concurrent appends see each other.
func (s *SQLStore) Append(ctx context.Context, item Item, next func(highest int64, found bool) int64) (created Item, err error) {
	item, err = stamp(item)
	if err != nil {
		return Item{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, classify("begin append", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, item.Owner); err != nil {
			return Item{}, classify("lock owner", err)
		}
	}
	highest, found, err := maxOrder(ctx, tx, item.Owner)
	if err != nil {
		return Item{}, err
	}
	item.Order = next(highest, found)
	if err := insertItem(ctx, tx, item); err != nil {
		return Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return Item{}, classify("commit append", err)
	}
	return item, nil
}

func (s *SQLStore) Put(ctx context.Context, item Item, mode PutMode) (Item, error) {
	item, err := stamp(item)
	if err != nil {
		return Item{}, err
	}

	switch mode {
	case PutCreate:
		if err := insertItem(ctx, s.db, item); err != nil {
			return Item{}, err
		}
		return item, nil
	case PutReplace:
		row := s.db.QueryRowContext(ctx, `
			UPDATE todos
			SET text=$1, completed=$2, sort_order=$3, updated_at=$4
			WHERE owner_id=$5 AND id=$6
			RETURNING `+itemColumns,
			item.Text, item.Completed, item.Order, item.UpdatedAt, item.Owner, item.ID)
		replaced, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, fmt.Errorf("replace todo %s: %w", item.ID, ErrNotFound)
		}
		if err != nil {
			return Item{}, classify("replace todo", err)
		}
		return replaced, nil
	default:
		return Item{}, fmt.Errorf("put todo: %w: unknown mode %d", ErrInvalid, mode)
	}
}

// ConditionalUpdate applies m in a single statement so the existence check and
// the write cannot be separated by a concurrent delete.
func (s *SQLStore) ConditionalUpdate(ctx context.Context, owner, id string, m Mutation, p Precondition) (Item, error) {
	if m.Text == nil && m.Completed == nil {
		return Item{}, fmt.Errorf("update todo: %w: nothing to change", ErrInvalid)
	}

	var (
		sets []string
		args []any
	)
	bind := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if m.Text != nil {
		sets = append(sets, "text="+bind(*m.Text))
	}
	if m.Completed != nil {
		sets = append(sets, "completed="+bind(*m.Completed))
	}
	sets = append(sets, "updated_at="+bind(Now()))
	where := "owner_id=" + bind(owner) + " AND id=" + bind(id)
	if !p.UnmodifiedSince.IsZero() {
		where += " AND updated_at<=" + bind(p.UnmodifiedSince.UTC().Truncate(time.Microsecond))
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE todos SET `+strings.Join(sets, ", ")+` WHERE `+where+` RETURNING `+itemColumns,
		args...)
	item, err := scanItem(row)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Item{}, classify("update todo", err)
	}
	if p.UnmodifiedSince.IsZero() {
		return Item{}, fmt.Errorf("update todo %s: %w", id, ErrNotFound)
	}
	exists, err := s.exists(ctx, owner, id)
	if err != nil {
		return Item{}, err
	}
	if exists {
		return Item{}, fmt.Errorf("update todo %s: %w", id, ErrPrecondition)
	}
	return Item{}, fmt.Errorf("update todo %s: %w", id, ErrNotFound)
}

func (s *SQLStore) exists(ctx context.Context, owner, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM todos WHERE owner_id=$1 AND id=$2)`, owner, id).Scan(&exists)
	if err != nil {
		return false, classify("check todo", err)
	}
	return exists, nil
}

// Delete removes the row if present. Deleting a missing row is not an error;
// removed reports whether anything was deleted.
func (s *SQLStore) Delete(ctx context.Context, owner, id string) (removed bool, err error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE owner_id=$1 AND id=$2`, owner, id)
	if err != nil {
		return false, classify("delete todo", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, classify("delete todo rows", err)
	}
	return affected > 0, nil
}

// TransactionalReorder writes every assignment or none. Ownership of every id is
// checked against the locked owner rows before the first write. A non-nil
// expect is the view the assignments were planned from; if the locked rows no
// longer match it the call fails with ErrStale and writes nothing.
func (s *SQLStore) TransactionalReorder(ctx context.Context, owner string, assignments []Assignment, expect Snapshot) (err error) {
	if len(assignments) == 0 && expect == nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin reorder", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	locked, err := s.lockOwnerOrders(ctx, tx, owner)
	if err != nil {
		return err
	}
	if expect != nil {
		if err := checkSnapshot(locked, expect, assignments); err != nil {
			return err
		}
	}
	for _, assignment := range assignments {
		if _, ok := locked[assignment.ID]; !ok {
			return fmt.Errorf("reorder: %w: item %q is not owned by caller", ErrInvalid, assignment.ID)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE todos SET sort_order=$1 WHERE owner_id=$2 AND id=$3`)
	if err != nil {
		return classify("prepare reorder", err)
	}
	defer stmt.Close()

	for _, assignment := range assignments {
		result, err := stmt.ExecContext(ctx, assignment.Order, owner, assignment.ID)
		if err != nil {
			return classify("reorder todo", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return classify("reorder todo rows", err)
		}
		if affected != 1 {
			return fmt.Errorf("reorder: %w: item %q vanished", ErrInvalid, assignment.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("commit reorder", err)
	}
	return nil
}

// checkSnapshot requires every planned row to still hold the order it was
// planned from, and rows created since the read to sort after the result.
func checkSnapshot(locked map[string]int64, expect Snapshot, assignments []Assignment) error {
	final := make(map[string]int64, len(expect))
	for id, order := range expect {
		current, ok := locked[id]
		if !ok || current != order {
			return fmt.Errorf("reorder: %w: item %q", ErrStale, id)
		}
		final[id] = order
	}
	for _, assignment := range assignments {
		final[assignment.ID] = assignment.Order
	}

	var (
		last int64
		seen bool
	)
	for _, order := range final {
		if !seen || order > last {
			last, seen = order, true
		}
	}
	for id, order := range locked {
		if _, planned := expect[id]; !planned && seen && order <= last {
			return fmt.Errorf("reorder: %w: item %q", ErrStale, id)
		}
	}
	return nil
}

func (s *SQLStore) lockOwnerOrders(ctx context.Context, tx *sql.Tx, owner string) (map[string]int64, error) {
	query := `SELECT id, sort_order FROM todos WHERE owner_id=$1`
	if s.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	rows, err := tx.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, classify("lock todos", err)
	}
	defer rows.Close()

	locked := make(map[string]int64)
	for rows.Next() {
		var (
			id    string
			order int64
		)
		if err := rows.Scan(&id, &order); err != nil {
			return nil, classify("scan todo order", err)
		}
		locked[id] = order
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate todo orders", err)
	}
	return locked, nil
}

// Search is a case-insensitive substring match over the owner's item text.
func (s *SQLStore) Search(ctx context.Context, owner, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM todos
		WHERE owner_id=$1 AND LOWER(text) LIKE $2 ESCAPE '\'
		ORDER BY sort_order, id
		LIMIT $3
	`, owner, pattern, limit)
	if err != nil {
		return nil, classify("search todos", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, classify("scan todo", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate todos", err)
	}
	return items, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

// Ping verifies the database connection is alive
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
