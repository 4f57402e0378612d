// Package pgstore implements softdelete.Store with pgx against PostgreSQL.
// Tables and their associations are declared explicitly; rows map onto
// structs through their `db` tags.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/grosser/soft-deletion/internal/fieldmap"
	"github.com/grosser/soft-deletion/internal/validation"
	"github.com/grosser/soft-deletion/pkg/softdelete"
)

// DB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Table declares one table of the store.
type Table struct {
	Name          string
	New           func() softdelete.Record
	Relationships []softdelete.Relationship
}

type Store struct {
	db       DB
	registry *softdelete.Registry
	tables   map[string]Table
}

var _ softdelete.Store = (*Store)(nil)

func New(db DB, registry *softdelete.Registry, tables ...Table) *Store {
	s := &Store{
		db:       db,
		registry: registry,
		tables:   make(map[string]Table, len(tables)),
	}
	for _, t := range tables {
		s.tables[t.Name] = t
	}
	return s
}

func (s *Store) table(name string) (Table, error) {
	t, ok := s.tables[name]
	if !ok || t.New == nil {
		return Table{}, fmt.Errorf("pgstore: table %s is not declared", name)
	}
	return t, nil
}

func (s *Store) filter(ctx context.Context, table string) softdelete.Filter {
	if s.registry == nil {
		return softdelete.Filter{}
	}
	return s.registry.Filter(ctx, table)
}

// counterColumns lists the counter cache columns other tables keep on table.
func (s *Store) counterColumns(table string) []string {
	var cols []string
	for _, t := range s.tables {
		for _, rel := range t.Relationships {
			if rel.Kind == softdelete.BelongsTo && rel.Target == table && rel.CounterCache != "" {
				cols = append(cols, rel.CounterCache)
			}
		}
	}
	return cols
}

// Insert writes new rows, assigning ids and timestamps where missing.
func (s *Store) Insert(ctx context.Context, recs ...softdelete.Record) error {
	now := time.Now().UTC()
	for _, rec := range recs {
		if m, ok := rec.(interface{ EnsureID() string }); ok {
			m.EnsureID()
		}
		if rec.GetID() == "" {
			return fmt.Errorf("insert %s: record has no id", rec.TableName())
		}
		for _, column := range []string{"created_at", "updated_at"} {
			if v, err := fieldmap.Get(rec, column); err == nil {
				if t, ok := v.(time.Time); ok && t.IsZero() {
					_ = fieldmap.Set(rec, column, now)
				}
			}
		}
		if err := validation.Check(rec); err != nil {
			return err
		}

		columns := fieldmap.Columns(rec)
		values, err := fieldmap.Values(rec, columns)
		if err != nil {
			return fmt.Errorf("insert %s: %w", rec.TableName(), err)
		}
		if _, err := s.db.Exec(ctx, insertSQL(rec.TableName(), columns), values...); err != nil {
			return fmt.Errorf("insert %s: %w", rec.TableName(), err)
		}
	}
	return nil
}

// Get loads one visible row of table.
func (s *Store) Get(ctx context.Context, table, id string) (softdelete.Record, error) {
	rows, err := s.Find(ctx, table, []string{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get %s %s: %w", table, id, softdelete.ErrRecordNotFound)
	}
	return rows[0], nil
}

func (s *Store) with(tx pgx.Tx) *Store {
	clone := *s
	clone.db = tx
	return &clone
}

func (s *Store) Transaction(ctx context.Context, fn func(tx softdelete.Store) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(s.with(tx))
	})
}

func (s *Store) UpdateWhere(ctx context.Context, table string, ids []string, values map[string]any) error {
	if len(ids) == 0 || len(values) == 0 {
		return nil
	}
	w := &where{}
	w.add(ident("id")+" = ANY(?)", ids)
	sql, args := updateSQL(table, values, w)
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, rec softdelete.Record, opts softdelete.SaveOptions) error {
	if !opts.SkipValidation {
		if err := validation.Check(rec); err != nil {
			return err
		}
	}

	skip := append([]string{"id", "created_at"}, s.counterColumns(rec.TableName())...)
	values := map[string]any{}
	for _, column := range fieldmap.Columns(rec) {
		if slices.Contains(skip, column) {
			continue
		}
		v, err := fieldmap.Get(rec, column)
		if err != nil {
			return fmt.Errorf("save %s: %w", rec.TableName(), err)
		}
		values[column] = v
	}

	w := &where{}
	w.add(ident("id")+" = ?", rec.GetID())
	sql, args := updateSQL(rec.TableName(), values, w)
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", rec.TableName(), rec.GetID(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save %s %s: %w", rec.TableName(), rec.GetID(), softdelete.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) Relationships(table string) []softdelete.Relationship {
	return slices.Clone(s.tables[table].Relationships)
}

func (s *Store) Associated(ctx context.Context, rec softdelete.Record, rel softdelete.Relationship) ([]softdelete.Record, error) {
	if rel.Kind == softdelete.BelongsTo {
		owner, err := s.Owner(ctx, rec, rel)
		if err != nil || owner == nil {
			return nil, err
		}
		return []softdelete.Record{owner}, nil
	}

	w := &where{}
	w.add(ident(rel.ForeignKey)+" = ?", rec.GetID())
	w.filter(s.filter(ctx, rel.Target))

	limit := 0
	if rel.Kind == softdelete.HasOne {
		limit = 1
	}
	return s.query(ctx, rel.Target, w, limit)
}

func (s *Store) Owner(ctx context.Context, rec softdelete.Record, rel softdelete.Relationship) (softdelete.Record, error) {
	value, err := fieldmap.Get(rec, rel.ForeignKey)
	if err != nil {
		return nil, fmt.Errorf("owner of %s: %w", rec.TableName(), err)
	}

	var id string
	switch v := value.(type) {
	case string:
		id = v
	case *string:
		if v != nil {
			id = *v
		}
	default:
		return nil, fmt.Errorf("owner of %s: column %s is %T, not a string id", rec.TableName(), rel.ForeignKey, value)
	}
	if id == "" {
		return nil, nil
	}

	owners, err := s.Find(ctx, rel.Target, []string{id})
	if err != nil || len(owners) == 0 {
		return nil, err
	}
	return owners[0], nil
}

func (s *Store) Find(ctx context.Context, table string, ids []string) ([]softdelete.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	w := &where{}
	w.add(ident("id")+" = ANY(?)", ids)
	w.filter(s.filter(ctx, table))
	return s.query(ctx, table, w, 0)
}

func (s *Store) Increment(ctx context.Context, table string, id string, column string, delta int) error {
	tag, err := s.db.Exec(ctx, incrementSQL(table, column), delta, id)
	if err != nil {
		return fmt.Errorf("increment %s.%s: %w", table, column, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment %s %s: %w", table, id, softdelete.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) query(ctx context.Context, table string, w *where, limit int) ([]softdelete.Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	columns := fieldmap.Columns(t.New())

	rows, err := s.db.Query(ctx, selectSQL(table, columns, w, limit), w.args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]softdelete.Record, 0)
	for rows.Next() {
		rec := t.New()
		dest, err := fieldmap.Pointers(rec, columns)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, nil
		}
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return out, nil
}
