package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/grosser/soft-deletion/internal/fieldmap"
	"github.com/grosser/soft-deletion/internal/validation"
	"github.com/grosser/soft-deletion/pkg/softdelete"
)

var _ softdelete.Store = (*MemStore)(nil)

// Table describes one table of a MemStore.
type Table struct {
	Name          string
	Relationships []softdelete.Relationship
}

// Update is one UpdateWhere call recorded by a MemStore.
type Update struct {
	Table  string
	IDs    []string
	Values map[string]any
}

type memState struct {
	rows    map[string]map[string]softdelete.Record
	order   map[string][]string
	updates []Update
}

func (s *memState) clone() *memState {
	out := &memState{
		rows:    make(map[string]map[string]softdelete.Record, len(s.rows)),
		order:   make(map[string][]string, len(s.order)),
		updates: slices.Clone(s.updates),
	}
	for table, rows := range s.rows {
		copied := make(map[string]softdelete.Record, len(rows))
		for id, row := range rows {
			copied[id] = cloneRecord(row)
		}
		out.rows[table] = copied
	}
	for table, ids := range s.order {
		out.order[table] = slices.Clone(ids)
	}
	return out
}

// MemStore is an in-memory softdelete.Store. Rows are kept as copies of the
// records handed to it; transactions snapshot the whole state and restore it
// when the callback fails.
type MemStore struct {
	mu       *sync.Mutex
	state    **memState
	tables   map[string]Table
	registry *softdelete.Registry
	locked   bool
	now      func() time.Time
}

func NewMemStore(registry *softdelete.Registry, tables ...Table) *MemStore {
	state := &memState{
		rows:  map[string]map[string]softdelete.Record{},
		order: map[string][]string{},
	}
	s := &MemStore{
		mu:       &sync.Mutex{},
		state:    &state,
		tables:   map[string]Table{},
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.Register(tables...)
	return s
}

// Register adds tables. It must be called before the store is shared.
func (s *MemStore) Register(tables ...Table) {
	for _, t := range tables {
		s.tables[t.Name] = t
	}
}

func (s *MemStore) guard() func() {
	if s.locked {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemStore) current() *memState { return *s.state }

func (s *MemStore) filter(ctx context.Context, table string) softdelete.Filter {
	if s.registry == nil {
		return softdelete.Filter{}
	}
	return s.registry.Filter(ctx, table)
}

// Insert stores new rows, assigning IDs and timestamps where missing.
func (s *MemStore) Insert(_ context.Context, recs ...softdelete.Record) error {
	unlock := s.guard()
	defer unlock()

	now := s.now()
	for _, rec := range recs {
		if m, ok := rec.(interface{ EnsureID() string }); ok {
			m.EnsureID()
		}
		if rec.GetID() == "" {
			return fmt.Errorf("insert %s: record has no id", rec.TableName())
		}
		if t, ok := rec.(softdelete.Toucher); ok && t.GetUpdatedAt().IsZero() {
			t.SetUpdatedAt(now)
		}
		if created, err := fieldmap.Get(rec, "created_at"); err == nil {
			if t, ok := created.(time.Time); ok && t.IsZero() {
				_ = fieldmap.Set(rec, "created_at", now)
			}
		}

		if err := validation.Check(rec); err != nil {
			return err
		}
		s.put(cloneRecord(rec))
	}
	return nil
}

func (s *MemStore) put(rec softdelete.Record) {
	st := s.current()
	table := rec.TableName()
	rows, ok := st.rows[table]
	if !ok {
		rows = map[string]softdelete.Record{}
		st.rows[table] = rows
	}
	if _, exists := rows[rec.GetID()]; !exists {
		st.order[table] = append(st.order[table], rec.GetID())
	}
	rows[rec.GetID()] = rec
}

// counterColumns lists the counter cache columns other tables keep on table.
func (s *MemStore) counterColumns(table string) []string {
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

// Get loads one row of table, honouring the visibility carried by ctx.
func (s *MemStore) Get(ctx context.Context, table, id string) (softdelete.Record, error) {
	unlock := s.guard()
	defer unlock()

	row, ok := s.current().rows[table][id]
	if !ok || !s.filter(ctx, table).Allows(row.GetDeletedAt()) {
		return nil, fmt.Errorf("get %s %s: %w", table, id, softdelete.ErrRecordNotFound)
	}
	return cloneRecord(row), nil
}

// All loads every visible row of table in insertion order.
func (s *MemStore) All(ctx context.Context, table string) ([]softdelete.Record, error) {
	unlock := s.guard()
	defer unlock()

	return s.scan(ctx, table, func(softdelete.Record) bool { return true }), nil
}

// Updates returns the UpdateWhere calls applied so far.
func (s *MemStore) Updates() []Update {
	unlock := s.guard()
	defer unlock()

	return slices.Clone(s.current().updates)
}

func (s *MemStore) scan(ctx context.Context, table string, match func(softdelete.Record) bool) []softdelete.Record {
	st := s.current()
	f := s.filter(ctx, table)

	var out []softdelete.Record
	for _, id := range st.order[table] {
		row := st.rows[table][id]
		if f.Allows(row.GetDeletedAt()) && match(row) {
			out = append(out, cloneRecord(row))
		}
	}
	return out
}

func (s *MemStore) Transaction(ctx context.Context, fn func(tx softdelete.Store) error) error {
	unlock := s.guard()
	defer unlock()

	snapshot := s.current().clone()
	tx := *s
	tx.locked = true

	if err := fn(&tx); err != nil {
		*s.state = snapshot
		return err
	}
	return nil
}

func (s *MemStore) UpdateWhere(_ context.Context, table string, ids []string, values map[string]any) error {
	unlock := s.guard()
	defer unlock()

	st := s.current()
	for _, id := range ids {
		row, ok := st.rows[table][id]
		if !ok {
			continue
		}
		for column, value := range values {
			if err := fieldmap.Set(row, column, value); err != nil {
				return fmt.Errorf("update %s %s: %w", table, id, err)
			}
		}
	}
	st.updates = append(st.updates, Update{Table: table, IDs: slices.Clone(ids), Values: values})
	return nil
}

func (s *MemStore) Save(_ context.Context, rec softdelete.Record, opts softdelete.SaveOptions) error {
	unlock := s.guard()
	defer unlock()

	existing, ok := s.current().rows[rec.TableName()][rec.GetID()]
	if !ok {
		return fmt.Errorf("save %s %s: %w", rec.TableName(), rec.GetID(), softdelete.ErrRecordNotFound)
	}
	if !opts.SkipValidation {
		if err := validation.Check(rec); err != nil {
			return err
		}
	}

	// Counter caches are only written through Increment.
	row := cloneRecord(rec)
	for _, col := range s.counterColumns(rec.TableName()) {
		if v, err := fieldmap.Get(existing, col); err == nil {
			_ = fieldmap.Set(row, col, v)
		}
	}
	s.put(row)
	return nil
}

func (s *MemStore) Relationships(table string) []softdelete.Relationship {
	return slices.Clone(s.tables[table].Relationships)
}

func (s *MemStore) Associated(ctx context.Context, rec softdelete.Record, rel softdelete.Relationship) ([]softdelete.Record, error) {
	if rel.Kind == softdelete.BelongsTo {
		owner, err := s.Owner(ctx, rec, rel)
		if err != nil || owner == nil {
			return nil, err
		}
		return []softdelete.Record{owner}, nil
	}

	unlock := s.guard()
	defer unlock()

	id := rec.GetID()
	deps := s.scan(ctx, rel.Target, func(row softdelete.Record) bool {
		fk, ok := foreignKey(row, rel.ForeignKey)
		return ok && fk == id
	})
	if rel.Kind == softdelete.HasOne && len(deps) > 1 {
		deps = deps[:1]
	}
	return deps, nil
}

func (s *MemStore) Owner(ctx context.Context, rec softdelete.Record, rel softdelete.Relationship) (softdelete.Record, error) {
	fk, ok := foreignKey(rec, rel.ForeignKey)
	if !ok {
		return nil, nil
	}

	unlock := s.guard()
	defer unlock()

	row, found := s.current().rows[rel.Target][fk]
	if !found || !s.filter(ctx, rel.Target).Allows(row.GetDeletedAt()) {
		return nil, nil
	}
	return cloneRecord(row), nil
}

func (s *MemStore) Find(ctx context.Context, table string, ids []string) ([]softdelete.Record, error) {
	unlock := s.guard()
	defer unlock()

	st := s.current()
	f := s.filter(ctx, table)

	out := make([]softdelete.Record, 0, len(ids))
	for _, id := range ids {
		row, ok := st.rows[table][id]
		if ok && f.Allows(row.GetDeletedAt()) {
			out = append(out, cloneRecord(row))
		}
	}
	return out, nil
}

func (s *MemStore) Increment(_ context.Context, table string, id string, column string, delta int) error {
	unlock := s.guard()
	defer unlock()

	row, ok := s.current().rows[table][id]
	if !ok {
		return fmt.Errorf("increment %s %s: %w", table, id, softdelete.ErrRecordNotFound)
	}
	if err := fieldmap.Add(row, column, delta); err != nil {
		return fmt.Errorf("increment %s %s: %w", table, id, err)
	}
	return nil
}

func foreignKey(rec softdelete.Record, column string) (string, bool) {
	value, err := fieldmap.Get(rec, column)
	if err != nil {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, v != ""
	case *string:
		if v == nil || *v == "" {
			return "", false
		}
		return *v, true
	default:
		return "", false
	}
}

func cloneRecord(rec softdelete.Record) softdelete.Record {
	return fieldmap.Clone(rec).(softdelete.Record)
}
