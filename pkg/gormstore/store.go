// Package gormstore implements softdelete.Store on top of gorm.
//
// Associations are reflected from the gorm schema. The soft deletion policy of
// an association and its counter cache are declared with a softdelete tag:
//
//	Forums   []Forum   `gorm:"foreignKey:CategoryID" softdelete:"dependent:cascade"`
//	Category *Category `gorm:"foreignKey:CategoryID" softdelete:"counter_cache:forums_count"`
package gormstore

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/grosser/soft-deletion/internal/validation"
	"github.com/grosser/soft-deletion/pkg/softdelete"
)

const (
	scopeCallback    = "softdelete:scope"
	assignIDCallback = "softdelete:assign_id"
)

type model struct {
	schema        *schema.Schema
	relationships []softdelete.Relationship
}

type models struct {
	mu      sync.RWMutex
	byTable map[string]*model
}

// Store is a softdelete.Store backed by a *gorm.DB. Values returned by
// Transaction share the registered models with their parent.
type Store struct {
	db       *gorm.DB
	registry *softdelete.Registry
	models   *models
	logger   *slog.Logger
}

var _ softdelete.Store = (*Store)(nil)

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps db and installs the callbacks that hide soft deleted rows from
// queries and assign ids on create. The callbacks are installed once per gorm
// configuration; creating a store on it with another registry fails with
// ErrRegistryMismatch.
func New(db *gorm.DB, registry *softdelete.Registry, opts ...Option) (*Store, error) {
	s := &Store{
		db:       db,
		registry: registry,
		models:   &models{byTable: map[string]*model{}},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := bind(db, registry); err != nil {
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle, bound to the transaction for stores
// handed out by Transaction.
func (s *Store) DB() *gorm.DB { return s.db }

// Register parses the gorm schema of each model and records its associations.
// A model enabled for soft deletion without a deleted_at column keeps working
// but loses its default scope.
func (s *Store) Register(records ...softdelete.Record) error {
	for _, rec := range records {
		stmt := &gorm.Statement{DB: s.db}
		if err := stmt.Parse(rec); err != nil {
			return fmt.Errorf("parse schema of %T: %w", rec, err)
		}
		sch := stmt.Schema

		if sch.Table != rec.TableName() {
			return fmt.Errorf("register %T: gorm table %q does not match %q", rec, sch.Table, rec.TableName())
		}

		rels, err := relationships(sch)
		if err != nil {
			return fmt.Errorf("register %s: %w", sch.Table, err)
		}

		s.models.mu.Lock()
		s.models.byTable[sch.Table] = &model{schema: sch, relationships: rels}
		for _, rel := range sch.Relationships.Relations {
			if rel.FieldSchema == nil {
				continue
			}
			if _, known := s.models.byTable[rel.FieldSchema.Table]; !known {
				s.models.byTable[rel.FieldSchema.Table] = &model{schema: rel.FieldSchema}
			}
		}
		s.models.mu.Unlock()

		s.checkDeletedAt(rec, sch)
	}
	return nil
}

func (s *Store) checkDeletedAt(rec softdelete.Record, sch *schema.Schema) {
	if !s.registry.Enabled(sch.Table) {
		return
	}

	_, hasField := sch.FieldsByDBName[softdelete.DeletedAtColumn]
	hasColumn := true
	if hasField && s.db.Migrator().HasTable(rec) {
		hasColumn = s.db.Migrator().HasColumn(rec, softdelete.DeletedAtColumn)
	}
	if hasField && hasColumn {
		return
	}

	s.logger.Warn("table has no deleted_at column, default scope disabled", "table", sch.Table)
	s.registry.DisableDefaultScope(sch.Table)
}

func relationships(sch *schema.Schema) ([]softdelete.Relationship, error) {
	rels := make([]*schema.Relationship, 0, len(sch.Relationships.Relations))
	for _, rel := range sch.Relationships.Relations {
		// gorm also files the inverse side of another model's association
		// under this schema, keyed "_<Owner>_<Name>".
		if rel.Schema != sch {
			continue
		}
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool {
		return rels[i].Field.StructField.Index[0] < rels[j].Field.StructField.Index[0]
	})

	out := make([]softdelete.Relationship, 0, len(rels))
	for _, rel := range rels {
		var kind softdelete.Kind
		switch rel.Type {
		case schema.HasMany:
			kind = softdelete.HasMany
		case schema.HasOne:
			kind = softdelete.HasOne
		case schema.BelongsTo:
			kind = softdelete.BelongsTo
		default:
			continue
		}

		if len(rel.References) != 1 || rel.References[0].ForeignKey == nil {
			continue
		}

		settings := schema.ParseTagSetting(rel.Field.Tag.Get("softdelete"), ";")
		policy, err := softdelete.ParsePolicy(settings["DEPENDENT"])
		if err != nil {
			return nil, fmt.Errorf("association %s: %w", rel.Name, err)
		}

		out = append(out, softdelete.Relationship{
			Name:         rel.Name,
			Kind:         kind,
			Table:        sch.Table,
			Target:       rel.FieldSchema.Table,
			ForeignKey:   rel.References[0].ForeignKey.DBName,
			Policy:       policy,
			CounterCache: settings["COUNTER_CACHE"],
		})
	}
	return out, nil
}

func (s *Store) model(table string) (*model, error) {
	s.models.mu.RLock()
	defer s.models.mu.RUnlock()

	m, ok := s.models.byTable[table]
	if !ok {
		return nil, fmt.Errorf("gormstore: table %s is not registered", table)
	}
	return m, nil
}

// counterColumns lists the counter cache columns other tables keep on table.
func (s *Store) counterColumns(table string) []string {
	s.models.mu.RLock()
	defer s.models.mu.RUnlock()

	var cols []string
	for _, m := range s.models.byTable {
		for _, rel := range m.relationships {
			if rel.Kind == softdelete.BelongsTo && rel.Target == table && rel.CounterCache != "" {
				cols = append(cols, rel.CounterCache)
			}
		}
	}
	return cols
}

func (s *Store) with(tx *gorm.DB) *Store {
	clone := *s
	clone.db = tx
	return &clone
}

func (s *Store) Transaction(ctx context.Context, fn func(tx softdelete.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.with(tx))
	})
}

func (s *Store) UpdateWhere(ctx context.Context, table string, ids []string, values map[string]any) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Table(table).Where("id IN ?", ids).Updates(values).Error
	if err != nil {
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

	omit := append([]string{clause.Associations}, s.counterColumns(rec.TableName())...)
	if err := s.db.WithContext(ctx).Omit(omit...).Save(rec).Error; err != nil {
		return fmt.Errorf("save %s %s: %w", rec.TableName(), rec.GetID(), err)
	}
	return nil
}

// Insert creates recs after validating them.
func (s *Store) Insert(ctx context.Context, recs ...softdelete.Record) error {
	for _, rec := range recs {
		if err := validation.Check(rec); err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(rec).Error; err != nil {
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

func (s *Store) Relationships(table string) []softdelete.Relationship {
	m, err := s.model(table)
	if err != nil {
		return nil
	}
	return append([]softdelete.Relationship(nil), m.relationships...)
}

func (s *Store) Associated(ctx context.Context, rec softdelete.Record, rel softdelete.Relationship) ([]softdelete.Record, error) {
	if rel.Kind == softdelete.BelongsTo {
		owner, err := s.Owner(ctx, rec, rel)
		if err != nil || owner == nil {
			return nil, err
		}
		return []softdelete.Record{owner}, nil
	}

	query := s.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: rel.ForeignKey}, Value: rec.GetID()})
	if rel.Kind == softdelete.HasOne {
		query = query.Limit(1)
	}
	return s.load(query, rel.Target)
}

func (s *Store) Owner(ctx context.Context, rec softdelete.Record, rel softdelete.Relationship) (softdelete.Record, error) {
	m, err := s.model(rec.TableName())
	if err != nil {
		return nil, err
	}
	field, ok := m.schema.FieldsByDBName[rel.ForeignKey]
	if !ok {
		return nil, fmt.Errorf("gormstore: %s has no column %s", rec.TableName(), rel.ForeignKey)
	}

	value, zero := field.ValueOf(ctx, reflect.Indirect(reflect.ValueOf(rec)))
	if zero {
		return nil, nil
	}
	if ptr := reflect.ValueOf(value); ptr.Kind() == reflect.Pointer {
		value = ptr.Elem().Interface()
	}
	if owner := s.loadedOwner(ctx, m, rec, rel, fmt.Sprint(value)); owner != nil {
		return owner, nil
	}

	owners, err := s.load(s.db.WithContext(ctx).Where("id = ?", value).Limit(1), rel.Target)
	if err != nil || len(owners) == 0 {
		return nil, err
	}
	return owners[0], nil
}

// loadedOwner returns the association already populated on rec when it still
// points at id and is visible under the current scope of its table.
func (s *Store) loadedOwner(ctx context.Context, m *model, rec softdelete.Record, rel softdelete.Relationship, id string) softdelete.Record {
	assoc, ok := m.schema.Relationships.Relations[rel.Name]
	if !ok || assoc.Schema != m.schema {
		return nil
	}
	value, zero := assoc.Field.ValueOf(ctx, reflect.Indirect(reflect.ValueOf(rec)))
	if zero {
		return nil
	}
	owner, ok := value.(softdelete.Record)
	if !ok || owner.GetID() != id {
		return nil
	}
	if !s.registry.Filter(ctx, rel.Target).Allows(owner.GetDeletedAt()) {
		return nil
	}
	return owner
}

func (s *Store) Find(ctx context.Context, table string, ids []string) ([]softdelete.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.load(s.db.WithContext(ctx).Where("id IN ?", ids), table)
}

func (s *Store) Increment(ctx context.Context, table string, id string, column string, delta int) error {
	res := s.db.WithContext(ctx).Table(table).Where("id = ?", id).
		UpdateColumn(column, gorm.Expr("? + ?", clause.Column{Name: column}, delta))
	if res.Error != nil {
		return fmt.Errorf("increment %s.%s: %w", table, column, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("increment %s %s: %w", table, id, softdelete.ErrRecordNotFound)
	}
	return nil
}

// load runs query into a slice of the model registered for table.
func (s *Store) load(query *gorm.DB, table string) ([]softdelete.Record, error) {
	m, err := s.model(table)
	if err != nil {
		return nil, err
	}

	dest := reflect.New(reflect.SliceOf(reflect.PointerTo(m.schema.ModelType)))
	if err := query.Find(dest.Interface()).Error; err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}

	rows := dest.Elem()
	out := make([]softdelete.Record, 0, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		rec, ok := rows.Index(i).Interface().(softdelete.Record)
		if !ok {
			return nil, fmt.Errorf("%w: %s", softdelete.ErrNotSoftDeletable, m.schema.ModelType)
		}
		out = append(out, rec)
	}
	return out, nil
}
