package gormstore

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grosser/soft-deletion/pkg/softdelete"
)

const pluginName = "softdelete"

// ErrRegistryMismatch is returned by New when the gorm handle already serves
// the visibility scope of another registry.
var ErrRegistryMismatch = errors.New("gormstore: gorm handle is bound to a different registry")

// plugin installs the query and create callbacks on a gorm configuration.
// One configuration serves exactly one registry.
type plugin struct {
	registry *softdelete.Registry
}

var _ gorm.Plugin = (*plugin)(nil)

func (*plugin) Name() string { return pluginName }

func (p *plugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register(scopeCallback, p.scopeQuery); err != nil {
		return fmt.Errorf("register query callback: %w", err)
	}
	if err := db.Callback().Create().Before("gorm:create").Register(assignIDCallback, assignIDs); err != nil {
		return fmt.Errorf("register create callback: %w", err)
	}
	return nil
}

var bindMu sync.Mutex

// bind installs the plugin for registry, or checks that the installed one
// already serves it.
func bind(db *gorm.DB, registry *softdelete.Registry) error {
	bindMu.Lock()
	defer bindMu.Unlock()

	if installed, ok := db.Config.Plugins[pluginName]; ok {
		if p, ok := installed.(*plugin); !ok || p.registry != registry {
			return ErrRegistryMismatch
		}
		return nil
	}
	if err := db.Use(&plugin{registry: registry}); err != nil {
		return fmt.Errorf("install plugin: %w", err)
	}
	return nil
}

// scopeQuery adds the visibility predicate of the queried table, resolved
// from the statement context. Unscoped statements are left alone.
func (p *plugin) scopeQuery(db *gorm.DB) {
	stmt := db.Statement
	if db.Error != nil || stmt.Unscoped || stmt.Schema == nil {
		return
	}
	if _, ok := stmt.Schema.FieldsByDBName[softdelete.DeletedAtColumn]; !ok {
		return
	}

	table := stmt.Table
	if table == "" {
		table = stmt.Schema.Table
	}
	if !p.registry.Enabled(table) {
		return
	}

	column := clause.Column{Table: clause.CurrentTable, Name: softdelete.DeletedAtColumn}
	filter := p.registry.Filter(stmt.Context, table)

	var exprs []clause.Expression
	switch filter.Visibility {
	case softdelete.HideDeleted:
		exprs = append(exprs, clause.Eq{Column: column, Value: nil})
	case softdelete.ShowOnlyDeleted:
		exprs = append(exprs, clause.Neq{Column: column, Value: nil})
		if !filter.DeletedBefore.IsZero() {
			exprs = append(exprs, clause.Lte{Column: column, Value: filter.DeletedBefore})
		}
	default:
		return
	}

	groupOrConditions(stmt)
	stmt.AddClause(clause.Where{Exprs: exprs})
}

// groupOrConditions wraps a lone OR condition so the added predicate applies to
// all of it, as gorm's own soft delete clause does.
func groupOrConditions(stmt *gorm.Statement) {
	c, ok := stmt.Clauses["WHERE"]
	if !ok {
		return
	}
	where, ok := c.Expression.(clause.Where)
	if !ok || len(where.Exprs) == 0 {
		return
	}
	for _, expr := range where.Exprs {
		if or, ok := expr.(clause.OrConditions); ok && len(or.Exprs) == 1 {
			where.Exprs = []clause.Expression{clause.And(where.Exprs...)}
			c.Expression = where
			stmt.Clauses["WHERE"] = c
			return
		}
	}
}

type identified interface {
	EnsureID() string
}

func assignIDs(db *gorm.DB) {
	if db.Error != nil || !db.Statement.ReflectValue.IsValid() {
		return
	}

	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			assignID(rv.Index(i))
		}
	case reflect.Struct:
		assignID(rv)
	}
}

func assignID(v reflect.Value) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
	} else if v.CanAddr() {
		v = v.Addr()
	} else {
		return
	}
	if m, ok := v.Interface().(identified); ok {
		m.EnsureID()
	}
}
