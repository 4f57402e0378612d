package softdelete

import (
	"context"
	"time"
)

// Visibility selects which rows a query against a table may see.
type Visibility int

const (
	// ShowAll applies no deletion predicate.
	ShowAll Visibility = iota
	// HideDeleted keeps live rows only.
	HideDeleted
	// ShowOnlyDeleted keeps soft deleted rows only.
	ShowOnlyDeleted
)

// Filter is the effective visibility of one table for one query.
type Filter struct {
	Visibility Visibility

	// DeletedBefore, when set with ShowOnlyDeleted, keeps rows deleted at or
	// before this instant.
	DeletedBefore time.Time
}

// Allows reports whether a row with the given marker passes the filter.
func (f Filter) Allows(deletedAt *time.Time) bool {
	switch f.Visibility {
	case HideDeleted:
		return deletedAt == nil
	case ShowOnlyDeleted:
		if deletedAt == nil {
			return false
		}
		return f.DeletedBefore.IsZero() || !deletedAt.After(f.DeletedBefore)
	default:
		return true
	}
}

// Predicate renders the filter as a SQL condition on column using ?
// placeholders. It returns an empty string when nothing has to be filtered.
func (f Filter) Predicate(column string) (string, []any) {
	switch f.Visibility {
	case HideDeleted:
		return column + " IS NULL", nil
	case ShowOnlyDeleted:
		if f.DeletedBefore.IsZero() {
			return column + " IS NOT NULL", nil
		}
		return column + " IS NOT NULL AND " + column + " <= ?", []any{f.DeletedBefore}
	default:
		return "", nil
	}
}

type scopeKey struct{}

// scope is one override in a chain stored on the context. Inner scopes
// shadow outer ones for the same table.
type scope struct {
	parent        *scope
	table         string
	visibility    Visibility
	deletedBefore time.Time
}

func pushScope(ctx context.Context, table string, visibility Visibility, deletedBefore time.Time) context.Context {
	parent, _ := ctx.Value(scopeKey{}).(*scope)
	return context.WithValue(ctx, scopeKey{}, &scope{
		parent:        parent,
		table:         table,
		visibility:    visibility,
		deletedBefore: deletedBefore,
	})
}

func lookupScope(ctx context.Context, table string) (*scope, bool) {
	if ctx == nil {
		return nil, false
	}
	for s, _ := ctx.Value(scopeKey{}).(*scope); s != nil; s = s.parent {
		if s.table == table {
			return s, true
		}
	}
	return nil, false
}

// WithDeleted returns a context under which queries against tables also see
// soft deleted rows.
func WithDeleted(ctx context.Context, tables ...string) context.Context {
	for _, table := range tables {
		ctx = pushScope(ctx, table, ShowAll, time.Time{})
	}
	return ctx
}

// OnlyDeleted returns a context under which queries against table see soft
// deleted rows only.
func OnlyDeleted(ctx context.Context, table string) context.Context {
	return pushScope(ctx, table, ShowOnlyDeleted, time.Time{})
}

// DeletedFor returns a context under which queries against table see rows
// that were soft deleted at least age ago.
func DeletedFor(ctx context.Context, table string, age time.Duration) context.Context {
	return pushScope(ctx, table, ShowOnlyDeleted, time.Now().UTC().Add(-age))
}

// Unscoped runs fn with soft deleted rows of table visible. The override ends
// with fn, whether it returns an error or not.
func Unscoped(ctx context.Context, table string, fn func(ctx context.Context) error) error {
	return fn(WithDeleted(ctx, table))
}

// IncludesDeleted reports whether ctx carries an override for table that
// makes soft deleted rows visible.
func IncludesDeleted(ctx context.Context, table string) bool {
	s, ok := lookupScope(ctx, table)
	return ok && s.visibility != HideDeleted
}

// Filter resolves the visibility of table for a query running under ctx.
func (r *Registry) Filter(ctx context.Context, table string) Filter {
	if s, ok := lookupScope(ctx, table); ok {
		return Filter{Visibility: s.visibility, DeletedBefore: s.deletedBefore}
	}
	if opts, ok := r.Options(table); ok && opts.DefaultScope {
		return Filter{Visibility: HideDeleted}
	}
	return Filter{Visibility: ShowAll}
}
