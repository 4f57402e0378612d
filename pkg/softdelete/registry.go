package softdelete

import (
	"fmt"
	"strings"
	"sync"
)

// Options configures soft deletion for one type.
type Options struct {
	// DefaultScope hides soft deleted rows from queries unless an override
	// from this package is present on the context.
	DefaultScope bool

	// TouchColumn names the secondary timestamp column kept monotonic with
	// deletion and undeletion. Empty disables touching.
	TouchColumn string
}

type registration struct {
	enabled bool
	opts    Options
	before  map[Event][]Hook
	after   map[Event][]Hook
}

// Registry records which tables support soft deletion, their options and hooks.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*registration
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*registration)}
}

// Enable turns soft deletion on for the table of model. model must implement
// Record and name a table.
func (r *Registry) Enable(model any, opts Options) error {
	rec, ok := model.(Record)
	if !ok {
		return fmt.Errorf("%w: %T does not implement softdelete.Record", ErrNotSoftDeletable, model)
	}

	table := strings.TrimSpace(rec.TableName())
	if table == "" {
		return fmt.Errorf("%w: %T has no table name", ErrNotSoftDeletable, model)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg := r.entry(table)
	reg.enabled = true
	reg.opts = opts
	return nil
}

// Enabled reports whether table supports soft deletion.
func (r *Registry) Enabled(table string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[table]
	return ok && reg.enabled
}

// Options returns the options table was enabled with.
func (r *Registry) Options(table string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[table]
	if !ok || !reg.enabled {
		return Options{}, false
	}
	return reg.opts, true
}

// DisableDefaultScope switches the default scope of table off.
func (r *Registry) DisableDefaultScope(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.types[table]; ok {
		reg.opts.DefaultScope = false
	}
}

func (r *Registry) BeforeSoftDelete(table string, hooks ...Hook) {
	r.addHooks(table, EventSoftDelete, true, hooks)
}

func (r *Registry) AfterSoftDelete(table string, hooks ...Hook) {
	r.addHooks(table, EventSoftDelete, false, hooks)
}

func (r *Registry) BeforeSoftUndelete(table string, hooks ...Hook) {
	r.addHooks(table, EventSoftUndelete, true, hooks)
}

func (r *Registry) AfterSoftUndelete(table string, hooks ...Hook) {
	r.addHooks(table, EventSoftUndelete, false, hooks)
}

// ResetHooks drops every hook registered for table.
func (r *Registry) ResetHooks(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.types[table]; ok {
		reg.before = map[Event][]Hook{}
		reg.after = map[Event][]Hook{}
	}
}

func (r *Registry) addHooks(table string, event Event, before bool, hooks []Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg := r.entry(table)
	if before {
		reg.before[event] = append(reg.before[event], hooks...)
	} else {
		reg.after[event] = append(reg.after[event], hooks...)
	}
}

func (r *Registry) hooks(table string, event Event, before bool) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[table]
	if !ok {
		return nil
	}
	src := reg.after[event]
	if before {
		src = reg.before[event]
	}
	return append([]Hook(nil), src...)
}

// entry must be called with the write lock held.
func (r *Registry) entry(table string) *registration {
	reg, ok := r.types[table]
	if !ok {
		reg = &registration{
			before: map[Event][]Hook{},
			after:  map[Event][]Hook{},
		}
		r.types[table] = reg
	}
	return reg
}
