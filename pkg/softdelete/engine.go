package softdelete

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultUndeleteWindow is how much earlier than its owner a dependent may have
// been deleted and still be restored together with it.
const DefaultUndeleteWindow = time.Hour

// Engine drives soft deletion and undeletion against a Store.
type Engine struct {
	store          Store
	registry       *Registry
	logger         *slog.Logger
	now            func() time.Time
	undeleteWindow time.Duration
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces the source of deletion timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithUndeleteWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window >= 0 {
			e.undeleteWindow = window
		}
	}
}

func New(store Store, registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		registry:       registry,
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		undeleteWindow: DefaultUndeleteWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithStore returns a copy of the engine bound to st, typically a transaction
// handed out by the store, so soft deletion joins the caller's unit of work.
func (e *Engine) WithStore(st Store) *Engine {
	clone := *e
	clone.store = st
	return &clone
}

func (e *Engine) Registry() *Registry { return e.registry }

// Dependents lists the relationships of table that soft deletion acts on:
// dependent associations with a policy whose target supports soft deletion.
func (e *Engine) Dependents(table string) []Relationship {
	return e.dependents(e.store, table)
}

func (e *Engine) dependents(st Store, table string) []Relationship {
	var out []Relationship
	for _, rel := range st.Relationships(table) {
		if rel.dependent() && e.registry.Enabled(rel.Target) {
			out = append(out, rel)
		}
	}
	return out
}

// MarkFields returns the column values that mark rows of table deleted at now.
func (e *Engine) MarkFields(table string, now time.Time) map[string]any {
	fields := map[string]any{DeletedAtColumn: now}
	if opts, ok := e.registry.Options(table); ok && opts.TouchColumn != "" {
		fields[opts.TouchColumn] = now
	}
	return fields
}

// TrySoftDelete marks rec deleted and cascades to its dependents in one
// transaction. It returns false when a hook aborted, a dependent could not be
// deleted or the record failed validation; nothing is persisted in that case.
func (e *Engine) TrySoftDelete(ctx context.Context, rec Record, opts ...SaveOption) (bool, error) {
	if err := e.check(rec); err != nil {
		return false, err
	}
	return e.transact(ctx, boolean, buildSaveOptions(opts), func(ctx context.Context, op *operation) (bool, error) {
		return op.softDelete(ctx, rec, nil)
	})
}

// SoftDelete is TrySoftDelete reporting every failure as an error. A hook abort
// yields a *HookFailedError, validation failures the store's *ValidationError.
func (e *Engine) SoftDelete(ctx context.Context, rec Record, opts ...SaveOption) error {
	if err := e.check(rec); err != nil {
		return err
	}
	_, err := e.transact(ctx, raising, buildSaveOptions(opts), func(ctx context.Context, op *operation) (bool, error) {
		return op.softDelete(ctx, rec, nil)
	})
	return err
}

// TrySoftUndelete clears the deletion marker of rec and restores dependents
// deleted together with it. It fails with ErrNotDeleted on a live record.
func (e *Engine) TrySoftUndelete(ctx context.Context, rec Record) (bool, error) {
	if err := e.checkDeleted(rec); err != nil {
		return false, err
	}
	return e.transact(ctx, boolean, SaveOptions{}, func(ctx context.Context, op *operation) (bool, error) {
		return op.softUndelete(ctx, rec, nil)
	})
}

// SoftUndelete is TrySoftUndelete reporting every failure as an error.
func (e *Engine) SoftUndelete(ctx context.Context, rec Record) error {
	if err := e.checkDeleted(rec); err != nil {
		return err
	}
	_, err := e.transact(ctx, raising, SaveOptions{}, func(ctx context.Context, op *operation) (bool, error) {
		return op.softUndelete(ctx, rec, nil)
	})
	return err
}

func (e *Engine) check(rec Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrNotSoftDeletable)
	}
	if !e.registry.Enabled(rec.TableName()) {
		return fmt.Errorf("%w: %s", ErrNotSoftDeletable, rec.TableName())
	}
	return nil
}

func (e *Engine) checkDeleted(rec Record) error {
	if err := e.check(rec); err != nil {
		return err
	}
	if rec.GetDeletedAt() == nil {
		return fmt.Errorf("%w: %s %s", ErrNotDeleted, rec.TableName(), rec.GetID())
	}
	return nil
}

type variant int

const (
	raising variant = iota
	boolean
)

type action int

const (
	actionDelete action = iota
	actionUndelete
)

var errRollback = errors.New("softdelete: rollback")

// operation is the state of one transactional transition, shared by every
// record the cascade reaches.
type operation struct {
	engine  *Engine
	store   Store
	variant variant
	save    SaveOptions
	now     time.Time
	visited map[string]struct{}
	undo    []func()
}

func (e *Engine) transact(ctx context.Context, v variant, save SaveOptions, fn func(context.Context, *operation) (bool, error)) (bool, error) {
	var op *operation
	ok := false

	err := e.store.Transaction(ctx, func(tx Store) error {
		op = &operation{
			engine:  e,
			store:   tx,
			variant: v,
			save:    save,
			now:     e.now(),
			visited: make(map[string]struct{}),
		}

		var err error
		ok, err = fn(ctx, op)
		if err != nil {
			return err
		}
		if !ok {
			return errRollback
		}
		return nil
	})
	if err == nil {
		return true, nil
	}

	if op != nil {
		op.restore()
	}
	if errors.Is(err, errRollback) {
		return false, nil
	}
	if v == boolean && IsValidation(err) {
		return false, nil
	}
	return false, err
}

// visit records rec for action and reports whether it was not seen before.
func (op *operation) visit(a action, rec Record) bool {
	key := fmt.Sprintf("%d/%s/%s", a, rec.TableName(), rec.GetID())
	if _, seen := op.visited[key]; seen {
		return false
	}
	op.visited[key] = struct{}{}
	return true
}

func (op *operation) softDelete(ctx context.Context, rec Record, cause *Relationship) (bool, error) {
	if !op.visit(actionDelete, rec) {
		return true, nil
	}

	chain := op.engine.registry.hookChain(rec, EventSoftDelete, true)
	abort, err := runBefore(ctx, chain, rec)
	if err != nil {
		return false, fmt.Errorf("%s: %w", EventSoftDelete.before(), err)
	}
	if abort != nil {
		return op.aborted(EventSoftDelete, rec, abort)
	}

	wasLive := rec.GetDeletedAt() == nil
	op.stamp(rec, false)

	for _, rel := range op.engine.dependents(op.store, rec.TableName()) {
		ok, err := op.executeSoftDelete(ctx, rec, rel)
		if err != nil || !ok {
			return false, err
		}
	}

	if err := op.store.Save(ctx, rec, op.save); err != nil {
		return false, err
	}

	if wasLive {
		if err := op.adjustCounters(ctx, rec, -1, cause); err != nil {
			return false, err
		}
	}

	op.runAfter(ctx, EventSoftDelete, rec)
	op.engine.logger.Debug("record soft deleted",
		"table", rec.TableName(), "id", rec.GetID(), "cascaded", cause != nil)
	return true, nil
}

func (op *operation) softUndelete(ctx context.Context, rec Record, cause *Relationship) (bool, error) {
	deletedAt := rec.GetDeletedAt()
	if deletedAt == nil {
		return false, fmt.Errorf("%w: %s %s", ErrNotDeleted, rec.TableName(), rec.GetID())
	}
	if !op.visit(actionUndelete, rec) {
		return true, nil
	}

	limit := deletedAt.Add(-op.engine.undeleteWindow)

	chain := op.engine.registry.hookChain(rec, EventSoftUndelete, true)
	abort, err := runBefore(ctx, chain, rec)
	if err != nil {
		return false, fmt.Errorf("%s: %w", EventSoftUndelete.before(), err)
	}
	if abort != nil {
		return op.aborted(EventSoftUndelete, rec, abort)
	}

	op.unstamp(rec)

	for _, rel := range op.engine.dependents(op.store, rec.TableName()) {
		ok, err := op.executeSoftUndelete(ctx, rec, rel, limit)
		if err != nil || !ok {
			return false, err
		}
	}

	if err := op.store.Save(ctx, rec, op.save); err != nil {
		return false, err
	}

	if err := op.adjustCounters(ctx, rec, 1, cause); err != nil {
		return false, err
	}

	op.runAfter(ctx, EventSoftUndelete, rec)
	op.engine.logger.Debug("record soft undeleted",
		"table", rec.TableName(), "id", rec.GetID(), "cascaded", cause != nil)
	return true, nil
}

func (op *operation) aborted(event Event, rec Record, abort *AbortError) (bool, error) {
	op.engine.logger.Debug("transition aborted by hook",
		"hook", event.before(), "table", rec.TableName(), "id", rec.GetID(), "reason", abort.Reason)
	if op.variant == raising {
		return false, hookFailed(event, rec, abort)
	}
	return false, nil
}

func (op *operation) runAfter(ctx context.Context, event Event, rec Record) {
	for _, hook := range op.engine.registry.hookChain(rec, event, false) {
		if err := hook(ctx, rec); err != nil {
			op.engine.logger.Warn("after hook failed",
				"hook", event.after(), "table", rec.TableName(), "id", rec.GetID(), "error", err)
		}
	}
}

func (op *operation) toucher(rec Record) (Toucher, bool) {
	opts, ok := op.engine.registry.Options(rec.TableName())
	if !ok || opts.TouchColumn == "" {
		return nil, false
	}
	t, ok := rec.(Toucher)
	return t, ok
}

// stamp sets the deletion marker to the operation time. An existing marker is
// kept unless overwrite is set.
func (op *operation) stamp(rec Record, overwrite bool) {
	prev := rec.GetDeletedAt()
	toucher, touch := op.toucher(rec)
	op.remember(rec, prev, toucher, touch)

	deletedAt := prev
	if deletedAt == nil || overwrite {
		now := op.now
		deletedAt = &now
		rec.SetDeletedAt(deletedAt)
	}
	if touch && toucher.GetUpdatedAt().Before(*deletedAt) {
		toucher.SetUpdatedAt(*deletedAt)
	}
}

func (op *operation) unstamp(rec Record) {
	toucher, touch := op.toucher(rec)
	op.remember(rec, rec.GetDeletedAt(), toucher, touch)

	rec.SetDeletedAt(nil)
	if touch && toucher.GetUpdatedAt().Before(op.now) {
		toucher.SetUpdatedAt(op.now)
	}
}

func (op *operation) remember(rec Record, deletedAt *time.Time, toucher Toucher, touch bool) {
	var updatedAt time.Time
	if touch {
		updatedAt = toucher.GetUpdatedAt()
	}
	op.undo = append(op.undo, func() {
		rec.SetDeletedAt(deletedAt)
		if touch {
			toucher.SetUpdatedAt(updatedAt)
		}
	})
}

// restore reverts in-memory changes after the transaction rolled back.
func (op *operation) restore() {
	for i := len(op.undo) - 1; i >= 0; i-- {
		op.undo[i]()
	}
	op.undo = nil
}
